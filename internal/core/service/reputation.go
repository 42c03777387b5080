package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

// ReputationService looks indicators up through a provider, caches the
// answer and can stamp the derived threat level onto stored records.
type ReputationService struct {
	provider ports.ReputationProvider
	cache    ports.ReputationCache
	store    ports.IOCStore
	log      *zap.Logger

	// record is told the outcome of every lookup: hit, cache_hit,
	// not_found, error or skipped.
	record func(result string)
}

func NewReputationService(provider ports.ReputationProvider, cache ports.ReputationCache, store ports.IOCStore, log *zap.Logger) *ReputationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReputationService{
		provider: provider,
		cache:    cache,
		store:    store,
		log:      log,
		record:   func(string) {},
	}
}

// OnLookup registers fn to receive lookup outcomes.
func (r *ReputationService) OnLookup(fn func(result string)) {
	if fn != nil {
		r.record = fn
	}
}

// Check looks value up. When iocType is empty it is inferred from value.
func (r *ReputationService) Check(ctx context.Context, value string, iocType domain.IOCType) (*domain.Reputation, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, domain.ErrEmptyValue
	}
	if iocType == "" {
		iocType = domain.InferType(value)
	}
	if r.provider == nil {
		r.record("skipped")
		return nil, domain.ErrNotConfigured
	}

	if r.cache != nil {
		if rep, ok := r.cache.Get(ctx, iocType, value); ok {
			r.record("cache_hit")
			return rep, nil
		}
	}

	rep, err := r.provider.Lookup(ctx, value, iocType)
	switch {
	case errors.Is(err, domain.ErrNotConfigured), errors.Is(err, domain.ErrUnsupportedType):
		r.record("skipped")
		return nil, err
	case errors.Is(err, domain.ErrNotFound):
		r.record("not_found")
		return nil, err
	case err != nil:
		r.record("error")
		return nil, fmt.Errorf("%s lookup: %w", r.provider.Name(), err)
	}

	r.record("hit")
	if r.cache != nil {
		r.cache.Set(ctx, rep)
	}
	return rep, nil
}

// RecordReputation looks the stored record up and saves the derived threat level on it.
func (r *ReputationService) RecordReputation(ctx context.Context, id string) (*domain.Reputation, error) {
	ioc, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ioc == nil {
		return nil, domain.ErrNotFound
	}

	rep, err := r.Check(ctx, ioc.Value, ioc.Type)
	if err != nil {
		return nil, err
	}

	if _, err := r.store.SetThreatLevel(ctx, id, rep.ThreatLevel); err != nil {
		return nil, fmt.Errorf("save threat level: %w", err)
	}
	r.log.Info("threat level recorded",
		zap.String("id", id),
		zap.String("value", ioc.Value),
		zap.String("threat_level", string(rep.ThreatLevel)))
	return rep, nil
}
