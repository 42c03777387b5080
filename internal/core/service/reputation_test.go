package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/adapter/repository"
	"github.com/hive-corporation/ctiwatch/internal/adapter/reputation"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/service"
)

type fakeProvider struct {
	calls int
	rep   *domain.Reputation
	err   error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Lookup(ctx context.Context, value string, iocType domain.IOCType) (*domain.Reputation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rep := *f.rep
	rep.Value = value
	rep.Type = iocType
	return &rep, nil
}

func TestReputation_CachesLookups(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{rep: &domain.Reputation{Malicious: 7, ThreatLevel: domain.ThreatHigh}}
	svc := service.NewReputationService(provider, reputation.NewMemoryCache(time.Hour), repository.NewMemoryRepository(), zap.NewNop())

	var results []string
	svc.OnLookup(func(r string) { results = append(results, r) })

	rep, err := svc.Check(ctx, "evil.example", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Domain, rep.Type)
	assert.Equal(t, domain.ThreatHigh, rep.ThreatLevel)

	_, err = svc.Check(ctx, "evil.example", "")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, []string{"hit", "cache_hit"}, results)
}

func TestReputation_Errors(t *testing.T) {
	ctx := context.Background()

	svc := service.NewReputationService(nil, nil, repository.NewMemoryRepository(), zap.NewNop())
	_, err := svc.Check(ctx, "1.2.3.4", "")
	assert.ErrorIs(t, err, domain.ErrNotConfigured)

	_, err = svc.Check(ctx, "   ", "")
	assert.ErrorIs(t, err, domain.ErrEmptyValue)

	provider := &fakeProvider{err: domain.ErrNotFound}
	svc = service.NewReputationService(provider, nil, repository.NewMemoryRepository(), zap.NewNop())
	_, err = svc.Check(ctx, "1.2.3.4", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	provider.err = errors.New("timeout")
	_, err = svc.Check(ctx, "1.2.3.4", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fake lookup")
}

func TestReputation_RecordSetsThreatLevel(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	require.NoError(t, store.Insert(ctx, domain.IOC{
		ID: "ioc-1", Value: "203.0.113.7", Type: domain.IPAddress, Source: "AbuseIPDB", Timestamp: now, Tags: []string{},
	}))

	provider := &fakeProvider{rep: &domain.Reputation{Malicious: 11, ThreatLevel: domain.ThreatCritical}}
	svc := service.NewReputationService(provider, nil, store, zap.NewNop())

	rep, err := svc.RecordReputation(ctx, "ioc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ThreatCritical, rep.ThreatLevel)

	stored, err := store.FindByID(ctx, "ioc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ThreatCritical, stored.ThreatLevel)

	_, err = svc.RecordReputation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
