package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

const lockStripes = 64

// Upserter inserts records that are new for their (value, source) key and
// leaves existing ones untouched. Duplicates are not errors.
type Upserter struct {
	store ports.IOCStore
	log   *zap.Logger
	newID func() string

	// Striped by key hash so two writers for the same key never interleave
	// their find and insert. The store's unique constraint still catches
	// writers in other processes.
	locks [lockStripes]sync.Mutex
}

func NewUpserter(store ports.IOCStore, log *zap.Logger) *Upserter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Upserter{
		store: store,
		log:   log,
		newID: func() string { return uuid.NewString() },
	}
}

// UpsertResult tallies one batch. Inserted + Duplicates + Failed equals the
// number of records processed.
type UpsertResult struct {
	Inserted   int
	Duplicates int
	Failed     int
	FirstError error
}

func (u *Upserter) lockFor(key domain.Key) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return &u.locks[h.Sum32()%lockStripes]
}

// Upsert stores ioc unless a record with the same key exists. It reports
// whether a new record was written.
func (u *Upserter) Upsert(ctx context.Context, ioc domain.IOC) (bool, error) {
	if ioc.Value == "" {
		return false, domain.ErrEmptyValue
	}
	if ioc.Source == "" {
		return false, domain.ErrEmptySource
	}

	mu := u.lockFor(ioc.Key())
	mu.Lock()
	defer mu.Unlock()

	existing, err := u.store.FindByKey(ctx, ioc.Key())
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", ioc.Value, err)
	}
	if existing != nil {
		return false, nil
	}

	if ioc.ID == "" {
		ioc.ID = u.newID()
	}
	if ioc.Tags == nil {
		ioc.Tags = []string{}
	}

	err = u.store.Insert(ctx, ioc)
	if errors.Is(err, domain.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", ioc.Value, err)
	}
	return true, nil
}

// UpsertMany processes iocs in order. A failed record does not stop the
// batch; a cancelled context does, and its error is returned.
func (u *Upserter) UpsertMany(ctx context.Context, iocs []domain.IOC) (UpsertResult, error) {
	var res UpsertResult
	for _, ioc := range iocs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		inserted, err := u.Upsert(ctx, ioc)
		switch {
		case err != nil:
			res.Failed++
			if res.FirstError == nil {
				res.FirstError = err
			}
			u.log.Warn("failed to store ioc",
				zap.String("source", ioc.Source),
				zap.String("value", ioc.Value),
				zap.Error(err))
		case inserted:
			res.Inserted++
		default:
			res.Duplicates++
		}
	}
	return res, nil
}
