package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

// MemoryRepository keeps records in process. Used by tests and by
// STORE_DRIVER=memory for local runs.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.IOC
	keys map[string]string // Key.String() -> id
}

var _ ports.IOCStore = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[string]*domain.IOC),
		keys: make(map[string]string),
	}
}

func (r *MemoryRepository) FindByKey(ctx context.Context, key domain.Key) (*domain.IOC, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[key.String()]
	if !ok {
		return nil, nil
	}
	ioc := clone(*r.byID[id])
	return &ioc, nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*domain.IOC, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	ioc := clone(*stored)
	return &ioc, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, ioc domain.IOC) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ioc.Key().String()
	if _, exists := r.keys[key]; exists {
		return domain.ErrDuplicate
	}
	stored := clone(ioc)
	r.byID[ioc.ID] = &stored
	r.keys[key] = ioc.ID
	return nil
}

func (r *MemoryRepository) snapshot() []domain.IOC {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]domain.IOC, 0, len(r.byID))
	for _, ioc := range r.byID {
		all = append(all, clone(*ioc))
	}
	return all
}

func (r *MemoryRepository) Find(ctx context.Context, filter ports.Filter, page ports.Page) ([]domain.IOC, error) {
	found := filterAll(r.snapshot(), filter)
	newestFirst(found)
	return paginate(found, page), nil
}

func (r *MemoryRepository) Count(ctx context.Context, filter ports.Filter) (int, error) {
	return len(filterAll(r.snapshot(), filter)), nil
}

func (r *MemoryRepository) CountBy(ctx context.Context, field ports.GroupField) ([]ports.GroupCount, error) {
	return countBy(r.snapshot(), field), nil
}

func (r *MemoryRepository) CountByDateAndType(ctx context.Context, from, to time.Time) ([]ports.DateTypeCount, error) {
	return countByDateAndType(r.snapshot(), from, to), nil
}

func (r *MemoryRepository) Distinct(ctx context.Context, field ports.GroupField) ([]string, error) {
	return distinct(r.snapshot(), field), nil
}

func (r *MemoryRepository) UpdateTags(ctx context.Context, id, tag string, op ports.TagOp) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ioc, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	applyTag(ioc, tag, op)
	return true, nil
}

func (r *MemoryRepository) SetThreatLevel(ctx context.Context, id string, level domain.ThreatLevel) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ioc, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	ioc.ThreatLevel = level
	return true, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) Close() error {
	return nil
}
