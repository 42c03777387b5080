package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

var (
	bucketIOCs = []byte("iocs") // id -> JSON record
	bucketKeys = []byte("keys") // value\x00source -> id
)

// BoltRepository is a single-file store for deployments without Postgres.
type BoltRepository struct {
	db *bbolt.DB
}

var _ ports.IOCStore = (*BoltRepository)(nil)

func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketIOCs, bucketKeys} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) FindByKey(ctx context.Context, key domain.Key) (*domain.IOC, error) {
	var ioc *domain.IOC
	err := r.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketKeys).Get([]byte(key.String()))
		if id == nil {
			return nil
		}
		var err error
		ioc, err = getIOC(tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find by key: %w", err)
	}
	return ioc, nil
}

func (r *BoltRepository) FindByID(ctx context.Context, id string) (*domain.IOC, error) {
	var ioc *domain.IOC
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		ioc, err = getIOC(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find by id: %w", err)
	}
	return ioc, nil
}

func getIOC(tx *bbolt.Tx, id []byte) (*domain.IOC, error) {
	data := tx.Bucket(bucketIOCs).Get(id)
	if data == nil {
		return nil, nil
	}
	var ioc domain.IOC
	if err := json.Unmarshal(data, &ioc); err != nil {
		return nil, fmt.Errorf("unmarshal ioc %s: %w", id, err)
	}
	return &ioc, nil
}

func putIOC(tx *bbolt.Tx, ioc *domain.IOC) error {
	data, err := json.Marshal(ioc)
	if err != nil {
		return fmt.Errorf("marshal ioc: %w", err)
	}
	return tx.Bucket(bucketIOCs).Put([]byte(ioc.ID), data)
}

// Insert checks the key index and writes the record in one transaction;
// bolt serialises writers, so the check cannot race.
func (r *BoltRepository) Insert(ctx context.Context, ioc domain.IOC) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ioc.Tags == nil {
		ioc.Tags = []string{}
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		keys := tx.Bucket(bucketKeys)
		key := []byte(ioc.Key().String())
		if keys.Get(key) != nil {
			return domain.ErrDuplicate
		}
		if err := putIOC(tx, &ioc); err != nil {
			return err
		}
		return keys.Put(key, []byte(ioc.ID))
	})
}

func (r *BoltRepository) all() ([]domain.IOC, error) {
	var out []domain.IOC
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIOCs).ForEach(func(k, v []byte) error {
			var ioc domain.IOC
			if err := json.Unmarshal(v, &ioc); err != nil {
				return fmt.Errorf("unmarshal ioc %s: %w", k, err)
			}
			out = append(out, clone(ioc))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan iocs: %w", err)
	}
	return out, nil
}

func (r *BoltRepository) Find(ctx context.Context, filter ports.Filter, page ports.Page) ([]domain.IOC, error) {
	all, err := r.all()
	if err != nil {
		return nil, err
	}
	found := filterAll(all, filter)
	newestFirst(found)
	return paginate(found, page), nil
}

func (r *BoltRepository) Count(ctx context.Context, filter ports.Filter) (int, error) {
	all, err := r.all()
	if err != nil {
		return 0, err
	}
	return len(filterAll(all, filter)), nil
}

func (r *BoltRepository) CountBy(ctx context.Context, field ports.GroupField) ([]ports.GroupCount, error) {
	all, err := r.all()
	if err != nil {
		return nil, err
	}
	return countBy(all, field), nil
}

func (r *BoltRepository) CountByDateAndType(ctx context.Context, from, to time.Time) ([]ports.DateTypeCount, error) {
	all, err := r.all()
	if err != nil {
		return nil, err
	}
	return countByDateAndType(all, from, to), nil
}

func (r *BoltRepository) Distinct(ctx context.Context, field ports.GroupField) ([]string, error) {
	all, err := r.all()
	if err != nil {
		return nil, err
	}
	return distinct(all, field), nil
}

func (r *BoltRepository) update(id string, mutate func(*domain.IOC)) (bool, error) {
	found := false
	err := r.db.Update(func(tx *bbolt.Tx) error {
		ioc, err := getIOC(tx, []byte(id))
		if err != nil || ioc == nil {
			return err
		}
		found = true
		mutate(ioc)
		return putIOC(tx, ioc)
	})
	if err != nil {
		return false, fmt.Errorf("update ioc %s: %w", id, err)
	}
	return found, nil
}

func (r *BoltRepository) UpdateTags(ctx context.Context, id, tag string, op ports.TagOp) (bool, error) {
	return r.update(id, func(ioc *domain.IOC) { applyTag(ioc, tag, op) })
}

func (r *BoltRepository) SetThreatLevel(ctx context.Context, id string, level domain.ThreatLevel) (bool, error) {
	return r.update(id, func(ioc *domain.IOC) { ioc.ThreatLevel = level })
}

func (r *BoltRepository) Ping(ctx context.Context) error {
	return r.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketIOCs) == nil {
			return fmt.Errorf("iocs bucket not found")
		}
		return nil
	})
}

func (r *BoltRepository) Close() error {
	return r.db.Close()
}
