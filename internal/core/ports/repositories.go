package ports

import (
	"context"
	"time"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

// FeedAdapter pulls indicators from one upstream feed and returns them
// already normalized. A missing credential is reported as
// domain.ErrNotConfigured; anything else that stops the download is a
// *domain.FetchError.
type FeedAdapter interface {
	FetchIOCS(ctx context.Context) ([]domain.IOC, error)
	Name() string
}

// ReputationProvider looks an indicator up in a third-party service.
type ReputationProvider interface {
	Lookup(ctx context.Context, value string, iocType domain.IOCType) (*domain.Reputation, error)
	Name() string
}

// ReputationCache stores lookup results keyed by type and value.
type ReputationCache interface {
	Get(ctx context.Context, iocType domain.IOCType, value string) (*domain.Reputation, bool)
	Set(ctx context.Context, rep *domain.Reputation)
}

// Filter narrows queries. Zero fields do not filter.
type Filter struct {
	Type          domain.IOCType
	Source        string
	Tag           string
	ValueContains string // case-insensitive substring
	Since         time.Time
}

// Page bounds a result set.
type Page struct {
	Limit int
	Skip  int
}

// GroupField is a field a store can group records by.
type GroupField string

const (
	GroupByType        GroupField = "type"
	GroupBySource      GroupField = "source"
	GroupByThreatLevel GroupField = "threat_level"
)

type GroupCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type DateTypeCount struct {
	Date  string         `json:"date"` // YYYY-MM-DD, UTC
	Type  domain.IOCType `json:"type"`
	Count int            `json:"count"`
}

type TagOp int

const (
	TagAdd TagOp = iota
	TagRemove
)

// IOCStore is the persistence boundary. Every implementation enforces
// uniqueness of (value, source) and returns domain.ErrDuplicate on conflict.
// Lookups return nil, nil when no record matches.
type IOCStore interface {
	FindByKey(ctx context.Context, key domain.Key) (*domain.IOC, error)
	FindByID(ctx context.Context, id string) (*domain.IOC, error)
	Insert(ctx context.Context, ioc domain.IOC) error

	Find(ctx context.Context, filter Filter, page Page) ([]domain.IOC, error)
	Count(ctx context.Context, filter Filter) (int, error)

	// CountBy groups records by field, ordered by count descending. Records
	// with an empty value for field are left out.
	CountBy(ctx context.Context, field GroupField) ([]GroupCount, error)
	// CountByDateAndType buckets records with from <= timestamp <= to by UTC
	// day and type, ordered by date ascending.
	CountByDateAndType(ctx context.Context, from, to time.Time) ([]DateTypeCount, error)
	Distinct(ctx context.Context, field GroupField) ([]string, error)

	// UpdateTags adds or removes tag from the record with the given id. It
	// reports whether such a record exists.
	UpdateTags(ctx context.Context, id, tag string, op TagOp) (bool, error)
	SetThreatLevel(ctx context.Context, id string, level domain.ThreatLevel) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
