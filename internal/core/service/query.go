package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 100
	DefaultTrendDays   = 7
	MaxTrendDays       = 365
)

type QueryConfig struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxExportRecords int
}

// QueryService answers read-side questions about the store and applies
// analyst tag edits. It is the only writer besides the Upserter.
type QueryService struct {
	store ports.IOCStore
	cfg   QueryConfig
	now   func() time.Time
	log   *zap.Logger
}

func NewQueryService(store ports.IOCStore, cfg QueryConfig, log *zap.Logger) *QueryService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 100
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 1000
	}
	if cfg.MaxExportRecords <= 0 {
		cfg.MaxExportRecords = 10000
	}
	return &QueryService{store: store, cfg: cfg, now: time.Now, log: log}
}

// SetClock replaces the clock used for trend windows.
func (q *QueryService) SetClock(now func() time.Time) {
	q.now = now
}

type Stats struct {
	Total    int                `json:"total"`
	ByType   []ports.GroupCount `json:"by_type"`
	BySource []ports.GroupCount `json:"by_source"`
}

func (q *QueryService) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: []ports.GroupCount{}, BySource: []ports.GroupCount{}}

	total, err := q.store.Count(ctx, ports.Filter{})
	if err != nil {
		return stats, fmt.Errorf("count: %w", err)
	}
	byType, err := q.store.CountBy(ctx, ports.GroupByType)
	if err != nil {
		return stats, fmt.Errorf("count by type: %w", err)
	}
	bySource, err := q.store.CountBy(ctx, ports.GroupBySource)
	if err != nil {
		return stats, fmt.Errorf("count by source: %w", err)
	}

	stats.Total = total
	stats.ByType = byType
	stats.BySource = bySource
	return stats, nil
}

// Search returns records whose value contains query, ignoring case.
func (q *QueryService) Search(ctx context.Context, query string, limit int) ([]domain.IOC, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	query = strings.TrimSpace(query)

	found, err := q.store.Find(ctx, ports.Filter{ValueContains: query}, ports.Page{Limit: limit})
	if err != nil {
		return []domain.IOC{}, fmt.Errorf("search %q: %w", query, err)
	}
	return found, nil
}

// Trends maps UTC date to type to count for records ingested within the
// last windowDays days.
type Trends map[string]map[domain.IOCType]int

// TrendWindow returns the window Trends actually uses for days.
func TrendWindow(days int) int {
	switch {
	case days <= 0:
		return DefaultTrendDays
	case days > MaxTrendDays:
		return MaxTrendDays
	}
	return days
}

func (q *QueryService) Trends(ctx context.Context, windowDays int) (Trends, error) {
	windowDays = TrendWindow(windowDays)

	now := q.now().UTC()
	from := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	rows, err := q.store.CountByDateAndType(ctx, from, now)
	if err != nil {
		return Trends{}, fmt.Errorf("trends: %w", err)
	}

	trends := make(Trends)
	for _, row := range rows {
		byType, ok := trends[row.Date]
		if !ok {
			byType = make(map[domain.IOCType]int)
			trends[row.Date] = byType
		}
		byType[row.Type] += row.Count
	}
	return trends, nil
}

// ThreatLevelStats counts records by threat level. Records that were never
// looked up carry no level and are not counted.
func (q *QueryService) ThreatLevelStats(ctx context.Context) ([]ports.GroupCount, error) {
	levels, err := q.store.CountBy(ctx, ports.GroupByThreatLevel)
	if err != nil {
		return []ports.GroupCount{}, fmt.Errorf("threat levels: %w", err)
	}
	return levels, nil
}

// AddTag puts tag on the record. It reports false when no record has id;
// adding a tag that is already present still succeeds.
func (q *QueryService) AddTag(ctx context.Context, id, tag string) (bool, error) {
	return q.updateTag(ctx, id, tag, ports.TagAdd)
}

// RemoveTag takes tag off the record. Removing an absent tag succeeds.
func (q *QueryService) RemoveTag(ctx context.Context, id, tag string) (bool, error) {
	return q.updateTag(ctx, id, tag, ports.TagRemove)
}

func (q *QueryService) updateTag(ctx context.Context, id, tag string, op ports.TagOp) (bool, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false, domain.ErrInvalidTag
	}
	ok, err := q.store.UpdateTags(ctx, id, tag, op)
	if err != nil {
		return false, fmt.Errorf("update tags on %s: %w", id, err)
	}
	return ok, nil
}

// Get returns a single record, or domain.ErrNotFound.
func (q *QueryService) Get(ctx context.Context, id string) (*domain.IOC, error) {
	ioc, err := q.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ioc == nil {
		return nil, domain.ErrNotFound
	}
	return ioc, nil
}

type ListResult struct {
	IOCs  []domain.IOC `json:"iocs"`
	Total int          `json:"total"`
	Skip  int          `json:"skip"`
	Limit int          `json:"limit"`
}

// List pages through records matching filter, newest first. limit is
// clamped to the configured maximum.
func (q *QueryService) List(ctx context.Context, filter ports.Filter, skip, limit int) (ListResult, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = q.cfg.DefaultPageSize
	}
	if limit > q.cfg.MaxPageSize {
		limit = q.cfg.MaxPageSize
	}
	res := ListResult{IOCs: []domain.IOC{}, Skip: skip, Limit: limit}

	total, err := q.store.Count(ctx, filter)
	if err != nil {
		return res, fmt.Errorf("count: %w", err)
	}
	iocs, err := q.store.Find(ctx, filter, ports.Page{Limit: limit, Skip: skip})
	if err != nil {
		return res, fmt.Errorf("list: %w", err)
	}
	res.IOCs = iocs
	res.Total = total
	return res, nil
}

// ByTag returns the newest records carrying tag, up to the default page size.
func (q *QueryService) ByTag(ctx context.Context, tag string) ([]domain.IOC, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, domain.ErrInvalidTag
	}
	iocs, err := q.store.Find(ctx, ports.Filter{Tag: tag}, ports.Page{Limit: q.cfg.DefaultPageSize})
	if err != nil {
		return nil, fmt.Errorf("by tag: %w", err)
	}
	return iocs, nil
}

// Export returns records matching filter, at most limit and never more than
// MaxExportRecords. limit <= 0 means the maximum.
func (q *QueryService) Export(ctx context.Context, filter ports.Filter, limit int) ([]domain.IOC, error) {
	if limit <= 0 || limit > q.cfg.MaxExportRecords {
		limit = q.cfg.MaxExportRecords
	}
	iocs, err := q.store.Find(ctx, filter, ports.Page{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return iocs, nil
}

func (q *QueryService) Sources(ctx context.Context) ([]string, error) {
	return q.store.Distinct(ctx, ports.GroupBySource)
}

func (q *QueryService) Types(ctx context.Context) ([]string, error) {
	return q.store.Distinct(ctx, ports.GroupByType)
}

// Health pings the store.
func (q *QueryService) Health(ctx context.Context) error {
	return q.store.Ping(ctx)
}

func (q *QueryService) Config() QueryConfig {
	return q.cfg
}
