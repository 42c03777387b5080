package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/ctiwatch/internal/adapter/repository"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
	"github.com/hive-corporation/ctiwatch/internal/core/service"
)

func seed(t *testing.T, store ports.IOCStore, iocs ...domain.IOC) {
	t.Helper()
	for _, ioc := range iocs {
		require.NoError(t, store.Insert(context.Background(), ioc))
	}
}

func newQuery(store ports.IOCStore) *service.QueryService {
	q := service.NewQueryService(store, service.QueryConfig{DefaultPageSize: 2, MaxPageSize: 3, MaxExportRecords: 4}, nil)
	q.SetClock(func() time.Time { return now })
	return q
}

func TestQuery_EmptyStore(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T) ports.IOCStore
	}{
		{"memory", func(t *testing.T) ports.IOCStore { return repository.NewMemoryRepository() }},
		{"bolt", func(t *testing.T) ports.IOCStore {
			store, err := repository.NewBoltRepository(filepath.Join(t.TempDir(), "empty.db"))
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		}},
	}

	for _, tt := range stores {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			q := newQuery(tt.open(t))

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, stats.Total)
			assert.Empty(t, stats.ByType)
			assert.Empty(t, stats.BySource)

			found, err := q.Search(ctx, "", 0)
			require.NoError(t, err)
			assert.Empty(t, found)

			trends, err := q.Trends(ctx, 7)
			require.NoError(t, err)
			assert.Empty(t, trends)

			levels, err := q.ThreatLevelStats(ctx)
			require.NoError(t, err)
			assert.Empty(t, levels)

			list, err := q.List(ctx, ports.Filter{}, 0, 0)
			require.NoError(t, err)
			assert.Zero(t, list.Total)
			assert.Empty(t, list.IOCs)

			sources, err := q.Sources(ctx)
			require.NoError(t, err)
			assert.Empty(t, sources)
		})
	}
}

func TestQuery_Stats(t *testing.T) {
	store := repository.NewMemoryRepository()
	seed(t, store,
		domain.IOC{ID: "1", Value: "1.1.1.1", Type: domain.IPAddress, Source: "AbuseIPDB", Timestamp: now},
		domain.IOC{ID: "2", Value: "2.2.2.2", Type: domain.IPAddress, Source: "AbuseIPDB", Timestamp: now},
		domain.IOC{ID: "3", Value: "x.example", Type: domain.Domain, Source: "AlienVault OTX", Timestamp: now},
	)

	stats, err := newQuery(store).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, []ports.GroupCount{{Key: "ip", Count: 2}, {Key: "domain", Count: 1}}, stats.ByType)
	assert.Equal(t, []ports.GroupCount{{Key: "AbuseIPDB", Count: 2}, {Key: "AlienVault OTX", Count: 1}}, stats.BySource)
}

func TestQuery_SearchCaseInsensitiveAndBounded(t *testing.T) {
	store := repository.NewMemoryRepository()
	for i, v := range []string{"http://EVIL.example/a", "evil.example", "good.example"} {
		seed(t, store, domain.IOC{ID: string(rune('a' + i)), Value: v, Type: domain.InferType(v), Source: "OTX", Timestamp: now})
	}
	q := newQuery(store)

	found, err := q.Search(context.Background(), "Evil", 0)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = q.Search(context.Background(), "example", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestQuery_SearchClampsLimit(t *testing.T) {
	store := repository.NewMemoryRepository()
	for i := 0; i < 120; i++ {
		seed(t, store, domain.IOC{ID: string(rune(0x100 + i)), Value: string(rune(0x100+i)) + ".example", Source: "OTX", Timestamp: now})
	}
	q := newQuery(store)

	found, err := q.Search(context.Background(), "example", 0)
	require.NoError(t, err)
	assert.Len(t, found, service.DefaultSearchLimit)

	found, err = q.Search(context.Background(), "example", 5000)
	require.NoError(t, err)
	assert.Len(t, found, service.MaxSearchLimit)
}

func TestQuery_TrendsWindow(t *testing.T) {
	store := repository.NewMemoryRepository()
	day := 24 * time.Hour
	seed(t, store,
		domain.IOC{ID: "1", Value: "1.1.1.1", Type: domain.IPAddress, Source: "A", Timestamp: now},
		domain.IOC{ID: "2", Value: "2.2.2.2", Type: domain.IPAddress, Source: "A", Timestamp: now.Add(-1 * day)},
		domain.IOC{ID: "3", Value: "3.3.3.3", Type: domain.IPAddress, Source: "A", Timestamp: now.Add(-8 * day)},
	)

	trends, err := newQuery(store).Trends(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, service.Trends{
		"2025-06-10": {domain.IPAddress: 1},
		"2025-06-09": {domain.IPAddress: 1},
	}, trends)

	// non-positive window falls back to the default of seven days
	trends, err = newQuery(store).Trends(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, trends, 2)

	trends, err = newQuery(store).Trends(context.Background(), 30)
	require.NoError(t, err)
	assert.Len(t, trends, 3)
}

func TestQuery_ThreatLevelStats(t *testing.T) {
	store := repository.NewMemoryRepository()
	seed(t, store,
		domain.IOC{ID: "1", Value: "1.1.1.1", Source: "A", Timestamp: now, ThreatLevel: domain.ThreatHigh},
		domain.IOC{ID: "2", Value: "2.2.2.2", Source: "A", Timestamp: now, ThreatLevel: domain.ThreatHigh},
		domain.IOC{ID: "3", Value: "3.3.3.3", Source: "A", Timestamp: now, ThreatLevel: domain.ThreatLow},
		domain.IOC{ID: "4", Value: "4.4.4.4", Source: "A", Timestamp: now},
	)

	levels, err := newQuery(store).ThreatLevelStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ports.GroupCount{{Key: "High", Count: 2}, {Key: "Low", Count: 1}}, levels)
}

func TestQuery_TagsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	seed(t, store, domain.IOC{ID: "1", Value: "1.1.1.1", Source: "A", Timestamp: now, Tags: []string{"botnet"}})
	q := newQuery(store)

	for i := 0; i < 2; i++ {
		ok, err := q.AddTag(ctx, "1", "x")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ioc, err := q.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"botnet", "x"}, ioc.Tags)

	ok, err := q.RemoveTag(ctx, "1", "y")
	require.NoError(t, err)
	assert.True(t, ok)
	ioc, err = q.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"botnet", "x"}, ioc.Tags)

	ok, err = q.AddTag(ctx, "missing", "x")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = q.AddTag(ctx, "1", "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidTag)

	_, err = q.Get(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestQuery_ListAndExport(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	for i, v := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5"} {
		seed(t, store, domain.IOC{ID: v, Value: v, Type: domain.IPAddress, Source: "A", Timestamp: now.Add(time.Duration(i) * time.Minute)})
	}
	seed(t, store, domain.IOC{ID: "d", Value: "d.example", Type: domain.Domain, Source: "B", Timestamp: now})
	q := newQuery(store)

	res, err := q.List(ctx, ports.Filter{Type: domain.IPAddress}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Limit)
	require.Len(t, res.IOCs, 2)
	assert.Equal(t, "5.5.5.5", res.IOCs[0].Value)

	res, err = q.List(ctx, ports.Filter{Type: domain.IPAddress}, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Limit)
	require.Len(t, res.IOCs, 2)
	assert.Equal(t, "2.2.2.2", res.IOCs[0].Value)

	exported, err := q.Export(ctx, ports.Filter{}, 0)
	require.NoError(t, err)
	assert.Len(t, exported, 4)

	exported, err = q.Export(ctx, ports.Filter{Source: "B"}, 10)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, "d.example", exported[0].Value)

	tagged, err := q.ByTag(ctx, "missing-tag")
	require.NoError(t, err)
	assert.Empty(t, tagged)

	sources, err := q.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, sources)

	require.NoError(t, q.Health(ctx))
}
