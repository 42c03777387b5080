package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/adapter/provider"
	"github.com/hive-corporation/ctiwatch/internal/adapter/repository"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
	"github.com/hive-corporation/ctiwatch/internal/core/service"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	name  string
	iocs  []domain.IOC
	err   error
	panic bool
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchIOCS(ctx context.Context) ([]domain.IOC, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panic {
		panic("boom")
	}
	return f.iocs, f.err
}

func iocsFor(source string, typ domain.IOCType, n int, offset int) []domain.IOC {
	out := make([]domain.IOC, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.IOC{
			Value:     fmt.Sprintf("198.51.%d.%d", (i+offset)/250, (i+offset)%250),
			Type:      typ,
			Source:    source,
			Timestamp: now,
			Tags:      []string{},
		})
	}
	return out
}

// failingStore fails every insert for one value.
type failingStore struct {
	*repository.MemoryRepository
	badValue string
}

func (s *failingStore) Insert(ctx context.Context, ioc domain.IOC) error {
	if ioc.Value == s.badValue {
		return errors.New("disk full")
	}
	return s.MemoryRepository.Insert(ctx, ioc)
}

func TestUpsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	up := service.NewUpserter(store, zap.NewNop())

	batch := iocsFor("AbuseIPDB", domain.IPAddress, 20, 0)

	first, err := up.UpsertMany(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 20, first.Inserted)

	second, err := up.UpsertMany(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 20, second.Duplicates)

	n, err := store.Count(ctx, ports.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestUpsert_CrossSourceIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	up := service.NewUpserter(store, nil)

	ok, err := up.Upsert(ctx, domain.IOC{Value: "1.2.3.4", Type: domain.IPAddress, Source: "AbuseIPDB", Timestamp: now})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = up.Upsert(ctx, domain.IOC{Value: "1.2.3.4", Type: domain.IPAddress, Source: "ThreatFox", Timestamp: now})
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := store.Count(ctx, ports.Filter{Source: "AbuseIPDB"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.Count(ctx, ports.Filter{Source: "ThreatFox"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsert_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	up := service.NewUpserter(store, nil)

	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := up.Upsert(ctx, domain.IOC{Value: "evil.example", Type: domain.Domain, Source: "OTX", Timestamp: now})
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, inserted.Load())
}

func TestUpsert_RejectsEmptyKey(t *testing.T) {
	up := service.NewUpserter(repository.NewMemoryRepository(), nil)
	_, err := up.Upsert(context.Background(), domain.IOC{Source: "OTX"})
	assert.ErrorIs(t, err, domain.ErrEmptyValue)
	_, err = up.Upsert(context.Background(), domain.IOC{Value: "x"})
	assert.ErrorIs(t, err, domain.ErrEmptySource)
}

func TestOrchestrator_CountsNewAndDuplicates(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	up := service.NewUpserter(store, nil)

	// ten of these are already stored
	_, err := up.UpsertMany(ctx, iocsFor("AbuseIPDB", domain.IPAddress, 10, 0))
	require.NoError(t, err)

	adapter := &fakeAdapter{name: "AbuseIPDB", iocs: iocsFor("AbuseIPDB", domain.IPAddress, 50, 0)}
	report := service.NewOrchestrator(up, nil).RunAll(ctx, []ports.FeedAdapter{adapter})

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, domain.StatusOK, res.Status)
	assert.Equal(t, 50, res.Fetched)
	assert.Equal(t, 40, res.Inserted)
	assert.Equal(t, 10, res.Duplicates)
	assert.Equal(t, 40, report.TotalNew())
}

func TestOrchestrator_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryRepository()
	up := service.NewUpserter(store, nil)

	adapters := []ports.FeedAdapter{
		&fakeAdapter{name: "Spamhaus", iocs: iocsFor("Spamhaus", domain.IPRange, 5, 0)},
		&fakeAdapter{name: "ThreatFox", err: &domain.FetchError{Source: "ThreatFox", StatusCode: 502}},
		&fakeAdapter{name: "PhishTank", err: domain.ErrNotConfigured},
		&fakeAdapter{name: "Broken", panic: true},
		&fakeAdapter{name: "AlienVault OTX", iocs: iocsFor("AlienVault OTX", domain.Domain, 3, 100)},
	}

	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			orch := service.NewOrchestrator(up, nil, service.WithConcurrency(concurrency))
			report := orch.RunAll(ctx, adapters)

			require.Len(t, report.Results, 5)
			assert.Equal(t, "Spamhaus", report.Results[0].Source)
			assert.Equal(t, domain.StatusOK, report.Results[0].Status)
			assert.Equal(t, domain.StatusFailed, report.Results[1].Status)
			assert.Contains(t, report.Results[1].Error, "502")
			assert.Equal(t, domain.StatusSkipped, report.Results[2].Status)
			assert.Equal(t, domain.StatusFailed, report.Results[3].Status)
			assert.Contains(t, report.Results[3].Error, "panicked")
			assert.Equal(t, domain.StatusOK, report.Results[4].Status)
			assert.Len(t, report.FailedSources(), 2)
		})
	}

	n, err := store.Count(ctx, ports.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestOrchestrator_PartialOnStoreErrors(t *testing.T) {
	ctx := context.Background()
	batch := iocsFor("URLhaus", domain.IPAddress, 5, 0)
	store := &failingStore{MemoryRepository: repository.NewMemoryRepository(), badValue: batch[2].Value}

	report := service.NewOrchestrator(service.NewUpserter(store, nil), nil).
		RunAll(ctx, []ports.FeedAdapter{&fakeAdapter{name: "URLhaus", iocs: batch}})

	res := report.Results[0]
	assert.Equal(t, domain.StatusPartial, res.Status)
	assert.Equal(t, 4, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Error, "disk full")
}

func TestOrchestrator_AllInsertsFailingIsFailure(t *testing.T) {
	batch := iocsFor("URLhaus", domain.IPAddress, 1, 0)
	store := &failingStore{MemoryRepository: repository.NewMemoryRepository(), badValue: batch[0].Value}

	report := service.NewOrchestrator(service.NewUpserter(store, nil), nil).
		RunAll(context.Background(), []ports.FeedAdapter{&fakeAdapter{name: "URLhaus", iocs: batch}})

	res := report.Results[0]
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Error, "disk full")
	assert.True(t, report.HasFailures())
	require.Len(t, report.FailedSources(), 1)
}

func TestOrchestrator_SharedFeedClientIsolatesFailingFeeds(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "203.0.113.7\n203.0.113.8\n")
	}))
	defer up.Close()

	client := httpclient.New(5*time.Second, httpclient.FeedConfig("feeds"), nil)
	normalizer := domain.NewNormalizer(func() time.Time { return now })

	var adapters []ports.FeedAdapter
	for i := 0; i < 6; i++ {
		adapters = append(adapters, provider.NewSimpleListProvider(client, normalizer, fmt.Sprintf("down-%d", i), down.URL, nil, 10))
	}
	adapters = append(adapters, provider.NewSimpleListProvider(client, normalizer, "healthy", up.URL, nil, 10))

	orch := service.NewOrchestrator(service.NewUpserter(repository.NewMemoryRepository(), nil), nil)
	for run := 0; run < 2; run++ {
		report := orch.RunAll(context.Background(), adapters)
		for _, res := range report.Results[:6] {
			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.Contains(t, res.Error, "503")
		}
		healthy := report.Results[6]
		assert.Equal(t, domain.StatusOK, healthy.Status, "run %d: %s", run, healthy.Error)
		assert.Equal(t, 2, healthy.Fetched)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	adapters []domain.AdapterResult
	runs     int
}

func (r *recordingObserver) ObserveAdapter(res domain.AdapterResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, res)
}

func (r *recordingObserver) ObserveRun(domain.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func TestOrchestrator_Observer(t *testing.T) {
	obs := &recordingObserver{}
	orch := service.NewOrchestrator(service.NewUpserter(repository.NewMemoryRepository(), nil), nil, service.WithObserver(obs))

	orch.RunAll(context.Background(), []ports.FeedAdapter{
		&fakeAdapter{name: "A"},
		&fakeAdapter{name: "B", err: domain.ErrNotConfigured},
	})

	assert.Len(t, obs.adapters, 2)
	assert.Equal(t, 1, obs.runs)
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []domain.RunReport
}

func (r *recordingNotifier) NotifyRun(ctx context.Context, report domain.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func TestScheduler_InitialRunAndNotify(t *testing.T) {
	store := repository.NewMemoryRepository()
	orch := service.NewOrchestrator(service.NewUpserter(store, nil), nil)
	notifier := &recordingNotifier{}

	ok := &fakeAdapter{name: "Spamhaus", iocs: iocsFor("Spamhaus", domain.IPRange, 3, 0)}
	bad := &fakeAdapter{name: "ThreatFox", err: &domain.FetchError{Source: "ThreatFox", StatusCode: 500}}

	sched := service.NewScheduler(orch, []ports.FeedAdapter{ok, bad}, time.Hour, zap.NewNop(), notifier)
	sched.Start(context.Background())

	require.Eventually(t, func() bool {
		_, done := sched.LastReport()
		return done
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sched.Stop(context.Background()))

	report, _ := sched.LastReport()
	assert.Equal(t, 3, report.TotalNew())
	assert.Equal(t, 1, notifier.count())
	assert.EqualValues(t, 1, ok.calls.Load())
}

func TestScheduler_StopCancelsRun(t *testing.T) {
	orch := service.NewOrchestrator(service.NewUpserter(repository.NewMemoryRepository(), nil), nil)
	slow := &fakeAdapter{name: "Slow", delay: time.Minute}

	sched := service.NewScheduler(orch, []ports.FeedAdapter{slow}, time.Hour, nil)
	sched.Start(context.Background())
	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sched.Stop(ctx))

	report, ok := sched.LastReport()
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, report.Results[0].Status)
}
