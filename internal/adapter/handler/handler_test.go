package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hive-corporation/ctiwatch/internal/adapter/repository"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
	"github.com/hive-corporation/ctiwatch/internal/core/service"
)

var seen = time.Now().UTC().Add(-time.Hour)

type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Lookup(ctx context.Context, value string, iocType domain.IOCType) (*domain.Reputation, error) {
	if value == "unseen.example" {
		return nil, domain.ErrNotFound
	}
	return &domain.Reputation{Value: value, Type: iocType, Malicious: 3, Suspicious: 1, ThreatLevel: domain.DeriveThreatLevel(3, 1), Source: "stub"}, nil
}

// brokenStore fails every read.
type brokenStore struct {
	*repository.MemoryRepository
}

var errDown = errors.New("connection refused")

func (brokenStore) Count(ctx context.Context, f ports.Filter) (int, error) { return 0, errDown }
func (brokenStore) CountBy(ctx context.Context, f ports.GroupField) ([]ports.GroupCount, error) {
	return nil, errDown
}
func (brokenStore) Find(ctx context.Context, f ports.Filter, p ports.Page) ([]domain.IOC, error) {
	return nil, errDown
}
func (brokenStore) Ping(ctx context.Context) error { return errDown }

func newServer(t *testing.T, store ports.IOCStore, token string) *httptest.Server {
	t.Helper()
	query := service.NewQueryService(store, service.QueryConfig{DefaultPageSize: 10, MaxPageSize: 20, MaxExportRecords: 50}, zap.NewNop())
	rep := service.NewReputationService(stubProvider{}, nil, store, zap.NewNop())
	h := NewRestHandler(query, rep, true, zap.NewNop())

	srv := httptest.NewServer(NewRouter(h, token, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func seededStore(t *testing.T) *repository.MemoryRepository {
	t.Helper()
	store := repository.NewMemoryRepository()
	for _, ioc := range []domain.IOC{
		{ID: "ip-1", Value: "203.0.113.7", Type: domain.IPAddress, Source: "AbuseIPDB", Timestamp: seen, Tags: []string{"abuse"}},
		{ID: "url-1", Value: "http://evil.example/payload", Type: domain.URL, Source: "URLhaus", Timestamp: seen, Tags: []string{"malware"}},
		{ID: "dom-1", Value: "evil.example", Type: domain.Domain, Source: "ThreatFox", Timestamp: seen, Tags: []string{}},
	} {
		require.NoError(t, store.Insert(context.Background(), ioc))
	}
	return store
}

func do(t *testing.T, method, url, body string, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	srv := newServer(t, seededStore(t), "secret")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	down := newServer(t, brokenStore{repository.NewMemoryRepository()}, "")
	resp, body = do(t, http.MethodGet, down.URL+"/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestAuth(t *testing.T) {
	srv := newServer(t, seededStore(t), "secret")

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/stats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/stats", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/stats", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["total"])
}

func TestSearchAndList(t *testing.T) {
	srv := newServer(t, seededStore(t), "")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/iocs/search?q=EVIL", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/iocs?type=url", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/iocs?type=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/iocs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/iocs/dom-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "evil.example", body["value"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/iocs/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTags(t *testing.T) {
	store := seededStore(t)
	srv := newServer(t, store, "")

	for i := 0; i < 2; i++ {
		resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/iocs/dom-1/tags", `{"tag":"  phishing "}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "phishing", body["tag"])
	}
	ioc, err := store.FindByID(context.Background(), "dom-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"phishing"}, ioc.Tags)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/iocs/dom-1/tags", `{"tag":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/iocs/missing/tags", `{"tag":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/v1/iocs/dom-1/tags/phishing", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ioc, err = store.FindByID(context.Background(), "dom-1")
	require.NoError(t, err)
	assert.Empty(t, ioc.Tags)
}

func TestListByTag(t *testing.T) {
	srv := newServer(t, seededStore(t), "")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/tags/malware", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
	iocs := body["iocs"].([]interface{})
	assert.Equal(t, "url-1", iocs[0].(map[string]interface{})["id"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/tags/unknown", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])
}

func TestReputationEndpoints(t *testing.T) {
	store := seededStore(t)
	srv := newServer(t, store, "")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/reputation?value=198.51.100.4", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Medium", body["threat_level"])
	assert.Equal(t, "ip", body["type"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/reputation?value=unseen.example", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/reputation", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/iocs/ip-1/reputation", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ioc, err := store.FindByID(context.Background(), "ip-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ThreatMedium, ioc.ThreatLevel)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/threat-levels", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	levels := body["threat_levels"].([]interface{})
	require.Len(t, levels, 1)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/iocs/missing/reputation", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrendsAndMetadata(t *testing.T) {
	srv := newServer(t, seededStore(t), "")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/trends", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["days"])
	trends := body["trends"].(map[string]interface{})
	assert.Len(t, trends, 1)

	for query, want := range map[string]int{"days=0": 7, "days=-3": 7, "days=1000": 365, "days=30": 30} {
		resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/trends?"+query, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, query)
		assert.EqualValues(t, want, body["days"], query)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/sources", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["sources"], 3)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 20, body["max_page_size"])
	assert.Equal(t, true, body["export_enabled"])
}

func TestExport(t *testing.T) {
	srv := newServer(t, seededStore(t), "")

	resp, err := http.Get(srv.URL + "/api/v1/export/cef?source=URLhaus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "ctiwatch-iocs.cef")

	resp2, _ := do(t, http.MethodGet, srv.URL+"/api/v1/export/xml", "")
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestStoreErrorsAnswer503WithEmptyPayload(t *testing.T) {
	srv := newServer(t, brokenStore{repository.NewMemoryRepository()}, "")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.EqualValues(t, 0, body["total"])
	assert.Empty(t, body["by_type"])
	assert.NotEmpty(t, body["error"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/iocs/search?q=x", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, body["results"])
}

func TestGRPCHealth(t *testing.T) {
	ctx := context.Background()

	up := NewHealthServer(service.NewQueryService(repository.NewMemoryRepository(), service.QueryConfig{}, nil), nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, up.Check(ctx))
	resp, err := up.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	down := NewHealthServer(service.NewQueryService(brokenStore{repository.NewMemoryRepository()}, service.QueryConfig{}, nil), nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, down.Check(ctx))
}

type failingResponseWriter struct {
	*httptest.ResponseRecorder
}

func (f failingResponseWriter) Write(b []byte) (int, error) {
	return 0, errors.New("write failed")
}

func TestWriteJSON_SurvivesBrokenWriters(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, make(chan int))
	assert.Equal(t, http.StatusOK, rec.Code)

	w := failingResponseWriter{httptest.NewRecorder()}
	writeError(w, http.StatusTeapot, "nope")
	assert.Equal(t, http.StatusTeapot, w.Code)
}
