package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/adapter/exporter"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
	"github.com/hive-corporation/ctiwatch/internal/core/service"
)

type RestHandler struct {
	query        *service.QueryService
	reputation   *service.ReputationService
	enableExport bool
	log          *zap.Logger
}

func NewRestHandler(query *service.QueryService, reputation *service.ReputationService, enableExport bool, log *zap.Logger) *RestHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RestHandler{
		query:        query,
		reputation:   reputation,
		enableExport: enableExport,
		log:          log,
	}
}

// Register mounts every endpoint on r. /iocs/search is registered before
// /iocs/{id} so it is not swallowed by the id route.
func (h *RestHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/iocs", h.ListIOCs).Methods(http.MethodGet)
	r.HandleFunc("/iocs/search", h.SearchIOCs).Methods(http.MethodGet)
	r.HandleFunc("/iocs/{id}", h.GetIOC).Methods(http.MethodGet)
	r.HandleFunc("/iocs/{id}/tags", h.AddTag).Methods(http.MethodPost)
	r.HandleFunc("/iocs/{id}/tags/{tag}", h.RemoveTag).Methods(http.MethodDelete)
	r.HandleFunc("/iocs/{id}/reputation", h.RecordReputation).Methods(http.MethodPost)
	r.HandleFunc("/tags/{tag}", h.ListByTag).Methods(http.MethodGet)

	r.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/trends", h.Trends).Methods(http.MethodGet)
	r.HandleFunc("/threat-levels", h.ThreatLevels).Methods(http.MethodGet)
	r.HandleFunc("/reputation", h.CheckReputation).Methods(http.MethodGet)
	r.HandleFunc("/export/{format}", h.Export).Methods(http.MethodGet)
	r.HandleFunc("/sources", h.Sources).Methods(http.MethodGet)
	r.HandleFunc("/types", h.Types).Methods(http.MethodGet)
	r.HandleFunc("/config", h.Config).Methods(http.MethodGet)
}

// Health check endpoint
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	response := map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "ctiwatch-api",
	}
	if err := h.query.Health(ctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		response["status"] = "unhealthy"
		response["database"] = "disconnected"
		response["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *RestHandler) ListIOCs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, err := intParam(q.Get("skip"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'skip' parameter")
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	filter, ok := filterFromQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.query.List(ctx, filter, skip, limit)
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{
			"iocs": []domain.IOC{}, "total": 0, "skip": res.Skip, "limit": res.Limit,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RestHandler) SearchIOCs(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	limit, err := intParam(r.URL.Query().Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results, err := h.query.Search(ctx, term, limit)
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{"query": term, "count": 0, "results": []domain.IOC{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   term,
		"count":   len(results),
		"results": results,
	})
}

func (h *RestHandler) ListByTag(w http.ResponseWriter, r *http.Request) {
	tag := mux.Vars(r)["tag"]

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	iocs, err := h.query.ByTag(ctx, tag)
	switch {
	case errors.Is(err, domain.ErrInvalidTag):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.unavailable(w, err, map[string]interface{}{"tag": tag, "count": 0, "iocs": []domain.IOC{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tag":   tag,
		"count": len(iocs),
		"iocs":  iocs,
	})
}

func (h *RestHandler) GetIOC(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ioc, err := h.query.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ioc not found")
		return
	}
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, ioc)
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (h *RestHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	h.updateTag(w, r, id, req.Tag, h.query.AddTag)
}

func (h *RestHandler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.updateTag(w, r, vars["id"], vars["tag"], h.query.RemoveTag)
}

func (h *RestHandler) updateTag(w http.ResponseWriter, r *http.Request, id, tag string, op func(context.Context, string, string) (bool, error)) {
	found, err := op(r.Context(), id, tag)
	switch {
	case errors.Is(err, domain.ErrInvalidTag):
		writeError(w, http.StatusBadRequest, "tag must not be empty")
		return
	case err != nil:
		h.unavailable(w, err, map[string]interface{}{"id": id, "updated": false})
		return
	case !found:
		writeError(w, http.StatusNotFound, "ioc not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"tag":     strings.TrimSpace(tag),
		"updated": true,
	})
}

func (h *RestHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.Stats(r.Context())
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{
			"total": 0, "by_type": []ports.GroupCount{}, "by_source": []ports.GroupCount{},
		})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *RestHandler) Trends(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), service.DefaultTrendDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'days' parameter")
		return
	}
	days = service.TrendWindow(days)

	trends, err := h.query.Trends(r.Context(), days)
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{"days": days, "trends": service.Trends{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":   days,
		"trends": trends,
	})
}

func (h *RestHandler) ThreatLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.query.ThreatLevelStats(r.Context())
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{"threat_levels": []ports.GroupCount{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threat_levels": levels})
}

func (h *RestHandler) CheckReputation(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("value")
	if strings.TrimSpace(value) == "" {
		writeError(w, http.StatusBadRequest, "missing 'value' parameter")
		return
	}
	iocType := domain.IOCType(r.URL.Query().Get("type"))
	if iocType != "" && !iocType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown type %q", iocType))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	rep, err := h.reputation.Check(ctx, value, iocType)
	if err != nil {
		h.reputationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *RestHandler) RecordReputation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	// distinguish a missing record from a value the provider has never seen
	if _, err := h.query.Get(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ioc not found")
			return
		}
		h.unavailable(w, err, map[string]interface{}{})
		return
	}

	rep, err := h.reputation.RecordReputation(ctx, id)
	if err != nil {
		h.reputationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         id,
		"reputation": rep,
	})
}

func (h *RestHandler) reputationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyValue):
		writeError(w, http.StatusBadRequest, "missing 'value' parameter")
	case errors.Is(err, domain.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "reputation lookups are not configured")
	case errors.Is(err, domain.ErrUnsupportedType):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no reputation data for this indicator")
	default:
		h.log.Error("reputation lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "reputation lookup failed")
	}
}

// Export streams records in the requested format for SIEM ingestion.
func (h *RestHandler) Export(w http.ResponseWriter, r *http.Request) {
	if !h.enableExport {
		writeError(w, http.StatusForbidden, "export is disabled")
		return
	}
	exp, err := exporter.ForFormat(mux.Vars(r)["format"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	filter, ok := filterFromQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	iocs, err := h.query.Export(ctx, filter, limit)
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{"iocs": []domain.IOC{}})
		return
	}

	w.Header().Set("Content-Type", exp.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=ctiwatch-iocs.%s", exp.Extension()))
	w.WriteHeader(http.StatusOK)
	if err := exp.Write(w, iocs); err != nil {
		h.log.Error("error writing export response", zap.Error(err))
	}
}

func (h *RestHandler) Sources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.query.Sources(r.Context())
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{"sources": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

func (h *RestHandler) Types(w http.ResponseWriter, r *http.Request) {
	types, err := h.query.Types(r.Context())
	if err != nil {
		h.unavailable(w, err, map[string]interface{}{"types": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"types":     types,
		"supported": domain.AllTypes,
	})
}

func (h *RestHandler) Config(w http.ResponseWriter, r *http.Request) {
	cfg := h.query.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default_page_size":    cfg.DefaultPageSize,
		"max_page_size":        cfg.MaxPageSize,
		"max_export_records":   cfg.MaxExportRecords,
		"export_enabled":       h.enableExport,
		"export_formats":       exporter.Formats(),
		"default_search_limit": service.DefaultSearchLimit,
		"max_search_limit":     service.MaxSearchLimit,
		"default_trend_days":   service.DefaultTrendDays,
	})
}

// unavailable answers a failed store query with the empty payload plus an
// error field.
func (h *RestHandler) unavailable(w http.ResponseWriter, err error, empty map[string]interface{}) {
	h.log.Error("store query failed", zap.Error(err))
	empty["error"] = "store unavailable"
	writeJSON(w, http.StatusServiceUnavailable, empty)
}

// Helper functions

func filterFromQuery(w http.ResponseWriter, r *http.Request) (ports.Filter, bool) {
	q := r.URL.Query()
	filter := ports.Filter{
		Type:   domain.IOCType(q.Get("type")),
		Source: q.Get("source"),
		Tag:    q.Get("tag"),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown type %q", filter.Type))
		return filter, false
	}
	if since := q.Get("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'since' parameter (use format like '24h')")
			return filter, false
		}
		filter.Since = time.Now().Add(-d)
	}
	return filter, true
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("error encoding JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
