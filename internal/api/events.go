package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/meridian-ai/meridian/internal/audit"
	"go.uber.org/zap"
)

// ListEventsResp wraps a page of governance events.
type ListEventsResp struct {
	Events   []audit.EventRow `json:"events"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

func optString(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

func optTime(r *http.Request, key string) *time.Time {
	if v := r.URL.Query().Get(key); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return &t
		}
	}
	return nil
}

// handleListEvents serves GET /api/meridian/events with filters and
// pagination.
func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "event store not configured"})
		return
	}

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	pageSize := 50
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			pageSize = n
		}
	}

	events, total, err := d.Reader.ListEvents(r.Context(), audit.ListEventsParams{
		SessionID: optString(r, "session_id"),
		UserID:    optString(r, "user_id"),
		Mode:      optString(r, "mode"),
		Domain:    optString(r, "domain"),
		Signal:    optString(r, "signal"),
		EventType: optString(r, "event_type"),
		StartTime: optTime(r, "start_time"),
		EndTime:   optTime(r, "end_time"),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		d.Logger.Error("event list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "internal error"})
		return
	}
	if events == nil {
		events = []audit.EventRow{}
	}
	writeJSON(w, http.StatusOK, ListEventsResp{Events: events, Total: total, Page: page, PageSize: pageSize})
}

func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "event store not configured"})
		return
	}

	event, err := d.Reader.GetEvent(r.Context(), r.PathValue("request_id"))
	if err != nil {
		d.Logger.Error("event get failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "internal error"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "event not found"})
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// handleGetAnalytics serves GET /api/meridian/analytics?days=N.
func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "event store not configured"})
		return
	}

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			days = n
		}
	}

	result, err := d.Reader.GetAnalytics(r.Context(), days)
	if err != nil {
		d.Logger.Error("analytics failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StatusResp pairs backend health with the in-process usage totals.
type StatusResp struct {
	Backends any `json:"backends"`
	Usage    any `json:"usage"`
}

// handleStatus serves GET /api/meridian/status: per-backend health plus the
// usage collector snapshot.
func (d *Dependencies) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResp{
		Backends: d.Router.Status(),
		Usage:    d.Metrics.Snapshot(),
	})
}

// handleCreateClient provisions an API client. The plaintext key appears in
// this response only.
func (d *Dependencies) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var body ClientBody
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name is required"})
		return
	}
	if body.Role == "" {
		body.Role = "user"
	}

	client, key, err := d.Store.CreateAPIClient(r.Context(), body.Name, body.Role)
	if err != nil {
		d.Logger.Error("client create failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, ClientResp{
		ID:           client.ID,
		Name:         client.Name,
		Role:         client.Role,
		APIKeyPrefix: client.APIKeyPrefix,
		APIKey:       key,
		CreatedAt:    client.CreatedAt,
	})
}
