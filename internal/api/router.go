package api

import (
	"net/http"
	"time"

	"github.com/meridian-ai/meridian/internal/audit"
	"github.com/meridian-ai/meridian/internal/governance"
	"github.com/meridian-ai/meridian/internal/hitl"
	"github.com/meridian-ai/meridian/internal/metrics"
	"github.com/meridian-ai/meridian/internal/orchestrator"
	"github.com/meridian-ai/meridian/internal/router"
	"github.com/meridian-ai/meridian/internal/store"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Engine       *governance.Engine
	Queue        *hitl.Queue
	Router       *router.Router
	Metrics      *metrics.Collector
	Reader       *audit.Reader // nil if ClickHouse unavailable
	Logger       *zap.Logger
	CacheTTL     time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Chat endpoints (auth required via Bearer msk_ token)
	mux.HandleFunc("POST /v1/chat", deps.authMiddleware(deps.handleChat))
	mux.HandleFunc("POST /v1/chat/stream", deps.authMiddleware(deps.handleChatStream))
	mux.HandleFunc("GET /v1/chat/ws", deps.authMiddleware(deps.handleChatWS))

	// Governance rules (no auth — dashboard auth added later)
	mux.HandleFunc("GET /api/meridian/rules", deps.handleListRules)
	mux.HandleFunc("POST /api/meridian/rules", deps.handleCreateRule)
	mux.HandleFunc("PUT /api/meridian/rules/{rule_id}", deps.handleUpdateRule)
	mux.HandleFunc("DELETE /api/meridian/rules/{rule_id}", deps.handleDeleteRule)

	// Prohibited topics (no auth)
	mux.HandleFunc("GET /api/meridian/topics", deps.handleListTopics)
	mux.HandleFunc("POST /api/meridian/topics", deps.handleAddTopic)
	mux.HandleFunc("DELETE /api/meridian/topics/{topic_id}", deps.handleRemoveTopic)

	// Version log + rollback (no auth)
	mux.HandleFunc("GET /api/meridian/versions", deps.handleListVersions)
	mux.HandleFunc("POST /api/meridian/versions/{version_id}/rollback", deps.handleRollback)

	// HITL approval queue (no auth)
	mux.HandleFunc("GET /api/meridian/approvals", deps.handleListApprovals)
	mux.HandleFunc("POST /api/meridian/approvals/{approval_id}/approve", deps.handleApprove)
	mux.HandleFunc("POST /api/meridian/approvals/{approval_id}/reject", deps.handleReject)

	// Events & Analytics (no auth)
	mux.HandleFunc("GET /api/meridian/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/meridian/events/{request_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/meridian/analytics", deps.handleGetAnalytics)

	// Router + usage status (no auth)
	mux.HandleFunc("GET /api/meridian/status", deps.handleStatus)

	// API client provisioning (no auth)
	mux.HandleFunc("POST /api/meridian/clients", deps.handleCreateClient)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
