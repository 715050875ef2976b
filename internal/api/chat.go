package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/meridian-ai/meridian/internal/orchestrator"
	"github.com/meridian-ai/meridian/internal/router"
	"go.uber.org/zap"
)

func (d *Dependencies) chatRequest(w http.ResponseWriter, r *http.Request) (*orchestrator.Request, bool) {
	var body ChatRequest
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return nil, false
	}
	if strings.TrimSpace(body.Message) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "message is required"})
		return nil, false
	}
	if body.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "session_id is required"})
		return nil, false
	}

	client := clientFromContext(r.Context())
	return &orchestrator.Request{
		SessionID: body.SessionID,
		UserID:    client.ID,
		Query:     body.Message,
		Profile:   body.Profile,
	}, true
}

// handleChat serves POST /v1/chat: one synchronous mediated completion.
func (d *Dependencies) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := d.chatRequest(w, r)
	if !ok {
		return
	}

	res, err := d.Orchestrator.HandleMessage(r.Context(), req)
	if err != nil {
		d.writeRouteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleChatStream serves POST /v1/chat/stream as Server-Sent Events: one
// "data:" line per chunk, the final chunk carrying done true.
func (d *Dependencies) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := d.chatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "streaming unsupported"})
		return
	}

	chunks, err := d.Orchestrator.HandleMessageStream(r.Context(), req)
	if err != nil {
		d.writeRouteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		payload, err := json.Marshal(chunk)
		if err != nil {
			d.Logger.Error("chunk marshal failed", zap.Error(err))
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser dashboards connect cross-origin; auth is the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleChatWS serves GET /v1/chat/ws: the client sends one ChatRequest
// frame per message and receives the chunk sequence for each, final chunk
// carrying done true. The connection stays open for the next message.
func (d *Dependencies) handleChatWS(w http.ResponseWriter, r *http.Request) {
	client := clientFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var body ChatRequest
		if err := conn.ReadJSON(&body); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.Logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if strings.TrimSpace(body.Message) == "" || body.SessionID == "" {
			if err := conn.WriteJSON(ErrorResp{Detail: "message and session_id are required"}); err != nil {
				return
			}
			continue
		}

		chunks, err := d.Orchestrator.HandleMessageStream(ctx, &orchestrator.Request{
			SessionID: body.SessionID,
			UserID:    client.ID,
			Query:     body.Message,
			Profile:   body.Profile,
		})
		if err != nil {
			if werr := conn.WriteJSON(ErrorResp{Detail: err.Error()}); werr != nil {
				return
			}
			continue
		}

		for chunk := range chunks {
			if err := conn.WriteJSON(chunk); err != nil {
				// Consumer gone; cancel so the orchestrator stops forwarding.
				cancel()
				for range chunks {
				}
				return
			}
		}
	}
}

// writeRouteError maps an orchestrator/router failure to a response. An
// exhausted fallback chain is the backend's fault, not the caller's.
func (d *Dependencies) writeRouteError(w http.ResponseWriter, err error) {
	var chainErr *router.ChainError
	if errors.As(err, &chainErr) {
		writeJSON(w, http.StatusBadGateway, ErrorResp{Detail: chainErr.Error()})
		return
	}
	d.Logger.Error("chat request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "internal error"})
}
