package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/meridian-ai/meridian/internal/hitl"
	"go.uber.org/zap"
)

// handleListApprovals returns queue items, pending by default, oldest SLA
// deadline first.
func (d *Dependencies) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = hitl.StatusPending
	}
	if status == "all" {
		status = ""
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	approvals, err := d.Store.ListApprovals(r.Context(), status, limit)
	if err != nil {
		d.Logger.Error("approval list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "internal error"})
		return
	}
	out := make([]ApprovalResp, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, toApprovalResp(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Dependencies) handleApprove(w http.ResponseWriter, r *http.Request) {
	d.resolveApproval(w, r, true)
}

func (d *Dependencies) handleReject(w http.ResponseWriter, r *http.Request) {
	d.resolveApproval(w, r, false)
}

func (d *Dependencies) resolveApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	var body ReviewBody
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if body.Reviewer == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "reviewer is required"})
		return
	}

	id := r.PathValue("approval_id")
	var (
		a   *hitl.Approval
		err error
	)
	if approve {
		a, err = d.Queue.Approve(r.Context(), id, body.Reviewer, body.Note)
	} else {
		a, err = d.Queue.Reject(r.Context(), id, body.Reviewer, body.Note)
	}
	if err != nil {
		switch {
		case errors.Is(err, hitl.ErrApprovalNotFound):
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: err.Error()})
		case errors.Is(err, hitl.ErrNotPending):
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: err.Error()})
		default:
			d.Logger.Error("approval resolve failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "internal error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, toApprovalResp(a))
}
