package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Priority of an approval in the review queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Approval statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// SLA windows per priority. Deadline is computed at creation time.
var slaWindows = map[Priority]time.Duration{
	PriorityHigh:   4 * time.Hour,
	PriorityMedium: 24 * time.Hour,
	PriorityLow:    72 * time.Hour,
}

var (
	ErrApprovalNotFound = errors.New("approval not found")
	ErrNotPending       = errors.New("approval is not pending")
)

// Approval is a queued human-review item. ProposedResponse is empty for
// escalations (no response was produced).
type Approval struct {
	ID                  string
	SessionID           string
	Mode                Mode
	Priority            Priority
	Status              string
	OriginalQuery       string
	ProposedResponse    string
	RiskSignals         []string
	GuardrailsTriggered []string
	EscalationReason    string
	Reviewer            string
	ReviewNote          string
	SLADeadline         time.Time
	CreatedAt           time.Time
	ResolvedAt          *time.Time
}

// CreateParams holds the fields the orchestrator supplies when queuing.
type CreateParams struct {
	SessionID           string
	Mode                Mode
	Priority            Priority
	OriginalQuery       string
	ProposedResponse    string
	RiskSignals         []string
	GuardrailsTriggered []string
	EscalationReason    string
}

// ApprovalStore is the persistence surface the queue needs. Implemented by
// the Postgres store.
type ApprovalStore interface {
	InsertApproval(ctx context.Context, a *Approval) error
	GetApproval(ctx context.Context, id string) (*Approval, error)
	ResolveApproval(ctx context.Context, id, status, reviewer, note string) (*Approval, error)
	ListApprovals(ctx context.Context, status string, limit int) ([]*Approval, error)
}

// Queue tracks pending approvals and their SLA deadlines.
type Queue struct {
	store  ApprovalStore
	logger *zap.Logger
}

func NewQueue(store ApprovalStore, logger *zap.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// CreateApproval inserts a pending approval with an SLA deadline derived
// from its priority.
func (q *Queue) CreateApproval(ctx context.Context, p CreateParams) (*Approval, error) {
	window, ok := slaWindows[p.Priority]
	if !ok {
		window = slaWindows[PriorityLow]
	}

	a := &Approval{
		ID:                  uuid.New().String(),
		SessionID:           p.SessionID,
		Mode:                p.Mode,
		Priority:            p.Priority,
		Status:              StatusPending,
		OriginalQuery:       p.OriginalQuery,
		ProposedResponse:    p.ProposedResponse,
		RiskSignals:         p.RiskSignals,
		GuardrailsTriggered: p.GuardrailsTriggered,
		EscalationReason:    p.EscalationReason,
		SLADeadline:         time.Now().Add(window),
		CreatedAt:           time.Now(),
	}
	if err := q.store.InsertApproval(ctx, a); err != nil {
		return nil, fmt.Errorf("CreateApproval: %w", err)
	}

	q.logger.Info("approval queued",
		zap.String("approval_id", a.ID),
		zap.String("mode", a.Mode.String()),
		zap.String("priority", string(a.Priority)),
	)
	return a, nil
}

// Approve resolves a pending approval. For a draft, the stored proposed
// response (already carrying the draft banner) is what the reviewer releases.
func (q *Queue) Approve(ctx context.Context, id, reviewer, note string) (*Approval, error) {
	return q.resolve(ctx, id, StatusApproved, reviewer, note)
}

// Reject resolves a pending approval as rejected.
func (q *Queue) Reject(ctx context.Context, id, reviewer, note string) (*Approval, error) {
	return q.resolve(ctx, id, StatusRejected, reviewer, note)
}

func (q *Queue) resolve(ctx context.Context, id, status, reviewer, note string) (*Approval, error) {
	existing, err := q.store.GetApproval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	if existing == nil {
		return nil, ErrApprovalNotFound
	}
	if existing.Status != StatusPending {
		return nil, ErrNotPending
	}

	resolved, err := q.store.ResolveApproval(ctx, id, status, reviewer, note)
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}
	q.logger.Info("approval resolved",
		zap.String("approval_id", id),
		zap.String("status", status),
		zap.String("reviewer", reviewer),
	)
	return resolved, nil
}

// ListPending returns pending approvals, oldest SLA deadline first.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]*Approval, error) {
	return q.store.ListApprovals(ctx, StatusPending, limit)
}
