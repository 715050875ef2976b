package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meridian-ai/meridian/internal/hitl"
)

const approvalColumns = `id, session_id, mode, priority, status, original_query,
	proposed_response, risk_signals, guardrails, escalation_reason,
	COALESCE(reviewer, ''), COALESCE(review_note, ''), sla_deadline, created_at, resolved_at`

// InsertApproval inserts a pending approval row.
func (s *Store) InsertApproval(ctx context.Context, a *hitl.Approval) error {
	signals, err := json.Marshal(a.RiskSignals)
	if err != nil {
		return fmt.Errorf("InsertApproval: %w", err)
	}
	guardrails, err := json.Marshal(a.GuardrailsTriggered)
	if err != nil {
		return fmt.Errorf("InsertApproval: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, session_id, mode, priority, status, original_query,
		                       proposed_response, risk_signals, guardrails,
		                       escalation_reason, sla_deadline, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.SessionID, a.Mode.String(), string(a.Priority), a.Status,
		a.OriginalQuery, a.ProposedResponse, signals, guardrails,
		a.EscalationReason, a.SLADeadline, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertApproval: %w", err)
	}
	return nil
}

// GetApproval returns an approval by ID, or nil if not found.
func (s *Store) GetApproval(ctx context.Context, id string) (*hitl.Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetApproval: %w", err)
	}
	return a, nil
}

// ResolveApproval marks an approval approved or rejected and stamps the
// reviewer. The caller has already checked the pending status; the WHERE
// clause re-checks it so two concurrent reviewers cannot both win.
func (s *Store) ResolveApproval(ctx context.Context, id, status, reviewer, note string) (*hitl.Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx, `
		UPDATE approvals SET
			status      = $2,
			reviewer    = $3,
			review_note = $4,
			resolved_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+approvalColumns,
		id, status, reviewer, note))
	if err == sql.ErrNoRows {
		return nil, hitl.ErrNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("ResolveApproval: %w", err)
	}
	return a, nil
}

// ListApprovals returns approvals with the given status, oldest SLA deadline
// first. An empty status returns every approval.
func (s *Store) ListApprovals(ctx context.Context, status string, limit int) ([]*hitl.Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE $1 = '' OR status = $1
		ORDER BY sla_deadline ASC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("ListApprovals: %w", err)
	}
	defer rows.Close()

	var approvals []*hitl.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("ListApprovals: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func scanApproval(rs rowScanner) (*hitl.Approval, error) {
	var a hitl.Approval
	var mode, priority string
	var signals, guardrails []byte
	err := rs.Scan(&a.ID, &a.SessionID, &mode, &priority, &a.Status,
		&a.OriginalQuery, &a.ProposedResponse, &signals, &guardrails,
		&a.EscalationReason, &a.Reviewer, &a.ReviewNote,
		&a.SLADeadline, &a.CreatedAt, &a.ResolvedAt)
	if err != nil {
		return nil, err
	}
	a.Mode = hitl.ParseMode(mode)
	a.Priority = hitl.Priority(priority)
	if err := json.Unmarshal(signals, &a.RiskSignals); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(guardrails, &a.GuardrailsTriggered); err != nil {
		return nil, err
	}
	return &a, nil
}
