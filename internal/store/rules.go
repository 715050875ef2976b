package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meridian-ai/meridian/internal/governance"
	"github.com/meridian-ai/meridian/internal/hitl"
)

// ListRules returns all standard governance rules in creation order. The
// engine evaluates them after the constitutional tier, in this order.
func (s *Store) ListRules(ctx context.Context) ([]*governance.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, mode, local_only, guardrail, reason, conditions
		FROM policy_rules ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	defer rows.Close()

	var rules []*governance.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRules: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// InsertRule inserts a standard rule row.
func (s *Store) InsertRule(ctx context.Context, r *governance.Rule) error {
	cond, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("InsertRule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_rules (id, name, mode, local_only, guardrail, reason, conditions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Name, r.Mode.String(), r.LocalOnly, r.Guardrail, r.Reason, cond)
	if err != nil {
		return fmt.Errorf("InsertRule: %w", err)
	}
	return nil
}

// UpdateRule replaces a standard rule's mutable fields.
func (s *Store) UpdateRule(ctx context.Context, r *governance.Rule) error {
	cond, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("UpdateRule: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE policy_rules SET
			name       = $2,
			mode       = $3,
			local_only = $4,
			guardrail  = $5,
			reason     = $6,
			conditions = $7,
			updated_at = now()
		WHERE id = $1`,
		r.ID, r.Name, r.Mode.String(), r.LocalOnly, r.Guardrail, r.Reason, cond)
	if err != nil {
		return fmt.Errorf("UpdateRule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return governance.ErrRuleNotFound
	}
	return nil
}

// DeleteRule deletes a standard rule by ID. Returns whether a row existed.
func (s *Store) DeleteRule(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM policy_rules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("DeleteRule: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// DeleteStandardRules clears the standard tier. Used by rollback before the
// snapshot rules are reinserted.
func (s *Store) DeleteStandardRules(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM policy_rules`); err != nil {
		return fmt.Errorf("DeleteStandardRules: %w", err)
	}
	return nil
}

// ListTopics returns all prohibited topics.
func (s *Store) ListTopics(ctx context.Context) ([]*governance.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, scope, COALESCE(scope_id, '')
		FROM prohibited_topics ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("ListTopics: %w", err)
	}
	defer rows.Close()

	var topics []*governance.Topic
	for rows.Next() {
		var t governance.Topic
		if err := rows.Scan(&t.ID, &t.Topic, &t.Scope, &t.ScopeID); err != nil {
			return nil, fmt.Errorf("ListTopics: %w", err)
		}
		topics = append(topics, &t)
	}
	return topics, rows.Err()
}

// InsertTopic inserts a prohibited topic.
func (s *Store) InsertTopic(ctx context.Context, t *governance.Topic) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prohibited_topics (id, topic, scope, scope_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))`,
		t.ID, t.Topic, t.Scope, t.ScopeID)
	if err != nil {
		return fmt.Errorf("InsertTopic: %w", err)
	}
	return nil
}

// DeleteTopic deletes a prohibited topic by ID. Returns whether a row existed.
func (s *Store) DeleteTopic(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM prohibited_topics WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("DeleteTopic: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// InsertVersion appends a version-log entry holding a full snapshot of the
// standard rule set.
func (s *Store) InsertVersion(ctx context.Context, v *governance.Version) error {
	snap, err := json.Marshal(snapshotRows(v.Snapshot))
	if err != nil {
		return fmt.Errorf("InsertVersion: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO governance_versions (id, description, snapshot, created_at)
		VALUES ($1, $2, $3, $4)`,
		v.ID, v.Description, snap, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertVersion: %w", err)
	}
	return nil
}

// GetVersion returns a version-log entry by ID, or nil if not found.
func (s *Store) GetVersion(ctx context.Context, id string) (*governance.Version, error) {
	var v governance.Version
	var snap []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, snapshot, created_at
		FROM governance_versions WHERE id = $1`, id,
	).Scan(&v.ID, &v.Description, &snap, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetVersion: %w", err)
	}
	if v.Snapshot, err = decodeSnapshot(snap); err != nil {
		return nil, fmt.Errorf("GetVersion: %w", err)
	}
	return &v, nil
}

// ListVersions returns the newest version-log entries, most recent first.
func (s *Store) ListVersions(ctx context.Context, limit int) ([]*governance.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, snapshot, created_at
		FROM governance_versions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListVersions: %w", err)
	}
	defer rows.Close()

	var versions []*governance.Version
	for rows.Next() {
		var v governance.Version
		var snap []byte
		if err := rows.Scan(&v.ID, &v.Description, &snap, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListVersions: %w", err)
		}
		if v.Snapshot, err = decodeSnapshot(snap); err != nil {
			return nil, fmt.Errorf("ListVersions: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// ruleRow is the JSON shape of one rule inside a version snapshot. Kept
// separate from governance.Rule so snapshot encoding does not depend on
// that struct's field set staying stable.
type ruleRow struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Mode       string                `json:"mode"`
	LocalOnly  bool                  `json:"local_only,omitempty"`
	Guardrail  string                `json:"guardrail,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	Conditions governance.Conditions `json:"conditions"`
}

func snapshotRows(rules []*governance.Rule) []ruleRow {
	out := make([]ruleRow, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleRow{
			ID:         r.ID,
			Name:       r.Name,
			Mode:       r.Mode.String(),
			LocalOnly:  r.LocalOnly,
			Guardrail:  r.Guardrail,
			Reason:     r.Reason,
			Conditions: r.Conditions,
		})
	}
	return out
}

func decodeSnapshot(data []byte) ([]*governance.Rule, error) {
	var rows []ruleRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	rules := make([]*governance.Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, &governance.Rule{
			ID:         row.ID,
			Name:       row.Name,
			Tier:       governance.TierStandard,
			Mode:       hitl.ParseMode(row.Mode),
			LocalOnly:  row.LocalOnly,
			Guardrail:  row.Guardrail,
			Reason:     row.Reason,
			Conditions: row.Conditions,
		})
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(rs rowScanner) (*governance.Rule, error) {
	var r governance.Rule
	var mode string
	var cond []byte
	if err := rs.Scan(&r.ID, &r.Name, &mode, &r.LocalOnly, &r.Guardrail, &r.Reason, &cond); err != nil {
		return nil, err
	}
	r.Tier = governance.TierStandard
	r.Mode = hitl.ParseMode(mode)
	if err := json.Unmarshal(cond, &r.Conditions); err != nil {
		return nil, err
	}
	return &r, nil
}
