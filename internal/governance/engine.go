package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-ai/meridian/internal/hitl"
	"go.uber.org/zap"
)

var (
	ErrImmutableRule = errors.New("constitutional rules cannot be modified")
	ErrRuleNotFound  = errors.New("rule not found")
	ErrTopicNotFound = errors.New("prohibited topic not found")
)

// Topic is a denylisted substring. Any case-insensitive match in the query
// forces ESCALATE regardless of rule evaluation.
type Topic struct {
	ID      string
	Topic   string
	Scope   string // "global" or "scoped"
	ScopeID string
}

// Version is one entry in the governance version log: a full snapshot of
// the dynamic rule set at the time of a mutation.
type Version struct {
	ID          string
	Description string
	Snapshot    []*Rule
	CreatedAt   time.Time
}

// Decision is the authoritative output of one policy evaluation. Owned
// exclusively by the request that produced it.
type Decision struct {
	Mode             hitl.Mode
	ApprovalRequired bool
	LocalOnly        bool
	PolicyTriggers   []string
	Guardrails       []string
	EscalationReason string
}

// Store is the persistence surface the engine needs for dynamic rules,
// prohibited topics, and the version log. Implemented by the Postgres store.
type Store interface {
	ListRules(ctx context.Context) ([]*Rule, error)
	InsertRule(ctx context.Context, r *Rule) error
	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, id string) (bool, error)
	DeleteStandardRules(ctx context.Context) error

	ListTopics(ctx context.Context) ([]*Topic, error)
	InsertTopic(ctx context.Context, t *Topic) error
	DeleteTopic(ctx context.Context, id string) (bool, error)

	InsertVersion(ctx context.Context, v *Version) error
	GetVersion(ctx context.Context, id string) (*Version, error)
	ListVersions(ctx context.Context, limit int) ([]*Version, error)
}

// snapshot is the immutable cache read by in-flight evaluations. Mutations
// build a new snapshot and swap it in atomically; a request never observes
// a half-updated rule set.
type snapshot struct {
	rules  []*Rule
	topics []*Topic
}

// Engine evaluates governance policy: constitutional rules first, then
// dynamic rules in list order, then the prohibited-topic check.
type Engine struct {
	constitutional []*Rule
	store          Store
	cache          atomic.Pointer[snapshot]
	logger         *zap.Logger

	// Serializes mutations. Evaluations never take it.
	mu sync.Mutex
}

// NewEngine builds an engine and loads the dynamic caches. Store read
// failures degrade to constitutional-only governance rather than failing
// construction.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	e := &Engine{
		constitutional: ConstitutionalRules(),
		store:          store,
		logger:         logger,
	}
	e.cache.Store(&snapshot{})
	e.reload(context.Background())
	return e
}

// Evaluate runs the full policy pipeline for one request. The running mode
// starts at INFORM and is only ever raised.
func (e *Engine) Evaluate(in *EvalInput) *Decision {
	d := &Decision{Mode: hitl.ModeInform}
	snap := e.cache.Load()

	for _, r := range e.constitutional {
		e.applyRule(d, r, in)
	}
	for _, r := range snap.rules {
		e.applyRule(d, r, in)
	}

	lower := strings.ToLower(in.Query)
	for _, t := range snap.topics {
		if strings.Contains(lower, strings.ToLower(t.Topic)) {
			d.Mode = hitl.ModeEscalate
			d.PolicyTriggers = append(d.PolicyTriggers, "prohibited:"+t.Topic)
			d.EscalationReason = fmt.Sprintf("query touches prohibited topic %q", t.Topic)
		}
	}

	d.ApprovalRequired = d.Mode != hitl.ModeInform
	return d
}

func (e *Engine) applyRule(d *Decision, r *Rule, in *EvalInput) {
	if !r.Triggered(in) {
		return
	}
	d.Mode = hitl.Max(d.Mode, r.Mode)
	d.PolicyTriggers = append(d.PolicyTriggers, r.ID)
	if r.Guardrail != "" {
		d.Guardrails = append(d.Guardrails, r.Guardrail)
	}
	if r.LocalOnly {
		d.LocalOnly = true
	}
	if r.Mode == hitl.ModeEscalate {
		// Last ESCALATE-triggering rule wins.
		d.EscalationReason = r.Reason
	}
}

// ConstitutionalRuleSet returns the fixed rules for status endpoints.
func (e *Engine) ConstitutionalRuleSet() []*Rule {
	return e.constitutional
}

// DynamicRules returns the currently cached dynamic rule set.
func (e *Engine) DynamicRules() []*Rule {
	return e.cache.Load().rules
}

// ProhibitedTopics returns the currently cached topic list.
func (e *Engine) ProhibitedTopics() []*Topic {
	return e.cache.Load().topics
}

func (e *Engine) isConstitutional(id string) bool {
	for _, r := range e.constitutional {
		if r.ID == id {
			return true
		}
	}
	return false
}

// reload refreshes both caches wholesale from the store and swaps the new
// snapshot in atomically. Store failures keep the previous snapshot for
// mutations, but during construction they leave the caches empty, which is
// the constitutional-only degraded mode.
func (e *Engine) reload(ctx context.Context) {
	if e.store == nil {
		return
	}
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		e.logger.Warn("loading dynamic rules failed, keeping previous rule set", zap.Error(err))
		return
	}
	topics, err := e.store.ListTopics(ctx)
	if err != nil {
		e.logger.Warn("loading prohibited topics failed, keeping previous topics", zap.Error(err))
		return
	}
	e.cache.Store(&snapshot{rules: rules, topics: topics})
}

// --- Mutations ---

// RuleParams carries a rule create/update payload. Conditions arrive as raw
// JSON and are schema-validated before interpretation.
type RuleParams struct {
	Name       string
	Mode       string
	LocalOnly  bool
	Guardrail  string
	Reason     string
	Conditions json.RawMessage
}

// CreateRule validates and persists a standard rule, snapshots the version
// log, and reloads the caches.
func (e *Engine) CreateRule(ctx context.Context, p RuleParams) (*Rule, error) {
	cond, err := validateRuleParams(p)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := &Rule{
		ID:         uuid.New().String(),
		Name:       p.Name,
		Tier:       TierStandard,
		Mode:       hitl.ParseMode(p.Mode),
		LocalOnly:  p.LocalOnly,
		Guardrail:  p.Guardrail,
		Reason:     p.Reason,
		Conditions: *cond,
	}
	if err := e.store.InsertRule(ctx, r); err != nil {
		return nil, fmt.Errorf("CreateRule: %w", err)
	}
	if err := e.writeVersion(ctx, "create rule "+r.Name); err != nil {
		return nil, err
	}
	e.reload(ctx)
	return r, nil
}

// UpdateRule rejects constitutional ids before any store access.
func (e *Engine) UpdateRule(ctx context.Context, id string, p RuleParams) (*Rule, error) {
	if e.isConstitutional(id) {
		return nil, ErrImmutableRule
	}
	cond, err := validateRuleParams(p)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := &Rule{
		ID:         id,
		Name:       p.Name,
		Tier:       TierStandard,
		Mode:       hitl.ParseMode(p.Mode),
		LocalOnly:  p.LocalOnly,
		Guardrail:  p.Guardrail,
		Reason:     p.Reason,
		Conditions: *cond,
	}
	if err := e.store.UpdateRule(ctx, r); err != nil {
		return nil, fmt.Errorf("UpdateRule: %w", err)
	}
	if err := e.writeVersion(ctx, "update rule "+r.Name); err != nil {
		return nil, err
	}
	e.reload(ctx)
	return r, nil
}

// DeleteRule rejects constitutional ids before any store access.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if e.isConstitutional(id) {
		return ErrImmutableRule
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	found, err := e.store.DeleteRule(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteRule: %w", err)
	}
	if !found {
		return ErrRuleNotFound
	}
	if err := e.writeVersion(ctx, "delete rule "+id); err != nil {
		return err
	}
	e.reload(ctx)
	return nil
}

// AddProhibitedTopic persists a denylist entry and reloads.
func (e *Engine) AddProhibitedTopic(ctx context.Context, topic, scope, scopeID string) (*Topic, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("topic text is required")
	}
	if scope == "" {
		scope = "global"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := &Topic{ID: uuid.New().String(), Topic: topic, Scope: scope, ScopeID: scopeID}
	if err := e.store.InsertTopic(ctx, t); err != nil {
		return nil, fmt.Errorf("AddProhibitedTopic: %w", err)
	}
	if err := e.writeVersion(ctx, "add prohibited topic "+topic); err != nil {
		return nil, err
	}
	e.reload(ctx)
	return t, nil
}

// RemoveProhibitedTopic deletes a denylist entry and reloads.
func (e *Engine) RemoveProhibitedTopic(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	found, err := e.store.DeleteTopic(ctx, id)
	if err != nil {
		return fmt.Errorf("RemoveProhibitedTopic: %w", err)
	}
	if !found {
		return ErrTopicNotFound
	}
	if err := e.writeVersion(ctx, "remove prohibited topic "+id); err != nil {
		return err
	}
	e.reload(ctx)
	return nil
}

// Rollback restores the dynamic rule set captured in the target version:
// all non-immutable rules are deleted, the snapshot's rules reinserted, and
// a new version entry describes the rollback itself. Rollback is a
// mutation, not a revert-in-place.
func (e *Engine) Rollback(ctx context.Context, versionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.store.GetVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("Rollback: %w", err)
	}
	if v == nil {
		return fmt.Errorf("Rollback: version %s not found", versionID)
	}

	if err := e.store.DeleteStandardRules(ctx); err != nil {
		return fmt.Errorf("Rollback: %w", err)
	}
	for _, r := range v.Snapshot {
		if r.Immutable {
			continue
		}
		if err := e.store.InsertRule(ctx, r); err != nil {
			return fmt.Errorf("Rollback: reinsert %s: %w", r.ID, err)
		}
	}
	if err := e.writeVersion(ctx, "rollback to version "+versionID); err != nil {
		return err
	}
	e.reload(ctx)

	e.logger.Info("governance rolled back", zap.String("version_id", versionID))
	return nil
}

// ListVersions exposes the version log for the admin surface.
func (e *Engine) ListVersions(ctx context.Context, limit int) ([]*Version, error) {
	return e.store.ListVersions(ctx, limit)
}

// writeVersion snapshots the current stored dynamic rule set. Called with
// e.mu held, after the mutation and before the cache reload.
func (e *Engine) writeVersion(ctx context.Context, description string) error {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("writeVersion: %w", err)
	}
	v := &Version{
		ID:          uuid.New().String(),
		Description: description,
		Snapshot:    rules,
		CreatedAt:   time.Now(),
	}
	if err := e.store.InsertVersion(ctx, v); err != nil {
		return fmt.Errorf("writeVersion: %w", err)
	}
	return nil
}
