package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/meridian-ai/meridian/internal/governance"
	"go.uber.org/zap"
)

// handleListRules returns the constitutional tier followed by the current
// dynamic rules.
func (d *Dependencies) handleListRules(w http.ResponseWriter, r *http.Request) {
	var out []RuleResp
	for _, rule := range d.Engine.ConstitutionalRuleSet() {
		out = append(out, toRuleResp(rule))
	}
	for _, rule := range d.Engine.DynamicRules() {
		out = append(out, toRuleResp(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Dependencies) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body RuleBody
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	rule, err := d.Engine.CreateRule(r.Context(), governance.RuleParams{
		Name:       body.Name,
		Mode:       body.Mode,
		LocalOnly:  body.LocalOnly,
		Guardrail:  body.Guardrail,
		Reason:     body.Reason,
		Conditions: body.Conditions,
	})
	if err != nil {
		d.writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResp(rule))
}

func (d *Dependencies) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var body RuleBody
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	rule, err := d.Engine.UpdateRule(r.Context(), r.PathValue("rule_id"), governance.RuleParams{
		Name:       body.Name,
		Mode:       body.Mode,
		LocalOnly:  body.LocalOnly,
		Guardrail:  body.Guardrail,
		Reason:     body.Reason,
		Conditions: body.Conditions,
	})
	if err != nil {
		d.writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResp(rule))
}

func (d *Dependencies) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := d.Engine.DeleteRule(r.Context(), r.PathValue("rule_id")); err != nil {
		d.writeGovernanceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics := d.Engine.ProhibitedTopics()
	out := make([]TopicResp, 0, len(topics))
	for _, t := range topics {
		out = append(out, toTopicResp(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Dependencies) handleAddTopic(w http.ResponseWriter, r *http.Request) {
	var body TopicBody
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	t, err := d.Engine.AddProhibitedTopic(r.Context(), body.Topic, body.Scope, body.ScopeID)
	if err != nil {
		d.writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTopicResp(t))
}

func (d *Dependencies) handleRemoveTopic(w http.ResponseWriter, r *http.Request) {
	if err := d.Engine.RemoveProhibitedTopic(r.Context(), r.PathValue("topic_id")); err != nil {
		d.writeGovernanceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	versions, err := d.Engine.ListVersions(r.Context(), limit)
	if err != nil {
		d.Logger.Error("version list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "internal error"})
		return
	}
	out := make([]VersionResp, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionResp(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Dependencies) handleRollback(w http.ResponseWriter, r *http.Request) {
	if err := d.Engine.Rollback(r.Context(), r.PathValue("version_id")); err != nil {
		d.writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled back"})
}

// writeGovernanceError maps engine errors: immutable-rule violations are
// forbidden, missing ids are 404, anything else from validation is the
// caller's fault.
func (d *Dependencies) writeGovernanceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, governance.ErrImmutableRule):
		writeJSON(w, http.StatusForbidden, ErrorResp{Detail: err.Error()})
	case errors.Is(err, governance.ErrRuleNotFound), errors.Is(err, governance.ErrTopicNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
	}
}
