package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse governance_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the governance_events table.
type EventRow struct {
	RequestID        string    `json:"request_id"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	EventType        string    `json:"event_type"`
	QueryPreview     string    `json:"query_preview"`
	Domain           string    `json:"domain"`
	Confidence       float32   `json:"confidence"`
	RiskSignals      []string  `json:"risk_signals"`
	RiskLevel        string    `json:"risk_level"`
	Mode             string    `json:"mode"`
	LocalOnly        uint8     `json:"local_only"`
	PolicyTriggers   []string  `json:"policy_triggers"`
	Guardrails       []string  `json:"guardrails"`
	EscalationReason string    `json:"escalation_reason"`
	ApprovalID       string    `json:"approval_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     uint32    `json:"prompt_tokens"`
	CompletionTokens uint32    `json:"completion_tokens"`
	CostUSD          float32   `json:"cost_usd"`
	LatencyMs        float32   `json:"latency_ms"`
	Streamed         uint8     `json:"streamed"`
}

const eventColumns = "request_id, session_id, user_id, timestamp, event_type, " +
	"query_preview, domain, confidence, risk_signals, risk_level, " +
	"mode, local_only, policy_triggers, guardrails, escalation_reason, " +
	"approval_id, provider, model, prompt_tokens, completion_tokens, " +
	"cost_usd, latency_ms, streamed"

func scanEvent(row interface{ Scan(...any) error }, e *EventRow) error {
	return row.Scan(
		&e.RequestID, &e.SessionID, &e.UserID, &e.Timestamp, &e.EventType,
		&e.QueryPreview, &e.Domain, &e.Confidence, &e.RiskSignals, &e.RiskLevel,
		&e.Mode, &e.LocalOnly, &e.PolicyTriggers, &e.Guardrails, &e.EscalationReason,
		&e.ApprovalID, &e.Provider, &e.Model, &e.PromptTokens, &e.CompletionTokens,
		&e.CostUSD, &e.LatencyMs, &e.Streamed,
	)
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	SessionID *string
	UserID    *string
	Mode      *string
	Domain    *string
	Signal    *string
	EventType *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// ListEvents returns paginated, filtered governance events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.SessionID != nil {
		conditions = append(conditions, "session_id = @session_id")
		args = append(args, clickhouse.Named("session_id", *params.SessionID))
	}
	if params.UserID != nil {
		conditions = append(conditions, "user_id = @user_id")
		args = append(args, clickhouse.Named("user_id", *params.UserID))
	}
	if params.Mode != nil {
		conditions = append(conditions, "mode = @mode")
		args = append(args, clickhouse.Named("mode", *params.Mode))
	}
	if params.Domain != nil {
		conditions = append(conditions, "domain = @domain")
		args = append(args, clickhouse.Named("domain", *params.Domain))
	}
	if params.Signal != nil {
		conditions = append(conditions, "has(risk_signals, @signal)")
		args = append(args, clickhouse.Named("signal", *params.Signal))
	}
	if params.EventType != nil {
		conditions = append(conditions, "event_type = @event_type")
		args = append(args, clickhouse.Named("event_type", *params.EventType))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM governance_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM governance_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := scanEvent(rows, &e); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, requestID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM governance_events WHERE request_id = @request_id", eventColumns),
		clickhouse.Named("request_id", requestID),
	)

	var e EventRow
	if err := scanEvent(row, &e); err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.RequestID == "" {
		return nil, nil
	}
	return &e, nil
}

// SummaryStats holds aggregate counts per governance outcome.
type SummaryStats struct {
	TotalRequests int `json:"total_requests"`
	Informed      int `json:"informed"`
	Drafted       int `json:"drafted"`
	Escalated     int `json:"escalated"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// LabelCount holds a label and its count.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// ModelSpend holds accumulated token usage and cost for one model.
type ModelSpend struct {
	Model            string  `json:"model"`
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary             SummaryStats       `json:"summary"`
	EscalationsOverTime []TimeSeriesBucket `json:"escalations_over_time"`
	TopDomains          []LabelCount       `json:"top_domains"`
	TopSignals          []LabelCount       `json:"top_signals"`
	LatencyPercentiles  LatencyStats       `json:"latency_percentiles"`
	SpendByModel        []ModelSpend       `json:"spend_by_model"`
}

// GetAnalytics returns aggregated analytics over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts per mode
	var total, informed, drafted, escalated uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(mode = 'INFORM') as informed, "+
			"countIf(mode = 'DRAFT') as drafted, "+
			"countIf(mode = 'ESCALATE') as escalated "+
			"FROM governance_events "+
			"WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &informed, &drafted, &escalated)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalRequests: int(total),
		Informed:      int(informed),
		Drafted:       int(drafted),
		Escalated:     int(escalated),
	}

	// Escalations over time (hourly)
	escRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM governance_events "+
			"WHERE mode = 'ESCALATE' AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics escalations_over_time: %w", err)
	}
	defer func() { _ = escRows.Close() }()
	for escRows.Next() {
		var hour time.Time
		var count uint64
		if err := escRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics escalations_over_time scan: %w", err)
		}
		result.EscalationsOverTime = append(result.EscalationsOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top domains
	domRows, err := r.conn.Query(ctx,
		"SELECT domain, count() as count "+
			"FROM governance_events "+
			"WHERE domain != '' AND timestamp >= @range_start "+
			"GROUP BY domain ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_domains: %w", err)
	}
	defer func() { _ = domRows.Close() }()
	for domRows.Next() {
		var label string
		var count uint64
		if err := domRows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_domains scan: %w", err)
		}
		result.TopDomains = append(result.TopDomains, LabelCount{Label: label, Count: int(count)})
	}

	// Top risk signals
	sigRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(risk_signals) as signal, count() as count "+
			"FROM governance_events "+
			"WHERE timestamp >= @range_start "+
			"GROUP BY signal ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_signals: %w", err)
	}
	defer func() { _ = sigRows.Close() }()
	for sigRows.Next() {
		var label string
		var count uint64
		if err := sigRows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_signals scan: %w", err)
		}
		result.TopSignals = append(result.TopSignals, LabelCount{Label: label, Count: int(count)})
	}

	// Latency percentiles (last 24h, completed model calls only)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM governance_events "+
			"WHERE model != '' AND timestamp >= @day_start",
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Spend by model
	spendRows, err := r.conn.Query(ctx,
		"SELECT model, count() as requests, "+
			"sum(prompt_tokens) as prompt_tokens, "+
			"sum(completion_tokens) as completion_tokens, "+
			"sum(cost_usd) as cost_usd "+
			"FROM governance_events "+
			"WHERE model != '' AND timestamp >= @range_start "+
			"GROUP BY model ORDER BY cost_usd DESC",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics spend_by_model: %w", err)
	}
	defer func() { _ = spendRows.Close() }()
	for spendRows.Next() {
		var model string
		var requests, promptTokens, completionTokens uint64
		var cost float64
		if err := spendRows.Scan(&model, &requests, &promptTokens, &completionTokens, &cost); err != nil {
			return nil, fmt.Errorf("GetAnalytics spend_by_model scan: %w", err)
		}
		result.SpendByModel = append(result.SpendByModel, ModelSpend{
			Model:            model,
			Requests:         int(requests),
			PromptTokens:     int(promptTokens),
			CompletionTokens: int(completionTokens),
			CostUSD:          cost,
		})
	}

	// Ensure slices are non-nil for JSON serialization
	if result.EscalationsOverTime == nil {
		result.EscalationsOverTime = []TimeSeriesBucket{}
	}
	if result.TopDomains == nil {
		result.TopDomains = []LabelCount{}
	}
	if result.TopSignals == nil {
		result.TopSignals = []LabelCount{}
	}
	if result.SpendByModel == nil {
		result.SpendByModel = []ModelSpend{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
