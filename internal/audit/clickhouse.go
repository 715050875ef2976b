package audit

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes governance events to ClickHouse asynchronously.
// Write() is non-blocking: events are buffered and batch-inserted in a
// background goroutine. A slow or down ClickHouse never stalls a request.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *Event
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN sets TLS when ?secure=true is in the DSN; enforce it here so
	// a cloud DSN without the flag still connects securely.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *Event, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a governance event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *Event) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			// Drain remaining events from buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO governance_events (
			request_id, session_id, user_id, timestamp, event_type,
			query_preview, domain, confidence,
			risk_signals, risk_level,
			mode, local_only, policy_triggers, guardrails, escalation_reason,
			approval_id, provider, model,
			prompt_tokens, completion_tokens, cost_usd, latency_ms,
			streamed, attempt_count, failed_providers
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		var localOnlyUint8, streamedUint8 uint8
		if e.LocalOnly {
			localOnlyUint8 = 1
		}
		if e.Streamed {
			streamedUint8 = 1
		}

		if err := batch.Append(
			e.RequestID,
			e.SessionID,
			e.UserID,
			e.Timestamp,
			e.EventType,
			e.QueryPreview,
			e.Domain,
			e.Confidence,
			e.RiskSignals,
			e.RiskLevel,
			e.Mode,
			localOnlyUint8,
			e.PolicyTriggers,
			e.Guardrails,
			e.EscalationReason,
			e.ApprovalID,
			e.Provider,
			e.Model,
			e.PromptTokens,
			e.CompletionTokens,
			e.CostUSD,
			e.LatencyMs,
			streamedUint8,
			e.AttemptCount,
			e.FailedProviders,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *Event) {
	w.logger.Info("governance_event",
		zap.String("request_id", event.RequestID),
		zap.String("session_id", event.SessionID),
		zap.String("event_type", event.EventType),
		zap.String("domain", event.Domain),
		zap.Strings("risk_signals", event.RiskSignals),
		zap.String("mode", event.Mode),
		zap.Bool("local_only", event.LocalOnly),
		zap.Strings("policy_triggers", event.PolicyTriggers),
		zap.String("provider", event.Provider),
		zap.String("model", event.Model),
		zap.Float32("cost_usd", event.CostUSD),
		zap.Float32("latency_ms", event.LatencyMs),
	)
}

func (w *LogWriter) Close() {}
