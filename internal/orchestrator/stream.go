package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/meridian-ai/meridian/internal/hitl"
	"github.com/meridian-ai/meridian/internal/router"
	"go.uber.org/zap"
)

// HandleMessageStream is the streaming entry point. It returns a channel of
// chunks; exactly one chunk carries Done true and it is always the last.
// The channel is closed after the final chunk. Persistence and the
// audit event happen once, after the upstream stream is exhausted, never
// per chunk. If the caller's context is cancelled mid-stream, forwarding
// stops and nothing is persisted.
func (o *Orchestrator) HandleMessageStream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	ev := o.evaluate(ctx, req)
	out := make(chan Chunk, 8)

	if ev.decision.Mode == hitl.ModeEscalate {
		res, _ := o.handleEscalation(ctx, req, ev, true)
		out <- Chunk{
			Text: res.Text,
			Mode: hitl.ModeEscalate.String(),
			Done: true,
		}
		close(out)
		return out, nil
	}

	messages := o.assembleMessages(ctx, req, ev)
	sr, err := o.router.RouteStream(ctx, messages, o.routeOptions(req, ev))
	if err != nil {
		close(out)
		return nil, fmt.Errorf("HandleMessageStream: %w", err)
	}

	go o.forwardStream(ctx, req, ev, sr, out)
	return out, nil
}

// forwardStream pumps chunks to the consumer while accumulating the full
// text, then runs the terminal side effects exactly once.
func (o *Orchestrator) forwardStream(ctx context.Context, req *Request, ev *evaluation, sr *router.StreamResult, out chan<- Chunk) {
	stream := sr.Stream
	model, providerID := sr.Model, sr.Provider

	defer close(out)
	defer stream.Close() //nolint:errcheck

	var full strings.Builder
	draft := ev.decision.Mode == hitl.ModeDraft

	// The draft banner is always the first yielded chunk, ahead of any
	// model output, and is part of the text that gets persisted.
	if draft {
		full.WriteString(DraftBanner)
		if !o.send(ctx, out, Chunk{Text: DraftBanner, Model: model, Provider: providerID}) {
			return
		}
	}

	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Output already started; the chain does not retry. End the
			// stream without persisting a truncated response.
			o.logger.Error("stream failed mid-response",
				zap.String("request_id", ev.requestID),
				zap.String("provider", providerID),
				zap.Error(err),
			)
			o.send(ctx, out, Chunk{Mode: ev.decision.Mode.String(), Done: true})
			return
		}
		full.WriteString(text)
		if !o.send(ctx, out, Chunk{Text: text, Model: model, Provider: providerID}) {
			// Consumer is gone. Stop forwarding; skip persistence so an
			// abandoned stream leaves no partial assistant message.
			return
		}
	}

	if !o.send(ctx, out, Chunk{
		Model:    model,
		Provider: providerID,
		Mode:     ev.decision.Mode.String(),
		Done:     true,
	}) {
		return
	}

	text := full.String()
	var approvalID string
	if draft {
		approvalID = o.queueDraftApproval(ctx, req, ev, text)
	}
	o.persistAssistant(ctx, req.SessionID, text)
	o.recordEvent(req, ev, &modelOutcome{
		provider:     providerID,
		model:        model,
		attemptCount: sr.AttemptCount,
		failed:       sr.FailedProviders,
		approvalID:   approvalID,
		streamed:     true,
	})
}

// send delivers a chunk unless the consumer's context is gone. The
// cancellation check comes first so a disconnected consumer stops the
// forward loop even while buffer space remains.
func (o *Orchestrator) send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
