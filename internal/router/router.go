package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/meridian-ai/meridian/internal/provider"
	"go.uber.org/zap"
)

// ErrNoBackends is a configuration error: the router was built with no
// provider clients.
var ErrNoBackends = errors.New("no provider backends configured")

// Options parameterize one route call. Model resolution order: explicit
// Model, then the profile's default, then the router's global default.
type Options struct {
	Model       string
	Profile     string
	Temperature float64
	MaxTokens   int
	LocalOnly   bool
}

// Result is a completion annotated with how the chain got there.
type Result struct {
	*provider.CompletionResult
	AttemptCount    int
	FailedProviders []string
}

// StreamResult carries an open stream plus its chain annotations. Usage and
// cost are recorded by the wrapped stream once it is exhausted.
type StreamResult struct {
	Stream          provider.Stream
	Model           string
	Provider        string
	AttemptCount    int
	FailedProviders []string
}

// BackendFailure names one backend's failure inside an exhausted chain.
type BackendFailure struct {
	Backend string
	Err     error
}

// ChainError reports that every backend in the fallback chain was skipped
// or failed.
type ChainError struct {
	Failures []BackendFailure
}

func (e *ChainError) Error() string {
	if len(e.Failures) == 0 {
		return "fallback chain: no eligible backends"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Backend, f.Err)
	}
	return "all backends failed: " + strings.Join(parts, "; ")
}

// Router resolves a target model to a backend and delegates to the fallback
// chain. The chain tries backends in priority order, skipping any that
// failed within the cooldown window.
type Router struct {
	backends   map[string]*backend
	modelIndex map[string]*backend
	chain      []*backend

	profileModels map[string]string
	defaultModel  string

	// onResult is a one-way callback invoked with each successful
	// completion result, after the fact. Keeping it a callback avoids a
	// construction-order cycle with the metrics collector.
	onResult func(*provider.CompletionResult)

	logger *zap.Logger
}

// New builds a router over clients in fallback priority order.
func New(clients []provider.Client, profileModels map[string]string, defaultModel string, logger *zap.Logger) (*Router, error) {
	if len(clients) == 0 {
		return nil, ErrNoBackends
	}

	r := &Router{
		backends:      make(map[string]*backend, len(clients)),
		modelIndex:    make(map[string]*backend),
		profileModels: profileModels,
		defaultModel:  defaultModel,
		logger:        logger,
	}
	for _, c := range clients {
		b := newBackend(c)
		r.backends[c.ID()] = b
		r.chain = append(r.chain, b)
		for _, m := range c.Models() {
			if _, taken := r.modelIndex[m]; !taken {
				r.modelIndex[m] = b
			}
		}
	}
	if r.defaultModel == "" {
		r.defaultModel = clients[0].DefaultModel()
	}
	return r, nil
}

// OnCompletion registers the usage/cost recording callback.
func (r *Router) OnCompletion(fn func(*provider.CompletionResult)) {
	r.onResult = fn
}

// Status reports every configured backend for the status query.
func (r *Router) Status() []BackendStatus {
	out := make([]BackendStatus, 0, len(r.chain))
	for _, b := range r.chain {
		out = append(out, b.status())
	}
	return out
}

// resolveModel applies the model resolution order.
func (r *Router) resolveModel(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	if m, ok := r.profileModels[opts.Profile]; ok && m != "" {
		return m
	}
	return r.defaultModel
}

// eligible reports whether the chain may use this backend for the options.
func eligible(b *backend, opts Options) bool {
	return !opts.LocalOnly || b.client.Local()
}

// modelFor picks the model the backend will actually serve: the requested
// one if advertised, its default otherwise.
func modelFor(b *backend, requested string) string {
	for _, m := range b.client.Models() {
		if m == requested {
			return requested
		}
	}
	return b.client.DefaultModel()
}

// Route resolves the model, attempts the owning backend directly when it is
// healthy, then falls back to the chain. A direct-attempt failure is
// swallowed, not recorded as a chain failure; the chain may legitimately
// retry the same backend.
func (r *Router) Route(ctx context.Context, messages []provider.Message, opts Options) (*Result, error) {
	model := r.resolveModel(opts)

	if direct, ok := r.modelIndex[model]; ok && direct.isHealthy() && eligible(direct, opts) {
		res, err := r.attempt(ctx, direct, messages, model, opts)
		if err == nil {
			return &Result{CompletionResult: res, AttemptCount: 1}, nil
		}
		r.logger.Warn("direct backend attempt failed, falling back to chain",
			zap.String("backend", direct.client.ID()),
			zap.String("model", model),
			zap.Error(err),
		)
	}

	return r.routeChain(ctx, messages, model, opts)
}

// routeChain iterates the priority-ordered chain.
func (r *Router) routeChain(ctx context.Context, messages []provider.Message, model string, opts Options) (*Result, error) {
	now := time.Now()
	var failures []BackendFailure
	var failedNames []string
	attempts := 0

	for _, b := range r.chain {
		if !eligible(b, opts) {
			continue
		}
		if b.inCooldown(now) {
			failures = append(failures, BackendFailure{Backend: b.client.ID(), Err: errors.New("in cooldown after recent failure")})
			continue
		}

		attempts++
		res, err := r.attempt(ctx, b, messages, modelFor(b, model), opts)
		if err != nil {
			failures = append(failures, BackendFailure{Backend: b.client.ID(), Err: err})
			failedNames = append(failedNames, b.client.ID())
			continue
		}
		return &Result{
			CompletionResult: res,
			AttemptCount:     attempts,
			FailedProviders:  failedNames,
		}, nil
	}

	return nil, &ChainError{Failures: failures}
}

// attempt runs one completion on one backend, updating its health state and
// recording usage/cost on success.
func (r *Router) attempt(ctx context.Context, b *backend, messages []provider.Message, model string, opts Options) (*provider.CompletionResult, error) {
	res, err := b.client.Complete(ctx, &provider.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		b.markFailure(err)
		return nil, err
	}
	b.markSuccess()

	res.Cost = provider.CostFor(model, res.Usage)
	if r.onResult != nil {
		r.onResult(res)
	}
	return res, nil
}

// RouteStream mirrors Route for streaming. The chain only switches
// backends if a stream fails before yielding its first chunk; once output
// has started, a mid-stream failure is surfaced to the caller rather than
// silently retried, since the client has already seen partial output.
func (r *Router) RouteStream(ctx context.Context, messages []provider.Message, opts Options) (*StreamResult, error) {
	model := r.resolveModel(opts)

	if direct, ok := r.modelIndex[model]; ok && direct.isHealthy() && eligible(direct, opts) {
		sr, err := r.attemptStream(ctx, direct, messages, model, opts)
		if err == nil {
			sr.AttemptCount = 1
			return sr, nil
		}
		r.logger.Warn("direct backend stream failed before first chunk, falling back to chain",
			zap.String("backend", direct.client.ID()),
			zap.String("model", model),
			zap.Error(err),
		)
	}

	now := time.Now()
	var failures []BackendFailure
	var failedNames []string
	attempts := 0

	for _, b := range r.chain {
		if !eligible(b, opts) {
			continue
		}
		if b.inCooldown(now) {
			failures = append(failures, BackendFailure{Backend: b.client.ID(), Err: errors.New("in cooldown after recent failure")})
			continue
		}

		attempts++
		sr, err := r.attemptStream(ctx, b, messages, modelFor(b, model), opts)
		if err != nil {
			failures = append(failures, BackendFailure{Backend: b.client.ID(), Err: err})
			failedNames = append(failedNames, b.client.ID())
			continue
		}
		sr.AttemptCount = attempts
		sr.FailedProviders = failedNames
		return sr, nil
	}

	return nil, &ChainError{Failures: failures}
}

// attemptStream opens a stream and peeks its first chunk so that a backend
// that accepts the request but dies immediately still counts as a
// pre-output failure eligible for fallback.
func (r *Router) attemptStream(ctx context.Context, b *backend, messages []provider.Message, model string, opts Options) (*StreamResult, error) {
	start := time.Now()

	stream, err := b.client.CompleteStream(ctx, &provider.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		b.markFailure(err)
		return nil, err
	}

	first, err := stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		stream.Close() //nolint:errcheck
		b.markFailure(err)
		return nil, err
	}
	b.markSuccess()

	wrapped := &recordingStream{
		inner:    stream,
		first:    first,
		firstErr: err,
		model:    model,
		provider: b.client.ID(),
		start:    start,
		messages: messages,
		onDone:   r.onResult,
	}
	return &StreamResult{
		Stream:   wrapped,
		Model:    model,
		Provider: b.client.ID(),
	}, nil
}
