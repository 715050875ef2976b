package router

import (
	"io"
	"time"

	"github.com/meridian-ai/meridian/internal/provider"
)

// recordingStream replays the peeked first chunk, then forwards the inner
// stream while accumulating output length. When the stream is exhausted it
// records estimated usage and cost through the router's callback, exactly
// once. Streaming backends rarely report usage, so tokens are estimated at
// 4 chars per token.
type recordingStream struct {
	inner    provider.Stream
	first    string
	firstErr error
	served   bool

	model    string
	provider string
	start    time.Time
	messages []provider.Message

	outputLen int
	recorded  bool
	onDone    func(*provider.CompletionResult)
}

func (s *recordingStream) Recv() (string, error) {
	if !s.served {
		s.served = true
		if s.firstErr != nil {
			s.finish()
			return "", s.firstErr
		}
		s.outputLen += len(s.first)
		return s.first, nil
	}

	chunk, err := s.inner.Recv()
	if err != nil {
		if err == io.EOF {
			s.finish()
		}
		return "", err
	}
	s.outputLen += len(chunk)
	return chunk, nil
}

func (s *recordingStream) Close() error {
	return s.inner.Close()
}

// finish records usage once the stream has fully drained. Abandoned streams
// (client disconnect) are deliberately not recorded: the completion never
// reached the caller.
func (s *recordingStream) finish() {
	if s.recorded || s.onDone == nil {
		return
	}
	s.recorded = true

	promptLen := 0
	for _, m := range s.messages {
		promptLen += len(m.Content)
	}
	usage := provider.Usage{
		PromptTokens:     promptLen / 4,
		CompletionTokens: s.outputLen / 4,
	}
	s.onDone(&provider.CompletionResult{
		Model:     s.model,
		Provider:  s.provider,
		Usage:     usage,
		LatencyMs: float64(time.Since(s.start)) / float64(time.Millisecond),
		Cost:      provider.CostFor(s.model, usage),
	})
}
