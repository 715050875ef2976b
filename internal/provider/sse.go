package provider

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event envelope.
type sseEvent struct {
	event string
	data  string
}

// sseScanner incrementally parses server-sent events from a response body.
// It surfaces one complete event per Next call instead of consuming the
// whole body, so chunk forwarding stays lazy.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *sseScanner {
	s := bufio.NewScanner(r)
	// Allow moderately large payload lines.
	s.Buffer(make([]byte, 0, 4096), 512*1024)
	return &sseScanner{scanner: s}
}

// Next returns the next complete event, or io.EOF when the body ends.
func (s *sseScanner) Next() (sseEvent, error) {
	var ev sseEvent
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(dataLines) > 0 {
				ev.data = strings.Join(dataLines, "\n")
				return ev, nil
			}
			ev.event = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return ev, err
	}
	if len(dataLines) > 0 {
		ev.data = strings.Join(dataLines, "\n")
		return ev, nil
	}
	return ev, io.EOF
}
