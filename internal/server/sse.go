package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// sseSink streams engine events as server-sent events. Headers are written
// lazily on the first event so a turn that fails before producing anything
// can still get a plain JSON error response.
type sseSink struct {
	w      http.ResponseWriter
	f      http.Flusher
	logger *slog.Logger

	started bool
}

func newSSESink(w http.ResponseWriter, logger *slog.Logger) (*sseSink, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("server: response writer does not support streaming")
	}
	return &sseSink{w: w, f: f, logger: logger}, nil
}

// Started reports whether any event reached the wire.
func (s *sseSink) Started() bool { return s.started }

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

// Emit writes one SSE frame and flushes it.
func (s *sseSink) Emit(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Debug("sse payload marshal failed", "event", event, "error", err)
		return
	}
	s.start()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload)
	s.f.Flush()
}

// collectorSink buffers a turn's events for the non-streaming action
// endpoint: prose is concatenated, the final state is pulled aside, and the
// remaining events are returned in emission order.
type collectorSink struct {
	narration strings.Builder
	events    []emitted
	state     any
}

// emitted is one buffered non-chunk event.
type emitted struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func (c *collectorSink) Emit(event string, data any) {
	switch event {
	case "chunk":
		if m, ok := data.(map[string]string); ok {
			c.narration.WriteString(m["chunk"])
		}
	case "state":
		c.state = data
	default:
		c.events = append(c.events, emitted{Event: event, Data: data})
	}
}
