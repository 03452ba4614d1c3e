package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/vantagesec/vantage/pkg/models"
)

// Streamer writes the turn's event stream to the client as server-sent
// events, one JSON object per data line. Events are append-only and
// order-preserving; a mutex serializes writers because title generation and
// the initial-persistence goroutine send concurrently with the model
// stream.
type Streamer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStreamer prepares the response for streaming and sends headers.
func NewStreamer(w http.ResponseWriter) (*Streamer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Streamer{w: w, flusher: flusher}, nil
}

// Send writes one event. A canceled context means the client went away;
// the error is the context error so callers can distinguish disconnect
// from write failure.
func (s *Streamer) Send(ctx context.Context, ev models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close terminates the stream with the SSE done marker.
func (s *Streamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
