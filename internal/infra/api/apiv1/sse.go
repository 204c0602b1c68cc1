package apiv1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"sales-crm-docgen/internal/domain/model"
)

type streamEvent struct {
	Type      string       `json:"type"` // job | chunk | done | error
	JobID     string       `json:"job_id,omitempty"`
	Text      string       `json:"text,omitempty"`
	Content   string       `json:"content,omitempty"`
	Usage     *model.Usage `json:"usage,omitempty"`
	Truncated bool         `json:"truncated,omitempty"`
	Error     string       `json:"error,omitempty"`
}

var errStreamClosed = errors.New("stream receiver gone")

// sseWriter writes text/event-stream frames. Headers go out on the first
// event so a request that fails validation still gets a plain JSON error.
type sseWriter struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	f      http.Flusher
	open   bool
	broken bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	return &sseWriter{w: w, f: f}, nil
}

func (s *sseWriter) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *sseWriter) startLocked() {
	if s.open {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.open = true
}

func (s *sseWriter) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *sseWriter) send(ev streamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errStreamClosed
	}
	s.startLocked()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		s.broken = true
		return fmt.Errorf("%w: %v", errStreamClosed, err)
	}
	s.f.Flush()
	return nil
}
