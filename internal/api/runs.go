package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/docdistill/internal/app"
)

// runState tracks one background pipeline run. Events accumulate so a
// late-connecting client still sees the full progress history.
type runState struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	events []app.Event
	status string // running, done, failed, canceled
	result app.RunResult
	errMsg string
}

func (rs *runState) append(ev app.Event) {
	rs.mu.Lock()
	rs.events = append(rs.events, ev)
	rs.mu.Unlock()
}

func (rs *runState) snapshot(from int) ([]app.Event, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	finished := rs.status != "running"
	if from >= len(rs.events) {
		return nil, finished
	}
	out := make([]app.Event, len(rs.events)-from)
	copy(out, rs.events[from:])
	return out, finished
}

// startRunRequest optionally overrides the serve-time defaults per run.
type startRunRequest struct {
	URL          string `json:"url"`
	Input        string `json:"input"`
	MaxTokens    int    `json:"maxTokens"`
	TargetTokens int    `json:"targetTokens"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	cfg := s.cfg
	if req.URL != "" {
		cfg.StartURL = req.URL
	}
	if req.Input != "" {
		cfg.InputPath = req.Input
	}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = req.MaxTokens
	}
	if req.TargetTokens > 0 {
		cfg.TargetTokens = req.TargetTokens
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runState{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
		status: "running",
	}
	s.mu.Lock()
	s.runs[rs.id] = rs
	s.mu.Unlock()

	go s.execute(ctx, rs, cfg)

	writeJSON(w, http.StatusAccepted, map[string]string{"id": rs.id, "status": rs.status})
}

func (s *Server) execute(ctx context.Context, rs *runState, cfg app.Config) {
	defer rs.cancel()
	defer close(rs.done)

	finish := func(status, errMsg string, result app.RunResult) {
		rs.mu.Lock()
		rs.status = status
		rs.errMsg = errMsg
		rs.result = result
		rs.mu.Unlock()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("run", rs.id).Msg("run setup failed")
		finish("failed", err.Error(), app.RunResult{})
		return
	}
	defer a.Close()

	events := make(chan app.Event, 256)
	a.Events = events
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for ev := range events {
			rs.append(ev)
		}
	}()

	result, err := a.Run(ctx)
	close(events)
	<-pumped

	switch {
	case err == nil:
		finish("done", "", result)
	case errors.Is(err, context.Canceled):
		finish("canceled", err.Error(), result)
	default:
		log.Error().Err(err).Str("run", rs.id).Msg("run failed")
		finish("failed", err.Error(), result)
	}
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *runState {
	id := chi.URLParam(r, "runID")
	s.mu.Lock()
	rs := s.runs[id]
	s.mu.Unlock()
	if rs == nil {
		jsonError(w, "unknown run "+id, http.StatusNotFound)
		return nil
	}
	return rs
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	rs := s.lookupRun(w, r)
	if rs == nil {
		return
	}
	rs.mu.Lock()
	payload := map[string]any{
		"id":           rs.id,
		"status":       rs.status,
		"pages":        rs.result.Pages,
		"chunks":       rs.result.Chunks,
		"summaries":    rs.result.Summaries,
		"total_tokens": rs.result.Tokens.TotalTokens,
		"met_target":   rs.result.Tokens.MetTarget,
	}
	if rs.errMsg != "" {
		payload["error"] = rs.errMsg
	}
	rs.mu.Unlock()
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	rs := s.lookupRun(w, r)
	if rs == nil {
		return
	}
	rs.cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rs.id, "status": "canceling"})
}

// handleRunEvents streams the run's progress as NDJSON until the run ends.
// Already-recorded events replay first, so reconnecting clients never miss
// history. A terminal line carries the final status.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	rs := s.lookupRun(w, r)
	if rs == nil {
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	sent := 0
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		batch, finished := rs.snapshot(sent)
		for _, ev := range batch {
			if err := enc.Encode(ev); err != nil {
				return
			}
		}
		sent += len(batch)
		if flusher != nil && len(batch) > 0 {
			flusher.Flush()
		}
		if finished {
			rs.mu.Lock()
			final := app.Event{Stage: "done", Message: rs.status}
			rs.mu.Unlock()
			_ = enc.Encode(final)
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-rs.done:
		case <-ticker.C:
		}
	}
}
