package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ad/docs-qa/internal/llm"
	"github.com/ad/docs-qa/internal/pipeline"
)

type questionInput struct {
	Question string `json:"question"`
}

type invokeRequest struct {
	Input questionInput `json:"input"`
}

type batchRequest struct {
	Inputs []questionInput `json:"inputs"`
}

type invokeResponse struct {
	Output   pipeline.State `json:"output"`
	Metadata runMetadata    `json:"metadata"`
}

type runMetadata struct {
	RunID string `json:"run_id"`
}

type batchResponse struct {
	Output   []any         `json:"output"`
	Metadata batchMetadata `json:"metadata"`
}

type batchMetadata struct {
	RunIDs []string `json:"run_ids"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "running",
		"service": "LangSmith Q&A Agent",
		"endpoints": map[string]string{
			"invoke":  "POST /agent/invoke",
			"batch":   "POST /agent/batch",
			"stream":  "POST /agent/stream",
			"health":  "GET /health",
			"ready":   "GET /ready",
			"metrics": "GET /metrics",
		},
	}
	for k, v := range s.opts.Info {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

type healthReport struct {
	Status   string         `json:"status"`
	Index    indexReport    `json:"index"`
	Provider providerReport `json:"provider"`
}

type indexReport struct {
	Loaded    bool `json:"loaded"`
	Chunks    int  `json:"chunks"`
	Dimension int  `json:"dimension"`
}

type providerReport struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) health(ctx context.Context) healthReport {
	report := healthReport{Status: "healthy"}

	if s.index != nil {
		report.Index = indexReport{
			Loaded:    s.index.Count() > 0,
			Chunks:    s.index.Count(),
			Dimension: s.index.Dimension(),
		}
	}

	if s.provider != nil {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.provider.Ping(ctx); err != nil {
			report.Provider.Error = err.Error()
		} else {
			report.Provider.Reachable = true
		}
	}

	if !report.Index.Loaded || !report.Provider.Reachable {
		report.Status = "degraded"
	}
	return report
}

// handleHealth is a liveness check: it always answers 200 and reports component status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health(r.Context()))
}

// handleReady answers 200 only when the index is loaded and the provider is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.health(r.Context())
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	runID := uuid.NewString()
	state, err := s.answerer.Run(r.Context(), req.Input.Question)
	if err != nil {
		s.log.Warn().Err(err).Str("run_id", runID).Msg("invoke failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, invokeResponse{
		Output:   state,
		Metadata: runMetadata{RunID: runID},
	})
}

// handleBatch answers every question independently; one failure does not affect the others.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Inputs) == 0 {
		writeErrorBody(w, http.StatusBadRequest, "invalid_input", "inputs must not be empty")
		return
	}
	if len(req.Inputs) > maxBatchSize {
		writeErrorBody(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("at most %d inputs per batch", maxBatchSize))
		return
	}

	resp := batchResponse{
		Output:   make([]any, len(req.Inputs)),
		Metadata: batchMetadata{RunIDs: make([]string, len(req.Inputs))},
	}

	var g errgroup.Group
	g.SetLimit(s.opts.BatchConcurrency)
	for i, input := range req.Inputs {
		runID := uuid.NewString()
		resp.Metadata.RunIDs[i] = runID

		g.Go(func() error {
			state, err := s.answerer.Run(r.Context(), input.Question)
			if err != nil {
				s.log.Warn().Err(err).Str("run_id", runID).Msg("batch item failed")
				_, kind := classify(err)
				resp.Output[i] = errorResponse{Error: errorBody{Type: kind, Message: err.Error()}}
				return nil
			}
			resp.Output[i] = state
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Input.Question) == "" {
		writeError(w, pipeline.ErrEmptyQuestion)
		return
	}

	runID := uuid.NewString()
	sse := newEventStream(w)
	if err := sse.send("metadata", runMetadata{RunID: runID}); err != nil {
		return
	}

	_, err := s.answerer.Stream(r.Context(), req.Input.Question, func(e pipeline.Event) error {
		return sse.send("data", map[string]any{e.Node: e.Delta()})
	})
	if err != nil {
		s.log.Warn().Err(err).Str("run_id", runID).Msg("stream failed")
		if r.Context().Err() != nil {
			return
		}
		status, kind := classify(err)
		_ = sse.send("error", map[string]any{"status_code": status, "type": kind, "message": err.Error()})
		return
	}
	_ = sse.send("end", nil)
}

// classify maps a pipeline error to an HTTP status and an error type name.
func classify(err error) (int, string) {
	var (
		re *pipeline.RetrievalError
		ge *pipeline.GenerationError
		iu *pipeline.IndexUnavailableError
	)

	kind := "internal_error"
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		return http.StatusBadRequest, "invalid_input"
	case errors.As(err, &iu):
		return http.StatusServiceUnavailable, "index_unavailable"
	case errors.As(err, &re):
		kind, status = "retrieval_error", http.StatusBadGateway
	case errors.As(err, &ge):
		kind, status = "generation_error", http.StatusBadGateway
	}
	if llm.IsTimeout(err) {
		status = http.StatusGatewayTimeout
	}
	return status, kind
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeErrorBody(w, status, kind, err.Error())
}

func writeErrorBody(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Type: kind, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
