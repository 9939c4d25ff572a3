package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"

	"github.com/KFearsoff/tailforward/internal/journal"
	"github.com/KFearsoff/tailforward/internal/log"
	"github.com/KFearsoff/tailforward/internal/pipeline"
	"github.com/KFearsoff/tailforward/internal/webhook"
)

// recordTimeout bounds the journal write that follows each delivery.
const recordTimeout = 2 * time.Second

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleWebhook handles POST {webhook.path}: a signed batch of Tailscale
// events.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	received := time.Now()
	ctx := r.Context()
	logger := log.WithRequest(s.logger, middleware.GetReqID(ctx))

	// The body is kept byte for byte; the MAC covers exactly these bytes.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("webhook body too large", "limit", tooLarge.Limit)
			s.complete(ctx, received, pipeline.Result{}, "payload_too_large", http.StatusRequestEntityTooLarge)
			s.writeError(w, apiError("payload too large", goerrors.CategoryBadInput,
				http.StatusRequestEntityTooLarge, TextCodePayloadTooLarge, nil))
			return
		}
		logger.Warn("failed to read webhook body", "error", err)
		s.complete(ctx, received, pipeline.Result{}, "unreadable_body", http.StatusBadRequest)
		s.writeError(w, apiWrapError(err, goerrors.CategoryBadInput, "failed to read request body",
			http.StatusBadRequest, TextCodeUnreadableBody, nil))
		return
	}

	header := r.Header.Get(s.config.SignatureHeader)
	if header == "" {
		logger.Warn("webhook signature missing", "header", s.config.SignatureHeader)
	}

	res, err := s.runner.Run(ctx, pipeline.Request{
		Header: header,
		Body:   body,
		Now:    received,
	})
	if err != nil {
		rich := pipelineError(err)
		if rich.Code >= http.StatusInternalServerError {
			logger.Error("webhook failed", "stage", res.Stage.String(), "error", err)
		}
		s.complete(ctx, received, res, webhook.KindOf(err).String(), rich.Code)
		s.writeError(w, rich)
		return
	}

	logger.Info("webhook forwarded", "events", res.Events, "forwarded", res.Forwarded)
	s.complete(ctx, received, res, "", http.StatusOK)
	respondJSON(w, http.StatusOK, ForwardResponse{Forwarded: res.Forwarded})
}

// complete reports a finished delivery to the observer and the journal.
// Journal failures are logged and never change the response.
func (s *Server) complete(ctx context.Context, received time.Time, res pipeline.Result, kind string, status int) {
	elapsed := time.Since(received)
	stage := res.Stage.String()

	if s.observer != nil {
		s.observer.ObserveWebhook(stage, kind, res.Forwarded, res.Stage == pipeline.StageForward, elapsed)
	}
	if s.recorder == nil {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := s.recorder.Record(rctx, journal.Entry{
		ReceivedAt: received,
		RequestID:  middleware.GetReqID(ctx),
		Stage:      stage,
		Kind:       kind,
		Events:     res.Events,
		Forwarded:  res.Forwarded,
		Status:     status,
		Duration:   elapsed,
	}); err != nil {
		s.logger.Warn("failed to journal delivery", "error", err)
	}
}

// handleNotFound answers unknown routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("no route", "method", r.Method, "path", r.URL.Path)
	s.writeError(w, apiError("route not found", goerrors.CategoryNotFound,
		http.StatusNotFound, TextCodeNotFound, nil))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, apiError("method not allowed", goerrors.CategoryBadInput,
		http.StatusMethodNotAllowed, TextCodeMethodNotAllowed, nil))
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the envelope's text code with its HTTP status.
func (s *Server) writeError(w http.ResponseWriter, rich *goerrors.Error) {
	respondJSON(w, rich.Code, ErrorResponse{Error: rich.TextCode})
}
