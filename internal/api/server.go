// Package api exposes the job service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/keagan/audiogram/internal/pipeline"
	"github.com/keagan/audiogram/internal/progress"
	"github.com/keagan/audiogram/internal/styles"
	"github.com/rs/zerolog"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// JobService is the part of *pipeline.Service the handlers use.
type JobService interface {
	Submit(req pipeline.Request) (string, error)
	Status(ctx context.Context, id string) (pipeline.Status, error)
	Progress(ctx context.Context, id string) (progress.Record, error)
	Styles() *styles.Registry
}

// NewHandler registers every route on a fresh mux wrapped in request
// logging.
func NewHandler(svc JobService, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "api").Logger()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler(logger))
	mux.HandleFunc("GET /styles", stylesHandler(svc, logger))
	mux.HandleFunc("POST /jobs", submitHandler(svc, logger))
	mux.HandleFunc("GET /jobs/{id}", statusHandler(svc, logger))
	mux.HandleFunc("GET /jobs/{id}/progress", progressHandler(svc, logger))
	return loggingMiddleware(logger, mux)
}

// NewServer returns an http.Server for addr.
func NewServer(addr string, svc JobService, logger zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(svc, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthHandler(logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func stylesHandler(svc JobService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, svc.Styles().List())
	}
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

func submitHandler(svc JobService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := r.Body.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close request body")
			}
		}()

		var req pipeline.Request
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, logger, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
			return
		}

		id, err := svc.Submit(req)
		if err != nil {
			var ve *pipeline.ValidationError
			switch {
			case errors.As(err, &ve):
				writeError(w, logger, http.StatusBadRequest, err)
			case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrPoolClosed):
				w.Header().Set("Retry-After", "5")
				writeError(w, logger, http.StatusServiceUnavailable, err)
			default:
				writeError(w, logger, http.StatusInternalServerError, err)
			}
			return
		}

		w.Header().Set("Location", "/jobs/"+id)
		writeJSON(w, logger, http.StatusAccepted, submitResponse{JobID: id})
	}
}

func statusHandler(svc JobService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !jobIDPattern.MatchString(id) {
			writeError(w, logger, http.StatusBadRequest, errors.New("invalid job id"))
			return
		}

		st, err := svc.Status(r.Context(), id)
		if err != nil {
			writeError(w, logger, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, st)
	}
}

func progressHandler(svc JobService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !jobIDPattern.MatchString(id) {
			writeError(w, logger, http.StatusBadRequest, errors.New("invalid job id"))
			return
		}

		rec, err := svc.Progress(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, logger, http.StatusOK, rec)
		case errors.Is(err, progress.ErrNotFound):
			writeError(w, logger, http.StatusNotFound, err)
		case errors.Is(err, pipeline.ErrStatusUnknown):
			writeError(w, logger, http.StatusGatewayTimeout, err)
		default:
			writeError(w, logger, http.StatusInternalServerError, err)
		}
	}
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, status int, err error) {
	writeJSON(w, logger, status, map[string]string{"error": err.Error()})
}

func loggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lrw.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(statusCode int) {
	lrw.statusCode = statusCode
	lrw.ResponseWriter.WriteHeader(statusCode)
}
