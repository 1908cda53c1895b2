// Package httpadapter exposes operational endpoints: health, metrics, on-demand
// cycles, source batch checks and alert transitions.
package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"kybmon/internal/connectors"
	"kybmon/internal/domain"
	"kybmon/internal/ports"
	"kybmon/internal/workers/cycle"
)

// AlertActions are the analyst-driven alert transitions.
type AlertActions interface {
	Acknowledge(ctx context.Context, alertID, userID, notes string) (domain.Alert, error)
	Resolve(ctx context.Context, alertID, userID, notes string) (domain.Alert, error)
	MarkFalsePositive(ctx context.Context, alertID, userID, notes string) (domain.Alert, error)
}

// BatchChecker runs one source over many identifiers.
type BatchChecker interface {
	CheckBatch(ctx context.Context, identifiers []string, opts connectors.Options, failFast bool) ([]connectors.Result, error)
}

type Deps struct {
	Cycles   cycle.CycleRunner
	Retry    cycle.RetryPolicy
	Jobs     ports.JobRepository
	Alerts   AlertActions
	Sources  map[domain.CheckType]BatchChecker
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
	// WaitTimeout caps synchronous cycles when the caller gives no timeout.
	WaitTimeout time.Duration
}

type Server struct {
	d Deps
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.WaitTimeout <= 0 {
		d.WaitTimeout = 2 * time.Minute
	}
	return &Server{d: d}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.d.Gatherer, promhttp.HandlerOpts{}))
	r.Post("/subjects/{id}/cycles", s.postCycle)
	r.Post("/sources/{checkType}/batch", s.postBatch)
	r.Route("/alerts/{id}", func(r chi.Router) {
		r.Post("/acknowledge", s.alertAction(s.d.Alerts.Acknowledge))
		r.Post("/resolve", s.alertAction(s.d.Alerts.Resolve))
		r.Post("/false-positive", s.alertAction(s.d.Alerts.MarkFalsePositive))
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// postCycle queues a cycle, or with ?wait=true runs it inline and returns the
// result. ?timeout is in seconds.
func (s *Server) postCycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		if s.d.Jobs == nil {
			s.fail(w, r, &httpError{code: http.StatusServiceUnavailable, msg: "job queue not configured"})
			return
		}
		jobID, created, err := s.d.Jobs.EnqueueCycle(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID, "created": created})
		return
	}

	timeout := s.d.WaitTimeout
	if v, err := strconv.Atoi(r.URL.Query().Get("timeout")); err == nil && v > 0 {
		timeout = time.Duration(v) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	res, err := cycle.ProcessInline(ctx, s.d.Cycles, s.d.Retry, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batchRequest struct {
	Identifiers []string           `json:"identifiers"`
	Options     connectors.Options `json:"options"`
	FailFast    bool               `json:"fail_fast"`
}

func (s *Server) postBatch(w http.ResponseWriter, r *http.Request) {
	ct := domain.CheckType(chi.URLParam(r, "checkType"))
	src, ok := s.d.Sources[ct]
	if !ok {
		s.fail(w, r, &httpError{code: http.StatusNotFound, msg: "unknown check type " + string(ct)})
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Identifiers) == 0 {
		s.fail(w, r, &httpError{code: http.StatusBadRequest, msg: "identifiers required"})
		return
	}
	results, err := src.CheckBatch(r.Context(), req.Identifiers, req.Options, req.FailFast)
	body := map[string]any{"results": results}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

type transitionRequest struct {
	UserID string `json:"user_id"`
	Notes  string `json:"notes"`
}

func (s *Server) alertAction(apply func(ctx context.Context, alertID, userID, notes string) (domain.Alert, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			s.fail(w, r, &httpError{code: http.StatusBadRequest, msg: "user_id required"})
			return
		}
		a, err := apply(r.Context(), chi.URLParam(r, "id"), req.UserID, req.Notes)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, alertView(a))
	}
}

func alertView(a domain.Alert) map[string]any {
	return map[string]any{
		"id":               a.ID,
		"subject_id":       a.SubjectID,
		"type":             a.Type,
		"severity":         a.Severity,
		"title":            a.Title,
		"status":           a.Status,
		"acknowledged_by":  a.AcknowledgedBy,
		"acknowledged_at":  a.AcknowledgedAt,
		"ack_notes":        a.AckNotes,
		"resolved_by":      a.ResolvedBy,
		"resolved_at":      a.ResolvedAt,
		"resolution_notes": a.ResolutionNotes,
	}
}

type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	var herr *httpError
	var rerr *cycle.RetryableError
	switch {
	case errors.As(err, &herr):
		code = herr.code
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict):
		code = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.As(err, &rerr):
		code = http.StatusServiceUnavailable
	}
	if code >= 500 {
		s.d.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
