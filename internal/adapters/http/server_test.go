package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kybmon/internal/adapters/memory"
	"kybmon/internal/connectors"
	"kybmon/internal/domain"
	"kybmon/internal/observability"
	"kybmon/internal/workers/cycle"
)

type fakeCycles struct {
	mock.Mock
}

func (f *fakeCycles) RunCycle(ctx context.Context, subjectID string) (cycle.CycleResult, error) {
	args := f.Called(subjectID)
	return args.Get(0).(cycle.CycleResult), args.Error(1)
}

type fakeAlerts struct {
	mock.Mock
}

func (f *fakeAlerts) call(op, id, user, notes string) (domain.Alert, error) {
	args := f.Called(op, id, user, notes)
	return args.Get(0).(domain.Alert), args.Error(1)
}

func (f *fakeAlerts) Acknowledge(_ context.Context, id, user, notes string) (domain.Alert, error) {
	return f.call("ack", id, user, notes)
}

func (f *fakeAlerts) Resolve(_ context.Context, id, user, notes string) (domain.Alert, error) {
	return f.call("resolve", id, user, notes)
}

func (f *fakeAlerts) MarkFalsePositive(_ context.Context, id, user, notes string) (domain.Alert, error) {
	return f.call("fp", id, user, notes)
}

type fakeBatch struct{}

func (fakeBatch) CheckBatch(_ context.Context, ids []string, _ connectors.Options, _ bool) ([]connectors.Result, error) {
	out := make([]connectors.Result, len(ids))
	for i, id := range ids {
		out[i] = connectors.Result{Identifier: id, Status: connectors.StatusValid}
	}
	return out, nil
}

type fixture struct {
	srv    http.Handler
	cycles *fakeCycles
	alerts *fakeAlerts
	jobs   *memory.Jobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	metrics.Cycle("ok")
	logger, _ := test.NewNullLogger()
	f := &fixture{cycles: &fakeCycles{}, alerts: &fakeAlerts{}, jobs: memory.NewJobs()}
	f.srv = New(Deps{
		Cycles:   f.cycles,
		Retry:    cycle.RetryPolicy{MaxAttempts: 1},
		Jobs:     f.jobs,
		Alerts:   f.alerts,
		Sources:  map[domain.CheckType]BatchChecker{domain.CheckVAT: fakeBatch{}},
		Gatherer: reg,
		Log:      logger,
	}).Routes()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kybmon_cycles_total{outcome="ok"} 1`)
}

func TestPostCycleEnqueues(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/subjects/s1/cycles", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["created"])
	assert.Equal(t, 1, f.jobs.Counts()["queued"])
}

func TestPostCycleWait(t *testing.T) {
	f := newFixture(t)
	next := time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)
	f.cycles.On("RunCycle", "s1").Return(cycle.CycleResult{SubjectID: "s1", RiskLevel: domain.RiskLow, NextCheck: next}, nil)
	f.cycles.On("RunCycle", "gone").Return(cycle.CycleResult{}, domain.ErrNotFound)
	f.cycles.On("RunCycle", "flaky").Return(cycle.CycleResult{}, &cycle.RetryableError{Err: errors.New("db")})

	rec := f.do(http.MethodPost, "/subjects/s1/cycles?wait=true&timeout=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res cycle.CycleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, next.Equal(res.NextCheck))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/subjects/gone/cycles?wait=true", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/subjects/flaky/cycles?wait=true", "").Code)
}

func TestAlertTransitions(t *testing.T) {
	f := newFixture(t)
	f.alerts.On("call", "ack", "a1", "u1", "looking").Return(domain.Alert{ID: "a1", Status: domain.AlertAcknowledged}, nil)
	f.alerts.On("call", "fp", "a1", "u1", "").Return(domain.Alert{}, domain.ErrStateConflict)
	f.alerts.On("call", "resolve", "zz", "u1", "").Return(domain.Alert{}, domain.ErrNotFound)

	rec := f.do(http.MethodPost, "/alerts/a1/acknowledge", `{"user_id":"u1","notes":"looking"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"acknowledged"`)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/alerts/a1/false-positive", `{"user_id":"u1"}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/alerts/zz/resolve", `{"user_id":"u1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/alerts/a1/resolve", `{}`).Code)
}

func TestPostBatch(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/sources/vat/batch", `{"identifiers":["FR1","DE2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results []connectors.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.Equal(t, "DE2", body.Results[1].Identifier)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/sources/nope/batch", `{"identifiers":["x"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/sources/vat/batch", `{}`).Code)
}
