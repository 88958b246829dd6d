package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	obsmetrics "github.com/smallbiznis/pmacctstats/internal/observability/metrics"
	"github.com/smallbiznis/pmacctstats/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedStatus struct {
	status scheduler.RunStatus
	ok     bool
}

func (f fixedStatus) LastRun() (scheduler.RunStatus, bool) { return f.status, f.ok }

func newTestEngine(status StatusReporter) (*gin.Engine, *prometheus.Registry) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	obsmetrics.NewImportMetrics(reg, obsmetrics.Config{ServiceName: "pmacctstats", Environment: "test"})
	return NewEngine(Params{Log: zap.NewNop(), Registry: reg, Status: status}), reg
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	r, _ := newTestEngine(fixedStatus{})

	rec := serve(r, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestReadyz(t *testing.T) {
	started := time.Date(2024, 11, 7, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		status fixedStatus
		code   int
		state  string
	}{
		{name: "no run yet", status: fixedStatus{}, code: http.StatusOK, state: "starting"},
		{
			name:   "last run succeeded",
			status: fixedStatus{ok: true, status: scheduler.RunStatus{RunID: "r1", Outcome: obsmetrics.RunOutcomeSuccess, StartedAt: started}},
			code:   http.StatusOK,
			state:  "ok",
		},
		{
			name:   "last run skipped",
			status: fixedStatus{ok: true, status: scheduler.RunStatus{RunID: "r2", Outcome: obsmetrics.RunOutcomeSkipped, StartedAt: started}},
			code:   http.StatusOK,
			state:  "ok",
		},
		{
			name:   "last run failed",
			status: fixedStatus{ok: true, status: scheduler.RunStatus{RunID: "r3", Outcome: obsmetrics.RunOutcomeFailed, StartedAt: started, Error: "connection refused"}},
			code:   http.StatusServiceUnavailable,
			state:  "degraded",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestEngine(tc.status)
			rec := serve(r, "/readyz")
			require.Equal(t, tc.code, rec.Code)

			var body struct {
				Status  string               `json:"status"`
				LastRun *scheduler.RunStatus `json:"last_run"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.state, body.Status)
			if tc.status.ok {
				require.NotNil(t, body.LastRun)
				assert.Equal(t, tc.status.status.RunID, body.LastRun.RunID)
				assert.Equal(t, tc.status.status.Error, body.LastRun.Error)
			} else {
				assert.Nil(t, body.LastRun)
			}
		})
	}
}

func TestMetricsServesRegistry(t *testing.T) {
	r, _ := newTestEngine(fixedStatus{})

	rec := serve(r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pmacctstats_import_pending_days"))
}

func TestRequestIDPropagated(t *testing.T) {
	r, _ := newTestEngine(fixedStatus{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "req-42")
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
}

func TestUnknownRoute(t *testing.T) {
	r, _ := newTestEngine(fixedStatus{})

	rec := serve(r, "/api/usage")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
