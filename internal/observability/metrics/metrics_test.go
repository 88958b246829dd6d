package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/golang/snappy"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/pmacctstats/internal/config"
	hostdomain "github.com/smallbiznis/pmacctstats/internal/host/domain"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"github.com/smallbiznis/pmacctstats/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

func TestClassifyErrorReason(t *testing.T) {
	day := time.Date(2010, 11, 5, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", fmt.Errorf("day: %w", context.DeadlineExceeded), ReasonDeadlineExceeded},
		{"config", &config.Error{Kind: config.ErrConfigMissing}, ReasonConfig},
		{"duplicate host", &hostdomain.DuplicateHostError{Address: "192.0.2.1"}, ReasonDuplicateHost},
		{"connection", &db.ConnectionError{Store: db.StoreSource, Err: errors.New("refused")}, ReasonStoreConnection},
		{"mysql lock timeout", &mysqldriver.MySQLError{Number: 1205}, ReasonDBLockTimeout},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, ReasonSerializationFailure},
		{"persist unique", &usagedomain.PersistError{Address: "a", Day: day, Err: &pgconn.PgError{Code: "23505"}}, ReasonUniqueViolation},
		{"persist overflow", &usagedomain.PersistError{Address: "a", Day: day, Err: &mysqldriver.MySQLError{Number: 1264}}, ReasonOutOfRange},
		{"persist other", &usagedomain.PersistError{Address: "a", Day: day, Err: errors.New("boom")}, ReasonPersistFailure},
		{"unknown", errors.New("boom"), ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyErrorReason(tc.err))
		})
	}
}

func TestClassifyErrorTypeAndRetryable(t *testing.T) {
	dup := &hostdomain.DuplicateHostError{Address: "192.0.2.1"}
	assert.Equal(t, ErrorTypeInvariant, ClassifyErrorType(dup))
	assert.False(t, IsErrorRetryable(dup))

	conn := &db.ConnectionError{Store: db.StoreDestination, Err: errors.New("refused")}
	assert.Equal(t, ErrorTypeConnection, ClassifyErrorType(conn))
	assert.True(t, IsErrorRetryable(conn))

	assert.Equal(t, ErrorTypeDB, ClassifyErrorType(&pgconn.PgError{Code: "23505"}))
	assert.Equal(t, ErrorTypeConfig, ClassifyErrorType(&config.Error{Kind: config.ErrConfigSectionEmpty}))
	assert.False(t, IsErrorRetryable(nil))
}

func TestImportMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewImportMetrics(reg, Config{ServiceName: "pmacctstats", Environment: "test"})

	m.ObserveRun(RunOutcomeSuccess, 2*time.Second, time.Unix(1700000000, 0))
	m.ObserveRun(RunOutcomeSkipped, 0, time.Time{})
	m.ObserveDay(DayOutcomeCompleted, time.Second)
	m.AddFlowStats(10, 3, 4, 3, 300, 400)
	m.AddPersisted(5, 2)
	m.IncError("persist", &hostdomain.DuplicateHostError{Address: "x"})
	m.SetWatermark(time.Date(2010, 11, 5, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(RunOutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(RunOutcomeSkipped)))
	assert.Equal(t, float64(1700000000), testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.recordsScanned))
	assert.Equal(t, float64(400), testutil.ToFloat64(m.bytesAttributed.WithLabelValues(DirectionEgress)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.hostsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("persist", ReasonDuplicateHost)))
	assert.Equal(t, float64(1288915200), testutil.ToFloat64(m.watermark))

	var nilMetrics *ImportMetrics
	assert.NotPanics(t, func() { nilMetrics.ObserveDay(DayOutcomeFailed, time.Second) })
}

func labelMap(ts prompb.TimeSeries) map[string]string {
	out := make(map[string]string, len(ts.Labels))
	for _, l := range ts.Labels {
		out[l.Name] = l.Value
	}
	return out
}

func TestRemoteWritePusher(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewImportMetrics(reg, Config{ServiceName: "pmacctstats", Environment: "test"})
	m.AddPersisted(7, 0)

	var got prompb.WriteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, proto.Unmarshal(raw, protoadapt.MessageV2Of(&got)))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := NewRemoteWritePusher(server.URL, "token", map[string]string{"job": "pmacctstats", "env": "ignored", "blank": " "})
	p.now = func() time.Time { return time.UnixMilli(1234) }
	require.NoError(t, p.Push(context.Background(), reg))

	var written *prompb.TimeSeries
	for i := range got.Timeseries {
		if labelMap(got.Timeseries[i])["__name__"] == "pmacctstats_usage_entries_written_total" {
			written = &got.Timeseries[i]
		}
	}
	require.NotNil(t, written)
	require.Len(t, written.Samples, 1)
	assert.Equal(t, float64(7), written.Samples[0].Value)
	assert.Equal(t, int64(1234), written.Samples[0].Timestamp)

	labels := labelMap(*written)
	assert.Equal(t, "pmacctstats", labels["job"])
	assert.Equal(t, "test", labels["env"])
	assert.NotContains(t, labels, "blank")
}

func TestSeriesFromFamiliesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewImportMetrics(reg, Config{Environment: "test"})
	m.ObserveDay(DayOutcomeCompleted, 750*time.Millisecond)
	m.ObserveDay(DayOutcomeCompleted, 3*time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	buckets := map[string]float64{}
	var sum, count float64
	for _, ts := range seriesFromFamilies(families, nil, 0) {
		labels := labelMap(ts)
		switch labels["__name__"] {
		case "pmacctstats_import_day_duration_seconds_bucket":
			buckets[labels["le"]] = ts.Samples[0].Value
		case "pmacctstats_import_day_duration_seconds_sum":
			sum = ts.Samples[0].Value
		case "pmacctstats_import_day_duration_seconds_count":
			count = ts.Samples[0].Value
		}
	}

	assert.Equal(t, float64(0), buckets["0.5"])
	assert.Equal(t, float64(1), buckets["1"])
	assert.Equal(t, float64(2), buckets["5"])
	assert.Equal(t, float64(2), buckets["+Inf"])
	assert.InDelta(t, 3.75, sum, 1e-9)
	assert.Equal(t, float64(2), count)
}

func TestRemoteWritePusherReportsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewImportMetrics(reg, Config{}).AddPersisted(1, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewRemoteWritePusher(server.URL, "", nil).Push(context.Background(), reg)
	assert.Error(t, err)
}

func TestPushgatewayPusher(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewImportMetrics(reg, Config{}).AddPersisted(1, 1)

	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPushgatewayPusher(server.URL, "pmacctstats", map[string]string{"environment": "test"})
	require.NoError(t, p.Push(context.Background(), reg))
	assert.Equal(t, "/metrics/job/pmacctstats/environment/test", path)
}

func TestNewPusherSelection(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewPusher(config.Config{}, log))
	assert.Nil(t, NewPusher(config.Config{Metrics: config.MetricsConfig{Exporter: ExporterPrometheusRemoteWrite}}, log))
	assert.Nil(t, NewPusher(config.Config{Metrics: config.MetricsConfig{Exporter: "statsd", Endpoint: "x"}}, log))

	rw := NewPusher(config.Config{Metrics: config.MetricsConfig{
		Exporter: ExporterPrometheusRemoteWrite,
		Endpoint: "http://prom:9090/api/v1/write",
	}}, log)
	assert.IsType(t, &RemoteWritePusher{}, rw)

	pg := NewPusher(config.Config{AppName: "pmacctstats", Metrics: config.MetricsConfig{
		Exporter: ExporterPrometheusPushgateway,
		Endpoint: "http://pushgateway:9091",
	}}, log)
	assert.IsType(t, &PushgatewayPusher{}, pg)
}
