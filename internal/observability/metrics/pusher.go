package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/pmacctstats/internal/config"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	ExporterPrometheusRemoteWrite = "prometheus_remote_write"
	ExporterPrometheusPushgateway = "prometheus_pushgateway"
	defaultPushTimeout            = 5 * time.Second
)

// Pusher ships the run's metrics once the run ends. A batch job does not
// live long enough to be scraped.
type Pusher interface {
	Push(ctx context.Context, registry *prometheus.Registry) error
}

// NewPusher builds a pusher from config. It returns nil when pushing is not
// configured or the configuration is unusable; problems are logged.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}

	exporter := strings.ToLower(strings.TrimSpace(cfg.Metrics.Exporter))
	endpoint := strings.TrimSpace(cfg.Metrics.Endpoint)
	if exporter == "" {
		return nil
	}
	if endpoint == "" {
		logger.Warn("metrics push disabled", zap.Error(errors.New("metrics endpoint is required")))
		return nil
	}

	switch exporter {
	case ExporterPrometheusRemoteWrite:
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			logger.Warn("metrics push disabled", zap.Error(fmt.Errorf("invalid metrics endpoint: %w", err)))
			return nil
		}
		return NewRemoteWritePusher(endpoint, cfg.Metrics.AuthToken, map[string]string{
			"job": jobName(cfg),
		})
	case ExporterPrometheusPushgateway:
		return NewPushgatewayPusher(endpoint, jobName(cfg), map[string]string{
			"environment": strings.TrimSpace(cfg.Environment),
		})
	default:
		logger.Warn("metrics push disabled", zap.String("exporter", exporter))
		return nil
	}
}

func jobName(cfg config.Config) string {
	if job := strings.TrimSpace(cfg.AppName); job != "" {
		return job
	}
	return "pmacctstats"
}

// RemoteWritePusher writes one sample per series to a Prometheus
// remote_write endpoint. External labels are added to every series unless
// the metric carries a label of the same name.
type RemoteWritePusher struct {
	endpoint   string
	authToken  string
	external   []prompb.Label
	httpClient *http.Client
	now        func() time.Time
}

func NewRemoteWritePusher(endpoint, authToken string, external map[string]string) *RemoteWritePusher {
	labels := make([]prompb.Label, 0, len(external))
	for name, value := range external {
		if name = strings.TrimSpace(name); name == "" || strings.TrimSpace(value) == "" {
			continue
		}
		labels = append(labels, prompb.Label{Name: name, Value: strings.TrimSpace(value)})
	}
	return &RemoteWritePusher{
		endpoint:   endpoint,
		authToken:  strings.TrimSpace(authToken),
		external:   labels,
		httpClient: &http.Client{Timeout: defaultPushTimeout},
		now:        time.Now,
	}
}

func (p *RemoteWritePusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil {
		return nil
	}

	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	series := seriesFromFamilies(families, p.external, p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	payload, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return fmt.Errorf("encode remote write: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("remote write returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

// PushgatewayPusher replaces the job's group on a Pushgateway after each
// run. Runs are serialised by the run lock, so one group per environment is
// enough.
type PushgatewayPusher struct {
	endpoint string
	job      string
	grouping map[string]string
}

func NewPushgatewayPusher(endpoint, job string, grouping map[string]string) *PushgatewayPusher {
	return &PushgatewayPusher{
		endpoint: endpoint,
		job:      strings.TrimSpace(job),
		grouping: grouping,
	}
}

func (p *PushgatewayPusher) Push(ctx context.Context, registry *prometheus.Registry) error {
	if p == nil || registry == nil {
		return nil
	}
	if strings.TrimSpace(p.endpoint) == "" {
		return errors.New("pushgateway endpoint is required")
	}
	if p.job == "" {
		return errors.New("pushgateway job is required")
	}

	pusher := push.New(p.endpoint, p.job).Gatherer(registry)
	for key, value := range p.grouping {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key != "" && value != "" {
			pusher = pusher.Grouping(key, value)
		}
	}
	return pusher.PushContext(ctx)
}

// seriesFromFamilies flattens gathered families into remote_write series.
// Histograms become the classic _bucket, _sum and _count series.
func seriesFromFamilies(families []*dto.MetricFamily, external []prompb.Label, timestampMs int64) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	add := func(name string, metric *dto.Metric, value float64, extra ...prompb.Label) {
		labels := make([]prompb.Label, 0, len(external)+len(metric.GetLabel())+len(extra)+1)
		labels = append(labels, prompb.Label{Name: "__name__", Value: name})
		own := make(map[string]struct{}, len(metric.GetLabel()))
		for _, label := range metric.GetLabel() {
			own[label.GetName()] = struct{}{}
			labels = append(labels, prompb.Label{Name: label.GetName(), Value: label.GetValue()})
		}
		for _, label := range external {
			if _, clash := own[label.Name]; !clash {
				labels = append(labels, label)
			}
		}
		labels = append(labels, extra...)
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
		series = append(series, prompb.TimeSeries{
			Labels:  labels,
			Samples: []prompb.Sample{{Value: value, Timestamp: timestampMs}},
		})
	}

	for _, family := range families {
		name := family.GetName()
		for _, metric := range family.GetMetric() {
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				add(name, metric, metric.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				add(name, metric, metric.GetGauge().GetValue())
			case dto.MetricType_UNTYPED:
				add(name, metric, metric.GetUntyped().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				for _, bucket := range h.GetBucket() {
					add(name+"_bucket", metric, float64(bucket.GetCumulativeCount()),
						prompb.Label{Name: "le", Value: formatBound(bucket.GetUpperBound())})
				}
				add(name+"_bucket", metric, float64(h.GetSampleCount()), prompb.Label{Name: "le", Value: "+Inf"})
				add(name+"_sum", metric, h.GetSampleSum())
				add(name+"_count", metric, float64(h.GetSampleCount()))
			}
		}
	}
	return series
}

func formatBound(bound float64) string {
	if math.IsInf(bound, +1) {
		return "+Inf"
	}
	return strconv.FormatFloat(bound, 'g', -1, 64)
}
