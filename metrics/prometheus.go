package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pithecene-io/frr-agent/types"
)

const namespace = "frr_agent"

// allStatuses lists every outcome so each series exists from startup.
var allStatuses = []types.OutcomeStatus{
	types.OutcomeSuccess,
	types.OutcomeStagingFailed,
	types.OutcomeValidationFailed,
	types.OutcomeApplyFailed,
	types.OutcomeSpawnFailed,
	types.OutcomeWaitFailed,
	types.OutcomeTimedOut,
}

var (
	sessionsOpenedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "sessions_opened_total"),
		"Connections accepted on the agent socket.", nil, nil)
	sessionsClosedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "sessions_closed_total"),
		"Sessions that reached the closed state.", nil, nil)
	frameErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "frame_errors_total"),
		"Malformed or undeliverable frames.", nil, nil)
	requestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "requests_total"),
		"Requests decoded, by kind.", []string{"kind"}, nil)
	reloadsStartedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "reloads_started_total"),
		"Orchestrated reloads started.", nil, nil)
	reloadsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "reloads_total"),
		"Orchestrated reloads, by outcome status.", []string{"status"}, nil)
	launchesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "reloader_launches_total"),
		"Reloader process launches, by result.", []string{"result"}, nil)
	notificationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "notifications_total"),
		"Reload notifications, by result.", []string{"result"}, nil)
	infoDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "info"),
		"Agent build and runtime information.", []string{"version", "transport", "reloader"}, nil)
)

// PrometheusCollector exposes a Collector as a prometheus.Collector.
type PrometheusCollector struct {
	source *Collector
}

// NewPrometheusCollector wraps c for registration with a prometheus.Registry.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	return &PrometheusCollector{source: c}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sessionsOpenedDesc
	ch <- sessionsClosedDesc
	ch <- frameErrorsDesc
	ch <- requestsDesc
	ch <- reloadsStartedDesc
	ch <- reloadsDesc
	ch <- launchesDesc
	ch <- notificationsDesc
	ch <- infoDesc
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.source.Snapshot()

	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}

	counter(sessionsOpenedDesc, s.SessionsOpened)
	counter(sessionsClosedDesc, s.SessionsClosed)
	counter(frameErrorsDesc, s.FrameErrors)

	reloads := s.RequestsTotal - s.Keepalives - s.ForcedSuccesses
	counter(requestsDesc, s.Keepalives, "keepalive")
	counter(requestsDesc, s.ForcedSuccesses, "forced_success")
	counter(requestsDesc, reloads, "reload")

	counter(reloadsStartedDesc, s.ReloadsStarted)
	for _, status := range allStatuses {
		counter(reloadsDesc, s.ReloadsByStatus[status], string(status))
	}

	counter(launchesDesc, s.ReloaderLaunchSuccess, "success")
	counter(launchesDesc, s.ReloaderLaunchFailure, "failure")

	counter(notificationsDesc, s.NotificationsPublished, "published")
	counter(notificationsDesc, s.NotificationsFailed, "failed")
	counter(notificationsDesc, s.NotificationsDropped, "dropped")

	ch <- prometheus.MustNewConstMetric(infoDesc, prometheus.GaugeValue, 1,
		types.Version, s.Transport, s.Reloader)
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// Handler returns an HTTP handler serving c in the Prometheus text format.
// A private registry is used so tests and multiple agents do not collide on
// the global default registry.
func Handler(c *Collector) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewPrometheusCollector(c))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ListenAndServe serves /metrics on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, c *Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(c))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
