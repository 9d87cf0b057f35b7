// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/jross/cumin-go/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queries_resolved_total",
		Help: "Total number of queries resolved to a host set, by backend prefix",
	}, []string{"backend"})
	QueryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "query_errors_total",
		Help: "Total number of query resolution failures, by backend prefix",
	}, []string{"backend"})
	HostsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hosts_dispatched_total",
		Help: "Total number of hosts a command was dispatched to",
	})
	HostsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hosts_succeeded_total",
		Help: "Total number of hosts that reached the Success state",
	})
	HostsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hosts_failed_total",
		Help: "Total number of hosts that reached the Failed state",
	})
	HostsTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hosts_timed_out_total",
		Help: "Total number of hosts that reached the Timeout state",
	})
	CommandDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "command_duration_seconds",
		Help:    "Histogram of per-host command durations",
		Buckets: prometheus.DefBuckets,
	})
	WavesRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_waves_total",
		Help: "Total number of synchronous handler waves run",
	})
	ActivePipelines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "async_active_pipelines",
		Help: "Number of currently-running asynchronous per-host pipelines",
	})
	RunsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runs_completed_total",
		Help: "Total number of runs completed, by exit code",
	}, []string{"exit_code"})
)

func init() {
	prometheus.MustRegister(QueriesResolved, QueryErrors, HostsDispatched, HostsSucceeded, HostsFailed, HostsTimedOut, CommandDuration, WavesRun, ActivePipelines, RunsCompleted)
}

// StartMetricsServer exposes /metrics and returns a server for controlled
// shutdown. Retained alongside StartHTTPServer, which also registers the
// health endpoints, for a caller that only wants metrics.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
