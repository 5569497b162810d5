// Package metrics exposes the daemon's Prometheus metrics.
package metrics

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lowkiq"

// Metrics holds every collector on its own registry, so several instances can
// coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	signals        *prometheus.CounterVec
	threadDumps    prometheus.Counter
	dumpGoroutines prometheus.Gauge
	state          prometheus.Gauge
	jobs           *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_received_total",
			Help:      "Signals drained from the signal pipe, by signal name.",
		}, []string{"signal"}),

		threadDumps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_dumps_total",
			Help:      "Thread dump files written.",
		}),

		dumpGoroutines: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thread_dump_goroutines",
			Help:      "Goroutines in the most recent thread dump.",
		}),

		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "Lifecycle state: 0 init, 1 starting, 2 running, 3 shutting down, 4 terminated.",
		}),

		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs handed to the processor, by queue and outcome.",
		}, []string{"queue", "status"}),

		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent processing a job.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"queue"}),
	}
}

func (m *Metrics) SignalReceived(signal string) {
	m.signals.WithLabelValues(signal).Inc()
}

func (m *Metrics) ThreadsDumped(goroutines int) {
	m.threadDumps.Inc()
	m.dumpGoroutines.Set(float64(goroutines))
}

func (m *Metrics) StateChanged(state int) {
	m.state.Set(float64(state))
}

func (m *Metrics) JobProcessed(queue string, err error, took time.Duration) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.jobs.WithLabelValues(queue, status).Inc()
	m.jobDuration.WithLabelValues(queue).Observe(took.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Server serves /metrics until Shutdown.
type Server struct {
	srv    *http.Server
	addr   net.Addr
	done   chan struct{}
	logger *slog.Logger
}

// Serve listens on addr and serves the metrics handler in the background.
// Listen errors are returned synchronously.
func Serve(addr string, m *Metrics, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen metrics on %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 3 * time.Second,
		},
		addr:   ln.Addr(),
		done:   make(chan struct{}),
		logger: logger,
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	return s, nil
}

func (s *Server) Addr() net.Addr { return s.addr }

// Shutdown stops the server, waiting for in-flight scrapes until ctx is done.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.WarnContext(ctx, "metrics server shutdown", slog.String("error", err.Error()))
	}
	<-s.done
}
