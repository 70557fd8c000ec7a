// Package metrics exposes engine and library instrumentation to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatesmith/internal/evo"
	"gatesmith/internal/logging"
)

const namespace = "gatesmith"

// Metrics owns a private registry so several engines, or tests, never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	GenerationsTotal   *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	LibrarySavesTotal  *prometheus.CounterVec
	BestFitness        *prometheus.GaugeVec
	RunDurationSeconds prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Generations evaluated, by goal",
			},
			[]string{"goal"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished evolution runs, by goal and terminal state",
			},
			[]string{"goal", "state"},
		),
		LibrarySavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "library_saves_total",
				Help:      "Circuit library saves, by result",
			},
			[]string{"result"},
		),
		BestFitness: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "best_fitness",
				Help:      "Best fitness reached by the current run, by goal",
			},
			[]string{"goal"},
		),
		RunDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of evolution runs",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveGeneration(goalName string) {
	m.GenerationsTotal.WithLabelValues(goalName).Inc()
}

func (m *Metrics) ObserveBestFitness(goalName string, fitness int) {
	m.BestFitness.WithLabelValues(goalName).Set(float64(fitness))
}

func (m *Metrics) ObserveRun(goalName string, state evo.State, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(goalName, string(state)).Inc()
	m.RunDurationSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSave(result string) {
	m.LibrarySavesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	logger = logging.OrDiscard(logger)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
