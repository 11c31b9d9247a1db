// Package metrics exports per-generation CMA-ES state as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/cmaes/internal/cmaes"
)

const namespace = "cmaes"

// Metrics holds the collectors of one registry. Every series carries the run ID and
// the covariance flavor as labels.
type Metrics struct {
	generations *prometheus.CounterVec
	evaluations *prometheus.GaugeVec
	bestFitness *prometheus.GaugeVec
	bestSeen    *prometheus.GaugeVec
	sigma       *prometheus.GaugeVec
	condition   *prometheus.GaugeVec
	iterSeconds *prometheus.HistogramVec
	stops       *prometheus.CounterVec
}

// New registers the collectors on reg. Passing prometheus.DefaultRegisterer exposes
// them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := []string{"run", "flavor"}

	return &Metrics{
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Completed generations",
		}, labels),
		evaluations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluations",
			Help:      "Objective function evaluations so far",
		}, labels),
		bestFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best fitness of the last generation",
		}, labels),
		bestSeen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_seen_fitness",
			Help:      "Best fitness seen over the whole run",
		}, labels),
		sigma: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sigma",
			Help:      "Global step size",
		}, labels),
		condition: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "condition_number",
			Help:      "Ratio of the largest to the smallest covariance eigenvalue",
		}, labels),
		iterSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of one ask/eval/tell cycle",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
		}, labels),
		stops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_stopped_total",
			Help:      "Finished runs by final status",
		}, []string{"flavor", "status"}),
	}
}

// Observe records the state after one generation.
func (m *Metrics) Observe(runID string, p *cmaes.Parameters, s *cmaes.Solutions) {
	flavor := p.Flavor.String()

	m.generations.WithLabelValues(runID, flavor).Inc()
	m.evaluations.WithLabelValues(runID, flavor).Set(float64(s.NEvals))
	m.bestFitness.WithLabelValues(runID, flavor).Set(s.BestCandidate().Fitness)
	m.bestSeen.WithLabelValues(runID, flavor).Set(s.BestSeen.Fitness)
	m.sigma.WithLabelValues(runID, flavor).Set(s.Sigma)
	if len(s.EigenValues) > 0 {
		m.condition.WithLabelValues(runID, flavor).Set(s.ConditionNumber())
	}
	m.iterSeconds.WithLabelValues(runID, flavor).Observe(s.ElapsedLastIter.Seconds())
}

// Finished counts a terminated run.
func (m *Metrics) Finished(flavor cmaes.Flavor, status cmaes.StopCode) {
	m.stops.WithLabelValues(flavor.String(), status.String()).Inc()
}

// Progress wraps next so that every generation is also recorded. A nil next never
// stops the run.
func (m *Metrics) Progress(runID string, next cmaes.ProgressFunc) cmaes.ProgressFunc {
	return func(p *cmaes.Parameters, s *cmaes.Solutions) bool {
		m.Observe(runID, p, s)
		if next == nil {
			return false
		}
		return next(p, s)
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		return nil
	}
}
