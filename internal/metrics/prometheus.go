package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelfs/blockstored/internal/config"
)

var (
	BlocksCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockstored_blocks_committed_total",
		Help: "Total blocks committed",
	}, []string{"tier"})

	BlocksAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockstored_blocks_aborted_total",
		Help: "Total temp blocks aborted",
	}, []string{})

	BlocksEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockstored_blocks_evicted_total",
		Help: "Total blocks evicted outright",
	}, []string{"tier"})

	BlocksMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockstored_blocks_moved_total",
		Help: "Total blocks relocated between tiers",
	}, []string{"from_tier", "to_tier"})

	OutOfSpaceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockstored_out_of_space_total",
		Help: "Total OutOfSpace failures from space admission",
	}, []string{"tier"})

	TierBlockCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blockstored_tier_block_count",
		Help: "Number of committed blocks per tier",
	}, []string{"tier"})

	TierAvailableBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blockstored_tier_available_bytes",
		Help: "Available capacity per tier",
	}, []string{"tier"})

	LocksHeld = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blockstored_locks_held",
		Help: "Number of blocks with at least one active lock",
	}, []string{})

	LockWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockstored_lock_wait_seconds",
		Help:    "Time spent blocking in LockBlock before acquisition",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	AdmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockstored_admission_duration_seconds",
		Help:    "Time spent executing a space-admission eviction plan",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"tier"})
)

// RunServer starts the Prometheus metrics HTTP server and blocks until ctx
// is canceled.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
