package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_preprocess_runs_total",
		Help: "Completed preprocess Run calls.",
	})

	RunFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visionpipe_preprocess_run_failures_total",
		Help: "Run calls that aborted on a failed step or precondition.",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "visionpipe_preprocess_batch_size",
		Help:    "Images per Run call.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "visionpipe_step_duration_seconds",
		Help:    "Per-image apply duration by step.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	PipelineSteps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visionpipe_pipeline_steps",
		Help: "Step count of the currently built pipeline.",
	})
)

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
