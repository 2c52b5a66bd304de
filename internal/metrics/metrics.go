// Package metrics records framecount runs as Prometheus metrics.
//
// A CLI process lives for a single count, so metrics go into a private
// registry that is pushed to a Pushgateway at exit instead of being scraped.
package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	framecount "github.com/Bwavrita/Compare-frame-read"
)

// Recorder holds the run metrics
type Recorder struct {
	reg *prometheus.Registry

	RunsTotal            *prometheus.CounterVec
	FailuresTotal        *prometheus.CounterVec
	FramesDecodedTotal   *prometheus.CounterVec
	PacketsReadTotal     *prometheus.CounterVec
	PacketsSkippedTotal  *prometheus.CounterVec
	PacketsRejectedTotal *prometheus.CounterVec
	RetriesTotal         *prometheus.CounterVec
	RunDuration          *prometheus.HistogramVec
	DecodeFPS            *prometheus.GaugeVec
}

// New creates a Recorder with its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framecount_runs_total",
			Help: "Total number of counts, by backend and outcome",
		}, []string{"backend", "outcome"}),
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framecount_failures_total",
			Help: "Total number of failed counts, by failing stage and error category",
		}, []string{"backend", "kind", "category"}),
		FramesDecodedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framecount_frames_decoded_total",
			Help: "Total number of frames counted",
		}, []string{"backend"}),
		PacketsReadTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framecount_packets_read_total",
			Help: "Total number of packets read from the stream",
		}, []string{"backend"}),
		PacketsSkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framecount_packets_skipped_total",
			Help: "Total number of packets of non-selected tracks",
		}, []string{"backend"}),
		PacketsRejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framecount_packets_rejected_total",
			Help: "Total number of video packets refused by the decoder",
		}, []string{"backend"}),
		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "framecount_retries_total",
			Help: "Total number of whole-count retries",
		}, []string{"backend"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "framecount_run_duration_seconds",
			Help:    "Elapsed time of a count, from transport setup to loop exit",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"backend"}),
		DecodeFPS: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "framecount_decode_fps",
			Help: "Mean decode rate of the last count",
		}, []string{"backend"}),
	}
}

// Registry returns the registry the metrics live in
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Observe records one count; res may be nil when the count failed before
// producing a result
func (r *Recorder) Observe(backend string, res *framecount.Result, err error) {
	outcome := framecount.OutcomeOf(res, err)
	r.RunsTotal.WithLabelValues(backend, outcome.String()).Inc()

	if err != nil {
		r.FailuresTotal.WithLabelValues(backend,
			framecount.KindOf(err).String(),
			framecount.Classify(err).String(),
		).Inc()
	}

	if res == nil {
		return
	}
	r.FramesDecodedTotal.WithLabelValues(backend).Add(float64(res.FramesDecoded))
	r.PacketsReadTotal.WithLabelValues(backend).Add(float64(res.PacketsRead))
	r.PacketsSkippedTotal.WithLabelValues(backend).Add(float64(res.PacketsSkipped))
	r.PacketsRejectedTotal.WithLabelValues(backend).Add(float64(res.PacketsRejected))
	r.RunDuration.WithLabelValues(backend).Observe(res.Elapsed.Seconds())
	r.DecodeFPS.WithLabelValues(backend).Set(res.Rate.FPSMean)
}

// ObserveRetries records how many times a count was retried
func (r *Recorder) ObserveRetries(backend string, retries uint32) {
	r.RetriesTotal.WithLabelValues(backend).Add(float64(retries))
}

// Push sends the registry to a Pushgateway, grouped by run ID
func (r *Recorder) Push(ctx context.Context, gateway, job, runID string) error {
	pusher := push.New(gateway, job).Gatherer(r.reg)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to gateway: %w", err)
	}
	slog.Debug("metrics: pushed to gateway", "job", job, "run_id", runID)
	return nil
}
