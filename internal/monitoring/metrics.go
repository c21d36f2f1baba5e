package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Frame path metrics
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrtrack_frames_total",
			Help: "Total run_frame calls, by coordinator state",
		},
		[]string{"state"},
	)

	FrameDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrtrack_frame_duration_seconds",
			Help:    "Time spent inside run_frame",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		},
	)

	FramesOverBudget = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrtrack_frames_over_budget_total",
			Help: "Frames that exceeded the configured frame budget",
		},
	)

	UntrackedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrtrack_untracked_devices",
			Help: "Devices reported untracked in the latest frame",
		},
	)

	PredictionModes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrtrack_predictions_total",
			Help: "Predictions by extrapolation mode",
		},
		[]string{"mode"},
	)

	// Ingestion metrics
	PosesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrtrack_poses_total",
			Help: "Pose samples received, by outcome",
		},
		[]string{"outcome"},
	)

	InputEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrtrack_input_events_dropped_total",
			Help: "Hardware input events dropped because the queue was full",
		},
	)

	HapticCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrtrack_haptic_commands_total",
			Help: "Haptic commands, by outcome",
		},
		[]string{"outcome"},
	)

	RegisteredDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrtrack_registered_devices",
			Help: "Number of live device registrations",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FramesTotal,
		FrameDuration,
		FramesOverBudget,
		UntrackedDevices,
		PredictionModes,
		PosesIngested,
		InputEventsDropped,
		HapticCommands,
		RegisteredDevices,
	)
}

// MetricsHandler serves the registered collectors in the Prometheus
// exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
