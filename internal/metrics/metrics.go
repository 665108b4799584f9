package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "affinity",
			Subsystem: "launch",
			Name:      "total",
			Help:      "Number of launches by final status.",
		}, []string{"profile", "status"},
	)
	launchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "affinity",
			Subsystem: "launch",
			Name:      "errors_total",
			Help:      "Number of launches that ended with an error, by error kind.",
		}, []string{"profile", "kind"},
	)
	applyPasses = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "affinity",
			Subsystem: "launch",
			Name:      "apply_passes",
			Help:      "Apply passes needed per launch.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}, []string{"profile"},
	)
	respawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "affinity",
			Subsystem: "launch",
			Name:      "respawns_total",
			Help:      "Number of launcher-to-child handoffs followed.",
		}, []string{"profile"},
	)
	launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "affinity",
			Subsystem: "launch",
			Name:      "duration_seconds",
			Help:      "Time from spawn until the launch settled.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"profile"},
	)
	lastLaunch = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "affinity",
			Subsystem: "launch",
			Name:      "last_timestamp_seconds",
			Help:      "Unix time of the most recent launch.",
		}, []string{"profile"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "affinity",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of transitions between supervisor states.",
		}, []string{"from", "to"},
	)
	elevations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "affinity",
			Subsystem: "elevation",
			Name:      "decisions_total",
			Help:      "Elevation negotiation results.",
		}, []string{"decision"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, launchErrors, applyPasses, respawns, launchDuration, lastLaunch, stateTransitions, elevations, targetRSS, targetThreads}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// WriteTextfile writes everything g gathers to path in the Prometheus text
// format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// Launch describes a finished launch.
type Launch struct {
	Profile   string
	Status    string
	ErrKind   string // empty when the launch ended without error
	Passes    int
	Respawns  int
	Seconds   float64
	Timestamp float64
}

func RecordLaunch(l Launch) {
	if !regOK.Load() {
		return
	}
	launches.WithLabelValues(l.Profile, l.Status).Inc()
	if l.ErrKind != "" {
		launchErrors.WithLabelValues(l.Profile, l.ErrKind).Inc()
	}
	if l.Passes > 0 {
		applyPasses.WithLabelValues(l.Profile).Observe(float64(l.Passes))
	}
	respawns.WithLabelValues(l.Profile).Add(float64(l.Respawns))
	launchDuration.WithLabelValues(l.Profile).Observe(l.Seconds)
	lastLaunch.WithLabelValues(l.Profile).Set(l.Timestamp)
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func RecordElevation(decision string) {
	if regOK.Load() {
		elevations.WithLabelValues(decision).Inc()
	}
}
