package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CycleTotal counts control cycles by the phase they ran in.
	CycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palpation_cycles_total",
		Help: "Control cycles executed, by phase",
	}, []string{"phase"})

	// CycleDuration tracks the wall time of one controller step.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "palpation_cycle_duration_seconds",
		Help:    "Controller step duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1e-6, 2, 14), // 1µs to ~8ms
	})

	// CycleOverruns counts ticks where the step ran longer than the period.
	CycleOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "palpation_cycle_overruns_total",
		Help: "Control cycles that exceeded the configured period",
	})

	// PhaseTransitions counts phase changes by source and destination.
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palpation_phase_transitions_total",
		Help: "Phase transitions by from and to phase",
	}, []string{"from", "to"})

	// PalpationIndex is the current grid cell index.
	PalpationIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "palpation_index",
		Help: "Current palpation grid index",
	})

	// ContactEvents counts approach cycles with inferred surface contact.
	ContactEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "palpation_contact_events_total",
		Help: "Approach cycles where corrected force crossed the contact threshold",
	})

	// KinematicsErrors counts cycles dropped for kinematics failures.
	KinematicsErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "palpation_kinematics_errors_total",
		Help: "Control cycles without a command due to kinematics errors",
	})

	// SequenceComplete is 1 once the grid bound has been exceeded.
	SequenceComplete = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "palpation_sequence_complete",
		Help: "1 when the palpation raster has finished",
	})

	// WrenchSamples counts force/torque samples by feed source.
	WrenchSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palpation_wrench_samples_total",
		Help: "Force/torque samples ingested, by source",
	}, []string{"source"})

	// WrenchParseErrors counts feed records that could not be decoded.
	WrenchParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palpation_wrench_parse_errors_total",
		Help: "Force/torque records rejected by the decoder, by source",
	}, []string{"source"})

	// WrenchBias is the most recently settled z-force bias.
	WrenchBias = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "palpation_wrench_bias_newtons",
		Help: "Most recently settled z-force bias",
	})

	// TelemetryDropped counts telemetry items dropped by queue or subscriber.
	TelemetryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palpation_telemetry_dropped_total",
		Help: "Telemetry items dropped, by stream",
	}, []string{"stream"})

	// TelemetryClients is the number of connected telemetry subscribers.
	TelemetryClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "palpation_telemetry_clients",
		Help: "Connected telemetry subscribers, by stream",
	}, []string{"stream"})

	// DriverErrors counts cycles the runner could not complete, by stage.
	DriverErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palpation_driver_errors_total",
		Help: "Runner cycles that failed, by stage (joints, step, command)",
	}, []string{"stage"})

	// JointPackets counts joint-state datagrams by outcome.
	JointPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "palpation_joint_packets_total",
		Help: "Joint-state datagrams received, by outcome (ok, invalid)",
	}, []string{"outcome"})
)
