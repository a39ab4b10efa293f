// Package metrics centralizes dctransport's prometheus collectors
// (SPEC_FULL §1 DOMAIN STACK), exported the way the pack's server-side
// packages wire prometheus/client_golang collectors: a package-level
// struct of pre-registered vectors, handed out to every component that
// needs to bump a counter.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every counter/gauge the core emits. Register it
// once per process against a prometheus.Registerer; components take a
// *Collectors and call Inc/Set on its fields, so secret/, stream/, and
// dispatch/ don't need a prometheus import of their own.
type Collectors struct {
	PacketsDropped   *prometheus.CounterVec // by reason: "aead", "malformed", "duplicate", "unknown_credential"
	ReplayDetected   *prometheus.CounterVec // by kind: "potential", "definite"
	Retransmissions  prometheus.Counter
	PTOFired         prometheus.Counter
	EntriesLive      prometheus.Gauge
	EntriesRetired   prometheus.Gauge
	StreamsOpen      prometheus.Gauge
	AcceptQueueDrops prometheus.Counter
}

// New builds a Collectors bundle with the given namespace (e.g.
// "dctransport") and registers it against reg. reg may be nil, in
// which case prometheus.DefaultRegisterer is used.
func New(namespace string, reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Packets dropped at the packet-local (recoverable) error tier, by reason.",
		}, []string{"reason"}),
		ReplayDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_detected_total",
			Help:      "Replay-filter rejections, by severity.",
		}, []string{"kind"}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Reliable-stream packets resent after loss detection or a PTO probe.",
		}),
		PTOFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pto_fired_total",
			Help:      "Number of times a stream's probe timeout fired.",
		}),
		EntriesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "path_secret_entries_live",
			Help:      "Path-secret entries currently in the Live state.",
		}),
		EntriesRetired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "path_secret_entries_retired",
			Help:      "Path-secret entries awaiting cleaner reap.",
		}),
		StreamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_open",
			Help:      "Streams currently attached to the endpoint.",
		}),
		AcceptQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_queue_drops_total",
			Help:      "Initial stream packets dropped because the accept queue was full.",
		}),
	}
	reg.MustRegister(
		c.PacketsDropped, c.ReplayDetected, c.Retransmissions, c.PTOFired,
		c.EntriesLive, c.EntriesRetired, c.StreamsOpen, c.AcceptQueueDrops,
	)
	return c
}

// DropReason names for PacketsDropped, kept as constants so call sites
// can't typo a label value.
const (
	DropAEAD               = "aead"
	DropMalformed          = "malformed"
	DropDuplicate          = "duplicate"
	DropUnknownCredential  = "unknown_credential"
	DropOverflow           = "overflow"
)

// ReplayKind names for ReplayDetected.
const (
	ReplayPotential = "potential"
	ReplayDefinite  = "definite"
)
