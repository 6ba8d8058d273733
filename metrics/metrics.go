// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package metrics defines the prometheus collectors of
// the scene graph.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sgraph"

var (
	// Registry holds every collector of this package.
	Registry = prometheus.NewRegistry()

	// PagerActiveRequests is the number of accepted
	// PagedLOD requests that were not merged nor
	// discarded yet.
	PagerActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "active_requests",
		Help:      "Accepted PagedLOD requests in flight.",
	})

	// PagerLoads counts subgraph loads by stage
	// ("read", "compile") and result ("ok", "error").
	PagerLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "loads_total",
		Help:      "Subgraph loads by stage and result.",
	}, []string{"stage", "result"})

	// PagerMerges counts published subgraphs.
	PagerMerges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "merges_total",
		Help:      "High resolution subgraphs published.",
	})

	// PagerReleases counts evicted subgraphs.
	PagerReleases = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "releases_total",
		Help:      "High resolution subgraphs evicted.",
	})

	// PagerResident is the number of PagedLODs whose
	// high resolution child is resident.
	PagerResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "resident",
		Help:      "PagedLODs with a resident high resolution child.",
	})

	// PagerReadSeconds observes read latency.
	PagerReadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "read_seconds",
		Help:      "Time spent reading subgraphs.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	// TransferBytes counts bytes copied by transfer
	// tasks.
	TransferBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "bytes_total",
		Help:      "Bytes copied to the device.",
	})

	// TransferCopies counts recorded copy regions.
	TransferCopies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "copies_total",
		Help:      "Copy regions recorded.",
	})

	// TransferBusy counts transfers that found their
	// block still in use.
	TransferBusy = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "busy_total",
		Help:      "Transfers skipped because the block was in use.",
	})

	// TransferRollbacks counts transfers whose copy
	// counts were rolled back.
	TransferRollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "rollbacks_total",
		Help:      "Transfers that failed to commit.",
	})

	// FrameSeconds observes the time taken by each
	// frame, by phase ("update", "record", "submit").
	FrameSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "frame",
		Name:      "seconds",
		Help:      "Time spent in each frame phase.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"phase"})

	// FrameDraws is the number of draws recorded in the
	// last frame.
	FrameDraws = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "frame",
		Name:      "draws",
		Help:      "Draws recorded in the last frame.",
	})
)

func init() {
	Registry.MustRegister(
		PagerActiveRequests,
		PagerLoads,
		PagerMerges,
		PagerReleases,
		PagerResident,
		PagerReadSeconds,
		TransferBytes,
		TransferCopies,
		TransferBusy,
		TransferRollbacks,
		FrameSeconds,
		FrameDraws,
	)
}
