// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts datagrams handed over by the capture source
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igmpmon_capture_packets_total",
			Help: "Total number of datagrams captured",
		},
		[]string{"interface"},
	)

	// CaptureDropsTotal counts frames lost or skipped before decoding
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igmpmon_capture_drops_total",
			Help: "Total number of frames dropped or filtered during capture",
		},
		[]string{"interface", "stage"},
	)

	// PipelinePacketsTotal counts datagrams per pipeline stage
	PipelinePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igmpmon_pipeline_packets_total",
			Help: "Total number of datagrams processed per pipeline stage",
		},
		[]string{"stage"},
	)

	// PipelineLatencySeconds measures pipeline stage latency
	PipelineLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "igmpmon_pipeline_latency_seconds",
			Help:    "Latency of pipeline processing stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"stage"},
	)

	// DecodeErrorsTotal counts decode failures by error kind
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igmpmon_decode_errors_total",
			Help: "Total number of datagrams that failed to decode",
		},
		[]string{"kind"},
	)

	// IGMPMessagesTotal counts decoded IGMP messages
	IGMPMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igmpmon_igmp_messages_total",
			Help: "Total number of IGMP messages by version and type",
		},
		[]string{"version", "type"},
	)

	// GroupRecordsTotal counts IGMPv3 group records by record type
	GroupRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igmpmon_group_records_total",
			Help: "Total number of IGMPv3 group records by record type",
		},
		[]string{"type"},
	)

	// SinkErrorsTotal counts sink send failures
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "igmpmon_sink_errors_total",
			Help: "Total number of sink errors",
		},
		[]string{"sink"},
	)

	// MembershipEntries tracks the current size of the membership table
	MembershipEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "igmpmon_membership_entries",
			Help: "Current number of (group, host) memberships being tracked",
		},
	)

	// RateLimiterSources tracks source addresses held by the rate limiter
	RateLimiterSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "igmpmon_rate_limiter_sources",
			Help: "Current number of source addresses tracked by the rate limiter",
		},
	)
)

// Pipeline stages used as the stage label of PipelinePacketsTotal.
const (
	StageReceived    = "received"
	StageDecoded     = "decoded"
	StageRateLimited = "rate_limited"
	StageSent        = "sent"
)

// Capture drop stages used as the stage label of CaptureDropsTotal.
const (
	DropStageKernel    = "kernel"
	DropStageInterface = "interface"
	DropStageFiltered  = "filtered"
)
