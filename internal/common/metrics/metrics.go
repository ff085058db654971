// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_reconnects_total",
			Help: "Total number of push channel reconnection attempts",
		},
	)

	ChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "channel_state",
			Help: "Push channel state (0=disconnected, 1=connecting, 2=connected)",
		},
	)

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dispatched_total",
			Help: "Total number of inbound events delivered to subscribers",
		},
		[]string{"event_type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of inbound events dropped before dispatch",
		},
		[]string{"reason"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitions_total",
			Help: "Total number of status transitions by outcome",
		},
		[]string{"outcome"},
	)

	RequestCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "request_cache_hits_total",
			Help: "Total number of GET requests served from the dedup cache",
		},
	)

	RequestCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "request_cache_misses_total",
			Help: "Total number of GET requests that issued an underlying call",
		},
	)

	RateLimitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_retries_total",
			Help: "Total number of requests retried after a rate-limit response",
		},
	)
)
