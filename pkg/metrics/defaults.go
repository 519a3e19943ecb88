package metrics

import (
	"sync"
)

// Default metrics for capstream. These are nil until Init is called, so
// callers check for nil before recording.
//
// Label values are lowercase:
//   - state: completed, cancelled, failed
//   - transport: http, websocket
//   - reason: invalid_request, capacity_exceeded, launch_failed, filter_failed, upstream_closed
var (
	// RelayBytesTotal counts bytes drained from the feed into the relay.
	RelayBytesTotal *Counter

	// RelayDroppedBytesTotal counts bytes subscribers lost to overflow.
	RelayDroppedBytesTotal *Counter

	// RelaySubscribers is the number of registered relay subscribers.
	RelaySubscribers *Gauge

	// RelayBufferedBytes is the number of bytes currently retained in the ring.
	RelayBufferedBytes *Gauge

	// ActiveSessions is the number of running filter sessions.
	ActiveSessions *Gauge

	// SessionsTotal counts finished sessions.
	// Labels: state
	SessionsTotal *Counter

	// SessionDuration tracks session lifetime in seconds.
	// Labels: state
	SessionDuration *Histogram

	// StreamBytesTotal counts filtered bytes written to clients.
	// Labels: transport
	StreamBytesTotal *Counter

	// RejectedRequestsTotal counts streaming requests refused before the
	// first byte.
	// Labels: reason
	RejectedRequestsTotal *Counter

	// UptimeSeconds is the process uptime.
	UptimeSeconds *Gauge

	// Goroutines is the number of live goroutines.
	Goroutines *Gauge

	defaultRegistry *Registry
	initOnce        sync.Once
)

// Init initializes the default metrics and returns the registry.
// It is idempotent.
func Init() *Registry {
	initOnce.Do(func() {
		r := NewRegistry()

		RelayBytesTotal = r.NewCounter(
			"capstream_relay_bytes_total",
			"Total bytes read from the capture feed",
		)
		RelayDroppedBytesTotal = r.NewCounter(
			"capstream_relay_dropped_bytes_total",
			"Total bytes skipped by subscribers that fell behind the relay buffer",
		)
		RelaySubscribers = r.NewGauge(
			"capstream_relay_subscribers",
			"Number of registered relay subscribers",
		)
		RelayBufferedBytes = r.NewGauge(
			"capstream_relay_buffered_bytes",
			"Bytes currently retained in the relay buffer",
		)

		ActiveSessions = r.NewGauge(
			"capstream_sessions_active",
			"Number of running filter sessions",
		)
		SessionsTotal = r.NewCounter(
			"capstream_sessions_total",
			"Total number of finished filter sessions by terminal state",
			"state",
		)
		SessionDuration = r.NewHistogram(
			"capstream_session_duration_seconds",
			"Lifetime of filter sessions in seconds",
			DurationBuckets,
			"state",
		)

		StreamBytesTotal = r.NewCounter(
			"capstream_stream_bytes_total",
			"Total filtered bytes sent to clients",
			"transport",
		)
		RejectedRequestsTotal = r.NewCounter(
			"capstream_rejected_requests_total",
			"Streaming requests rejected before any data was sent",
			"reason",
		)

		UptimeSeconds = r.NewGauge(
			"capstream_uptime_seconds",
			"Process uptime in seconds",
		)
		Goroutines = r.NewGauge(
			"go_goroutines",
			"Number of goroutines that currently exist",
		)

		defaultRegistry = r
	})

	return defaultRegistry
}

// DefaultRegistry returns the default registry, or nil before Init.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Reset clears the default metrics so Init can run again. Used by tests.
func Reset() {
	initOnce = sync.Once{}
	defaultRegistry = nil
	RelayBytesTotal = nil
	RelayDroppedBytesTotal = nil
	RelaySubscribers = nil
	RelayBufferedBytes = nil
	ActiveSessions = nil
	SessionsTotal = nil
	SessionDuration = nil
	StreamBytesTotal = nil
	RejectedRequestsTotal = nil
	UptimeSeconds = nil
	Goroutines = nil
}
