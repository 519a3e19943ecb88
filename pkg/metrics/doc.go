// Package metrics exposes capstream counters in the Prometheus text
// exposition format (text/plain; version=0.0.4).
//
// Counters, gauges and histograms are safe for concurrent use. The default
// metrics are created by Init and stay nil until then:
//
//	registry := metrics.Init()
//	if metrics.SessionsTotal != nil {
//		if vec, err := metrics.SessionsTotal.WithLabels("completed"); err == nil {
//			_ = vec.Inc()
//		}
//	}
//	mux.Handle("/metrics", registry.Handler())
//
// Gauges that are sampled rather than updated inline are refreshed by a
// Collector.
package metrics
