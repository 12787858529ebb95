// Package metrics registers the Prometheus collectors meshbroker exposes for
// the lock protocol, consensus tallies, and backend health/reconnect state.
//
// All metrics are registered at package init and are safe for concurrent
// use from any package; callers never need to initialize this package
// explicitly. Handler returns the /metrics HTTP handler for scraping.
package metrics
