// Package metrics exposes the server and client's Prometheus instruments:
// head version, CAS contention, per-method RPC latency, in-flight request
// depth, active watcher count, and object/operation/view write counters.
package metrics
