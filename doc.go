// Package synccore is the concurrency-control core of the bid-sync
// collaborative editing platform. It coordinates many simultaneous editors
// of one document with four composable mechanisms: TTL-based section locks
// with heartbeat-driven liveness against an external atomic store, a
// sliding-window rate limiter, admission control for logical sync
// connections, and a load-adaptive controller that slows sync cadence under
// stress.
//
// All persistence lives in the external store; the lock-change push feed is
// best effort and never the source of truth.
package synccore
