// Package rate provides the in-process limiters used by the HTTP surface.
//
// # Window semantics
//
// [SlidingWindow] keeps the timestamps of recent hits per key and admits a request when
// fewer than Max hits fall inside the trailing Window. [Buckets] is a per-key token bucket
// built on golang.org/x/time/rate, used to throttle login attempts per client IP.
//
// Both bound their key maps: idle keys are dropped by Sweep, and Run sweeps periodically.
package rate
