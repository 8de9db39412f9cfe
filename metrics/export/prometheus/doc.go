// Package prometheus renders engine metrics in Prometheus text exposition format.
//
// [New] accepts any [Source] (normally *authcore.Engine) and exposes an [http.Handler]
// to mount at /metrics. Counter names are prefixed authcore_ and suffixed _total; the
// single histogram is authcore_verify_latency_seconds. Nothing is registered globally.
package prometheus
