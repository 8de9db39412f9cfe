// Package audit delivers security events (logins, refreshes, logouts, reuse detection)
// to a pluggable [Sink] without putting the sink on the request path.
//
// The engine decides what to emit. A [Dispatcher] queues events and hands them to the
// sink on a single goroutine; it either drops or blocks when the queue is full, and
// [Dispatcher.Close] flushes what is left. Sinks are provided for slog, line-delimited
// JSON, a Go channel and a no-op.
package audit
