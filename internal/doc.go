// Package internal holds identifiers private to authcore: session IDs and CSRF tokens.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - rate: in-process sliding-window and token-bucket limiters
package internal
