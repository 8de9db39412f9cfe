// Package credential verifies primary credentials against directory, cloud and local sources.
//
// Every [Verifier] returns a normalized [UserInfo] on success and one of the package
// sentinel errors on failure. Remote sources are wrapped with [WithTimeout] so a slow
// identity provider surfaces as [ErrServiceUnavailable] instead of hanging the request.
//
// This package does not persist users, track lockouts or issue tokens. Those belong
// to the engine that composes it.
package credential
