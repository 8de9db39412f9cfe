// Package authcore is a unified authentication and session engine.
//
// An [Engine] verifies usernames and passwords against a corporate directory, a cloud
// identity provider or its own argon2id password store, then issues a short-lived JWT
// access token and a rotating refresh token. Sessions live in Redis; every refresh
// rotates the token family with a compare-and-swap, and presenting a superseded refresh
// token is treated as theft and logs the user out everywhere.
//
// Construct an engine with [New] and [Builder.Build]. Engine methods are safe for
// concurrent use after Build.
//
// # Layout
//
//   - credential: the directory, cloud and local verifiers
//   - lockout: failed-login tracking per username and client IP
//   - session, family, blacklist: the Redis-backed session state
//   - usercache: the FIFO TTL cache in front of the user store
//   - strategy, middleware, httpapi: the HTTP surface
//   - store/memory, store/postgres: UserStore implementations
//
// # Errors
//
// Every failure matches one of the exported sentinels with errors.Is. [HTTPStatus] and
// [PublicCode] map them onto the wire contract.
package authcore
