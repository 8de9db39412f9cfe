// Package middleware adapts authcore.Engine to net/http.
//
// # Pipeline
//
// [Authorizer.Require] runs each request through the same steps:
//
//  1. Select the wire strategy and extract the access token.
//  2. Reject a missing token with 401, or pass through unauthenticated under [Authorizer.Optional].
//  3. In cookie mode, check the double-submit CSRF token on state-changing methods.
//  4. Verify the token with the engine. Cookie sessions skip the blacklist lookup because the
//     engine already checks the server-side session.
//  5. Enforce the route [Policy].
//  6. Attach an [Identity] to the request context.
//
// [RequireRole], [RequireOwnership] and [Authorizer.RateLimit] compose after Require.
//
// # Errors
//
// Every rejection is written by [WriteError] as {"error": ..., "code": ...} with the
// status from authcore.HTTPStatus and a Retry-After header when the error carries one.
package middleware
