// Package jwt issues and verifies the engine's access and refresh tokens.
//
// Access tokens carry the user identity, auth source, admin flag, session id and a
// unique jti used for blacklisting. Refresh tokens carry the user id, session id and
// token family id. The two kinds are signed with separate keys and tagged with a typ
// claim so one can never be accepted as the other.
package jwt
