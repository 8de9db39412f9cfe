// Package family tracks refresh-token lineages in Redis.
//
// A family is created at login and records the jti of the only refresh token that may be
// exchanged next. Rotate swaps that jti in a single Lua compare-and-set, so two
// concurrent refreshes presenting the same token cannot both win. A Mismatch result means
// a token of the family was replayed; the engine treats that as theft.
package family
