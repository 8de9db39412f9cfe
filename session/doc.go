// Package session keeps login sessions in Redis.
//
// A session lives at <prefix>:s:<id> with a TTL equal to the refresh lifetime, and every
// session id is also listed in the owner's index set <prefix>:u:<user> so logout-all can
// find them. Records are a small versioned binary encoding (a version byte, the user id, a
// flag byte, length-prefixed strings and two big-endian timestamps); Decode rejects unknown
// versions and truncated input.
//
// The package does not read tokens or decide policy. Refresh lineage lives in the family
// package, not in the session record.
package session
