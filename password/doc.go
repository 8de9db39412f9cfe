// Package password hashes local-account passwords with argon2id and verifies both
// argon2id and legacy bcrypt encodings.
//
// New hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes written with weaker parameters (or with bcrypt)
// so the caller can re-hash after the next successful login.
//
// Plaintext passwords are never stored or logged by this package.
package password
