// Package password hashes and verifies login passwords with argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<iterations>,p=<threads>$<salt>$<key>
//
// Verification reads the cost parameters from the stored hash, so raising
// [Params] never locks out existing users; [Hasher.NeedsRehash] flags hashes that
// should be replaced after the next successful login.
package password
