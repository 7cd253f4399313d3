// Package password implements the credential verifiers used at login.
//
// # Output format
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Existing bcrypt hashes ($2a$, $2b$, $2y$) are verified by [Bcrypt]; [Chain]
// dispatches on the hash prefix so directories may hold either scheme.
// NeedsUpgrade reports hashes produced with weaker parameters or by bcrypt.
//
// Every verifier exposes DummyHash, a well-formed hash that matches nothing.
// Login verifies against it for unknown principals.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goGate package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
