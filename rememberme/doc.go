// Package rememberme implements persistent-login tokens with rotation and
// theft detection.
//
// A token is a (series, value) pair. The series is stable for the life of the
// login; the value changes on every use. The store keeps only the SHA-256 of
// the current value. Presenting a live series with any other value means the
// cookie was copied and used elsewhere, so the whole series is revoked and
// the caller must log in again.
//
// The cookie sent to the client is a JWS over (series, value) produced by the
// jwt package, so tampered cookies are rejected before touching Redis.
//
// # What this package must NOT do
//
//   - Create sessions or look up principals. The engine does that with the
//     principal returned by [Manager.Consume].
//   - Store token values in plaintext.
package rememberme
