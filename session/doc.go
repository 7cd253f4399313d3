// Package session provides Redis-backed persistence for authenticated
// sessions and their compact binary encoding.
//
// # Lifecycle
//
// A caller starts Anonymous. [Store.Create] records an Authenticated session;
// [Store.Delete] moves it to LoggedOut by removing it. Nothing is persisted
// for anonymous callers or failed logins.
//
// Each session carries an absolute expiry fixed at creation and an idle
// window that [Store.Resolve] slides forward. Expired sessions are evicted
// lazily on read.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT verify
// credentials, evaluate access rules, or handle remember-me tokens.
//
// # What this package must NOT do
//
//   - Import goGate, policy, or rememberme.
//   - Store plaintext secrets in [Session] fields.
package session
