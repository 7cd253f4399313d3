// Package goGate is the access-control layer of an API gateway. It matches
// request paths against an ordered rule table, decides ALLOW, DENY or
// CHALLENGE for the caller, and manages the form-login session lifecycle
// with optional remember-me persistence.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// goGate is the public surface. It exposes [Engine], [Builder], [Config] and
// value types (AccessResult, LoginResult, MetricsSnapshot). Flow
// orchestration, audit dispatch and logging helpers live under internal/.
// The rule matcher, session store and remember-me store are separate
// packages that never import goGate.
//
// # Decisions
//
// The first rule whose pattern matches the normalized path governs the
// request; when none matches, an implicit trailing Authenticated rule does.
// Anonymous callers facing a rule that needs a principal get CHALLENGE;
// authenticated callers lacking the required roles get DENY.
//
// # Failure posture
//
// Login never reveals why it failed. Session store failures during
// Authorize yield DENY with an error wrapping [ErrSessionStoreUnavailable],
// except on PermitAll rules.
package goGate
