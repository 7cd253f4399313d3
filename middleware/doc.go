// Package middleware adapts a goGate.Engine to net/http.
//
// A [Gate] provides three pieces:
//
//   - [Gate.Guard] authorizes every request, re-authenticating from the
//     remember-me cookie when the engine asks for it, and injects the
//     principal into the request context.
//   - [Gate.LoginHandler] processes the login form and redirects to the
//     success or failure path.
//   - [Gate.LogoutHandler] ends the session, forgets the remember-me
//     cookie and redirects to the logout-success path.
//
// [Gate.Handler] wires all three in front of an application handler.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls: cookies in,
// cookies and redirects out. Every decision is made by the Engine.
//
// # What this package must NOT do
//
//   - Access Redis or the principal directory directly.
//   - Reveal why a login failed; every failure redirects to the same path.
//   - Redirect to a location that is not configured.
package middleware
