// Package internal holds helpers private to the gateway: random session ids
// and token secrets, and the digest stored in place of a secret.
//
// # Sub-packages
//
//   - audit: asynchronous event dispatch (Dispatcher and Sink implementations)
//   - errutil: oops-aware slog helpers and test assertions
//   - flows: login, logout and authorize orchestration over injected deps
//   - logging: slog setup with service, version and trace correlation
//   - rate: Redis fixed-window login throttle
package internal
