// Package policy implements the gateway's declarative access rules: an ordered
// table of path patterns mapped to access requirements, and the decision
// function that evaluates a matched rule against the current caller.
//
// # Matching
//
// Rules are evaluated in configured order and the first rule whose pattern
// matches wins. A path that matches no rule falls through to the implicit
// Authenticated default. Patterns are split on '/':
//
//	**        any number of segments, including zero
//	*         exactly one segment
//	*.css     one segment matched as a glob (gobwas/glob syntax)
//	admin     one literal segment
//
// Overlapping rules are never merged. A later rule whose patterns are all
// covered by earlier ones is unreachable; [Table.Shadowed] reports such rules
// so configuration tooling can surface them.
//
// # Architecture boundaries
//
// This package is pure and read-only after [Compile]. It does NOT know about
// sessions, cookies, or credentials; callers pass a [Subject] (or nil for an
// anonymous caller) and receive a [Decision].
//
// # What this package must NOT do
//
//   - Perform I/O or hold mutable state after [Compile].
//   - Import goGate, session, or rememberme.
package policy
