// Package flows contains the orchestration behind every Engine operation:
// login, logout, logout-all and request authorization with remember-me
// re-authentication.
//
// Each Run function takes a dependency struct of plain functions and holds no
// state between calls. The Engine owns the stores, collaborators, metrics and
// audit dispatcher and wires them in once at build time. This package must
// not import the root goGate package.
package flows
