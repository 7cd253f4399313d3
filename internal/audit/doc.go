// Package audit delivers security events (logins, logouts, access decisions,
// remember-me rotation and theft) to a pluggable [Sink] through a buffered
// asynchronous [Dispatcher].
//
// The package only buffers and delivers. Which events exist, and when they
// fire, is decided by the engine and the flow functions.
package audit
