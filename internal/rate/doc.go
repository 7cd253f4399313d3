// Package rate throttles login attempts with fixed-window Redis counters.
//
// A window starts at the first failure for a key and lasts Config.Window.
// Keys, under the configured prefix:
//   - <prefix>:thr:u:<username> per username, lower-cased
//   - <prefix>:thr:ip:<ip> per client address, when enabled
//
// Counting by username regardless of whether the principal exists keeps the
// limiter from revealing which usernames are real.
package rate
