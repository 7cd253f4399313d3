// Package config loads the gateway's runtime configuration from a YAML file
// and command-line flags and turns it into a goGate.Config.
//
// Precedence, lowest first: built-in defaults, the YAML file, flags that
// were explicitly set.
package config
