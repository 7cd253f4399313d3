// Package jwt signs and verifies the remember-me cookie artifact: a compact
// JWS whose claims carry the token series and current value. The signature
// only proves the cookie was minted by this gateway; validity of the series
// and value is decided by the remember-me store.
package jwt
