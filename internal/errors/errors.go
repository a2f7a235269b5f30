// Package errors defines the sentinel errors of the card-key trust engine
// and their mapping to RFC 7807 problem responses.
package errors

import "errors"

// Sentinel errors for the license session and verification flow. Callers
// classify with errors.Is; richer context travels in wrapping errors.
var (
	ErrKeyRequired          = errors.New("card key required")
	ErrAlreadyLoggedIn      = errors.New("already logged in")
	ErrNotLoggedIn          = errors.New("not logged in")
	ErrKeyRejected          = errors.New("card key rejected")
	ErrVerifyUnavailable    = errors.New("verification service unavailable")
	ErrTrustExpired         = errors.New("cached trust expired")
	ErrHardwareMismatch     = errors.New("hardware fingerprint mismatch")
	ErrNoLocalTrust         = errors.New("no usable local trust")
	ErrExpiryUnparseable    = errors.New("unparseable expiry time")
	ErrRateLimited          = errors.New("too many verification attempts")
	ErrHeartbeatStopTimeout = errors.New("heartbeat monitor did not stop in time")
)

// Error code constants carried in problem responses and structured logs.
const (
	CodeKeyRequired       = "KEY_REQUIRED"
	CodeAlreadyLoggedIn   = "ALREADY_LOGGED_IN"
	CodeNotLoggedIn       = "NOT_LOGGED_IN"
	CodeKeyRejected       = "KEY_REJECTED"
	CodeVerifyUnavailable = "VERIFY_UNAVAILABLE"
	CodeTrustExpired      = "TRUST_EXPIRED"
	CodeHardwareMismatch  = "HARDWARE_MISMATCH"
	CodeNoLocalTrust      = "NO_LOCAL_TRUST"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
)
