package security

import "errors"

var (
	ErrInvalidConfig     = errors.New("security: invalid config")
	ErrKeyLoad           = errors.New("security: failed to load key")
	ErrTokenMissing      = errors.New("security: token is missing")
	ErrTokenInvalid      = errors.New("security: token is invalid")
	ErrTokenExpired      = errors.New("security: token has expired")
	ErrTokenNotValidYet  = errors.New("security: token is not valid yet")
	ErrTokenMalformed    = errors.New("security: token is malformed")
	ErrSignatureInvalid  = errors.New("security: signature is invalid")
	ErrAlgorithmMismatch = errors.New("security: algorithm mismatch")
	ErrActorMissing      = errors.New("security: token carries no actor")
	ErrNetworkDenied     = errors.New("security: client network denied")
	ErrSigningDisabled   = errors.New("security: signing requires a shared secret")
)
