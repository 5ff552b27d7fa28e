package otp

import "errors"

// Common errors returned by the generator and authenticator.
var (
	// ErrInvalidConfig indicates invalid construction parameters.
	ErrInvalidConfig = errors.New("otp: invalid configuration")
	// ErrInvalidSecret indicates the shared secret is not valid Base32 or decodes to zero bytes.
	ErrInvalidSecret = errors.New("otp: invalid secret")
	// ErrInvalidInput indicates a counter input that cannot be turned into a counter.
	ErrInvalidInput = errors.New("otp: invalid counter input")
	// ErrInvalidCode indicates the provided OTP code is invalid.
	ErrInvalidCode = errors.New("otp: invalid code")
	// ErrNilAuthenticator indicates a nil authenticator was used.
	ErrNilAuthenticator = errors.New("otp: authenticator is nil")
)
