// Package otp generates and verifies alphanumeric one-time codes.
//
// Codes follow HOTP (RFC 4226) up to and including dynamic truncation. The
// resulting 31-bit value is then written as a base-B numeral using an ordered
// alphabet instead of being reduced modulo 10^digits. With the default
// 36-symbol alphabet (A-Z followed by 0-9) a 6-symbol code looks like "GAKO12"
// and is easy to type. The counter is either supplied directly or derived
// from a Unix timestamp divided by the time step, as in TOTP (RFC 6238).
//
// # Generator
//
//	gen, err := otp.New("JBSWY3DPEHPK3PXP")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	code, err := gen.Now()                        // current 30 second step
//	code, err = gen.GenerateAt(otp.Counter(0))     // raw counter: "GAKO12"
//	code, err = gen.GenerateAt(otp.Timestamp(59))  // time step 1
//
//	// Accept the previous and next step as well.
//	ok, err := gen.VerifyNow(candidate, 1)
//
// The secret is decoded when a code is generated, not when the Generator is
// built, so a malformed secret is reported as ErrInvalidSecret by
// GenerateAt, Now and Verify. A code that does not match is not an error:
// Verify returns false. Comparison is constant-time and case-sensitive;
// callers that want to accept lower-case input must upper-case it first.
//
// # Renderers
//
// WithAlphabet selects a different symbol set. WithRenderer(otp.Decimal{})
// produces standard numeric codes that any RFC 4226 authenticator accepts.
//
// # Authenticator
//
// Authenticator wraps a Generator with otpauth:// provisioning support and
// the Authenticate(ctx, code) contract used by the api package:
//
//	auth, err := otp.NewAuthenticator(otp.Config{
//	    Type:        otp.TypeTOTP,
//	    Secret:      secret,
//	    Issuer:      "AuthShield",
//	    AccountName: "user@example.com",
//	    Skew:        1,
//	})
//
//	err = auth.Authenticate(ctx, "GAKO12")
//
// # Thread Safety
//
// Generator and Authenticator carry no mutable state after construction and
// are safe for concurrent use.
package otp
