package otp

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"strconv"
	"strings"

	"github.com/pquerna/otp"
)

// Type represents the OTP counter source.
type Type string

const (
	// TypeTOTP derives the counter from the current time (RFC 6238).
	TypeTOTP Type = "totp"
	// TypeHOTP uses an explicit counter (RFC 4226).
	TypeHOTP Type = "hotp"
)

// Config holds OTP authenticator configuration.
type Config struct {
	// Type specifies the OTP type (TOTP or HOTP).
	Type Type
	// Secret is the base32-encoded shared secret key (required).
	Secret string
	// Issuer is the name of the issuing organization (e.g., "MyApp").
	Issuer string
	// AccountName is the account identifier (e.g., "user@example.com").
	AccountName string
	// Digits specifies the number of symbols in the code.
	// Default: 6
	Digits uint
	// Period specifies the time step in seconds for TOTP.
	// Default: 30
	Period uint
	// Counter specifies the counter value for HOTP.
	// Default: 0
	Counter uint64
	// Algorithm specifies the hash algorithm to use.
	// Default: SHA1
	Algorithm Algorithm
	// Alphabet is the ordered symbol set codes are rendered in.
	// Default: DefaultAlphabet
	Alphabet string
	// Skew specifies the number of time periods to check before and after
	// the current time for TOTP validation (tolerance for clock skew).
	// Default: 1
	Skew uint
}

// validate checks that the configuration is valid.
func (c Config) validate() error {
	if c.Type != TypeTOTP && c.Type != TypeHOTP {
		return fmt.Errorf("%w: type must be 'totp' or 'hotp'", ErrInvalidConfig)
	}

	if strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("%w: secret must not be empty", ErrInvalidConfig)
	}

	if c.Digits > MaxDigits {
		return fmt.Errorf("%w: digits must be at most %d, got %d", ErrInvalidConfig, MaxDigits, c.Digits)
	}

	// The Generator defers decoding; an authenticator is built once per
	// enrolment, so reject a bad secret up front.
	if _, err := decodeSecret(c.Secret); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Algorithm != "" {
		if _, err := c.Algorithm.otpAlgorithm(); err != nil {
			return err
		}
	}

	if c.Alphabet != "" {
		if _, err := NewAlphabet(c.Alphabet); err != nil {
			return err
		}
	}

	return nil
}

// Authenticator validates alphanumeric OTP codes for one enrolled account.
// It is safe for concurrent use.
type Authenticator struct {
	cfg Config
	gen *Generator
}

// NewAuthenticator creates a new OTP authenticator.
// The configuration is validated and an error is returned if invalid.
// Extra options are applied to the underlying Generator after the
// configuration, e.g. WithClock.
func NewAuthenticator(cfg Config, opts ...Option) (*Authenticator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Apply defaults
	if cfg.Digits == 0 {
		cfg.Digits = DefaultDigits
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultInterval
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = DefaultAlgorithm
	}
	if cfg.Alphabet == "" {
		cfg.Alphabet = DefaultAlphabet
	}
	if cfg.Skew == 0 {
		cfg.Skew = 1
	}

	genOpts := append([]Option{
		WithDigits(int(cfg.Digits)),
		WithInterval(cfg.Period),
		WithAlgorithm(cfg.Algorithm),
		WithAlphabet(cfg.Alphabet),
	}, opts...)

	gen, err := New(cfg.Secret, genOpts...)
	if err != nil {
		return nil, err
	}

	return &Authenticator{cfg: cfg, gen: gen}, nil
}

// Generator returns the code generator backing the authenticator.
func (a *Authenticator) Generator() *Generator {
	if a == nil {
		return nil
	}
	return a.gen
}

// Authenticate validates an OTP code.
// For TOTP, it validates against the current time with skew tolerance.
// For HOTP, it validates against the configured counter value.
func (a *Authenticator) Authenticate(ctx context.Context, code string) error {
	if a == nil {
		return ErrNilAuthenticator
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code must not be empty", ErrInvalidCode)
	}

	var (
		valid bool
		err   error
	)
	if a.cfg.Type == TypeTOTP {
		valid, err = a.gen.VerifyNow(code, a.cfg.Skew)
	} else {
		valid, err = a.gen.Verify(code, Counter(a.cfg.Counter), 0)
	}
	if err != nil {
		return fmt.Errorf("%w: validation failed: %w", ErrInvalidCode, err)
	}
	if !valid {
		return ErrInvalidCode
	}

	return nil
}

// ValidateCounter validates an HOTP code and returns the new counter value.
// This method is only valid for HOTP authenticators.
// The returned counter should be stored and used for the next validation.
func (a *Authenticator) ValidateCounter(ctx context.Context, code string, counter uint64) (uint64, error) {
	if a == nil {
		return 0, ErrNilAuthenticator
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if a.cfg.Type != TypeHOTP {
		return 0, fmt.Errorf("%w: ValidateCounter is only valid for HOTP", ErrInvalidConfig)
	}

	if strings.TrimSpace(code) == "" {
		return 0, fmt.Errorf("%w: code must not be empty", ErrInvalidCode)
	}

	valid, err := a.gen.Verify(code, Counter(counter), 0)
	if err != nil {
		return 0, fmt.Errorf("%w: validation failed: %w", ErrInvalidCode, err)
	}
	if !valid {
		return 0, ErrInvalidCode
	}

	return counter + 1, nil
}

// Generate generates an OTP code.
// For TOTP, it generates the code for the current time.
// For HOTP, a counter value must be provided.
func (a *Authenticator) Generate(counter ...uint64) (string, error) {
	if a == nil {
		return "", ErrNilAuthenticator
	}

	if a.cfg.Type == TypeTOTP {
		code, err := a.gen.Now()
		if err != nil {
			return "", fmt.Errorf("otp: failed to generate TOTP code: %w", err)
		}
		return code, nil
	}

	if len(counter) == 0 {
		return "", fmt.Errorf("otp: counter required for HOTP generation")
	}

	code, err := a.gen.GenerateCounter(counter[0])
	if err != nil {
		return "", fmt.Errorf("otp: failed to generate HOTP code: %w", err)
	}

	return code, nil
}

// GetProvisioningURI returns the otpauth:// URI for QR code generation.
// A non-default alphabet is carried in an extra "alphabet" parameter that
// ParseProvisioningURI understands; stock authenticator apps ignore it.
func (a *Authenticator) GetProvisioningURI() string {
	if a == nil {
		return ""
	}

	v := url.Values{}
	v.Set("secret", a.cfg.Secret)
	v.Set("issuer", a.cfg.Issuer)
	v.Set("algorithm", string(a.cfg.Algorithm))
	v.Set("digits", strconv.FormatUint(uint64(a.cfg.Digits), 10))
	if a.cfg.Alphabet != DefaultAlphabet {
		v.Set("alphabet", a.cfg.Alphabet)
	}

	label := url.PathEscape(fmt.Sprintf("%s:%s", a.cfg.Issuer, a.cfg.AccountName))
	if a.cfg.Type == TypeTOTP {
		v.Set("period", strconv.FormatUint(uint64(a.cfg.Period), 10))
		return fmt.Sprintf("otpauth://totp/%s?%s", label, v.Encode())
	}

	v.Set("counter", strconv.FormatUint(a.cfg.Counter, 10))
	return fmt.Sprintf("otpauth://hotp/%s?%s", label, v.Encode())
}

// QRCode renders the provisioning URI as a width x height QR code image for
// enrolment. The size must fit the encoded symbol.
func (a *Authenticator) QRCode(width, height int) (image.Image, error) {
	if a == nil {
		return nil, ErrNilAuthenticator
	}

	key, err := otp.NewKeyFromURL(a.GetProvisioningURI())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	img, err := key.Image(width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: qr code: %v", ErrInvalidConfig, err)
	}
	return img, nil
}

// ParseProvisioningURI extracts an authenticator configuration from an
// otpauth:// URI, as scanned from an enrolment QR code.
func ParseProvisioningURI(uri string) (Config, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return Config{}, fmt.Errorf("%w: malformed provisioning URI: %v", ErrInvalidConfig, err)
	}

	u, err := url.Parse(key.URL())
	if err != nil {
		return Config{}, fmt.Errorf("%w: malformed provisioning URI: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "otpauth" {
		return Config{}, fmt.Errorf("%w: provisioning URI scheme must be otpauth, got %q", ErrInvalidConfig, u.Scheme)
	}
	q := u.Query()

	cfg := Config{
		Type:        Type(strings.ToLower(key.Type())),
		Secret:      key.Secret(),
		Issuer:      key.Issuer(),
		AccountName: key.AccountName(),
		Digits:      uint(key.Digits().Length()),
		Algorithm:   Algorithm(key.Algorithm().String()),
		Alphabet:    q.Get("alphabet"),
	}

	switch cfg.Type {
	case TypeTOTP:
		cfg.Period = uint(key.Period())
	case TypeHOTP:
		if c := q.Get("counter"); c != "" {
			if cfg.Counter, err = strconv.ParseUint(c, 10, 64); err != nil {
				return Config{}, fmt.Errorf("%w: counter must be a non-negative integer: %v", ErrInvalidConfig, err)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
