package otp

import (
	"crypto/hmac"
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/pquerna/otp"
)

// Algorithm represents the hash algorithm used for OTP generation.
type Algorithm string

const (
	// AlgorithmSHA1 uses SHA1 hash algorithm.
	AlgorithmSHA1 Algorithm = "SHA1"
	// AlgorithmSHA256 uses SHA256 hash algorithm.
	AlgorithmSHA256 Algorithm = "SHA256"
	// AlgorithmSHA512 uses SHA512 hash algorithm.
	AlgorithmSHA512 Algorithm = "SHA512"
)

// Defaults applied by New and NewAuthenticator.
const (
	DefaultDigits    = 6
	DefaultInterval  = 30
	DefaultAlgorithm = AlgorithmSHA1
)

// MaxDigits bounds the code length accepted from an authenticator Config or
// a provisioning URI.
const MaxDigits = 16

func (a Algorithm) otpAlgorithm() (otp.Algorithm, error) {
	switch a {
	case AlgorithmSHA1:
		return otp.AlgorithmSHA1, nil
	case AlgorithmSHA256:
		return otp.AlgorithmSHA256, nil
	case AlgorithmSHA512:
		return otp.AlgorithmSHA512, nil
	}
	return 0, fmt.Errorf("%w: algorithm must be SHA1, SHA256, or SHA512", ErrInvalidConfig)
}

// Input is the counter source for GenerateAt: either a raw Counter or a Unix
// Timestamp that is divided by the generator interval.
type Input interface {
	counter(interval uint64) (uint64, error)
}

// Counter is a raw HOTP counter, used unchanged.
type Counter uint64

func (c Counter) counter(uint64) (uint64, error) {
	return uint64(c), nil
}

// Timestamp is a Unix time in seconds, possibly fractional.
type Timestamp float64

// TimeOf converts t to a Timestamp.
func TimeOf(t time.Time) Timestamp {
	return Timestamp(float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second))
}

func (ts Timestamp) counter(interval uint64) (uint64, error) {
	f := float64(ts)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("%w: timestamp must be a finite non-negative number, got %v", ErrInvalidInput, f)
	}
	step := math.Floor(f / float64(interval))
	if step >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: timestamp %v is out of range", ErrInvalidInput, f)
	}
	return uint64(step), nil
}

// Clock abstracts wall-clock time so callers can pin it in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the current system time.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time {
	return time.Now()
}

type generatorConfig struct {
	digits      int
	algorithm   Algorithm
	interval    uint
	alphabet    string
	renderer    Renderer
	rendererSet bool
	clock       Clock
}

// Option configures a Generator.
type Option func(*generatorConfig)

// WithDigits sets the number of symbols per code. Default: 6.
func WithDigits(n int) Option {
	return func(c *generatorConfig) {
		c.digits = n
	}
}

// WithAlgorithm sets the HMAC hash algorithm. Default: SHA1.
func WithAlgorithm(a Algorithm) Option {
	return func(c *generatorConfig) {
		c.algorithm = a
	}
}

// WithInterval sets the time step in seconds. Default: 30.
func WithInterval(seconds uint) Option {
	return func(c *generatorConfig) {
		c.interval = seconds
	}
}

// WithAlphabet renders codes with the given ordered symbol set.
// It replaces any renderer set earlier.
func WithAlphabet(symbols string) Option {
	return func(c *generatorConfig) {
		c.alphabet = symbols
		c.renderer = nil
		c.rendererSet = false
	}
}

// WithRenderer renders codes with r, e.g. Decimal{} for RFC 4226 numeric codes.
func WithRenderer(r Renderer) Option {
	return func(c *generatorConfig) {
		c.renderer = r
		c.rendererSet = true
	}
}

// WithClock overrides the clock used by Now, VerifyNow and Remaining.
func WithClock(clk Clock) Option {
	return func(c *generatorConfig) {
		c.clock = clk
	}
}

// Generator produces keyed one-time codes for a single shared secret.
// It holds no mutable state and is safe for concurrent use.
type Generator struct {
	secret    string
	algorithm Algorithm
	hash      otp.Algorithm
	digits    int
	interval  uint64
	renderer  Renderer
	clock     Clock
}

// New creates a Generator for a Base32 secret. The secret is decoded on
// every generation, so a malformed secret surfaces as ErrInvalidSecret from
// GenerateAt rather than from New.
func New(secret string, opts ...Option) (*Generator, error) {
	cfg := generatorConfig{
		digits:    DefaultDigits,
		algorithm: DefaultAlgorithm,
		interval:  DefaultInterval,
		alphabet:  DefaultAlphabet,
		clock:     SystemClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.digits < 1 {
		return nil, fmt.Errorf("%w: digits must be at least 1, got %d", ErrInvalidConfig, cfg.digits)
	}
	if cfg.interval < 1 {
		return nil, fmt.Errorf("%w: interval must be at least 1 second", ErrInvalidConfig)
	}
	h, err := cfg.algorithm.otpAlgorithm()
	if err != nil {
		return nil, err
	}

	renderer := cfg.renderer
	if cfg.rendererSet {
		if renderer == nil {
			return nil, fmt.Errorf("%w: renderer must not be nil", ErrInvalidConfig)
		}
	} else {
		if renderer, err = NewAlphabet(cfg.alphabet); err != nil {
			return nil, err
		}
	}

	if cfg.clock == nil {
		cfg.clock = SystemClock{}
	}

	return &Generator{
		secret:    secret,
		algorithm: cfg.algorithm,
		hash:      h,
		digits:    cfg.digits,
		interval:  uint64(cfg.interval),
		renderer:  renderer,
		clock:     cfg.clock,
	}, nil
}

// Digits returns the code length.
func (g *Generator) Digits() int { return g.digits }

// Interval returns the time step.
func (g *Generator) Interval() time.Duration {
	return time.Duration(g.interval) * time.Second
}

// Algorithm returns the HMAC hash algorithm.
func (g *Generator) Algorithm() Algorithm { return g.algorithm }

// Renderer returns the renderer codes are drawn with.
func (g *Generator) Renderer() Renderer { return g.renderer }

// Counter returns the counter that in resolves to.
func (g *Generator) Counter(in Input) (uint64, error) {
	if in == nil {
		return 0, fmt.Errorf("%w: input must not be nil", ErrInvalidInput)
	}
	return in.counter(g.interval)
}

// GenerateAt returns the code for a raw Counter or a Unix Timestamp.
func (g *Generator) GenerateAt(in Input) (string, error) {
	counter, err := g.Counter(in)
	if err != nil {
		return "", err
	}
	key, err := decodeSecret(g.secret)
	if err != nil {
		return "", err
	}
	return g.generate(key, counter)
}

// GenerateCounter returns the code for a raw HOTP counter.
func (g *Generator) GenerateCounter(counter uint64) (string, error) {
	return g.GenerateAt(Counter(counter))
}

// GenerateTime returns the code for the time step containing t.
func (g *Generator) GenerateTime(t time.Time) (string, error) {
	return g.GenerateAt(TimeOf(t))
}

// Now returns the code for the current time step.
func (g *Generator) Now() (string, error) {
	return g.GenerateTime(g.clock.Now())
}

func (g *Generator) generate(key []byte, counter uint64) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(g.hash.Hash, key)
	mac.Write(msg[:])
	code := g.renderer.Render(truncate(mac.Sum(nil)), g.digits)

	if n := utf8.RuneCountInString(code); n != g.digits {
		return "", fmt.Errorf("%w: renderer produced %d symbols, want %d", ErrInvalidConfig, n, g.digits)
	}
	return code, nil
}

// truncate is the RFC 4226 dynamic truncation: the low nibble of the last
// byte selects a 4-byte window, read big-endian with the top bit cleared.
func truncate(sum []byte) uint32 {
	offset := sum[len(sum)-1] & 0x0f
	return binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
}

// Verify reports whether candidate matches the code at in, or with
// tolerance > 0 the code of any step in [-tolerance, +tolerance] around it,
// checked in ascending order. Comparison is constant-time and case-sensitive.
// A tolerance above math.MaxInt64 is ErrInvalidInput.
// A mismatch is (false, nil); errors are reserved for bad secrets and inputs.
func (g *Generator) Verify(candidate string, in Input, tolerance uint) (bool, error) {
	counter, err := g.Counter(in)
	if err != nil {
		return false, err
	}
	key, err := decodeSecret(g.secret)
	if err != nil {
		return false, err
	}

	if tolerance == 0 {
		code, err := g.generate(key, counter)
		if err != nil {
			return false, err
		}
		return constantTimeEqual(candidate, code), nil
	}

	if uint64(tolerance) > math.MaxInt64 {
		return false, fmt.Errorf("%w: tolerance %d is out of range", ErrInvalidInput, tolerance)
	}
	n := int64(tolerance)
	for i := -n; i <= n; i++ {
		c, ok := offsetCounter(counter, i)
		if !ok {
			continue
		}
		code, err := g.generate(key, c)
		if err != nil {
			return false, err
		}
		if constantTimeEqual(candidate, code) {
			return true, nil
		}
	}
	return false, nil
}

// VerifyNow verifies candidate against the current time step.
func (g *Generator) VerifyNow(candidate string, tolerance uint) (bool, error) {
	return g.Verify(candidate, TimeOf(g.clock.Now()), tolerance)
}

// Remaining returns the time left until the code for t rolls over,
// at whole-second resolution.
func (g *Generator) Remaining(t time.Time) time.Duration {
	step := int64(g.interval)
	elapsed := t.Unix() % step
	if elapsed < 0 {
		elapsed += step
	}
	return time.Duration(step-elapsed) * time.Second
}

// offsetCounter returns counter+delta, or false when the result falls
// outside the uint64 range (before the epoch or past the last step).
func offsetCounter(counter uint64, delta int64) (uint64, bool) {
	if delta < 0 {
		d := uint64(-delta)
		if d > counter {
			return 0, false
		}
		return counter - d, true
	}
	d := uint64(delta)
	if counter > math.MaxUint64-d {
		return 0, false
	}
	return counter + d, true
}
