package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-authshield/pkg/otp"
)

// Handler defines the contract for a backend authenticator.
// The implementation should return nil on success or an error on failure.
type Handler interface {
	Authenticate(ctx context.Context, username, password, otp string) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, username, password, otp string) error

// Authenticate executes the underlying function.
func (f HandlerFunc) Authenticate(ctx context.Context, username, password, otp string) error {
	return f(ctx, username, password, otp)
}

// BackendName identifies a registered authentication backend.
type BackendName string

const (
	BackendOTP      BackendName = "otp"
	BackendSetupKey BackendName = "setupkey"
)

// Backend represents a named authentication backend.
type Backend struct {
	Name    BackendName
	Handler Handler
}

// Config contains the ordered list of backends the service should attempt.
type Config struct {
	Backends []Backend
}

// Service coordinates authentication attempts across configured backends.
type Service struct {
	backends []Backend
}

var (
	// ErrNoBackends indicates the service was initialised without any backends.
	ErrNoBackends = errors.New("api: no authentication backends configured")
	// ErrBackendNotFound indicates a requested backend name does not exist.
	ErrBackendNotFound = errors.New("api: requested backend not configured")
	// ErrMissingCredentials indicates the request does not contain mandatory fields.
	ErrMissingCredentials = errors.New("api: username and a password or otp are required")
	// ErrMissingOTP indicates a backend requires an OTP but none was provided.
	ErrMissingOTP = errors.New("api: otp required")
	// ErrMissingSetupKey indicates the setup-key backend received no key.
	ErrMissingSetupKey = errors.New("api: setup key required")
	// ErrUnknownUser indicates no setup key is enrolled for the username.
	ErrUnknownUser = errors.New("api: no setup key enrolled for user")
	// ErrInvalidSetupKey indicates the supplied setup key does not match.
	ErrInvalidSetupKey = errors.New("api: invalid setup key")
)

// NewService builds a Service from the supplied configuration.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Backends) == 0 {
		return nil, ErrNoBackends
	}

	backends := make([]Backend, 0, len(cfg.Backends))
	seen := map[BackendName]struct{}{}
	for i, b := range cfg.Backends {
		if b.Handler == nil {
			return nil, fmt.Errorf("api: backend at index %d has no handler", i)
		}
		if _, ok := seen[b.Name]; ok {
			return nil, fmt.Errorf("api: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = struct{}{}
		backends = append(backends, b)
	}

	return &Service{backends: backends}, nil
}

// LoginRequest contains the credentials and optional target backend.
type LoginRequest struct {
	Backend  BackendName
	Username string
	Password string
	OTP      string
}

// Login attempts authentication using the configured backends.
func (s *Service) Login(ctx context.Context, req LoginRequest) error {
	if s == nil || len(s.backends) == 0 {
		return ErrNoBackends
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Username == "" || (req.Password == "" && req.OTP == "") {
		return ErrMissingCredentials
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var targets []Backend
	if req.Backend != "" {
		for _, b := range s.backends {
			if b.Name == req.Backend {
				targets = append(targets, b)
				break
			}
		}
		if len(targets) == 0 {
			return ErrBackendNotFound
		}
	} else {
		targets = s.backends
	}

	var errs []error
	for _, b := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Handler.Authenticate(ctx, req.Username, req.Password, req.OTP); err == nil {
			return nil
		} else {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
		}
	}

	if len(errs) == 0 {
		return ErrNoBackends
	}
	return errors.Join(errs...)
}

type otpAuthenticator interface {
	Authenticate(ctx context.Context, otp string) error
}

// SetupKeyStore looks up the setup key enrolled for a username. It returns
// ErrUnknownUser (or an error wrapping it) when none is enrolled.
type SetupKeyStore interface {
	SetupKey(ctx context.Context, username string) (string, error)
}

// SetupKeys is an in-memory SetupKeyStore keyed by username.
type SetupKeys map[string]string

// SetupKey returns the key enrolled for username.
func (s SetupKeys) SetupKey(_ context.Context, username string) (string, error) {
	key, ok := s[username]
	if !ok || key == "" {
		return "", ErrUnknownUser
	}
	return key, nil
}

// OTP creates a Handler that delegates to an OTP authenticator.
// The OTP code should be passed in the OTP field, or the Password field as a fallback.
// Username is ignored for standalone OTP validation.
// For TOTP, the code is validated against the current time with skew tolerance.
// For HOTP, the code is validated against the configured counter value.
func OTP(auth otpAuthenticator) Handler {
	return HandlerFunc(func(ctx context.Context, username, password, otp string) error {
		code := otp
		if code == "" {
			code = password
		}
		if code == "" {
			return ErrMissingOTP
		}
		return auth.Authenticate(ctx, code)
	})
}

// SetupKey creates a Handler that compares the supplied key against the
// secret enrolled for the username in constant time. The key is read from
// the Password field, or the OTP field as a fallback.
func SetupKey(store SetupKeyStore) Handler {
	return HandlerFunc(func(ctx context.Context, username, password, code string) error {
		key := password
		if key == "" {
			key = code
		}
		if key == "" {
			return ErrMissingSetupKey
		}

		stored, err := store.SetupKey(ctx, username)
		if err != nil {
			return err
		}
		if !otp.VerifySetupKey(key, stored) {
			return ErrInvalidSetupKey
		}
		return nil
	})
}

var (
	_ otpAuthenticator = (*otp.Authenticator)(nil)
	_ SetupKeyStore    = SetupKeys(nil)
)
