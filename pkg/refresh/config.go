package refresh

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-authshield/pkg/otp"
)

// ErrInvalidConfig indicates the account file could not be loaded or failed validation.
var ErrInvalidConfig = errors.New("refresh: invalid configuration")

// Account is one enrolled secret the hosting process refreshes codes for.
// Zero values fall back to the generator defaults.
type Account struct {
	ID        string `mapstructure:"id" validate:"required"`
	Secret    string `mapstructure:"secret" validate:"required"`
	Digits    int    `mapstructure:"digits" validate:"omitempty,min=1,max=16"`
	Interval  uint   `mapstructure:"interval" validate:"omitempty,min=1"`
	Algorithm string `mapstructure:"algorithm" validate:"omitempty,oneof=SHA1 SHA256 SHA512"`
	Alphabet  string `mapstructure:"alphabet"`
}

// FileConfig lists the accounts managed by a refresh host.
type FileConfig struct {
	Accounts []Account `mapstructure:"accounts" validate:"required,min=1,unique=ID,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads accounts from a YAML, JSON or TOML file; the format is
// inferred from the extension.
func LoadConfig(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	return decodeConfig(v)
}

// LoadConfigFromBytes reads accounts from memory. configType is a format
// supported by Viper (e.g. "yaml", "json", "toml").
func LoadConfigFromBytes(configType string, data []byte) (*FileConfig, error) {
	if strings.TrimSpace(configType) == "" {
		return nil, fmt.Errorf("%w: config type is required", ErrInvalidConfig)
	}

	v := viper.New()
	v.SetConfigType(configType)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return decodeConfig(v)
}

func decodeConfig(v *viper.Viper) (*FileConfig, error) {
	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// Generators builds one generator per account, keyed by account ID. opts are
// applied before the per-account settings.
func (c *FileConfig) Generators(opts ...otp.Option) (map[string]*otp.Generator, error) {
	gens := make(map[string]*otp.Generator, len(c.Accounts))
	for _, a := range c.Accounts {
		gen, err := otp.New(a.Secret, append(slices.Clip(opts), a.options()...)...)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.ID, err)
		}
		gens[a.ID] = gen
	}
	return gens, nil
}

func (a Account) options() []otp.Option {
	var opts []otp.Option
	if a.Digits != 0 {
		opts = append(opts, otp.WithDigits(a.Digits))
	}
	if a.Interval != 0 {
		opts = append(opts, otp.WithInterval(a.Interval))
	}
	if a.Algorithm != "" {
		opts = append(opts, otp.WithAlgorithm(otp.Algorithm(a.Algorithm)))
	}
	if a.Alphabet != "" {
		opts = append(opts, otp.WithAlphabet(a.Alphabet))
	}
	return opts
}
