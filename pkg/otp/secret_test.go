package otp

import (
	"encoding/base32"
	"errors"
	"strings"
	"testing"
)

func TestDecodeSecretPadding(t *testing.T) {
	raw := []byte("1234567890123456")
	padded := base32.StdEncoding.EncodeToString(raw)
	stripped := strings.TrimRight(padded, "=")

	if len(stripped)%8 == 0 {
		t.Fatalf("test secret %q should need padding", stripped)
	}

	for _, secret := range []string{stripped, padded, strings.ToLower(stripped)} {
		key, err := decodeSecret(secret)
		if err != nil {
			t.Fatalf("decodeSecret(%q) error: %v", secret, err)
		}
		if string(key) != string(raw) {
			t.Errorf("decodeSecret(%q) = %q, want %q", secret, key, raw)
		}
	}
}

func TestDecodeSecretErrors(t *testing.T) {
	for _, secret := range []string{"", "  ", "A", "ABC", "ABCDEF", "0OIL1890", "JBSW Y3DP"} {
		if _, err := decodeSecret(secret); !errors.Is(err, ErrInvalidSecret) {
			t.Errorf("decodeSecret(%q): expected ErrInvalidSecret, got %v", secret, err)
		}
	}
}

// TestRandomSecret tests secret generation
func TestRandomSecret(t *testing.T) {
	secret, err := RandomSecret(16)
	if err != nil {
		t.Fatalf("failed to generate secret: %v", err)
	}

	if len(secret) != 26 {
		t.Errorf("expected 26 base32 symbols for 16 bytes, got %d (%q)", len(secret), secret)
	}
	if strings.Contains(secret, "=") {
		t.Errorf("expected padding to be stripped, got %q", secret)
	}

	// Secret should be base32 encoded (only uppercase letters and digits 2-7)
	for _, c := range secret {
		if !((c >= 'A' && c <= 'Z') || (c >= '2' && c <= '7')) {
			t.Errorf("invalid character in secret: %c", c)
		}
	}

	key, err := decodeSecret(secret)
	if err != nil {
		t.Fatalf("generated secret does not decode: %v", err)
	}
	if len(key) != 16 {
		t.Errorf("expected 16 decoded bytes, got %d", len(key))
	}

	seen := map[string]struct{}{secret: {}}
	for i := 0; i < 32; i++ {
		s, err := RandomSecret(16)
		if err != nil {
			t.Fatalf("failed to generate secret: %v", err)
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate secret %q", s)
		}
		seen[s] = struct{}{}
	}
}

func TestRandomSecretLengths(t *testing.T) {
	tests := []struct {
		bytes   int
		symbols int
	}{
		{1, 2},
		{5, 8},
		{10, 16},
		{20, 32},
	}

	for _, tt := range tests {
		secret, err := RandomSecret(tt.bytes)
		if err != nil {
			t.Fatalf("RandomSecret(%d) error: %v", tt.bytes, err)
		}
		if len(secret) != tt.symbols {
			t.Errorf("RandomSecret(%d) has %d symbols, want %d", tt.bytes, len(secret), tt.symbols)
		}
		key, err := decodeSecret(secret)
		if err != nil {
			t.Fatalf("decodeSecret error: %v", err)
		}
		if len(key) != tt.bytes {
			t.Errorf("RandomSecret(%d) decodes to %d bytes", tt.bytes, len(key))
		}
	}
}

func TestRandomSecretInvalidLength(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := RandomSecret(n); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("RandomSecret(%d): expected ErrInvalidConfig, got %v", n, err)
		}
	}
}

// TestGenerateSecret tests the default-size secret helper
func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("failed to generate secret: %v", err)
	}

	gen, err := New(secret)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := gen.GenerateAt(Counter(0)); err != nil {
		t.Errorf("generated secret is not usable: %v", err)
	}

	secret2, err := GenerateSecret()
	if err != nil {
		t.Fatalf("failed to generate second secret: %v", err)
	}
	if secret == secret2 {
		t.Error("generated secrets should be different")
	}
}

func TestVerifySetupKey(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		stored    string
		want      bool
	}{
		{name: "match", candidate: testSecret, stored: testSecret, want: true},
		{name: "mismatch", candidate: "JBSWY3DPEHPK3PXQ", stored: testSecret, want: false},
		{name: "prefix", candidate: "JBSWY3DP", stored: testSecret, want: false},
		{name: "case differs", candidate: strings.ToLower(testSecret), stored: testSecret, want: false},
		{name: "nothing stored", candidate: "", stored: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySetupKey(tt.candidate, tt.stored); got != tt.want {
				t.Errorf("VerifySetupKey() = %v, want %v", got, tt.want)
			}
		})
	}
}
