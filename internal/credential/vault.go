// Package credential mints and verifies the access code a reporter uses
// to follow a case without an account.
//
// A freshly minted Secret is handed to the reporter exactly once. Only the
// Stored half (hash and salt) is ever persisted.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// SecretLength is the number of characters in an access code.
	SecretLength = 8
	// SaltLength is the number of random salt bytes per case.
	SaltLength = 16

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	redacted = "[REDACTED]"
)

// Secret is a plaintext access code. Every formatting path redacts it;
// Reveal is the only way to read the value.
type Secret struct {
	value string
}

// Reveal returns the plaintext. Call it only when writing the creation
// response.
func (s Secret) Reveal() string { return s.value }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s.value == "" }

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Format keeps %v, %s, %q and %#v from leaking the value.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// MarshalJSON redacts the secret in any JSON encoding.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalText redacts the secret for text encoders such as zap.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Stored is the persisted half of a credential.
type Stored struct {
	Hash []byte
	Salt []byte
}

// Vault mints credentials from a source of randomness.
type Vault struct {
	rand io.Reader
}

// NewVault creates a vault reading from r. A nil reader uses crypto/rand.
func NewVault(r io.Reader) *Vault {
	if r == nil {
		r = rand.Reader
	}
	return &Vault{rand: r}
}

var defaultVault = NewVault(nil)

// Mint creates a credential with crypto/rand.
func Mint() (Secret, Stored, error) {
	return defaultVault.Mint()
}

// Mint creates a new secret, a fresh salt and the matching hash.
func (v *Vault) Mint() (Secret, Stored, error) {
	code, err := v.randomCode()
	if err != nil {
		return Secret{}, Stored{}, err
	}

	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(v.rand, salt); err != nil {
		return Secret{}, Stored{}, fmt.Errorf("generate salt: %w", err)
	}

	return Secret{value: code}, Stored{Hash: Hash(code, salt), Salt: salt}, nil
}

// randomCode draws SecretLength characters without modulo bias.
func (v *Vault) randomCode() (string, error) {
	const maxByte = 256 - (256 % len(alphabet))

	var sb strings.Builder
	sb.Grow(SecretLength)
	buf := make([]byte, SecretLength*2)
	for sb.Len() < SecretLength {
		if _, err := io.ReadFull(v.rand, buf); err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			sb.WriteByte(alphabet[int(b)%len(alphabet)])
			if sb.Len() == SecretLength {
				break
			}
		}
	}
	return sb.String(), nil
}

// Hash computes SHA-256(secret || UPPERHEX(salt)).
func Hash(secret string, salt []byte) []byte {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write([]byte(strings.ToUpper(hex.EncodeToString(salt))))
	return h.Sum(nil)
}

// Verify reports whether secret matches the stored credential. Lower-case
// input is accepted; anything malformed is simply false.
func Verify(secret string, stored Stored) bool {
	candidate := Normalize(secret)
	wellFormed := isWellFormed(candidate) && len(stored.Salt) > 0 && len(stored.Hash) == sha256.Size

	// The hash is computed even for malformed input so the cost of a
	// rejection does not depend on which check failed.
	sum := Hash(candidate, stored.Salt)
	match := subtle.ConstantTimeCompare(sum, stored.Hash) == 1
	return wellFormed && match
}

// Normalize trims and upper-cases a user-typed access code.
func Normalize(secret string) string {
	return strings.ToUpper(strings.TrimSpace(secret))
}

func isWellFormed(code string) bool {
	if len(code) != SecretLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

var decoy = Stored{
	Hash: Hash("00000000", []byte("decoy-credential")),
	Salt: []byte("decoy-credential"),
}

// Decoy returns a fixed credential that no minted secret is expected to
// match. Lookups for unknown case numbers verify against it so they cost
// the same as lookups with a wrong secret.
func Decoy() Stored {
	return decoy
}
