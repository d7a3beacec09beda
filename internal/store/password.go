package store

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of a generated server-wide salt.
const SaltSize = 16

var errBadHash = errors.New("store: unrecognised password hash")

// HashParams are the argon2id cost parameters.
type HashParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultHashParams follow the OWASP baseline for argon2id.
var DefaultHashParams = HashParams{
	Time:    2,
	Memory:  19 * 1024,
	Threads: 1,
	KeyLen:  32,
}

// PasswordHasher hashes passwords with the single server-wide salt.
type PasswordHasher struct {
	salt   []byte
	params HashParams
}

// NewPasswordHasher returns a hasher bound to salt.
func NewPasswordHasher(salt []byte, params HashParams) (*PasswordHasher, error) {
	if len(salt) < 8 {
		return nil, fmt.Errorf("store: salt of %d bytes is too short", len(salt))
	}
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 || params.KeyLen == 0 {
		return nil, fmt.Errorf("store: invalid hash parameters %+v", params)
	}
	return &PasswordHasher{salt: append([]byte(nil), salt...), params: params}, nil
}

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("store: generate salt: %w", err)
	}
	return salt, nil
}

// Hash returns the PHC encoded argon2id hash of password.
func (h *PasswordHasher) Hash(password string) string {
	p := h.params
	key := argon2.IDKey([]byte(password), h.salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(key))
}

// VerifyPassword checks password against a hash produced by Hash. The cost
// parameters and salt are taken from the encoded hash itself.
func VerifyPassword(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return false, errBadHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errBadHash
	}

	var p HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return false, errBadHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errBadHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errBadHash
	}

	got := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func encodeSalt(salt []byte) string {
	return base64.RawStdEncoding.EncodeToString(salt)
}

func decodeSalt(s string) ([]byte, error) {
	salt, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("store: decode password salt: %w", err)
	}
	return salt, nil
}
