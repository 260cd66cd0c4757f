// Package vault provides authenticated encryption for connector credentials
// and settings blobs. Values are encrypted with AES-256-GCM using a random
// nonce per call; the opaque output format is structurally detectable so
// callers can distinguish an encrypted blob from a plain JSON object.
//
// The encryption key is read from REVIEWKIT_ENCRYPTION_KEY (32 bytes,
// hex or base64 encoded). When absent, a key is derived from
// REVIEWKIT_APP_SECRET via scrypt. The derivation path exists only to keep
// non-production environments functional; it is NOT a substitute for an
// operator-provided key and is logged as such at startup.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"

	gojson "github.com/goccy/go-json"
	"golang.org/x/crypto/scrypt"

	"github.com/reviewkit/reviewkit/pkg/errors"
	"github.com/reviewkit/reviewkit/pkg/logger"
)

const (
	// prefix marks the opaque encrypted format: encv1:base64(nonce||ciphertext||tag)
	prefix = "encv1:"

	keyEnv    = "REVIEWKIT_ENCRYPTION_KEY"
	secretEnv = "REVIEWKIT_APP_SECRET"

	keySize   = 32
	nonceSize = 12

	// scrypt parameters for the derivation fallback
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// derivationSalt keeps derived keys stable across restarts. The fallback
// path is for non-production use only; a fixed salt is acceptable there.
var derivationSalt = []byte("reviewkit-connector-vault")

// Vault encrypts and decrypts connector configuration blobs.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, errors.Newf(errors.ErrorTypeCrypto, "encryption key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCrypto, "failed to create cipher")
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCrypto, "failed to create GCM")
	}

	return &Vault{aead: aead}, nil
}

// FromEnv creates a Vault from the environment. REVIEWKIT_ENCRYPTION_KEY
// takes priority; without it the key is derived from REVIEWKIT_APP_SECRET.
// Neither being set is a hard error.
func FromEnv() (*Vault, error) {
	if raw := os.Getenv(keyEnv); raw != "" {
		key, err := decodeKey(raw)
		if err != nil {
			return nil, err
		}
		return New(key)
	}

	secret := os.Getenv(secretEnv)
	if secret == "" {
		return nil, errors.Newf(errors.ErrorTypeCrypto, "no encryption key: set %s or %s", keyEnv, secretEnv)
	}

	logger.Warn("deriving vault key from application secret; set " + keyEnv + " in production")

	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return New(key)
}

// DeriveKey derives a 32-byte key from an application secret via scrypt.
func DeriveKey(secret string) ([]byte, error) {
	key, err := scrypt.Key([]byte(secret), derivationSalt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCrypto, "key derivation failed")
	}
	return key, nil
}

// decodeKey accepts a hex or base64 encoded 32-byte key.
func decodeKey(raw string) ([]byte, error) {
	if key, err := hex.DecodeString(raw); err == nil && len(key) == keySize {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == keySize {
		return key, nil
	}
	return nil, errors.New(errors.ErrorTypeCrypto, "encryption key must be 32 bytes encoded as hex or base64")
}

// EncryptString encrypts a plaintext string into the opaque format.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeCrypto, "failed to generate nonce")
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// EncryptJSON marshals a value and encrypts the result.
func (v *Vault) EncryptJSON(value interface{}) (string, error) {
	data, err := gojson.Marshal(value)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeCrypto, "failed to marshal value for encryption")
	}
	return v.EncryptString(string(data))
}

// Decrypt reverses EncryptString. It fails loudly if the value is not in
// the opaque format or the authentication tag does not verify.
func (v *Vault) Decrypt(opaque string) (string, error) {
	if !IsEncrypted(opaque) {
		return "", errors.New(errors.ErrorTypeCrypto, "value is not in the encrypted format")
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(opaque, prefix))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeCrypto, "malformed encrypted value")
	}
	if len(sealed) < nonceSize+v.aead.Overhead() {
		return "", errors.New(errors.ErrorTypeCrypto, "encrypted value too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Tag verification failed: corrupted or tampered data must never
		// be returned as plaintext.
		return "", errors.Wrap(err, errors.ErrorTypeCrypto, "decryption failed: integrity check did not pass")
	}

	return string(plaintext), nil
}

// DecryptJSON decrypts an opaque value and unmarshals it into out.
func (v *Vault) DecryptJSON(opaque string, out interface{}) error {
	plaintext, err := v.Decrypt(opaque)
	if err != nil {
		return err
	}
	if err := gojson.Unmarshal([]byte(plaintext), out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCrypto, "failed to unmarshal decrypted value")
	}
	return nil
}

// IsEncrypted reports whether value is in the opaque encrypted format.
// The check is purely structural: prefix, valid base64, and a minimum
// length covering nonce plus tag.
func IsEncrypted(value string) bool {
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return false
	}
	return len(sealed) >= nonceSize+16
}

// Mask renders a secret as first4...last4 for safe display and logging.
// Secrets too short to expose any part are fully masked.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
