package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionScheme selects how a secret is protected at rest.
type EncryptionScheme string

const (
	SchemePlaintext EncryptionScheme = "plaintext"
	SchemeAES       EncryptionScheme = "aes"
)

const (
	parentalHashIterations = 1000
	parentalHashLength     = 32
	machineKeyIterations   = 20000
)

// machineKey derives the AES key bound to this machine. Secrets encrypted
// with it do not survive being copied to another host, which is the point.
func machineKey() []byte {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "shepherd"
	}
	return pbkdf2.Key([]byte(hostname), []byte("shepherd.secret.v1"), machineKeyIterations, 32, sha256.New)
}

// Encrypt protects a secret with the given scheme. The AES scheme returns
// base64(nonce || ciphertext) under AES-256-GCM with the machine key.
func Encrypt(scheme EncryptionScheme, plaintext string) (string, error) {
	switch scheme {
	case SchemePlaintext, "":
		return plaintext, nil
	case SchemeAES:
		block, err := aes.NewCipher(machineKey())
		if err != nil {
			return "", fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return "", fmt.Errorf("failed to create GCM: %w", err)
		}
		nonce := make([]byte, gcm.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("failed to generate nonce: %w", err)
		}
		sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
		return base64.StdEncoding.EncodeToString(sealed), nil
	default:
		return "", fmt.Errorf("unknown encryption scheme %q", scheme)
	}
}

// Decrypt reverses Encrypt for the given scheme.
func Decrypt(scheme EncryptionScheme, stored string) (string, error) {
	switch scheme {
	case SchemePlaintext, "":
		return stored, nil
	case SchemeAES:
		sealed, err := base64.StdEncoding.DecodeString(stored)
		if err != nil {
			return "", fmt.Errorf("failed to decode secret: %w", err)
		}
		block, err := aes.NewCipher(machineKey())
		if err != nil {
			return "", fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return "", fmt.Errorf("failed to create GCM: %w", err)
		}
		if len(sealed) < gcm.NonceSize() {
			return "", fmt.Errorf("secret too short")
		}
		nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
		plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt secret: %w", err)
		}
		return string(plaintext), nil
	default:
		return "", fmt.Errorf("unknown encryption scheme %q", scheme)
	}
}

// GenerateParentalHash computes the recoverable hash of a parental-control
// code under the service's scheme.
func GenerateParentalHash(code string, salt []byte) []byte {
	return pbkdf2.Key([]byte(code), salt, parentalHashIterations, parentalHashLength, sha256.New)
}

// VerifyParentalCode checks a candidate code against a stored hash.
func VerifyParentalCode(code string, salt, hash []byte) bool {
	return hmac.Equal(GenerateParentalHash(code, salt), hash)
}

// RecoverParentalCode searches the 4-digit code space for the code matching
// the stored hash. Returns "" when nothing matches (corrupt hash or a code
// outside the expected space).
func RecoverParentalCode(salt, hash []byte) string {
	code := make([]byte, 4)
	for i := 0; i < 10000; i++ {
		code[0] = '0' + byte(i/1000)
		code[1] = '0' + byte(i/100%10)
		code[2] = '0' + byte(i/10%10)
		code[3] = '0' + byte(i%10)
		if VerifyParentalCode(string(code), salt, hash) {
			return string(code)
		}
	}
	return ""
}
