// Package crypto loads the receipt signing key and signs settlement
// receipts with HMAC-SHA256.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	// KeyLen is the length of signing and AES keys in bytes.
	KeyLen         = 32
	currentVersion = 1
)

// encryptedKeyJSON is the on-disk format of an encrypted signing key.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the receipt signing key comes from. The first
// non-empty source wins: RawKey, then EncryptedKeyPath, then Passphrase.
type KeyConfig struct {
	// RawKey is a hex-encoded 32-byte key.
	RawKey string
	// EncryptedKeyPath is a file produced by EncryptKey, opened with
	// KeyPassword.
	EncryptedKeyPath string
	KeyPassword      string
	// Passphrase and Salt derive the key with PBKDF2.
	Passphrase string
	Salt       string
}

// DeriveKey stretches a passphrase into a signing key with
// PBKDF2-HMAC-SHA256.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}
	if len(salt) < 8 {
		return nil, errors.New("crypto: salt must be at least 8 bytes")
	}
	return pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Iterations, KeyLen, sha256.New), nil
}

// EncryptKey encrypts a raw signing key with a password using PBKDF2 key
// derivation and AES-256-GCM. It returns the JSON blob to write to disk.
func EncryptKey(key []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if len(key) != KeyLen {
		return nil, fmt.Errorf("crypto: expected %d-byte key, got %d bytes", KeyLen, len(key))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := encryptedKeyJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, key, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey reverses EncryptKey.
func DecryptKey(encryptedJSON []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	key, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return key, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, KeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the signing key from cfg.
func LoadKey(cfg KeyConfig) ([]byte, error) {
	if cfg.RawKey != "" {
		key, err := hex.DecodeString(strings.TrimPrefix(cfg.RawKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: raw key is not valid hex: %w", err)
		}
		if len(key) != KeyLen {
			return nil, fmt.Errorf("crypto: raw key must be %d bytes, got %d", KeyLen, len(key))
		}
		return key, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	if cfg.Passphrase != "" {
		return DeriveKey(cfg.Passphrase, cfg.Salt)
	}

	return nil, errors.New("crypto: no signing key source configured")
}
