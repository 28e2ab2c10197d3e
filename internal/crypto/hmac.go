package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// ReceiptSigner signs receipt payloads with HMAC-SHA256. The key ID lets
// verifiers pick the right key after a rotation.
type ReceiptSigner struct {
	key   []byte
	keyID string
}

// NewReceiptSigner creates a signer. The key ID is the first eight hex
// characters of SHA-256(key).
func NewReceiptSigner(key []byte) (*ReceiptSigner, error) {
	if len(key) < KeyLen {
		return nil, fmt.Errorf("crypto: signing key must be at least %d bytes", KeyLen)
	}
	sum := sha256.Sum256(key)
	return &ReceiptSigner{
		key:   append([]byte(nil), key...),
		keyID: hex.EncodeToString(sum[:4]),
	}, nil
}

// KeyID identifies the signing key without revealing it.
func (s *ReceiptSigner) KeyID() string {
	return s.keyID
}

// Sign returns the base64 HMAC-SHA256 of payload.
func (s *ReceiptSigner) Sign(payload []byte) string {
	return hmacSHA256Base64(s.key, payload)
}

// ErrBadSignature is returned by Verify when a payload was altered or signed
// with another key.
var ErrBadSignature = errors.New("crypto: signature mismatch")

// Verify checks sig against payload in constant time.
func (s *ReceiptSigner) Verify(payload []byte, sig string) error {
	want, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %w", err)
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (s *ReceiptSigner) String() string {
	return fmt.Sprintf("ReceiptSigner{key_id=%s}", s.keyID)
}

func hmacSHA256Base64(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
