package crypto

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeyLen)
}

func TestReceiptSigner(t *testing.T) {
	signer, err := NewReceiptSigner(testKey())
	require.NoError(t, err)
	assert.Len(t, signer.KeyID(), 8)

	payload := []byte(`{"contest_id":"c1","total":"200.00"}`)
	sig := signer.Sign(payload)
	require.NoError(t, signer.Verify(payload, sig))

	tampered := []byte(`{"contest_id":"c1","total":"900.00"}`)
	assert.ErrorIs(t, signer.Verify(tampered, sig), ErrBadSignature)

	other, err := NewReceiptSigner(bytes.Repeat([]byte{0x01}, KeyLen))
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(payload, sig), ErrBadSignature)
	assert.NotEqual(t, signer.KeyID(), other.KeyID())

	assert.NotContains(t, signer.String(), hex.EncodeToString(testKey()))

	_, err = NewReceiptSigner([]byte("short"))
	assert.Error(t, err)
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(testKey(), "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey(), got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey([]byte("short"), "hunter2")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	raw := hex.EncodeToString(testKey())

	t.Run("raw hex", func(t *testing.T) {
		key, err := LoadKey(KeyConfig{RawKey: "0x" + raw})
		require.NoError(t, err)
		assert.Equal(t, testKey(), key)
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKey(), "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "receipt.key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		key, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, testKey(), key)
	})

	t.Run("passphrase", func(t *testing.T) {
		a, err := LoadKey(KeyConfig{Passphrase: "correct horse", Salt: "scorepeers"})
		require.NoError(t, err)
		b, err := DeriveKey("correct horse", "scorepeers")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, KeyLen)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{})
		assert.Error(t, err)
	})

	t.Run("short raw key", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{RawKey: "abcd"})
		assert.Error(t, err)
	})
}
