package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), ".encryption_key")
	k, err := NewKeyring(keyPath)
	require.NoError(t, err)

	plaintext := []byte("super-secret-api-key")
	ciphertext, err := k.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := k.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), ".encryption_key")
	k, err := NewKeyring(keyPath)
	require.NoError(t, err)

	ciphertext, err := k.Encrypt([]byte("value"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xFF
	_, err = k.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestNewKeyringPersistsGeneratedKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), ".encryption_key")
	k1, err := NewKeyring(keyPath)
	require.NoError(t, err)

	ciphertext, err := k1.Encrypt([]byte("value"))
	require.NoError(t, err)

	k2, err := NewKeyring(keyPath)
	require.NoError(t, err)
	decrypted, err := k2.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "value", string(decrypted))
}
