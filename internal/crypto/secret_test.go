package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	pbkdf2Iterations = 1000
	os.Exit(m.Run())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("api-secret-value", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "api-secret-value")

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "api-secret-value", got)

	_, err = DecryptSecret(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptRejectsEmptyInput(t *testing.T) {
	_, err := EncryptSecret("s", "")
	require.Error(t, err)
	_, err = EncryptSecret("  ", "pw")
	require.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	s, err := LoadSecret(SecretConfig{Raw: " raw ", FilePath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, "raw", s)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	s, err = LoadSecret(SecretConfig{FilePath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", s)

	_, err = LoadSecret(SecretConfig{})
	require.ErrorIs(t, err, ErrNoSecret)
}
