package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	v, err := parseValue("amount", "1_000")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), v.Uint64())

	v, err = parseValue("fee", "")
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = parseValue("amount", "-3")
	assert.Error(t, err)
}

func TestKeyFlags_Load(t *testing.T) {
	kp, err := keys.DeriveFromSeed([]byte("cli"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte(kp.PrivateKeyHex()+"\n"), 0o600))

	fromFile, err := keyFlags{PrivateKeyFile: path}.load()
	require.NoError(t, err)
	assert.True(t, kp.PublicKey.Equal(fromFile.PublicKey))

	inline, err := keyFlags{PrivateKey: kp.PrivateKeyHex()}.load()
	require.NoError(t, err)
	assert.True(t, kp.PublicKey.Equal(inline.PublicKey))

	_, err = keyFlags{}.load()
	assert.Error(t, err)

	_, err = keyFlags{PrivateKey: "not hex"}.load()
	assert.True(t, errors.Is(err, errors.ErrInvalidSeed))
}

func TestLoadConfig_Default(t *testing.T) {
	c, err := loadConfig("")
	require.NoError(t, err)
	assert.NoError(t, c.Validate())
}
