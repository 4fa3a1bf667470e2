package keystore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = "0xD43593C715FDD31C61141ABD04A99FD6822C8558854CCDE39A5684E7A56DA27D"

func TestEncryptDecryptSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x07}, 32)

	f, err := EncryptSeed(account, "Ed25519", seed, "secure-password", LightParams)
	require.NoError(t, err)
	assert.Equal(t, "aes-256-gcm", f.Crypto.Cipher)
	assert.Equal(t, LightParams.N, f.Crypto.KDFParams.N)

	got, err := f.Decrypt("secure-password")
	require.NoError(t, err)
	assert.Equal(t, seed, got)

	_, err = f.Decrypt("wrong-password")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestCiphertextBoundToAccount(t *testing.T) {
	f, err := EncryptSeed(account, "Ed25519", []byte{1, 2, 3}, "pw", LightParams)
	require.NoError(t, err)

	f.Account = "0x8eaf04151687736326c9fea17e25fc5287613693c912909cb226aa4794f26a48"
	_, err = f.Decrypt("pw")
	assert.Error(t, err)
}

func TestSaveLoadDir(t *testing.T) {
	dir := t.TempDir()
	seed := bytes.Repeat([]byte{0x01}, 32)

	f, err := EncryptSeed(account, "Secp256k1", seed, "123456", LightParams)
	require.NoError(t, err)
	_, err = f.Save(dir)
	require.NoError(t, err)

	files, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, f.Id, files[0].Id)
	assert.Equal(t, "Secp256k1", files[0].KeyType)

	got, err := files[0].Decrypt("123456")
	require.NoError(t, err)
	assert.Equal(t, seed, got)
}
