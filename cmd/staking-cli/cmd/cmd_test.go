package cmd

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-core/pkg/keystore"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestInspect(t *testing.T) {
	path := writeFile(t, "facts.json", `[
		{"account":"0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d","chain":"polkadot","kind":"round","payload":{"round":{"current":6}}},
		{"account":"0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d","chain":"polkadot","program":"pool","kind":"pool_member",
		 "payload":{"member":{"pool_id":1,"points":"100","last_recorded_reward_counter":"0"}}}
	]`)

	out, err := run(t, "inspect", "--facts", path, "--program", "pool")
	require.NoError(t, err)

	var snap struct {
		Kind    string `json:"kind"`
		Version uint64 `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, uint64(2), snap.Version)
	assert.NotEmpty(t, snap.Kind)

	_, err = run(t, "inspect", "--facts", path, "--program", "savings")
	assert.Error(t, err)
}

func TestRedeemable(t *testing.T) {
	path := writeFile(t, "unbonding.json", `[
		{"key":"0xbb","amount":"5","release_at":10},
		{"key":"0xaa","amount":"7","release_at":12},
		{"key":"0xbb","amount":"3","release_at":20}
	]`)

	out, err := run(t, "redeemable", "--requests", path, "--round", "12")
	require.NoError(t, err)

	var view struct {
		Round      uint32 `json:"round"`
		Redeemable struct {
			Amount  string   `json:"amount"`
			Keys    []string `json:"keys"`
			Entries int      `json:"entries"`
		} `json:"redeemable"`
		Pending []struct {
			RoundsLeft uint32 `json:"rounds_left"`
		} `json:"pending"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, uint32(12), view.Round)
	assert.Equal(t, "12", view.Redeemable.Amount)
	assert.Equal(t, []string{"0xaa", "0xbb"}, view.Redeemable.Keys)
	assert.Equal(t, 2, view.Redeemable.Entries)
	require.Len(t, view.Pending, 1)
	assert.Equal(t, uint32(8), view.Pending[0].RoundsLeft)
}

func TestRedeemableMissingFile(t *testing.T) {
	_, err := run(t, "redeemable", "--requests", filepath.Join(t.TempDir(), "nope.json"), "--round", "1")
	assert.Error(t, err)
}

func TestKeystoreImport(t *testing.T) {
	dir := t.TempDir()
	seed := "0x" + strings.Repeat("07", 32)
	account := ed25519Account(t, bytes.Repeat([]byte{0x07}, 32))

	t.Setenv("SIGNER_PASSWORD", "pw")
	out, err := run(t, "keystore", "import", "--account", account, "--seed", seed, "--dir", dir, "--light")
	require.NoError(t, err)
	assert.Contains(t, out, dir)

	files, err := keystore.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	got, err := files[0].Decrypt("pw")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x07}, 32), got)

	// 种子与账户不匹配
	other := "0x" + strings.Repeat("ab", 32)
	_, err = run(t, "keystore", "import", "--account", other, "--seed", seed, "--dir", dir, "--light")
	assert.Error(t, err)
}

func ed25519Account(t *testing.T, seed []byte) string {
	t.Helper()
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return "0x" + hex.EncodeToString(pub)
}
