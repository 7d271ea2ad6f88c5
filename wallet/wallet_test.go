package wallet_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorwatch/subreg/registrar"
	"github.com/tensorwatch/subreg/wallet"
)

func writeKeystore(t *testing.T, layout map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	for coldkey, hotkeys := range layout {
		dir := filepath.Join(root, coldkey, "hotkeys")
		require.NoError(t, os.MkdirAll(dir, 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(root, coldkey, "coldkeypub.txt"), []byte("{}"), 0o600))
		for _, hotkey := range hotkeys {
			require.NoError(t, os.WriteFile(filepath.Join(dir, hotkey), []byte("{}"), 0o600))
		}
	}
	return root
}

func TestDiscover(t *testing.T) {
	t.Parallel()
	root := writeKeystore(t, map[string][]string{
		"default": {"miner1", "miner2"},
		"backup":  {"miner1"},
	})
	// Stray entries that must be skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hidden", "hotkeys"), 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "default", "hotkeys", ".DS_Store"), nil, 0o600))

	creds, err := wallet.Discover(root)
	require.NoError(t, err)
	require.Equal(t, []registrar.Credential{
		{Coldkey: "backup", Hotkey: "miner1"},
		{Coldkey: "default", Hotkey: "miner1"},
		{Coldkey: "default", Hotkey: "miner2"},
	}, creds)
}

func TestDiscoverMissingRoot(t *testing.T) {
	t.Parallel()
	creds, err := wallet.Discover(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, creds)
}

func TestSelect(t *testing.T) {
	t.Parallel()
	available := []registrar.Credential{
		{Coldkey: "default", Hotkey: "miner1"},
		{Coldkey: "default", Hotkey: "miner2"},
		{Coldkey: "backup", Hotkey: "miner1"},
	}

	selected, err := wallet.Select(available, nil)
	require.NoError(t, err)
	require.Equal(t, available, selected)

	selected, err = wallet.Select(available, []string{"backup/miner1", " default/miner2 "})
	require.NoError(t, err)
	require.Equal(t, []registrar.Credential{
		{Coldkey: "backup", Hotkey: "miner1"},
		{Coldkey: "default", Hotkey: "miner2"},
	}, selected)

	_, err = wallet.Select(available, []string{"default/nope"})
	require.ErrorContains(t, err, "unknown wallet")
}
