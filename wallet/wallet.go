// Package wallet discovers registration credentials from the local wallet
// directory layout: one directory per coldkey, each with a hotkeys/
// subdirectory holding one entry per hotkey.
package wallet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tensorwatch/subreg/registrar"
)

// DefaultDir returns the conventional wallet directory location.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bittensor/wallets"
	}
	return filepath.Join(home, ".bittensor", "wallets")
}

// Discover scans root for credentials, ordered by coldkey then hotkey name.
// A missing root is not an error; it yields an empty list.
func Discover(root string) ([]registrar.Credential, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading wallet directory %s: %w", root, err)
	}

	var creds []registrar.Credential
	for _, coldkey := range entries {
		if !coldkey.IsDir() || strings.HasPrefix(coldkey.Name(), ".") {
			continue
		}
		hotkeys, err := os.ReadDir(filepath.Join(root, coldkey.Name(), "hotkeys"))
		if err != nil {
			continue
		}
		for _, hotkey := range hotkeys {
			name := hotkey.Name()
			if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".git") {
				continue
			}
			creds = append(creds, registrar.Credential{
				Coldkey: coldkey.Name(),
				Hotkey:  name,
			})
		}
	}
	return creds, nil
}

// Select filters credentials by "coldkey/hotkey" specs. An empty spec list
// selects everything. Unknown specs are reported as an error rather than
// silently dropped.
func Select(available []registrar.Credential, specs []string) ([]registrar.Credential, error) {
	if len(specs) == 0 {
		return available, nil
	}

	byName := make(map[string]registrar.Credential, len(available))
	for _, cred := range available {
		byName[cred.String()] = cred
	}

	var selected []registrar.Credential
	for _, spec := range specs {
		cred, ok := byName[strings.TrimSpace(spec)]
		if !ok {
			return nil, fmt.Errorf("unknown wallet %q", spec)
		}
		selected = append(selected, cred)
	}
	return selected, nil
}
