// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keystorage.
//
// go-keystorage is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-keystorage/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keystorage/pkg/keymaster"
	"github.com/jeremyhahn/go-keystorage/pkg/keymaster/soft"
	"github.com/jeremyhahn/go-keystorage/pkg/keystore"
	"github.com/jeremyhahn/go-keystorage/pkg/shred"
)

// buildService assembles a keystore service from the loaded
// configuration, backed by the software keymaster. The soft module's
// root key is created on first use.
func buildService() (*keystore.Service, error) {
	return keystore.New(&keystore.Config{
		Logger:       log,
		ScryptParams: cfg.ScryptParams,
		OpenKeymaster: func() (keymaster.Keymaster, error) {
			rootKey, err := loadOrCreateRootKey(cfg.RootKeyFile)
			if err != nil {
				return nil, err
			}
			return soft.New(rootKey)
		},
		Shredder: shred.New(&shred.ExecExecutor{}, cfg.SecdiscardPath, cfg.RemovePath),
	})
}

// loadOrCreateRootKey reads the software keymaster root key, generating
// one with owner-only permissions if it does not exist yet.
func loadOrCreateRootKey(path string) ([]byte, error) {
	rootKey, err := os.ReadFile(path)
	if err == nil {
		if len(rootKey) != soft.RootKeySize {
			return nil, fmt.Errorf("root key %s should be %d bytes, was %d",
				path, soft.RootKeySize, len(rootKey))
		}
		return rootKey, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read root key %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create root key directory: %w", err)
	}
	rootKey, err = rand.NewSoftwareSource().ReadRandom(soft.RootKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate root key: %w", err)
	}
	if err := os.WriteFile(path, rootKey, 0600); err != nil {
		return nil, fmt.Errorf("write root key %s: %w", path, err)
	}
	return rootKey, nil
}

// readAuthentication builds the authentication factor from the common
// --secret and --token-file flags.
func readAuthentication(secret, tokenFile string) (keystore.Authentication, error) {
	auth := keystore.Authentication{Secret: []byte(secret)}
	if tokenFile != "" {
		token, err := os.ReadFile(tokenFile)
		if err != nil {
			return keystore.Authentication{}, fmt.Errorf("read auth token %s: %w", tokenFile, err)
		}
		auth.Token = token
	}
	return auth, nil
}
