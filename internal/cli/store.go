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

	"github.com/spf13/cobra"
)

// storeCmd protects a key blob in a new key directory
var storeCmd = &cobra.Command{
	Use:   "store <dir>",
	Short: "Protect a key blob in a new key directory",
	Long: `Store wraps the key read from --key-file under the given secret
(and optional hardware auth token) and persists the protected record in
a freshly created directory.

Example:
  keystorectl store /var/lib/keystorage/volume1 --secret hunter2 --key-file volume1.key`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		secret, _ := cmd.Flags().GetString("secret")
		tokenFile, _ := cmd.Flags().GetString("token-file")
		keyFile, _ := cmd.Flags().GetString("key-file")

		auth, err := readAuthentication(secret, tokenFile)
		if err != nil {
			return err
		}
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("read key file %s: %w", keyFile, err)
		}
		service, err := buildService()
		if err != nil {
			return err
		}
		if err := service.Store(dir, auth, key); err != nil {
			return err
		}
		fmt.Printf("stored %d byte key in %s\n", len(key), dir)
		return nil
	},
}

func init() {
	storeCmd.Flags().String("secret", "", "user secret protecting the key")
	storeCmd.Flags().String("token-file", "", "file holding a raw hardware auth token")
	storeCmd.Flags().String("key-file", "", "file holding the raw key to protect")
	_ = storeCmd.MarkFlagRequired("key-file")
}
