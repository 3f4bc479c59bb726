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
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// retrieveCmd recovers a protected key blob
var retrieveCmd = &cobra.Command{
	Use:   "retrieve <dir>",
	Short: "Recover the protected key from a key directory",
	Long: `Retrieve reverses store: given the same secret (and auth token)
used at store time it reconstructs the protected key. With --output the
raw key is written to a file; otherwise it is printed base64-encoded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		secret, _ := cmd.Flags().GetString("secret")
		tokenFile, _ := cmd.Flags().GetString("token-file")
		output, _ := cmd.Flags().GetString("output")

		auth, err := readAuthentication(secret, tokenFile)
		if err != nil {
			return err
		}
		service, err := buildService()
		if err != nil {
			return err
		}
		key, err := service.Retrieve(dir, auth)
		if err != nil {
			return err
		}
		if output != "" {
			if err := os.WriteFile(output, key, 0600); err != nil {
				return fmt.Errorf("write key to %s: %w", output, err)
			}
			fmt.Printf("wrote %d byte key to %s\n", len(key), output)
			return nil
		}
		fmt.Println(base64.StdEncoding.EncodeToString(key))
		return nil
	},
}

func init() {
	retrieveCmd.Flags().String("secret", "", "user secret protecting the key")
	retrieveCmd.Flags().String("token-file", "", "file holding a raw hardware auth token")
	retrieveCmd.Flags().StringP("output", "o", "", "write the raw key to this file")
}
