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

	"github.com/spf13/cobra"
)

// destroyCmd destroys a key directory best-effort
var destroyCmd = &cobra.Command{
	Use:   "destroy <dir>",
	Short: "Destroy a key directory",
	Long: `Destroy invalidates the hardware key, securely overwrites the
discardable artifacts and removes the directory. Every step is attempted
even if earlier ones fail; the command fails if any step failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		service, err := buildService()
		if err != nil {
			return err
		}
		if err := service.Destroy(dir); err != nil {
			return err
		}
		fmt.Printf("destroyed %s\n", dir)
		return nil
	},
}
