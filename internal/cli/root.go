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

// Package cli implements the keystorectl command line interface.
package cli

import (
	"github.com/jeremyhahn/go-keystorage/internal/config"
	"github.com/jeremyhahn/go-keystorage/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	configFile string
	debugFlag  bool

	cfg *config.Config
	log *logging.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "keystorectl",
	Short: "keystorectl - protect a raw key at rest under a user secret",
	Long: `keystorectl manages directory-per-key credential protection.

A stored key is wrapped either by a hardware-module-bound key tied to the
authentication factor, or by software AES-256-GCM derived from it. The
same factor must be presented to retrieve the key; destruction securely
discards the on-disk artifacts and invalidates the hardware key.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		if debugFlag {
			cfg.Debug = true
		}
		log = logging.NewLogger(cfg.Debug)
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is $HOME/.keystorage.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging")

	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
