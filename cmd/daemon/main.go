// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

// SPDX-License-Identifier: MIT
package main

import (
	"fmt"
	"os"

	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/version"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           version.Name,
		Short:         "Emby session integration for Unfolded Circle remotes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to daemon config file (YAML)")

	root.AddCommand(
		newServeCmd(opts),
		newSessionsCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// loadConfig resolves the daemon config with precedence ENV > file > defaults.
func loadConfig(opts *rootOptions) (config.AppConfig, error) {
	return config.NewLoader(opts.configPath, version.Version).Load()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		if config.IsValidationError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
