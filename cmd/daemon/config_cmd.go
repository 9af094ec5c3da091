// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"io"

	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the daemon configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return showConfig(cfg, cmd.OutOrStdout())
		},
	})
	return cmd
}

type storedSettings struct {
	Path       string `yaml:"path"`
	Configured bool   `yaml:"configured"`
	ServerURL  string `yaml:"server_url,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	UserID     string `yaml:"user_id,omitempty"`
}

func showConfig(cfg config.AppConfig, out io.Writer) error {
	if _, err := fmt.Fprintf(out, "# daemon\n%s", cfg); err != nil {
		return err
	}

	store, err := config.OpenStore(cfg.DataDir)
	if err != nil {
		return err
	}
	s := store.Settings()
	view := storedSettings{
		Path:       store.Path(),
		Configured: s.Valid(),
		ServerURL:  s.ServerURL,
		UserID:     s.UserID,
	}
	if s.APIKey != "" {
		view.APIKey = config.MaskKey(s.APIKey)
	}
	data, err := yaml.Marshal(view)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "# integration settings\n%s", data)
	return err
}
