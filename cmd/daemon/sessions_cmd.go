// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/emby"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
	"github.com/spf13/cobra"
)

var errNotConfigured = errors.New("integration is not configured: run setup from the remote first")

type sessionRow struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Title    string `json:"title,omitempty"`
	Commands int    `json:"supported_commands"`
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the live Emby sessions as the integration sees them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Emby.Timeout+5*time.Second)
			defer cancel()
			return listSessions(ctx, cfg, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func listSessions(ctx context.Context, cfg config.AppConfig, out io.Writer, asJSON bool) error {
	store, err := config.OpenStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	settings := store.Settings()
	if !settings.Valid() {
		return errNotConfigured
	}

	client := emby.NewClientWithOptions(settings.ServerURL, settings.APIKey, settings.UserID, embyOptions(cfg))
	defer client.Close()

	sessions, err := client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	rows := make([]sessionRow, 0, len(sessions))
	for _, s := range sessions {
		attrs := mediaplayer.Derive(s, client)
		rows = append(rows, sessionRow{
			EntityID: mediaplayer.EntityIDPrefix + s.ID,
			Name:     mediaplayer.DisplayName(s),
			State:    string(attrs.State),
			Title:    attrs.Title,
			Commands: len(s.SupportedCommands),
		})
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join([]string{"ENTITY", "NAME", "STATE", "TITLE"}, "\t"))
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.EntityID, r.Name, r.State, r.Title)
	}
	return tw.Flush()
}
