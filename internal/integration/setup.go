// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package integration

import (
	"github.com/mase1981/uc-intg-emby/internal/config"
)

const setupTitle = "Emby Server Configuration"

// setupForm is the configuration form, prefilled with the stored settings.
func setupForm(cur config.Settings) *inputForm {
	serverURL := cur.ServerURL
	if serverURL == "" {
		serverURL = "http://"
	}
	return &inputForm{
		Title: localized(setupTitle),
		Settings: []setupField{
			{
				ID:    config.KeyServerURL,
				Label: localized("Server URL"),
				Field: map[string]textField{"text": {
					Value:       serverURL,
					Regex:       `^https?://.*`,
					Placeholder: "http://192.168.1.100:8096",
				}},
			},
			{
				ID:    config.KeyAPIKey,
				Label: localized("API Key"),
				Field: map[string]textField{"text": {Value: cur.APIKey}},
			},
			{
				ID:    config.KeyUserID,
				Label: localized("User ID (optional)"),
				Field: map[string]textField{"text": {Value: cur.UserID}},
			},
		},
	}
}
