// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package integration

import (
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// defaultLanguage keys every localized string the integration sends.
var defaultLanguage = language.English

// localized wraps text as a host language map. Device names come from
// arbitrary clients and are normalized to NFC.
func localized(text string) map[string]string {
	return map[string]string{defaultLanguage.String(): norm.NFC.String(text)}
}
