// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config holds the two configuration layers of the integration:
// AppConfig, the daemon settings resolved from defaults, a YAML file and
// EMBY_INTG_* environment variables, and Store, the Emby connection settings
// persisted by the setup flow.
package config
