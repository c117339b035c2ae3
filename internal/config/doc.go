// Package config handles configuration loading for convertbot.
//
// # Overview
//
// Configuration is read from a TOML file (or YAML when the file ends in
// .yaml or .yml), decoded over built-in defaults, and validated before use.
//
// # Configuration File
//
// Default location, first match wins:
//
//  1. Path from CONVERTBOT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/convertbot/config.toml
//  3. ~/.config/convertbot/config.toml
//
// A .env file in the working directory is loaded into the environment
// before the config is read.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	[backend]
//	api_key = "${CLOUDMERSIVE_API_KEY}"
//
// When backend.api_key is empty after expansion, CLOUDMERSIVE_API_KEY is
// used directly.
//
// # Configuration Sections
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	username = "convertbot"
//	password = "${MATRIX_PASSWORD}"
//	encryption = true
//	allowed_rooms = []
//	typing_indicator = true
//
//	[backend]
//	base_url = "https://api.cloudmersive.com"
//	timeout = "60s"
//	max_concurrent = 4
//
//	[staging]
//	dir = "/var/lib/convertbot/staging"
//	max_file_size = 10485760
//	ttl = "1h"
//	sweep_interval = "10m"
//
//	[bot]
//	command_prefix = "!"
//	idle_reply = "ignore"   # ignore, remind
//	history_limit = 10
//
//	[database]
//	path = "/var/lib/convertbot/convertbot.db"
//
//	[logging]
//	level = "info"   # debug, info, warn, error
//	format = "text"  # text, json
//
// Durations use time.ParseDuration syntax. Unknown keys are rejected.
package config
