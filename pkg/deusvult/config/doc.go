/*
Package config loads process configuration for deusvult.

# Overview

Config holds a decoded settings tree. Accessors take dotted paths and fall
back to a default on missing keys or type mismatches. Settings is the typed
view the rest of the program consumes: deployment metadata (app_env, stage),
logging, tracing and the trace record sink.

# File Loading

Files are merged in order, so a local file can override a shared one:

	cfg, err := config.FromFiles("deusvult.yaml", "local.toml")
	batch := cfg.Int("sink.batch_size", 100)

Or, for the typed view with environment overrides applied:

	settings, err := config.LoadSettings("deusvult.yaml", "local.toml")

# Environment Overrides

	DEUSVULT_APP_ENV    app_env
	DEUSVULT_STAGE      stage
	DEUSVULT_LOG_LEVEL  log.level
	DEUSVULT_DATABASE   database
	DEUSVULT_SINK       sink.kind

# Thread Safety

Config is safe for concurrent read access. Merge builds a new tree and
leaves its inputs untouched.
*/
package config
