// Package config loads, normalizes, and validates reelhook configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REELHOOK_LLM_API_KEY. Named presets let operators keep several credential
// and prompt combinations side by side and swap them into the active file.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, trimmed endpoints, and clear validation errors.
package config
