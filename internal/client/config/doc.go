// Package config loads runtime configuration for the envvault CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. ENVVAULT_TOKEN and command-line flags, which override earlier values.
//
// The access token is never read from the JSON file.
package config
