// Package config loads and validates ganymede configuration from YAML
// with environment variable overrides.
//
// Loading order: file, defaults, GANYMEDE_* environment variables,
// validation. Malformed policy is a startup failure, never a
// per-request one.
package config
