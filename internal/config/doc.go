// Package config loads, normalizes, and validates MediaMiner configuration data.
//
// It supplies repository defaults (including the built-in provider list),
// expands user paths with tilde shortcuts, reads TOML files, and checks field
// constraints through struct tags. Credentials never live in the TOML file:
// providers name variables that resolve from the environment or from the
// dotenv credentials file, which Credentials reads fresh on every call.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
