// Package config provides centralized configuration management for the
// treasury daemon: a JSON configuration file for behavioural knobs, a YAML
// chain registry resolved by name, and environment variables (optionally
// loaded from a .env file) for secrets such as the treasury private key.
package config
