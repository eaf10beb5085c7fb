// Package config provides configuration loading and validation for the arena server.
// It reads a YAML file over built-in defaults, applies ARENA_* environment overrides
// (optionally from a .env file) and validates every section before startup.
package config
