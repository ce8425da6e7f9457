// Package config defines the application configuration and loads it from
// command-line flags, RECSX_* environment variables, an optional .env file
// and an optional config.yaml, in that order of precedence.
package config
