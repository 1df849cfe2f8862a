// Package config loads the client configuration from YAML and the
// environment.
//
// Precedence, highest first: CURSORSYNC_* environment variables, the YAML
// file (with ${VAR} expansion), built-in defaults.
package config
