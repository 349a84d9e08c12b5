package config

import _ "embed"

//go:embed sample_config.toml
var sampleConfig string

// Sample returns the commented sample configuration shipped with the binary.
func Sample() string {
	return sampleConfig
}
