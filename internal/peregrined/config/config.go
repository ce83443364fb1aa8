package config

import (
	"github.com/peregrine-desk/peregrine/internal/peregrined/options"
)

// Config is the running configuration structure of the peregrined service.
type Config struct {
	*options.Options
}

// CreateConfigFromOptions creates a running configuration instance based
func CreateConfigFromOptions(opts *options.Options) (*Config, error) {
	return &Config{opts}, nil
}
