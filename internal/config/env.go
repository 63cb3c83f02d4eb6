package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Environment holds the defaults organproj takes from the environment.
// Command-line flags override every field.
type Environment struct {
	BCPD       string `env:"ORGANPROJ_BCPD"    envDefault:"bcpd"`
	ScratchDir string `env:"ORGANPROJ_SCRATCH"`
	DB         string `env:"ORGANPROJ_DB"`
	Params     string `env:"ORGANPROJ_PARAMS"`
}

// LoadEnvironment reads Environment from the process environment.
func LoadEnvironment() (Environment, error) {
	var e Environment
	if err := env.Parse(&e); err != nil {
		return Environment{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
