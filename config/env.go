package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none
// are given) into the process environment. Variables that are already set
// are not overwritten. A missing file is not an error; the returned bool
// reports whether anything was loaded.
func LoadDotEnv(filenames ...string) (bool, error) {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}

	if err := godotenv.Load(filenames...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ApplyEnv overlays environment variables named by the `env` struct tags
// onto cfg. Unset variables leave the current values untouched.
func ApplyEnv(cfg *Config) error {
	return env.Parse(cfg)
}
