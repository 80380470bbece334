// File: cmd/nfpipe/helpers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/config"
	"github.com/momentics/hioload-nf/internal/logging"
)

// loadConfig reads the configuration named by --config, or the defaults
// plus environment when none is given, and applies command-line overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		if _, err := logging.ParseLevel(flags.logLevel); err != nil {
			return nil, api.ConfigError("--log-level %q", flags.logLevel).Wrap(err)
		}
		cfg.Log.Level = flags.logLevel
	}
	return cfg, nil
}
