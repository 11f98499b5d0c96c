package commands

import (
	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/engine"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/logger"
)

// loadConfig loads the config cascade and applies the --db-path override
func loadConfig(dbPath string) (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// openEngine builds an engine from the loaded config
func openEngine(cfg *am.Config) (*engine.Engine, error) {
	e, err := engine.New(cfg, engine.WithLogger(logger.Logger.Named("engine")))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create engine")
	}
	return e, nil
}
