package multistore

import (
	"context"
	"fmt"
)

// Initialization modes.
const (
	InitModeAlways = "always"
	// InitModeEmbedded runs the scripts only on embedded databases (SQLite).
	InitModeEmbedded = "embedded"
	InitModeNever    = "never"
)

// InitializationConfig lists the SQL scripts run on a datasource when it is
// opened. Schema scripts run before data scripts.
type InitializationConfig struct {
	Mode            string   `yaml:"mode,omitempty"`
	SchemaLocations []string `yaml:"schema-locations,omitempty"`
	DataLocations   []string `yaml:"data-locations,omitempty"`
	Separator       string   `yaml:"separator,omitempty"`
	ContinueOnError bool     `yaml:"continue-on-error,omitempty"`
}

func (c InitializationConfig) enabledFor(driver string) bool {
	switch c.Mode {
	case InitModeAlways:
		return true
	case InitModeNever:
		return false
	}

	return driver == DriverSqlite || driver == DriverSqlite3
}

// Initialize runs the scripts of cfg on ds. Scripts are read with the
// registry's script reader.
func (ds *DataSource) Initialize(ctx context.Context, cfg InitializationConfig) error {
	logger := ds.logger.With().Str("datasource", ds.Name).Logger()

	if !cfg.enabledFor(ds.Driver) {
		logger.Debug().Str("mode", cfg.Mode).Msg("skipping datasource initialization")
		return nil
	}

	if !ds.IsSQL() {
		logger.Warn().Msg("initialization scripts are ignored on non SQL datasources")
		return nil
	}

	locations := append(append([]string{}, cfg.SchemaLocations...), cfg.DataLocations...)
	for _, loc := range locations {
		script, err := ds.readScript(loc)
		if err != nil {
			return fmt.Errorf("datasource %q: reading script %s: %w", ds.Name, loc, err)
		}

		for _, stmt := range splitStatements(string(script), cfg.Separator) {
			if _, err := ds.db.ExecContext(ctx, stmt); err != nil {
				err = ds.dialect.wrapError(err)
				if !cfg.ContinueOnError {
					return fmt.Errorf("datasource %q: script %s failed: %w", ds.Name, loc, err)
				}

				logger.Warn().Err(err).Str("script", loc).Msg("statement failed, continuing")
			}
		}

		logger.Info().Str("script", loc).Msg("executed initialization script")
	}

	return nil
}
