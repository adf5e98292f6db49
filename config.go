package multistore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported driver names of a datasource.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSqlite   = "sqlite"
	DriverSqlite3  = "sqlite3"
	DriverMongoDB  = "mongodb"
)

// Config is the configuration block of all datasources.
//
// Example:
//
//	primary: main
//	datasources:
//	  main:
//	    driver: pgx
//	    url: postgres://localhost/app
//	    password: ${APP_DB_PASSWORD}
//	  archive:
//	    driver: mongodb
//	    url: mongodb://localhost:27017
//	    database: archive
type Config struct {
	// Primary names the primary datasource. Empty means the first one.
	Primary string `yaml:"primary,omitempty"`

	Logging LoggingConfig `yaml:"logging"`

	// DataSources keeps the order of the YAML mapping.
	DataSources DataSourceConfigs `yaml:"datasources"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DataSourceConfig configures one named datasource.
type DataSourceConfig struct {
	Name     string `yaml:"-"`
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Database is the MongoDB database name.
	Database string `yaml:"database,omitempty"`

	MaxOpenConns    int      `yaml:"max-open-conns,omitempty"`
	MaxIdleConns    int      `yaml:"max-idle-conns,omitempty"`
	ConnMaxLifetime Duration `yaml:"conn-max-lifetime,omitempty"`
	ConnMaxIdleTime Duration `yaml:"conn-max-idle-time,omitempty"`

	Initialization *InitializationConfig `yaml:"initialization,omitempty"`
}

// IsSQL reports whether the datasource is opened through database/sql.
func (c DataSourceConfig) IsSQL() bool {
	return c.Driver != DriverMongoDB
}

// DataSourceConfigs decodes a YAML mapping of name to DataSourceConfig,
// keeping the mapping order.
type DataSourceConfigs []DataSourceConfig

func (d *DataSourceConfigs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("datasources must be a mapping, got %s at line %d", nodeKind(node), node.Line)
	}

	configs := make(DataSourceConfigs, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var ds DataSourceConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("datasource %q: %w", node.Content[i].Value, err)
		}

		ds.Name = node.Content[i].Value
		configs = append(configs, ds)
	}

	*d = configs
	return nil
}

// Duration is a time.Duration read from a string such as "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q at line %d: %w", s, node.Line, err)
	}

	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadConfig reads and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// ParseConfig expands ${VAR} references from the environment, decodes data
// and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// PrimaryName returns the name of the primary datasource, or "" when there
// is none.
func (c *Config) PrimaryName() string {
	if c.Primary != "" {
		return c.Primary
	}

	if len(c.DataSources) == 0 {
		return ""
	}

	return c.DataSources[0].Name
}

// Validate reports every problem of c joined into one error.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	seen := make(map[string]bool, len(c.DataSources))
	for _, ds := range c.DataSources {
		if ds.Name == "" {
			invalid("datasource name must not be empty")
		}

		if seen[ds.Name] {
			invalid("duplicate datasource %q", ds.Name)
		}
		seen[ds.Name] = true

		switch ds.Driver {
		case DriverPgx, DriverPostgres, DriverMySQL, DriverSqlite, DriverSqlite3, DriverMongoDB:
		case "":
			invalid("datasource %q: driver is required", ds.Name)
		default:
			invalid("datasource %q: unsupported driver %q", ds.Name, ds.Driver)
		}

		if ds.URL == "" {
			invalid("datasource %q: url is required", ds.Name)
		}

		if ds.Driver == DriverMongoDB && ds.Database == "" {
			invalid("datasource %q: database is required for mongodb", ds.Name)
		}

		if ds.MaxOpenConns < 0 || ds.MaxIdleConns < 0 || ds.ConnMaxLifetime < 0 || ds.ConnMaxIdleTime < 0 {
			invalid("datasource %q: pool settings must not be negative", ds.Name)
		}

		if ds.Initialization != nil {
			switch ds.Initialization.Mode {
			case "", InitModeAlways, InitModeEmbedded, InitModeNever:
			default:
				invalid("datasource %q: unknown initialization mode %q", ds.Name, ds.Initialization.Mode)
			}
		}
	}

	if c.Primary != "" && !seen[c.Primary] {
		invalid("primary datasource %q is not configured", c.Primary)
	}

	return errors.Join(errs...)
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	}

	return "mapping"
}
