package multistore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
)

// DataSource is one opened datasource of a Registry with its own connection
// pool and transactions.
type DataSource struct {
	Name    string
	Driver  string
	Primary bool

	db         *sqlx.DB
	dialect    dialect
	mongo      *mongo.Database
	logger     zerolog.Logger
	metrics    *Metrics
	readScript func(name string) ([]byte, error)
}

// DB returns the SQL database, or nil for a MongoDB datasource.
func (ds *DataSource) DB() *sqlx.DB {
	return ds.db
}

// Mongo returns the MongoDB database, or nil for a SQL datasource.
func (ds *DataSource) Mongo() *mongo.Database {
	return ds.mongo
}

func (ds *DataSource) IsSQL() bool {
	return ds.db != nil
}

func (ds *DataSource) Ping(ctx context.Context) error {
	if ds.IsSQL() {
		return ds.db.PingContext(ctx)
	}

	return ds.mongo.Client().Ping(ctx, nil)
}

// Begin starts a transaction usable with WithTransaction on every repository
// of this datasource.
func (ds *DataSource) Begin(ctx context.Context) (Transaction, error) {
	if !ds.IsSQL() {
		return beginMongoTransaction(ctx, ds.mongo)
	}

	tx, err := ds.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ds.dialect.wrapError(err)
	}

	return &sqlTransaction{Tx: tx}, nil
}

func (ds *DataSource) Close(ctx context.Context) error {
	if ds.IsSQL() {
		return ds.db.Close()
	}

	return ds.mongo.Client().Disconnect(ctx)
}

// NewRepository creates a repository for T on ds. Logger and metrics of the
// registry apply unless options override them.
func NewRepository[K comparable, T Entity[K]](ds *DataSource, options ...RepositoryOption) (Repository[K, T], error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: datasource must not be nil", ErrInvalidArgument)
	}

	opts := append([]RepositoryOption{
		WithDataSourceName(ds.Name),
		WithLogger(ds.logger),
		WithMetrics(ds.metrics),
	}, options...)

	if !ds.IsSQL() {
		return CreateMongoRepository[K, T](ds.mongo, "", opts...)
	}

	return createSQLRepository[K, T](ds.db, ds.dialect, opts...)
}

type RegistryOption func(o *registryOption)

type registryOption struct {
	logger     zerolog.Logger
	metrics    *Metrics
	readScript func(name string) ([]byte, error)
}

func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(o *registryOption) {
		o.logger = logger
	}
}

// WithRegistryMetrics shares m with every repository of the registry.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(o *registryOption) {
		o.metrics = m
	}
}

// WithScriptFS reads initialization scripts from fsys instead of the working
// directory.
func WithScriptFS(fsys fs.FS) RegistryOption {
	return func(o *registryOption) {
		o.readScript = func(name string) ([]byte, error) {
			return fs.ReadFile(fsys, name)
		}
	}
}

// Registry holds the datasources of a Config in configuration order.
type Registry struct {
	sources []*DataSource
	byName  map[string]*DataSource
	logger  zerolog.Logger
}

// Open opens every datasource of cfg and runs its initialization scripts.
// When one fails, the already opened datasources are closed again.
func Open(ctx context.Context, cfg *Config, options ...RegistryOption) (*Registry, error) {
	opt := &registryOption{
		logger:     zerolog.Nop(),
		readScript: os.ReadFile,
	}
	for _, op := range options {
		op(opt)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := &Registry{
		byName: make(map[string]*DataSource, len(cfg.DataSources)),
		logger: opt.logger,
	}

	if len(cfg.DataSources) == 0 {
		opt.logger.Warn().Msg("Cannot find any datasource, add at least one under datasources")
		return reg, nil
	}

	primary := cfg.PrimaryName()
	for _, dsc := range cfg.DataSources {
		ds, err := openDataSource(ctx, dsc, opt)
		if err != nil {
			_ = reg.Close(ctx)
			return nil, fmt.Errorf("datasource %q: %w", dsc.Name, err)
		}

		ds.Primary = dsc.Name == primary
		reg.sources = append(reg.sources, ds)
		reg.byName[ds.Name] = ds

		if dsc.Initialization != nil {
			if err := ds.Initialize(ctx, *dsc.Initialization); err != nil {
				_ = reg.Close(ctx)
				return nil, err
			}
		}

		opt.logger.Info().
			Str("datasource", ds.Name).
			Str("driver", ds.Driver).
			Bool("primary", ds.Primary).
			Msg("Initialized DataSource")
	}

	return reg, nil
}

// Get returns the datasource called name.
func (r *Registry) Get(name string) (*DataSource, error) {
	ds, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataSourceNotFound, name)
	}

	return ds, nil
}

// Primary returns the primary datasource, or nil for an empty registry.
func (r *Registry) Primary() *DataSource {
	for _, ds := range r.sources {
		if ds.Primary {
			return ds
		}
	}

	return nil
}

func (r *Registry) Names() []string {
	return Map(r.sources, func(ds *DataSource) string {
		return ds.Name
	})
}

// Close closes every datasource and joins their errors.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, ds := range r.sources {
		if err := ds.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing datasource %q: %w", ds.Name, err))
		}
	}

	return errors.Join(errs...)
}

func openDataSource(ctx context.Context, cfg DataSourceConfig, opt *registryOption) (*DataSource, error) {
	ds := &DataSource{
		Name:       cfg.Name,
		Driver:     cfg.Driver,
		logger:     opt.logger,
		metrics:    opt.metrics,
		readScript: opt.readScript,
	}

	if !cfg.IsSQL() {
		clientOpts := mongoOptions.Client().ApplyURI(cfg.URL)
		if cfg.Username != "" {
			clientOpts.SetAuth(mongoOptions.Credential{
				Username: cfg.Username,
				Password: cfg.Password,
			})
		}

		client, err := mongo.Connect(ctx, clientOpts)
		if err != nil {
			return nil, err
		}

		ds.mongo = client.Database(cfg.Database)
		return ds, nil
	}

	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := dataSourceName(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}

	configurePool(db, cfg)

	ds.db = db
	ds.dialect = d
	return ds, nil
}

// dataSourceName adds the configured credentials to the url of cfg.
func dataSourceName(cfg DataSourceConfig) (string, error) {
	switch cfg.Driver {
	case DriverPgx, DriverPostgres:
		if cfg.Username == "" || !strings.Contains(cfg.URL, "://") {
			return cfg.URL, nil
		}

		u, err := url.Parse(cfg.URL)
		if err != nil {
			return "", fmt.Errorf("%w: invalid url: %w", ErrInvalidConfig, err)
		}

		if u.User == nil {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		}
		return u.String(), nil

	case DriverMySQL:
		mc, err := mysql.ParseDSN(cfg.URL)
		if err != nil {
			return "", fmt.Errorf("%w: invalid dsn: %w", ErrInvalidConfig, err)
		}

		if mc.User == "" {
			mc.User = cfg.Username
			mc.Passwd = cfg.Password
		}
		mc.ParseTime = true
		mc.ClientFoundRows = true
		return mc.FormatDSN(), nil
	}

	return cfg.URL, nil
}

func configurePool(db *sqlx.DB, cfg DataSourceConfig) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 && isMemorySqlite(cfg) {
		// every connection to an in-memory database opens a new, empty one
		maxOpen = 1
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}

	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))
	}

	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime))
	}
}

func isMemorySqlite(cfg DataSourceConfig) bool {
	if cfg.Driver != DriverSqlite && cfg.Driver != DriverSqlite3 {
		return false
	}

	return strings.Contains(cfg.URL, ":memory:") || strings.Contains(cfg.URL, "mode=memory")
}
