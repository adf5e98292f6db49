package multistore

import "github.com/rs/zerolog"

type RepositoryOption func(o *option)

type option struct {
	initValues  interface{}
	name        string
	createTable bool
	datasource  string
	logger      zerolog.Logger
	metrics     *Metrics
}

func newOption(options []RepositoryOption) *option {
	opt := &option{logger: zerolog.Nop()}
	for _, op := range options {
		op(opt)
	}

	return opt
}

// InitWith seeds the repository with values through BatchSave when it is
// created. values must be a []T of the repository entity type.
func InitWith(values interface{}) RepositoryOption {
	return func(o *option) {
		o.initValues = values
	}
}

// WithName overrides the table or collection name taken from the model.
func WithName(name string) RepositoryOption {
	return func(o *option) {
		o.name = name
	}
}

// WithCreateTable creates the table from the model definition when it does
// not exist yet.
func WithCreateTable() RepositoryOption {
	return func(o *option) {
		o.createTable = true
	}
}

func WithLogger(logger zerolog.Logger) RepositoryOption {
	return func(o *option) {
		o.logger = logger
	}
}

// WithMetrics records batch statistics of the repository on m.
func WithMetrics(m *Metrics) RepositoryOption {
	return func(o *option) {
		o.metrics = m
	}
}

// WithDataSourceName labels logs and metrics of the repository.
func WithDataSourceName(name string) RepositoryOption {
	return func(o *option) {
		o.datasource = name
	}
}

type QueryOption func(o *queryOption)

type queryOption struct {
	Tx              Transaction
	Limit           int
	Offset          int64
	Sorter          []string
	IgnoreDuplicate bool
	BatchSize       int
}

func newQueryOption(options []QueryOption) *queryOption {
	opt := &queryOption{}
	for _, op := range options {
		op(opt)
	}

	return opt
}

// WithTransaction returns a QueryOption that sets the transaction
// to use for the query.
func WithTransaction(tx Transaction) QueryOption {
	return func(o *queryOption) {
		o.Tx = tx
	}
}

// WithLimit returns a QueryOption that sets the limit for the
// number of rows to return.
func WithLimit(limit int) QueryOption {
	return func(o *queryOption) {
		o.Limit = limit
	}
}

// WithOffset returns a QueryOption that sets the offset for the
// rows returned.
func WithOffset(offset int64) QueryOption {
	return func(o *queryOption) {
		o.Offset = offset
	}
}

// WithSorter returns a QueryOption that sets the sorting order for the query.
// The sorter parameter is a variadic slice of field names to sort by, prefixed by "-" for descending order, and prefixed by "+" for ascending order.
//
// example:
//
//	WithSorter("-name", "+age")
func WithSorter(sorter ...string) QueryOption {
	return func(o *queryOption) {
		o.Sorter = sorter
	}
}

// WithIgnoreDuplicate returns a QueryOption that sets IgnoreDuplicate
// to true. To be used with Insert operation. When set to true, duplicate rows will be discarded
func WithIgnoreDuplicate() QueryOption {
	return func(o *queryOption) {
		o.IgnoreDuplicate = true
	}
}

// WithBatchSize sets the number of new entities BatchSave sends per insert
// statement. Zero, the default, inserts all new entities in one statement.
func WithBatchSize(size int) QueryOption {
	return func(o *queryOption) {
		o.BatchSize = size
	}
}

type UpserterOption func(o *upserterOption)

type upserterOption struct {
	logger     zerolog.Logger
	metrics    *Metrics
	datasource string
}

// UpsertWithLogger logs every flushed batch at debug level.
func UpsertWithLogger(logger zerolog.Logger) UpserterOption {
	return func(o *upserterOption) {
		o.logger = logger
	}
}

// UpsertWithMetrics records every bulk call on m under the datasource label.
func UpsertWithMetrics(m *Metrics, datasource string) UpserterOption {
	return func(o *upserterOption) {
		o.metrics = m
		o.datasource = datasource
	}
}
