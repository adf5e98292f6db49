package multistore

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Repository[K comparable, T Entity[K]] interface {
	Get(ctx context.Context, id K, options ...QueryOption) (T, error)
	Select(ctx context.Context, filter map[string]any, options ...QueryOption) ([]T, error)
	Count(ctx context.Context, filter map[string]any, options ...QueryOption) (int64, error)
	Insert(ctx context.Context, value T, options ...QueryOption) (K, error)
	InsertAll(ctx context.Context, values []T, options ...QueryOption) ([]K, error)
	Update(ctx context.Context, id K, keyvals map[string]any, options ...QueryOption) error
	// Save inserts value when it is new and updates it otherwise.
	Save(ctx context.Context, value T, options ...QueryOption) (T, error)
	// BatchSave inserts the new values in batches of WithBatchSize and
	// updates the others in one call, all within one transaction. Generated
	// keys and initial versions are written back onto values.
	BatchSave(ctx context.Context, values []T, options ...QueryOption) ([]T, error)
	Delete(ctx context.Context, id []K, options ...QueryOption) error
	SQLQuery(ctx context.Context, dest any, sqlStr string, args []interface{}, options ...QueryOption) error
	SQLExec(ctx context.Context, sqlStr string, args []interface{}, options ...QueryOption) error
	Begin(ctx context.Context) (Transaction, error)
	GetTableDef() TableDef
}

type repository struct {
	Name       string
	Datasource string
	tableDef   TableDef
	modelType  reflect.Type
	logger     zerolog.Logger
	metrics    *Metrics
}

func newRepository[T any](tag string, opt *option) (repository, error) {
	var repo repository

	var entity T
	mtype := reflect.TypeOf(entity)
	if mtype == nil || mtype.Kind() != reflect.Ptr || mtype.Elem().Kind() != reflect.Struct {
		return repo, fmt.Errorf("%w: entity type must be a pointer to struct, got %v", ErrInvalidArgument, mtype)
	}

	def, err := createTableDef(mtype.Elem(), tag)
	if err != nil {
		return repo, err
	}

	if opt.name != "" {
		def.Name = opt.name
	}

	logger := opt.logger.With().
		Str("datasource", opt.datasource).
		Str("table", def.FullTableName()).
		Logger()

	return repository{
		Name:       def.Name,
		Datasource: opt.datasource,
		tableDef:   def,
		modelType:  mtype.Elem(),
		logger:     logger,
		metrics:    opt.metrics,
	}, nil
}

func (r repository) GetTableDef() TableDef {
	return r.tableDef
}

func (r repository) columnExists(name string) bool {
	_, ok := r.tableDef.Column(name)
	return ok
}

func (r repository) upserterOptions() []UpserterOption {
	return []UpserterOption{
		UpsertWithLogger(r.logger),
		UpsertWithMetrics(r.metrics, r.Datasource),
	}
}

func (r repository) sortFieldMap() map[string]string {
	fields := make(map[string]string, len(r.tableDef.Columns))
	for _, col := range r.tableDef.Columns {
		fields[strings.ToLower(col.Name)] = col.Name
	}

	return fields
}

// checkFilter rejects filter keys that are not columns of the model, which
// also keeps arbitrary text out of the generated where clause.
func (r repository) checkFilter(filter map[string]any) error {
	for k := range filter {
		if !r.columnExists(k) {
			return fmt.Errorf("%w: unknown column %q in filter of %s", ErrInvalidArgument, k, r.tableDef.FullTableName())
		}
	}

	return nil
}

func newEntity[T any](mtype reflect.Type) T {
	return reflect.New(mtype).Interface().(T)
}

func fieldValue(entity any, col ColumnInfo) any {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	return v.Field(col.FieldIndex).Interface()
}

// prepareVersions sets the initial version on every value of a versioned
// table.
func prepareVersions[T any](def TableDef, values []T) {
	if def.VersionKind == VersionNone {
		return
	}

	for _, val := range values {
		if v, ok := any(val).(Versioned); ok {
			v.SetVersion(def.VersionKind.InitialVersion())
		}
	}
}

// initValues converts the InitWith payload into the entity slice type.
func initValues[T any](values interface{}) ([]T, error) {
	vals, ok := values.([]T)
	if !ok {
		var entity T
		return nil, fmt.Errorf("%w: values to init should be []%T, got %T", ErrInvalidArgument, entity, values)
	}

	return vals, nil
}

// convertKey turns a driver value into the key type K.
func convertKey[K comparable](v any) (K, error) {
	var key K
	if k, ok := v.(K); ok {
		return k, nil
	}

	kt := reflect.TypeOf(key)
	rv := reflect.ValueOf(v)
	if kt == nil || !rv.IsValid() {
		return key, fmt.Errorf("cannot convert %T into key type %T", v, key)
	}

	switch {
	case isIntKind(rv.Kind()) && isIntKind(kt.Kind()):
		return rv.Convert(kt).Interface().(K), nil
	case rv.Kind() == reflect.Int64 && kt.Kind() == reflect.String:
		return reflect.ValueOf(strconv.FormatInt(rv.Int(), 10)).Convert(kt).Interface().(K), nil
	}

	return key, fmt.Errorf("cannot convert %T into key type %T", v, key)
}
