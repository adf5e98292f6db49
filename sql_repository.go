package multistore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jmoiron/sqlx"
)

type sqlRepository[K comparable, T Entity[K]] struct {
	repository
	db      *sqlx.DB
	dialect dialect
}

func newSQLRepository[K comparable, T Entity[K]](db *sqlx.DB, d dialect, options ...RepositoryOption) (*sqlRepository[K, T], error) {
	opt := newOption(options)

	base, err := newRepository[T]("db", opt)
	if err != nil {
		return nil, err
	}

	db.MapperFunc(strcase.ToSnake)

	repo := &sqlRepository[K, T]{
		repository: base,
		db:         db,
		dialect:    d,
	}

	ctx := context.Background()
	if opt.createTable {
		if err := repo.createTable(ctx); err != nil {
			return nil, err
		}
	}

	if err := repo.loadColumns(ctx); err != nil {
		return nil, err
	}

	if opt.initValues != nil {
		if err := repo.init(ctx, opt.initValues); err != nil {
			return nil, err
		}
	}

	return repo, nil
}

// createSQLRepository is newSQLRepository returning the Repository interface.
func createSQLRepository[K comparable, T Entity[K]](db *sqlx.DB, d dialect, options ...RepositoryOption) (Repository[K, T], error) {
	repo, err := newSQLRepository[K, T](db, d, options...)
	if err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *sqlRepository[K, T]) init(ctx context.Context, values interface{}) error {
	vals, err := initValues[T](values)
	if err != nil {
		return err
	}

	_, err = r.BatchSave(ctx, vals)
	return err
}

func (r *sqlRepository[K, T]) createTable(ctx context.Context) error {
	ddl, err := createTableDDL(r.dialect, r.tableDef)
	if err != nil {
		return err
	}

	r.logger.Debug().Str("ddl", ddl).Msg("creating table")
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return r.dialect.wrapError(err)
	}

	return nil
}

// loadColumns drops model columns the table does not have. Missing key or
// version columns are an error.
func (r *sqlRepository[K, T]) loadColumns(ctx context.Context) error {
	def := r.tableDef
	cols, err := r.dialect.columns(ctx, r.db, def)
	if err != nil {
		return r.dialect.wrapError(err)
	}

	if len(cols) == 0 {
		return fmt.Errorf("table %s does not exist in datasource %q", def.FullTableName(), r.Datasource)
	}

	existing := make(map[string]struct{}, len(cols))
	for _, col := range cols {
		existing[strings.ToLower(col.ColumnName)] = struct{}{}
	}

	kept := Filter(def.Columns, func(col ColumnInfo) bool {
		_, ok := existing[strings.ToLower(col.Name)]
		if !ok {
			r.logger.Warn().Str("column", col.Name).Msg("model column not found in table, ignoring it")
		}
		return ok
	})

	for _, name := range []string{def.KeyField, def.VersionField} {
		if name == "" {
			continue
		}

		if _, ok := existing[strings.ToLower(name)]; !ok {
			return fmt.Errorf("%w: column %s not found in table %s", ErrInvalidArgument, name, def.FullTableName())
		}
	}

	r.tableDef.Columns = kept
	return nil
}

func (r *sqlRepository[K, T]) Get(ctx context.Context, id K, options ...QueryOption) (T, error) {
	opt := newQueryOption(options)

	var zero T
	def := r.tableDef
	if def.KeyField == "" {
		return zero, fmt.Errorf("%w: table %s has no key column", ErrInvalidArgument, def.FullTableName())
	}

	columns := strings.Join(def.ColumnNames(), ",")
	qry := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", columns, def.FullTableName(), def.KeyField)

	entity := newEntity[T](r.modelType)
	err := r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		return r.dialect.wrapError(tx.GetContext(ctx, entity, tx.Rebind(qry), id))
	})
	if err != nil {
		return zero, err
	}

	return entity, nil
}

func (r *sqlRepository[K, T]) Select(ctx context.Context, filter map[string]any, options ...QueryOption) ([]T, error) {
	opt := newQueryOption(options)

	where, args, err := r.whereClause(filter)
	if err != nil {
		return nil, err
	}

	var sorter string
	if srt := MakeSortClause(opt.Sorter, r.sortFieldMap()); srt != "" {
		sorter = " ORDER BY " + srt
	}

	def := r.tableDef
	columns := strings.Join(def.ColumnNames(), ",")
	qry := fmt.Sprintf("SELECT %s FROM %s%s%s%s", columns, def.FullTableName(), where, sorter,
		r.dialect.limitOffset(opt.Limit, opt.Offset))

	var dest []T
	err = r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		return r.dialect.wrapError(tx.SelectContext(ctx, &dest, tx.Rebind(qry), args...))
	})
	if err != nil {
		return nil, err
	}

	return dest, nil
}

func (r *sqlRepository[K, T]) Count(ctx context.Context, filter map[string]any, options ...QueryOption) (int64, error) {
	opt := newQueryOption(options)

	where, args, err := r.whereClause(filter)
	if err != nil {
		return 0, err
	}

	qry := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", r.tableDef.FullTableName(), where)

	var count int64
	err = r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		return r.dialect.wrapError(tx.GetContext(ctx, &count, tx.Rebind(qry), args...))
	})

	return count, err
}

func (r *sqlRepository[K, T]) SQLQuery(ctx context.Context, dest any, sqlStr string, args []interface{}, options ...QueryOption) error {
	opt := newQueryOption(options)

	return r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		return r.dialect.wrapError(tx.SelectContext(ctx, dest, tx.Rebind(sqlStr), args...))
	})
}

func (r *sqlRepository[K, T]) SQLExec(ctx context.Context, sqlStr string, args []interface{}, options ...QueryOption) error {
	opt := newQueryOption(options)

	return r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(sqlStr), args...)
		return r.dialect.wrapError(err)
	})
}

func (r *sqlRepository[K, T]) Insert(ctx context.Context, value T, options ...QueryOption) (K, error) {
	var zeroKey K

	ids, err := r.InsertAll(ctx, []T{value}, options...)
	if err != nil {
		return zeroKey, err
	}

	return ids[0], nil
}

// InsertAll inserts every value regardless of IsNew and returns their keys.
// With WithIgnoreDuplicate on a generated key, skipped rows leave fewer keys
// than values, which fails with ErrGeneratedKeys.
func (r *sqlRepository[K, T]) InsertAll(ctx context.Context, values []T, options ...QueryOption) ([]K, error) {
	opt := newQueryOption(options)
	if err := checkBatchArguments(len(values), opt.BatchSize); err != nil {
		return nil, err
	}

	def := r.tableDef
	prepareVersions(def, values)

	ids := make([]K, 0, len(values))
	err := r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		for _, batch := range SplitBatch(values, opt.BatchSize) {
			subjects := Map(batch, func(val T) InsertSubject[T] {
				return DescribedBy(val, nil)
			})

			source := IDValueSourceFor[K](batch[0], def)
			keys, err := r.bulkInsert(ctx, tx, subjects, source, opt.IgnoreDuplicate)
			if err != nil {
				return err
			}

			if source == IDGenerated {
				if len(keys) != len(batch) {
					return fmt.Errorf("%w: %d keys returned for %d rows of %s",
						ErrGeneratedKeys, len(keys), len(batch), def.FullTableName())
				}

				for i := range batch {
					batch[i].SetID(keys[i])
				}
			}

			for _, val := range batch {
				ids = append(ids, val.GetID())
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *sqlRepository[K, T]) Update(ctx context.Context, id K, keyvals map[string]any, options ...QueryOption) error {
	opt := newQueryOption(options)

	qry, args, err := r.createUpdateQuery(id, keyvals)
	if err != nil {
		return err
	}

	return r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(qry), args...)
		if err != nil {
			return r.dialect.wrapError(err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return r.dialect.wrapError(err)
		}

		if n == 0 {
			return fmt.Errorf("%w: %v in %s", ErrKeyNotFound, id, r.tableDef.FullTableName())
		}

		return nil
	})
}

func (r *sqlRepository[K, T]) Save(ctx context.Context, value T, options ...QueryOption) (T, error) {
	var zero T

	saved, err := r.BatchSave(ctx, []T{value}, options...)
	if err != nil {
		return zero, err
	}

	return saved[0], nil
}

func (r *sqlRepository[K, T]) BatchSave(ctx context.Context, values []T, options ...QueryOption) ([]T, error) {
	opt := newQueryOption(options)
	if err := checkBatchArguments(len(values), opt.BatchSize); err != nil {
		return nil, err
	}

	var saved []T
	err := r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		upserter, err := NewBatchUpserter[K, T](&sqlDataAccess[K, T]{repo: r, tx: tx}, r.tableDef, r.upserterOptions()...)
		if err != nil {
			return err
		}

		saved, err = upserter.BatchUpsert(ctx, values, opt.BatchSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

func (r *sqlRepository[K, T]) Delete(ctx context.Context, id []K, options ...QueryOption) error {
	opt := newQueryOption(options)

	tb := r.tableDef
	if tb.KeyField == "" {
		return fmt.Errorf("%w: table %s has no key column", ErrInvalidArgument, tb.FullTableName())
	}

	return r.withTx(ctx, opt, func(tx *sqlx.Tx) error {
		for _, batch := range SplitBatch(id, 125) {
			qry := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?)", tb.FullTableName(), tb.KeyField)
			qry, args, err := sqlx.In(qry, batch)
			if err != nil {
				return fmt.Errorf("failed to expand delete query. %w", err)
			}

			if _, err := tx.ExecContext(ctx, tx.Rebind(qry), args...); err != nil {
				return r.dialect.wrapError(err)
			}
		}

		return nil
	})
}

func (r *sqlRepository[K, T]) Begin(ctx context.Context) (Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, r.dialect.wrapError(err)
	}

	return &sqlTransaction{Tx: tx}, nil
}

func (r *sqlRepository[K, T]) whereClause(filter map[string]any) (string, []any, error) {
	if err := r.checkFilter(filter); err != nil {
		return "", nil, err
	}

	where, args, err := ParseFilterMapIntoWhereClause(filter)
	if err != nil {
		return "", nil, err
	}

	if where != "" {
		where = " WHERE " + where
	}

	return where, args, nil
}

func (r *sqlRepository[K, T]) createUpdateQuery(id K, keyvals map[string]any) (qry string, args []any, err error) {
	tb := r.tableDef
	if len(keyvals) == 0 {
		return "", nil, fmt.Errorf("%w: nothing to update", ErrInvalidArgument)
	}

	if err := r.checkFilter(keyvals); err != nil {
		return "", nil, err
	}

	keys := make([]string, 0, len(keyvals))
	for k := range keyvals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys))
	for _, k := range keys {
		sets = append(sets, fmt.Sprintf("%s = ?", k))
		args = append(args, keyvals[k])
	}

	qry = fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", tb.FullTableName(), strings.Join(sets, ","), tb.KeyField)
	args = append(args, id)
	return qry, args, nil
}

// withTx runs fn on the transaction of opt, or on a new transaction that is
// committed when fn succeeds and rolled back otherwise.
func (r *sqlRepository[K, T]) withTx(ctx context.Context, opt *queryOption, fn func(tx *sqlx.Tx) error) error {
	tx, owned, err := r.createTransaction(ctx, opt)
	if err != nil {
		return err
	}

	if owned {
		defer tx.Rollback()
	}

	if err := fn(tx); err != nil {
		return err
	}

	if owned {
		return r.dialect.wrapError(tx.Commit())
	}

	return nil
}

func (r *sqlRepository[K, T]) createTransaction(ctx context.Context, opt *queryOption) (*sqlx.Tx, bool, error) {
	if opt.Tx != nil {
		tx, ok := opt.Tx.(*sqlTransaction)
		if !ok {
			return nil, false, fmt.Errorf("%w: %T is not a SQL transaction", ErrInvalidArgument, opt.Tx)
		}

		return tx.Tx, false, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, r.dialect.wrapError(err)
	}

	return tx, true, nil
}

// bulkInsert writes subjects with one multi-row INSERT. For generated keys
// it returns the keys in row order.
func (r *sqlRepository[K, T]) bulkInsert(ctx context.Context, tx *sqlx.Tx, subjects []InsertSubject[T], source IDValueSource, ignoreDuplicate bool) ([]K, error) {
	def := r.tableDef
	cols := def.insertColumns(source)
	names := Map(cols, func(col ColumnInfo) string {
		return col.Name
	})

	extra := identifierColumns(subjects, names)
	names = append(names, extra...)

	args := make([]any, 0, len(names)*len(subjects))
	for _, s := range subjects {
		for _, col := range cols {
			if v, ok := s.Identifier[col.Name]; ok {
				args = append(args, v)
				continue
			}
			args = append(args, fieldValue(s.Instance, col))
		}

		for _, name := range extra {
			args = append(args, s.Identifier[name])
		}
	}

	qry := fmt.Sprintf("%s INTO %s (%s) VALUES %s%s",
		r.dialect.insertVerb(ignoreDuplicate),
		def.FullTableName(),
		strings.Join(names, ","),
		placeholderRows(len(names), len(subjects)),
		r.dialect.insertSuffix(ignoreDuplicate),
	)

	if source != IDGenerated {
		if _, err := tx.ExecContext(ctx, tx.Rebind(qry), args...); err != nil {
			return nil, r.dialect.wrapError(err)
		}
		return nil, nil
	}

	if r.dialect.returning() {
		return r.insertReturning(ctx, tx, qry+" RETURNING "+def.KeyField, args, len(subjects))
	}

	return r.insertLastID(ctx, tx, qry, args, len(subjects))
}

func (r *sqlRepository[K, T]) insertReturning(ctx context.Context, tx *sqlx.Tx, qry string, args []any, count int) ([]K, error) {
	rows, err := tx.QueryxContext(ctx, tx.Rebind(qry), args...)
	if err != nil {
		return nil, r.dialect.wrapError(err)
	}
	defer rows.Close()

	ids := make([]K, 0, count)
	for rows.Next() {
		var id K
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, r.dialect.wrapError(err)
	}

	sortGeneratedKeys(ids)
	return ids, nil
}

// sortGeneratedKeys orders integer keys ascending. RETURNING rows have no
// guaranteed order, but auto-increment values follow the VALUES order.
func sortGeneratedKeys[K comparable](ids []K) {
	if len(ids) < 2 || !isIntKind(reflect.TypeOf(ids[0]).Kind()) {
		return
	}

	sort.SliceStable(ids, func(i, j int) bool {
		a, b := reflect.ValueOf(ids[i]), reflect.ValueOf(ids[j])
		if a.CanInt() {
			return a.Int() < b.Int()
		}
		return a.Uint() < b.Uint()
	})
}

// insertLastID derives the keys of a multi-row insert from the first
// generated id, which the driver reports as the last insert id.
func (r *sqlRepository[K, T]) insertLastID(ctx context.Context, tx *sqlx.Tx, qry string, args []any, count int) ([]K, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(qry), args...)
	if err != nil {
		return nil, r.dialect.wrapError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	first, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	ids := make([]K, 0, n)
	for i := int64(0); i < n; i++ {
		id, err := convertKey[K](first + i)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// bulkUpdate runs one prepared UPDATE per record. Versioned records are
// matched on their current version, which is advanced once all of them
// succeed.
func (r *sqlRepository[K, T]) bulkUpdate(ctx context.Context, tx *sqlx.Tx, records []T) error {
	def := r.tableDef
	if def.KeyField == "" {
		return fmt.Errorf("%w: table %s has no key column to update by", ErrInvalidArgument, def.FullTableName())
	}

	cols := def.updateColumns()
	versioned := def.VersionKind != VersionNone

	sets := Map(cols, func(col ColumnInfo) string {
		return col.Name + " = ?"
	})
	where := def.KeyField + " = ?"
	if versioned {
		sets = append(sets, def.VersionField+" = ?")
		where += " AND " + def.VersionField + " = ?"
	}

	qry := fmt.Sprintf("UPDATE %s SET %s WHERE %s", def.FullTableName(), strings.Join(sets, ","), where)
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(qry))
	if err != nil {
		return r.dialect.wrapError(err)
	}
	defer stmt.Close()

	// versions advance only once every row is written
	type bump struct {
		v    Versioned
		next int64
	}
	bumps := make([]bump, 0, len(records))

	for _, rec := range records {
		args := make([]any, 0, len(cols)+3)
		for _, col := range cols {
			args = append(args, fieldValue(rec, col))
		}

		var current int64
		v, hasVersion := any(rec).(Versioned)
		if versioned && hasVersion {
			current = v.GetVersion()
			args = append(args, current+1)
		}

		args = append(args, rec.GetID())
		if versioned && hasVersion {
			args = append(args, current)
		}

		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return r.dialect.wrapError(err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 0 {
			if versioned {
				return fmt.Errorf("%w: %s with key %v and version %d", ErrOptimisticLock, def.FullTableName(), rec.GetID(), current)
			}
			return fmt.Errorf("%w: %v in %s", ErrKeyNotFound, rec.GetID(), def.FullTableName())
		}

		if versioned && hasVersion {
			bumps = append(bumps, bump{v: v, next: current + 1})
		}
	}

	for _, b := range bumps {
		b.v.SetVersion(b.next)
	}

	return nil
}

// identifierColumns lists, sorted, the identifier keys of subjects that are
// not already among names.
func identifierColumns[T any](subjects []InsertSubject[T], names []string) []string {
	seen := make(map[string]struct{})
	for _, name := range names {
		seen[name] = struct{}{}
	}

	var extra []string
	for _, s := range subjects {
		for k := range s.Identifier {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	return extra
}

// sqlDataAccess is the DataAccessStrategy of a SQL repository, bound to one
// transaction.
type sqlDataAccess[K comparable, T Entity[K]] struct {
	repo *sqlRepository[K, T]
	tx   *sqlx.Tx
}

func (a *sqlDataAccess[K, T]) BulkInsert(ctx context.Context, subjects []InsertSubject[T], source IDValueSource) ([]K, error) {
	return a.repo.bulkInsert(ctx, a.tx, subjects, source, false)
}

func (a *sqlDataAccess[K, T]) BulkUpdate(ctx context.Context, records []T) error {
	return a.repo.bulkUpdate(ctx, a.tx, records)
}
