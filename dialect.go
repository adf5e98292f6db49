package multistore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v4"
)

// dialect holds the statement fragments and error translation that differ
// between the SQL databases a repository can run on.
type dialect interface {
	name() string
	insertVerb(ignoreDuplicate bool) string
	insertSuffix(ignoreDuplicate bool) string
	// returning reports whether a multi-row insert can return the generated
	// keys of all rows in submission order.
	returning() bool
	limitOffset(limit int, offset int64) string
	columnType(col ColumnInfo) (string, error)
	primaryKey(col ColumnInfo) string
	columns(ctx context.Context, db sqlx.QueryerContext, def TableDef) ([]Column, error)
	wrapError(err error) error
}

// dialectFor returns the dialect of a database/sql driver name.
func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "pgx", "postgres", "postgresql":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driverName)
}

var (
	timeType        = reflect.TypeOf(time.Time{})
	nullTimeType    = reflect.TypeOf(null.Time{})
	sqlNullTimeType = reflect.TypeOf(sql.NullTime{})
)

// typeCategory reduces a Go field type to the storage category used when
// generating DDL. It returns "" for types without a column mapping.
func typeCategory(typ reflect.Type) string {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	switch typ {
	case timeType, nullTimeType, sqlNullTimeType:
		return "time"
	}

	switch typ.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return "int"
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "bigint"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return "bytes"
		}
	case reflect.Struct:
		switch typ.Name() {
		case "NullString", "String":
			return "string"
		case "NullInt64", "NullInt32", "NullInt16", "Int":
			return "bigint"
		case "NullFloat64", "Float":
			return "float"
		case "NullBool", "Bool":
			return "bool"
		}
	}

	return ""
}

func columnCategory(col ColumnInfo) (string, error) {
	category := typeCategory(col.Type)
	if category == "" {
		return "", fmt.Errorf("%w: no column type for Go type %s of column %s", ErrInvalidArgument, col.Type, col.Name)
	}

	return category, nil
}

// createTableDDL renders a CREATE TABLE IF NOT EXISTS statement for def.
func createTableDDL(d dialect, def TableDef) (string, error) {
	ddlCols := make([]string, 0, len(def.Columns))
	for _, col := range def.Columns {
		dtype, err := d.columnType(col)
		if err != nil {
			return "", err
		}

		var ddlCol strings.Builder
		ddlCol.WriteString(fmt.Sprintf("%s %s", col.Name, dtype))
		switch {
		case col.IsKey:
			ddlCol.WriteString(" " + d.primaryKey(col))
		case !col.AllowNull:
			ddlCol.WriteString(" NOT NULL")
		}

		ddlCols = append(ddlCols, ddlCol.String())
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", def.FullTableName(), strings.Join(ddlCols, ",")), nil
}

// wrapNoRows maps sql.ErrNoRows onto ErrKeyNotFound and leaves other errors
// untouched.
func wrapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w. %s", ErrKeyNotFound, err.Error())
	}

	return err
}
