package multistore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v4"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// CreateSqliteRepository returns a repository for T on a SQLite database
// opened with the modernc "sqlite" or the cgo "sqlite3" driver.
func CreateSqliteRepository[K comparable, T Entity[K]](db *sqlx.DB, options ...RepositoryOption) (Repository[K, T], error) {
	return createSQLRepository[K, T](db, sqliteDialect{}, options...)
}

type sqliteDialect struct{}

func (sqliteDialect) name() string {
	return "sqlite"
}

func (sqliteDialect) insertVerb(ignoreDuplicate bool) string {
	if ignoreDuplicate {
		return "INSERT OR IGNORE"
	}

	return "INSERT"
}

func (sqliteDialect) insertSuffix(bool) string {
	return ""
}

func (sqliteDialect) returning() bool {
	return true
}

func (sqliteDialect) limitOffset(limit int, offset int64) string {
	if limit < 0 {
		limit = 0
	}

	qry := strings.Builder{}
	if limit > 0 {
		qry.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	}

	if offset > 0 {
		if limit == 0 {
			qry.WriteString(" LIMIT -1")
		}
		qry.WriteString(fmt.Sprintf(" OFFSET %d", offset))
	}

	return qry.String()
}

func (sqliteDialect) columnType(col ColumnInfo) (string, error) {
	category, err := columnCategory(col)
	if err != nil {
		return "", err
	}

	switch category {
	case "string":
		return "TEXT", nil
	case "int", "bigint", "bool":
		return "INTEGER", nil
	case "float":
		return "REAL", nil
	case "time":
		return "TIMESTAMP", nil
	default:
		return "BLOB", nil
	}
}

func (sqliteDialect) primaryKey(col ColumnInfo) string {
	if col.IsAuto {
		return "PRIMARY KEY AUTOINCREMENT"
	}

	return "PRIMARY KEY"
}

func (sqliteDialect) columns(ctx context.Context, db sqlx.QueryerContext, def TableDef) ([]Column, error) {
	qry := fmt.Sprintf("PRAGMA table_info(%s)", def.Name)
	if def.Schema != "" {
		qry = fmt.Sprintf("PRAGMA %s.table_info(%s)", def.Schema, def.Name)
	}

	type columnInfo struct {
		CID       int         `db:"cid"`
		Name      string      `db:"name"`
		Type      string      `db:"type"`
		NotNull   int         `db:"notnull"`
		DfltValue null.String `db:"dflt_value"`
		Pk        int         `db:"pk"`
	}

	var cols []columnInfo
	if err := sqlx.SelectContext(ctx, db, &cols, qry); err != nil {
		return nil, err
	}

	return Map(cols, func(col columnInfo) Column {
		return Column{
			ColumnName: col.Name,
			DataType:   col.Type,
		}
	}), nil
}

func (sqliteDialect) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %w", ErrKeyAlreadyExists, err)
		}
	}

	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", ErrKeyAlreadyExists, err)
	}

	return wrapNoRows(err)
}
