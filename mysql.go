package multistore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

const mysqlDuplicateEntry = 1062

// CreateMySQLRepository returns a repository for T on a MySQL database. The
// connection must report found rows (ClientFoundRows) for updates that leave
// a row unchanged to count as matched; ConnectMySQL sets it.
func CreateMySQLRepository[K comparable, T Entity[K]](db *sqlx.DB, options ...RepositoryOption) (Repository[K, T], error) {
	return createSQLRepository[K, T](db, mysqlDialect{}, options...)
}

type mysqlDialect struct{}

func (mysqlDialect) name() string {
	return "mysql"
}

func (mysqlDialect) insertVerb(ignoreDuplicate bool) string {
	if ignoreDuplicate {
		return "INSERT IGNORE"
	}

	return "INSERT"
}

func (mysqlDialect) insertSuffix(bool) string {
	return ""
}

// MySQL has no RETURNING; keys of a multi-row insert are consecutive from
// LAST_INSERT_ID().
func (mysqlDialect) returning() bool {
	return false
}

func (mysqlDialect) limitOffset(limit int, offset int64) string {
	qry := strings.Builder{}
	if limit > 0 {
		qry.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	}

	if offset > 0 {
		if limit <= 0 {
			qry.WriteString(" LIMIT 18446744073709551615")
		}
		qry.WriteString(fmt.Sprintf(" OFFSET %d", offset))
	}

	return qry.String()
}

func (mysqlDialect) columnType(col ColumnInfo) (string, error) {
	category, err := columnCategory(col)
	if err != nil {
		return "", err
	}

	switch category {
	case "string":
		size := col.Size
		if size == 0 && col.IsKey {
			size = 255
		}
		if size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", size), nil
		}
		return "TEXT", nil
	case "int":
		return "INT", nil
	case "bigint":
		return "BIGINT", nil
	case "float":
		return "DOUBLE", nil
	case "bool":
		return "BOOLEAN", nil
	case "time":
		return "DATETIME(6)", nil
	default:
		return "BLOB", nil
	}
}

func (mysqlDialect) primaryKey(col ColumnInfo) string {
	if col.IsAuto {
		return "AUTO_INCREMENT PRIMARY KEY"
	}

	return "PRIMARY KEY"
}

func (mysqlDialect) columns(ctx context.Context, db sqlx.QueryerContext, def TableDef) ([]Column, error) {
	qry := `SELECT column_name AS column_name, data_type AS data_type FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_name = ?
ORDER BY ordinal_position`

	var cols []Column
	if err := sqlx.SelectContext(ctx, db, &cols, qry, def.Schema, def.Name); err != nil {
		return nil, err
	}

	return cols, nil
}

func (mysqlDialect) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %w", ErrKeyAlreadyExists, err)
	}

	return wrapNoRows(err)
}
