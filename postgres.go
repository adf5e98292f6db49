package multistore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CreatePostgresRepository returns a repository for T on a PostgreSQL
// database opened with the "pgx" or "postgres" driver.
func CreatePostgresRepository[K comparable, T Entity[K]](db *sqlx.DB, options ...RepositoryOption) (Repository[K, T], error) {
	return createSQLRepository[K, T](db, postgresDialect{}, options...)
}

type postgresDialect struct{}

func (postgresDialect) name() string {
	return "postgres"
}

func (postgresDialect) insertVerb(bool) string {
	return "INSERT"
}

func (postgresDialect) insertSuffix(ignoreDuplicate bool) string {
	if ignoreDuplicate {
		return " ON CONFLICT DO NOTHING"
	}

	return ""
}

func (postgresDialect) returning() bool {
	return true
}

func (postgresDialect) limitOffset(limit int, offset int64) string {
	qry := strings.Builder{}
	if limit > 0 {
		qry.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	}

	if offset > 0 {
		qry.WriteString(fmt.Sprintf(" OFFSET %d", offset))
	}

	return qry.String()
}

func (postgresDialect) columnType(col ColumnInfo) (string, error) {
	category, err := columnCategory(col)
	if err != nil {
		return "", err
	}

	if col.IsKey && col.IsAuto {
		switch category {
		case "int":
			return "SERIAL", nil
		case "bigint":
			return "BIGSERIAL", nil
		}
	}

	switch category {
	case "string":
		if col.Size > 0 {
			return fmt.Sprintf("VARCHAR(%d)", col.Size), nil
		}
		return "TEXT", nil
	case "int":
		return "INTEGER", nil
	case "bigint":
		return "BIGINT", nil
	case "float":
		return "DOUBLE PRECISION", nil
	case "bool":
		return "BOOLEAN", nil
	case "time":
		return "TIMESTAMP", nil
	default:
		return "BYTEA", nil
	}
}

func (postgresDialect) primaryKey(ColumnInfo) string {
	return "PRIMARY KEY"
}

func (postgresDialect) columns(ctx context.Context, db sqlx.QueryerContext, def TableDef) ([]Column, error) {
	qry := `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF($1::text, ''), current_schema()) AND table_name = $2
ORDER BY ordinal_position`

	var cols []Column
	if err := sqlx.SelectContext(ctx, db, &cols, qry, strings.ToLower(def.Schema), strings.ToLower(def.Name)); err != nil {
		return nil, err
	}

	return cols, nil
}

func (postgresDialect) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var code string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	}

	if code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %w", ErrKeyAlreadyExists, err)
	}

	return wrapNoRows(err)
}
