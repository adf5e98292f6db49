package multistore

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"sqlite", "sqlite"},
		{"sqlite3", "sqlite"},
		{"pgx", "postgres"},
		{"postgres", "postgres"},
		{"postgresql", "postgres"},
		{"mysql", "mysql"},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := dialectFor(tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.name())
		})
	}

	_, err := dialectFor("oracle")
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestDialect_LimitOffset(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		offset   int64
		sqlite   string
		postgres string
		mysql    string
	}{
		{"none", 0, 0, "", "", ""},
		{"limit", 10, 0, " LIMIT 10", " LIMIT 10", " LIMIT 10"},
		{"offset", 0, 5, " LIMIT -1 OFFSET 5", " OFFSET 5", " LIMIT 18446744073709551615 OFFSET 5"},
		{"both", 10, 5, " LIMIT 10 OFFSET 5", " LIMIT 10 OFFSET 5", " LIMIT 10 OFFSET 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sqlite, sqliteDialect{}.limitOffset(tt.limit, tt.offset))
			assert.Equal(t, tt.postgres, postgresDialect{}.limitOffset(tt.limit, tt.offset))
			assert.Equal(t, tt.mysql, mysqlDialect{}.limitOffset(tt.limit, tt.offset))
		})
	}
}

func TestDialect_InsertVerbs(t *testing.T) {
	assert.Equal(t, "INSERT", sqliteDialect{}.insertVerb(false))
	assert.Equal(t, "INSERT OR IGNORE", sqliteDialect{}.insertVerb(true))
	assert.Equal(t, "", sqliteDialect{}.insertSuffix(true))

	assert.Equal(t, "INSERT", postgresDialect{}.insertVerb(true))
	assert.Equal(t, " ON CONFLICT DO NOTHING", postgresDialect{}.insertSuffix(true))
	assert.Equal(t, "", postgresDialect{}.insertSuffix(false))

	assert.Equal(t, "INSERT IGNORE", mysqlDialect{}.insertVerb(true))
	assert.Equal(t, "", mysqlDialect{}.insertSuffix(true))

	assert.True(t, sqliteDialect{}.returning())
	assert.True(t, postgresDialect{}.returning())
	assert.False(t, mysqlDialect{}.returning())
}

func TestCreateTableDDL(t *testing.T) {
	personDef := tableDefOf(t, person{})
	accountDef := tableDefOf(t, account{})

	tests := []struct {
		name    string
		dialect dialect
		def     TableDef
		want    string
	}{
		{
			"sqlite person", sqliteDialect{}, personDef,
			"CREATE TABLE IF NOT EXISTS t_person (id INTEGER PRIMARY KEY AUTOINCREMENT,name TEXT NOT NULL,company_id INTEGER,version INTEGER)",
		},
		{
			"sqlite account", sqliteDialect{}, accountDef,
			"CREATE TABLE IF NOT EXISTS account (id TEXT PRIMARY KEY,owner TEXT NOT NULL,version INTEGER NOT NULL)",
		},
		{
			"postgres person", postgresDialect{}, personDef,
			"CREATE TABLE IF NOT EXISTS t_person (id BIGSERIAL PRIMARY KEY,name VARCHAR(256) NOT NULL,company_id BIGINT,version BIGINT)",
		},
		{
			"mysql person", mysqlDialect{}, personDef,
			"CREATE TABLE IF NOT EXISTS t_person (id BIGINT AUTO_INCREMENT PRIMARY KEY,name VARCHAR(256) NOT NULL,company_id BIGINT,version BIGINT)",
		},
		{
			"mysql account", mysqlDialect{}, accountDef,
			"CREATE TABLE IF NOT EXISTS account (id VARCHAR(36) PRIMARY KEY,owner VARCHAR(64) NOT NULL,version BIGINT NOT NULL)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ddl, err := createTableDDL(tt.dialect, tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ddl)
		})
	}

	t.Run("unmapped type", func(t *testing.T) {
		def := TableDef{Name: "bad", Columns: []ColumnInfo{{Name: "tags", Type: reflect.TypeOf(map[string]string{})}}}
		_, err := createTableDDL(sqliteDialect{}, def)
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestTypeCategory(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"", "string"},
		{true, "bool"},
		{int32(0), "int"},
		{int64(0), "bigint"},
		{0, "bigint"},
		{float64(0), "float"},
		{[]byte{}, "bytes"},
		{time.Time{}, "time"},
		{&time.Time{}, "time"},
		{null.String{}, "string"},
		{null.Int{}, "bigint"},
		{null.Time{}, "time"},
		{sql.NullInt64{}, "bigint"},
		{sql.NullTime{}, "time"},
		{[]string{}, ""},
	}

	for _, tt := range tests {
		typ := reflect.TypeOf(tt.value)
		t.Run(typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, typeCategory(typ))
		})
	}
}

func TestDialect_WrapError(t *testing.T) {
	errOther := errors.New("boom")

	t.Run("postgres", func(t *testing.T) {
		d := postgresDialect{}
		assert.ErrorIs(t, d.wrapError(&pgconn.PgError{Code: pgerrcode.UniqueViolation}), ErrKeyAlreadyExists)
		assert.ErrorIs(t, d.wrapError(&pq.Error{Code: pgerrcode.UniqueViolation}), ErrKeyAlreadyExists)
		assert.ErrorIs(t, d.wrapError(sql.ErrNoRows), ErrKeyNotFound)
		assert.Equal(t, errOther, d.wrapError(errOther))
		assert.NoError(t, d.wrapError(nil))
	})

	t.Run("mysql", func(t *testing.T) {
		d := mysqlDialect{}
		dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
		assert.ErrorIs(t, d.wrapError(dup), ErrKeyAlreadyExists)
		assert.ErrorIs(t, d.wrapError(fmt.Errorf("insert: %w", dup)), ErrKeyAlreadyExists)
		assert.ErrorIs(t, d.wrapError(sql.ErrNoRows), ErrKeyNotFound)
		assert.Equal(t, errOther, d.wrapError(errOther))
	})

	t.Run("sqlite", func(t *testing.T) {
		d := sqliteDialect{}
		assert.ErrorIs(t, d.wrapError(errors.New("UNIQUE constraint failed: account.id")), ErrKeyAlreadyExists)
		assert.ErrorIs(t, d.wrapError(sql.ErrNoRows), ErrKeyNotFound)
		assert.Equal(t, errOther, d.wrapError(errOther))
	})
}
