package multistore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"
)

type PGConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

func ConnectPostgresql(config PGConfig) (*sqlx.DB, error) {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.User, config.Password),
		Host:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Path:     config.Database,
		RawQuery: "sslmode=disable",
	}

	return sqlx.Open("pgx", u.String())
}

type MySQLConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// ConnectMySQL opens a MySQL database with parseTime and client found rows
// enabled, as the repositories expect.
func ConnectMySQL(config MySQLConfig) (*sqlx.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = config.User
	cfg.Passwd = config.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", config.Host, config.Port)
	cfg.DBName = config.Database
	cfg.ParseTime = true
	cfg.ClientFoundRows = true

	return sqlx.Open("mysql", cfg.FormatDSN())
}

// ConnectSqlite opens the SQLite database at path with the pure Go driver.
// ":memory:" opens a private in-memory database.
func ConnectSqlite(path string) (*sqlx.DB, error) {
	return sqlx.Open("sqlite", path)
}

// ConnectMongo connects to uri and returns the database called database.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, mongoOptions.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb. %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb. %w", err)
	}

	return client.Database(database), nil
}
