package database

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

// Conn is an open connection pool together with the SQL flavour it speaks.
type Conn struct {
	DB      *sql.DB
	Dialect schema.Dialect
	Driver  string
}

// Open connects to the configured backend. driver is one of sqlite, postgres, mysql.
func Open(driver, dsn string) (*Conn, error) {
	switch driver {
	case "sqlite":
		db, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// A single connection keeps in-memory databases alive and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)

		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		return &Conn{DB: db, Dialect: sqlitedialect.New(), Driver: driver}, nil

	case "postgres":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return &Conn{DB: db, Dialect: pgdialect.New(), Driver: driver}, nil

	case "mysql":
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql: %w", err)
		}
		return &Conn{DB: db, Dialect: mysqldialect.New(), Driver: driver}, nil
	}

	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// DriverName is the database/sql driver name, as sqlx expects it for bind vars.
func (c *Conn) DriverName() string {
	switch c.Driver {
	case "postgres":
		return "pgx"
	case "mysql":
		return "mysql"
	default:
		return "sqlite3"
	}
}

// QueryDialect names the goqu dialect matching the backend.
func (c *Conn) QueryDialect() string {
	switch c.Driver {
	case "postgres":
		return "postgres"
	case "mysql":
		return "mysql"
	default:
		return "sqlite3"
	}
}

func (c *Conn) Close() error {
	return c.DB.Close()
}
