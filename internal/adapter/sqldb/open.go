package sqldb

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"wikichat/internal/domain"
)

// Open validates creds, opens the database and pings it.
func Open(ctx context.Context, creds Credentials) (*sql.DB, error) {
	const op = "sqldb.Open"

	if err := creds.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(creds.DriverName(), creds.DSN())
	if err != nil {
		return nil, domain.NewSubSystemError("sqldb", op, domain.ErrProviderError, err.Error())
	}

	// An in-memory sqlite database lives on a single connection.
	if creds.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.NewSubSystemError("sqldb", op, domain.ErrProviderError, "ping: "+err.Error())
	}
	return db, nil
}
