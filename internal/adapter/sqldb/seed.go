package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"wikichat/internal/domain"
)

// demoRows are the sample transactions loaded by Seed.
const demoRows = `
	(1, '2024-01-03', 'Blue Bottle Coffee', 'dining', 4.75),
	(2, '2024-01-05', 'Whole Foods', 'groceries', 86.20),
	(3, '2024-01-09', 'Shell', 'transport', 52.10),
	(4, '2024-01-12', 'Netflix', 'subscriptions', 15.49),
	(5, '2024-01-15', 'Trader Joes', 'groceries', 64.03),
	(6, '2024-01-18', 'Uber', 'transport', 23.80),
	(7, '2024-01-21', 'Sushi Zen', 'dining', 72.00),
	(8, '2024-01-25', 'Pacific Gas and Electric', 'utilities', 110.35),
	(9, '2024-02-01', 'Rent', 'housing', 2100.00),
	(10, '2024-02-03', 'Blue Bottle Coffee', 'dining', 5.25),
	(11, '2024-02-07', 'Amazon', 'shopping', 39.99),
	(12, '2024-02-11', 'Whole Foods', 'groceries', 92.47),
	(13, '2024-02-14', 'Flower Shop', 'shopping', 45.00),
	(14, '2024-02-20', 'Spotify', 'subscriptions', 10.99),
	(15, '2024-02-27', 'Shell', 'transport', 48.60)`

// Seed creates table with demo transactions unless it already has rows.
// It returns the number of rows inserted.
func Seed(ctx context.Context, db *sql.DB, table string) (int, error) {
	const op = "sqldb.Seed"

	if !identRe.MatchString(table) {
		return 0, domain.NewSubSystemError("sqldb", op, domain.ErrInvalidInput,
			fmt.Sprintf("invalid table name %q", table))
	}

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          INTEGER PRIMARY KEY,
		txn_date    DATE NOT NULL,
		merchant    VARCHAR(128) NOT NULL,
		category    VARCHAR(64) NOT NULL,
		amount      DECIMAL(10,2) NOT NULL
	)`, table)
	if _, err := db.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("%s: create: %w", op, err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count: %w", op, err)
	}
	if n > 0 {
		return 0, nil
	}

	res, err := db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, txn_date, merchant, category, amount) VALUES %s", table, demoRows))
	if err != nil {
		return 0, fmt.Errorf("%s: insert: %w", op, err)
	}
	inserted, _ := res.RowsAffected()
	return int(inserted), nil
}
