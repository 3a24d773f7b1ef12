package economy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(databaseURL string) (*PostgresLedger, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresLedger{db: db}, nil
}

func (l *PostgresLedger) Close() error {
	if l == nil || l.db == nil { return nil }
	return l.db.Close()
}

// Debit subtracts amount inside one transaction; the conditional UPDATE is
// the atomicity boundary, so two racing debits can never overdraw.
func (l *PostgresLedger) Debit(ctx context.Context, userID string, amount int, reason string) error {
	if amount <= 0 { return nil }
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil { return err }
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE user_xp SET balance = balance - $2, updated_at = now() WHERE user_id = $1 AND balance >= $2`,
		userID, amount)
	if err != nil { return err }
	n, err := res.RowsAffected()
	if err != nil { return err }
	if n == 0 { return ErrInsufficientBalance }

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO xp_entries (user_id, delta, reason) VALUES ($1, $2, $3)`,
		userID, -amount, reason); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *PostgresLedger) Credit(ctx context.Context, userID string, amount int, reason string) error {
	if amount <= 0 { return nil }
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil { return err }
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_xp (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = user_xp.balance + EXCLUDED.balance, updated_at = now()`,
		userID, amount); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO xp_entries (user_id, delta, reason) VALUES ($1, $2, $3)`,
		userID, amount, reason); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *PostgresLedger) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := l.db.QueryRowContext(ctx, `SELECT balance FROM user_xp WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows { return 0, nil }
	if err != nil { return 0, err }
	return balance, nil
}
