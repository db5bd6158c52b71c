package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/credit"
)

type CreditLedger struct {
	db *sql.DB
}

func NewCreditLedger(db *sql.DB) *CreditLedger {
	return &CreditLedger{db: db}
}

// Debit uses a guarded UPDATE; zero affected rows means the balance was short.
func (l *CreditLedger) Debit(ctx context.Context, user int64, cost int) (int, error) {
	if cost <= 0 {
		return 0, fmt.Errorf("debit cost must be positive, got %d", cost)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE credit_accounts SET balance = balance - ?, updated_at = ?
WHERE user_id = ? AND balance >= ?;`, cost, time.Now().UTC(), user, cost)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	var bal int
	err = tx.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE user_id = ?;`, user).Scan(&bal)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if n == 0 {
		return 0, &credit.InsufficientError{Balance: bal}
	}
	return bal, tx.Commit()
}

func (l *CreditLedger) Balance(ctx context.Context, user int64) (int, error) {
	var bal int
	err := l.db.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE user_id = ?;`, user).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

func (l *CreditLedger) Grant(ctx context.Context, user int64, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO credit_accounts (user_id, balance, updated_at) VALUES (?,?,?)
ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance), updated_at = VALUES(updated_at);`,
		user, amount, time.Now().UTC()); err != nil {
		return 0, err
	}
	var bal int
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE user_id = ?;`, user).Scan(&bal); err != nil {
		return 0, err
	}
	return bal, tx.Commit()
}
