package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/credit"
)

type CreditLedger struct{ db *sql.DB }

func NewCreditLedger(db *sql.DB) *CreditLedger { return &CreditLedger{db: db} }

func (l *CreditLedger) Debit(ctx context.Context, user int64, cost int) (int, error) {
	if cost <= 0 {
		return 0, fmt.Errorf("debit cost must be positive, got %d", cost)
	}
	const q = `
UPDATE credit_accounts SET balance = balance - $1, updated_at = $2
WHERE user_id = $3 AND balance >= $1
RETURNING balance;`
	var bal int
	err := l.db.QueryRowContext(ctx, q, cost, time.Now().UTC(), user).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		cur, berr := l.Balance(ctx, user)
		if berr != nil {
			return 0, berr
		}
		return 0, &credit.InsufficientError{Balance: cur}
	}
	if err != nil {
		return 0, err
	}
	return bal, nil
}

func (l *CreditLedger) Balance(ctx context.Context, user int64) (int, error) {
	var bal int
	err := l.db.QueryRowContext(ctx, `SELECT balance FROM credit_accounts WHERE user_id=$1;`, user).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return bal, err
}

func (l *CreditLedger) Grant(ctx context.Context, user int64, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	const q = `
INSERT INTO credit_accounts (user_id, balance, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (user_id) DO UPDATE SET
  balance = credit_accounts.balance + EXCLUDED.balance,
  updated_at = EXCLUDED.updated_at
RETURNING balance;`
	var bal int
	err := l.db.QueryRowContext(ctx, q, user, amount, time.Now().UTC()).Scan(&bal)
	return bal, err
}
