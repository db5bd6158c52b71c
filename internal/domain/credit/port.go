package credit

import "context"

// Ledger is the admission gate in front of paid work.
type Ledger interface {
	// Debit atomically checks and subtracts cost. It returns the remaining
	// balance or *InsufficientError; a missing account has balance 0.
	Debit(ctx context.Context, userID int64, cost int) (int, error)
	Balance(ctx context.Context, userID int64) (int, error)
	// Grant adds amount, creating the account when needed.
	Grant(ctx context.Context, userID int64, amount int) (int, error)
}
