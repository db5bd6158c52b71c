package batch

import "context"

// Repository port. Received on returned sessions is computed by counting parts.
type Repository interface {
	Get(ctx context.Context, ownerID int64, batchID string) (*Session, error)
	// Create inserts the session if absent and returns the stored one, so two
	// racing first parts both see the same fixed parameters.
	Create(ctx context.Context, s *Session) (*Session, error)
	// UpsertPart replaces bytes and metadata at the same position.
	UpsertPart(ctx context.Context, p *Part) error
	CountParts(ctx context.Context, ownerID int64, batchID string) (int, error)
	// Parts are returned ordered by position.
	Parts(ctx context.Context, ownerID int64, batchID string) ([]Part, error)
	// Delete removes the parts and the session in one transaction.
	Delete(ctx context.Context, ownerID int64, batchID string) error
}
