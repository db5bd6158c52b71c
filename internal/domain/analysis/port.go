package analysis

import "context"

// Repository port (persistence for analysis records)
type Repository interface {
	// Lookup returns the most recently created record for key, or ErrNotFound.
	Lookup(ctx context.Context, key CacheKey) (*Record, error)
	// Store appends a new record and sets its ID.
	Store(ctx context.Context, r *Record) error
	// SetDisplayName only writes when the stored label is still empty and
	// reports whether it did.
	SetDisplayName(ctx context.Context, ownerID, id int64, name string) (bool, error)
	CountByCategory(ctx context.Context, ownerID int64, c Category) (int, error)

	Get(ctx context.Context, ownerID, id int64) (*Record, error)
	List(ctx context.Context, ownerID int64, limit int) ([]*Record, error)
	Delete(ctx context.Context, ownerID, id int64) error
	// DeleteAll removes every record of the owner and returns the file keys
	// of the deleted rows together with the row count.
	DeleteAll(ctx context.Context, ownerID int64) (int64, []string, error)
}

// FileStore keeps the original upload bytes.
type FileStore interface {
	Put(ctx context.Context, key string, data []byte, mediaType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// FlightGuard serialises cache misses on the same fingerprint across instances.
type FlightGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
