package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	domain "github.com/bryanwahyu/contract-risk/internal/domain/batch"
)

type BatchRepository struct{ db *sql.DB }

func NewBatchRepository(db *sql.DB) *BatchRepository { return &BatchRepository{db: db} }

func (r *BatchRepository) Get(ctx context.Context, owner int64, batchID string) (*domain.Session, error) {
	const q = `
SELECT b.user_id, b.batch_id, b.contract_type, b.identity, b.total, b.created_at,
       (SELECT COUNT(*) FROM upload_batch_parts p WHERE p.user_id = b.user_id AND p.batch_id = b.batch_id)
FROM upload_batches b
WHERE b.user_id=$1 AND b.batch_id=$2;`
	var (
		s                  domain.Session
		category, identity string
		created            time.Time
	)
	err := r.db.QueryRowContext(ctx, q, owner, batchID).Scan(
		&s.OwnerID, &s.BatchID, &category, &identity, &s.Total, &created, &s.Received)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Category = analysis.Category(category)
	s.Identity = analysis.Identity(identity)
	s.CreatedAt = created.UTC()
	return &s, nil
}

func (r *BatchRepository) Create(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	const q = `
INSERT INTO upload_batches (user_id, batch_id, contract_type, identity, total, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, batch_id) DO NOTHING;`
	if _, err := r.db.ExecContext(ctx, q, s.OwnerID, s.BatchID, string(s.Category), string(s.Identity),
		s.Total, nowIfZero(s.CreatedAt)); err != nil {
		return nil, err
	}
	return r.Get(ctx, s.OwnerID, s.BatchID)
}

func (r *BatchRepository) UpsertPart(ctx context.Context, p *domain.Part) error {
	const q = `
INSERT INTO upload_batch_parts (user_id, batch_id, idx, file_name, file_mime, file_bytes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, batch_id, idx) DO UPDATE SET
  file_name = EXCLUDED.file_name,
  file_mime = EXCLUDED.file_mime,
  file_bytes = EXCLUDED.file_bytes,
  created_at = EXCLUDED.created_at;`
	_, err := r.db.ExecContext(ctx, q, p.OwnerID, p.BatchID, p.Position, p.FileName, p.MediaType,
		p.Data, nowIfZero(p.CreatedAt))
	return err
}

func (r *BatchRepository) CountParts(ctx context.Context, owner int64, batchID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_batch_parts WHERE user_id=$1 AND batch_id=$2;`, owner, batchID).Scan(&n)
	return n, err
}

func (r *BatchRepository) Parts(ctx context.Context, owner int64, batchID string) ([]domain.Part, error) {
	const q = `
SELECT user_id, batch_id, idx, file_name, file_mime, file_bytes, created_at
FROM upload_batch_parts
WHERE user_id=$1 AND batch_id=$2
ORDER BY idx ASC;`
	rows, err := r.db.QueryContext(ctx, q, owner, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Part
	for rows.Next() {
		var p domain.Part
		var created time.Time
		if err := rows.Scan(&p.OwnerID, &p.BatchID, &p.Position, &p.FileName, &p.MediaType, &p.Data, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = created.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *BatchRepository) Delete(ctx context.Context, owner int64, batchID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM upload_batch_parts WHERE user_id=$1 AND batch_id=$2;`, owner, batchID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM upload_batches WHERE user_id=$1 AND batch_id=$2;`, owner, batchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit()
}
