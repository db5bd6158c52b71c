package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/bryanwahyu/contract-risk/internal/domain/share"
)

type ShareRepository struct {
	db *sql.DB
}

func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

func (r *ShareRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_shares WHERE share_id=?;`, id).Scan(&n)
	return n > 0, err
}

func (r *ShareRepository) Save(ctx context.Context, s *domain.Snapshot) error {
	const q = `
INSERT INTO analysis_shares
  (share_id, analysis_id, user_id, score, score_title, risk_summary, contract_name, expires_at, created_at)
VALUES (?,?,?,?,?,?,?,?,?);`
	_, err := r.db.ExecContext(ctx, q, s.ID, s.AnalysisID, s.OwnerID, s.Score, s.ScoreTitle,
		s.RiskSummary, s.ContractName, s.ExpiresAt.UTC(), nowIfZero(s.CreatedAt))
	return err
}

func (r *ShareRepository) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	const q = `
SELECT share_id, analysis_id, user_id, score, score_title, risk_summary, contract_name, expires_at, created_at
FROM analysis_shares WHERE share_id=? LIMIT 1;`
	var s domain.Snapshot
	var expires, created time.Time
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.AnalysisID, &s.OwnerID, &s.Score, &s.ScoreTitle,
		&s.RiskSummary, &s.ContractName, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.ExpiresAt = expires.UTC()
	s.CreatedAt = created.UTC()
	return &s, nil
}
