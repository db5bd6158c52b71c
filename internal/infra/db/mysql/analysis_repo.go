package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `id, user_id, contract_type, identity, prompt_version, content_hash,
       original_content, result_json, file_key, file_name, file_mime, file_size,
       display_name, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*domain.Record, error) {
	var (
		a                       domain.Record
		category, identity      string
		result                  string
		fileKey, fileName, mime string
		size                    int64
		created                 time.Time
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &category, &identity, &a.SchemaVersion, &a.Fingerprint,
		&a.OriginalContent, &result, &fileKey, &fileName, &mime, &size, &a.DisplayName, &created); err != nil {
		return nil, err
	}
	res, err := decodeResult(result)
	if err != nil {
		return nil, fmt.Errorf("decode result of analysis %d: %w", a.ID, err)
	}
	a.Category = domain.Category(category)
	a.Identity = domain.Identity(identity)
	a.Result = res
	a.CreatedAt = created.UTC()
	if fileKey != "" {
		a.File = &domain.FileRef{Key: fileKey, Name: fileName, MediaType: mime, Size: size}
	}
	return &a, nil
}

// Lookup newest record for the cache key
func (r *AnalysisRepository) Lookup(ctx context.Context, key domain.CacheKey) (*domain.Record, error) {
	q := `
SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id=? AND contract_type=? AND identity=? AND prompt_version=? AND content_hash=?
ORDER BY created_at DESC, id DESC LIMIT 1;`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, q,
		key.OwnerID, string(key.Category), string(key.Identity), key.SchemaVersion, key.Fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

// Store inserts a new analysis record
func (r *AnalysisRepository) Store(ctx context.Context, a *domain.Record) error {
	const q = `
INSERT INTO analyses
  (user_id, contract_type, identity, prompt_version, content_hash, original_content, result_json,
   file_key, file_name, file_mime, file_size, display_name, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?);`
	result, err := encodeResult(a.Result)
	if err != nil {
		return err
	}
	var fileKey, fileName, mime string
	var size int64
	if a.File != nil {
		fileKey, fileName, mime, size = a.File.Key, a.File.Name, a.File.MediaType, a.File.Size
	}
	res, err := r.db.ExecContext(ctx, q,
		a.OwnerID, string(a.Category), string(a.Identity), a.SchemaVersion, a.Fingerprint,
		a.OriginalContent, result, fileKey, fileName, mime, size, a.DisplayName, nowIfZero(a.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

func (r *AnalysisRepository) SetDisplayName(ctx context.Context, owner, id int64, name string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE analyses SET display_name=? WHERE user_id=? AND id=? AND display_name='';`, name, owner, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *AnalysisRepository) CountByCategory(ctx context.Context, owner int64, c domain.Category) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE user_id=? AND contract_type=?;`, owner, string(c)).Scan(&n)
	return n, err
}

func (r *AnalysisRepository) Get(ctx context.Context, owner, id int64) (*domain.Record, error) {
	q := `SELECT ` + analysisColumns + ` FROM analyses WHERE user_id=? AND id=? LIMIT 1;`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, q, owner, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

// List latest analyses per owner
func (r *AnalysisRepository) List(ctx context.Context, owner int64, limit int) ([]*domain.Record, error) {
	q := `
SELECT ` + analysisColumns + `
FROM analyses
WHERE user_id=?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AnalysisRepository) Delete(ctx context.Context, owner, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM analyses WHERE user_id=? AND id=?;`, owner, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AnalysisRepository) DeleteAll(ctx context.Context, owner int64) (int64, []string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT file_key FROM analyses WHERE user_id=? AND file_key<>'' FOR UPDATE;`, owner)
	if err != nil {
		return 0, nil, err
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return 0, nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM analyses WHERE user_id=?;`, owner)
	if err != nil {
		return 0, nil, err
	}
	n, _ := res.RowsAffected()
	return n, keys, tx.Commit()
}
