package shares

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-risk/internal/application"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	domain "github.com/bryanwahyu/contract-risk/internal/domain/share"
	"github.com/bryanwahyu/contract-risk/internal/infra/db/sqlite"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

var _ application.Clock = (*clock)(nil)

func setup(t *testing.T) (*Service, *sqlite.AnalysisRepository, *clock) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "shares.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db))

	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	analyses := sqlite.NewAnalysisRepository(db)
	return &Service{Repo: sqlite.NewShareRepository(db), Analyses: analyses, Clock: c}, analyses, c
}

func storeAnalysis(t *testing.T, repo *sqlite.AnalysisRepository, owner int64, score float64, summary, name string) int64 {
	t.Helper()
	rec := &analysis.Record{
		OwnerID: owner, Category: analysis.CategoryLease, Identity: analysis.IdentityB,
		SchemaVersion: analysis.SchemaVersion, Fingerprint: "fp",
		Result:      analysis.Result{Score: score, RiskSummary: summary, Clauses: []analysis.Clause{}},
		DisplayName: name, CreatedAt: time.Now(),
	}
	require.NoError(t, repo.Store(context.Background(), rec))
	return rec.ID
}

func TestCreate_FreezesProjection(t *testing.T) {
	svc, repo, c := setup(t)
	id := storeAnalysis(t, repo, 1, 69.6, "", "租赁相关-02")

	snap, err := svc.Create(context.Background(), 1, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(snap.ID, "s_"))
	assert.Len(t, snap.ID, 18)
	assert.Equal(t, 70, snap.Score)
	assert.Equal(t, "整体安全", snap.ScoreTitle)
	assert.Equal(t, domain.DefaultSummary, snap.RiskSummary)
	assert.Equal(t, "租赁相关-02", snap.ContractName)
	assert.Equal(t, c.t.Add(30*24*time.Hour), snap.ExpiresAt)

	got, err := svc.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ContractName, got.ContractName)
}

func TestCreate_OtherOwnersAnalysisIsNotFound(t *testing.T) {
	svc, repo, _ := setup(t)
	id := storeAnalysis(t, repo, 1, 50, "s", "x")
	_, err := svc.Create(context.Background(), 2, id)
	assert.ErrorIs(t, err, analysis.ErrNotFound)
}

func TestGet_MissingAndExpired(t *testing.T) {
	svc, repo, c := setup(t)
	_, err := svc.Get(context.Background(), "s_0000000000000000")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap, err := svc.Create(context.Background(), 1, storeAnalysis(t, repo, 1, 20, "高风险", "n"))
	require.NoError(t, err)
	assert.Equal(t, "检测到高风险", snap.ScoreTitle)

	c.t = c.t.Add(31 * 24 * time.Hour)
	_, err = svc.Get(context.Background(), snap.ID)
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	svc, repo, _ := setup(t)
	id := storeAnalysis(t, repo, 1, 50, "s", "n")

	svc.NewID = func() (string, error) { return "s_aaaaaaaaaaaaaaaa", nil }
	_, err := svc.Create(context.Background(), 1, id)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), 1, id)
	assert.Error(t, err, "three identical ids exhaust the retries")

	ids := []string{"s_aaaaaaaaaaaaaaaa", "s_bbbbbbbbbbbbbbbb"}
	svc.NewID = func() (string, error) {
		next := ids[0]
		ids = ids[1:]
		return next, nil
	}
	snap, err := svc.Create(context.Background(), 1, id)
	require.NoError(t, err)
	assert.Equal(t, "s_bbbbbbbbbbbbbbbb", snap.ID)
}

func TestScoreTitleBoundaries(t *testing.T) {
	assert.Equal(t, "整体安全", domain.ScoreTitle(70))
	assert.Equal(t, "检测到中度风险", domain.ScoreTitle(69))
	assert.Equal(t, "检测到中度风险", domain.ScoreTitle(40))
	assert.Equal(t, "检测到高风险", domain.ScoreTitle(39))
	assert.Equal(t, 0, roundScore(-3))
	assert.Equal(t, 100, roundScore(101))
}
