package shares

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/application"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	domain "github.com/bryanwahyu/contract-risk/internal/domain/share"
	"github.com/bryanwahyu/contract-risk/internal/logger"
)

const (
	DefaultTTL  = 30 * 24 * time.Hour
	idAttempts  = 3
	idHexLength = 16
)

// Service freezes a public projection of an analysis.
type Service struct {
	Repo     domain.Repository
	Analyses analysis.Repository
	Clock    application.Clock
	Log      *logger.Logger
	TTL      time.Duration
	// NewID is swapped in tests to force collisions.
	NewID func() (string, error)
}

// RandomID returns "s_" followed by 16 hex chars of sha256(32 random bytes).
func RandomID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return "s_" + hex.EncodeToString(sum[:])[:idHexLength], nil
}

// Create snapshots the owner's analysis. Score, title, summary and name are
// copied now; later changes to the analysis do not leak into the share.
func (s *Service) Create(ctx context.Context, owner, analysisID int64) (*domain.Snapshot, error) {
	rec, err := s.Analyses.Get(ctx, owner, analysisID)
	if err != nil {
		return nil, err
	}

	id, err := s.uniqueID(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	score := roundScore(rec.Result.Score)
	summary := strings.TrimSpace(rec.Result.RiskSummary)
	if summary == "" {
		summary = domain.DefaultSummary
	}
	name := strings.TrimSpace(rec.DisplayName)
	if name == "" {
		name = rec.Category.Label()
	}

	snap := &domain.Snapshot{
		ID:           id,
		AnalysisID:   rec.ID,
		OwnerID:      owner,
		Score:        score,
		ScoreTitle:   domain.ScoreTitle(score),
		RiskSummary:  summary,
		ContractName: name,
		ExpiresAt:    now.Add(s.ttl()),
		CreatedAt:    now,
	}
	if err := s.Repo.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save share: %w", err)
	}
	logger.OrNop(s.Log).Info("share.created", "owner_id", owner, "analysis_id", rec.ID, "share_id", id)
	return snap, nil
}

// Get is public; expired snapshots are reported as ErrExpired.
func (s *Service) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	snap, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.Expired(s.now()) {
		return nil, domain.ErrExpired
	}
	return snap, nil
}

func (s *Service) uniqueID(ctx context.Context) (string, error) {
	gen := s.NewID
	if gen == nil {
		gen = RandomID
	}
	for i := 0; i < idAttempts; i++ {
		id, err := gen()
		if err != nil {
			return "", err
		}
		taken, err := s.Repo.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", errors.New("could not allocate share id")
}

func roundScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	n := int(math.Round(v))
	return max(0, min(100, n))
}

func (s *Service) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultTTL
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return s.Clock.Now()
}
