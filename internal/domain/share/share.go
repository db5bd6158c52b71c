package share

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("share not found")
	ErrExpired  = errors.New("share expired")
)

// DefaultSummary is shown when the analysis has no risk summary.
const DefaultSummary = "暂无风险摘要"

// Snapshot is the frozen public projection of one analysis.
type Snapshot struct {
	ID           string    `json:"shareId"`
	AnalysisID   int64     `json:"-"`
	OwnerID      int64     `json:"-"`
	Score        int       `json:"score"`
	ScoreTitle   string    `json:"scoreTitle"`
	RiskSummary  string    `json:"riskSummary"`
	ContractName string    `json:"contractName"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CreatedAt    time.Time `json:"-"`
}

func (s *Snapshot) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// ScoreTitle maps a 0..100 safety score to the headline shown on share pages.
func ScoreTitle(score int) string {
	switch {
	case score >= 70:
		return "整体安全"
	case score >= 40:
		return "检测到中度风险"
	default:
		return "检测到高风险"
	}
}

type Repository interface {
	Exists(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, id string) (*Snapshot, error)
}
