package batch

import (
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

const (
	MinParts = 1
	MaxParts = 9
)

// Session is an in-progress multi-part submission. Category, Identity and
// Total are fixed by the first part.
type Session struct {
	OwnerID   int64
	BatchID   string
	Category  analysis.Category
	Identity  analysis.Identity
	Total     int
	Received  int // always COUNT(*) of stored parts
	CreatedAt time.Time
}

// Complete is derived, never stored.
func (s *Session) Complete() bool {
	return s.Received >= s.Total
}

// Matches reports whether a later part carries the same fixed parameters.
func (s *Session) Matches(c analysis.Category, id analysis.Identity, total int) bool {
	return s.Category == c && s.Identity == id && s.Total == total
}

// Part is one uploaded page, unique per (owner, batch, position).
type Part struct {
	OwnerID   int64
	BatchID   string
	Position  int
	Data      []byte
	MediaType string
	FileName  string
	CreatedAt time.Time
}

type Progress struct {
	BatchID  string `json:"batchId"`
	Received int    `json:"processedImages"`
	Total    int    `json:"totalImages"`
}

func (p Progress) Ready() bool { return p.Received >= p.Total }
