package analysis

import (
	"fmt"
	"strings"
	"time"
)

// SchemaVersion participates in every cache key. Bump it whenever the prompt
// or the result schema changes so old records stop being reused.
const SchemaVersion = "p_v3"

// Category is the contract type the analysis is specialised for.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryMarriage    Category = "marriage"
	CategoryHouseSale   Category = "house_sale"
	CategoryVehicleSale Category = "vehicle_sale"
	CategoryLease       Category = "lease"
	CategoryEmployment  Category = "employment"
	CategoryNDA         Category = "nda"
	CategoryService     Category = "service"
)

var categoryLabels = map[Category]string{
	CategoryGeneral:     "通用合同",
	CategoryMarriage:    "婚姻财产",
	CategoryHouseSale:   "房屋买卖",
	CategoryVehicleSale: "车辆买卖",
	CategoryLease:       "租赁相关",
	CategoryEmployment:  "劳动合同",
	CategoryNDA:         "保密协议",
	CategoryService:     "采购服务",
}

// Categories returns every supported category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryGeneral, CategoryMarriage, CategoryHouseSale, CategoryVehicleSale,
		CategoryLease, CategoryEmployment, CategoryNDA, CategoryService,
	}
}

// ParseCategory accepts an empty value as general.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CategoryGeneral, nil
	}
	if _, ok := categoryLabels[c]; !ok {
		return "", fmt.Errorf("%w: unknown contract type %q", ErrInvalidInput, s)
	}
	return c, nil
}

// Label is the human readable prefix used in display labels.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return "合同"
}

// Identity is the party the review is written for.
type Identity string

const (
	IdentityA Identity = "A"
	IdentityB Identity = "B"
)

func ParseIdentity(s string) (Identity, error) {
	switch Identity(strings.ToUpper(strings.TrimSpace(s))) {
	case IdentityA:
		return IdentityA, nil
	case IdentityB:
		return IdentityB, nil
	}
	return "", fmt.Errorf("%w: identity must be A or B", ErrInvalidInput)
}

// Party returns the Chinese party name (甲方/乙方).
func (i Identity) Party() string {
	if i == IdentityA {
		return "甲方"
	}
	return "乙方"
}

type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

type Clause struct {
	Section      string `json:"section"`
	Title        string `json:"title"`
	OriginalText string `json:"originalText"`
	Explanation  string `json:"explanation"`
	Suggestion   string `json:"suggestion"`
	Level        Level  `json:"level"`
}

// Result is the structured output of the analysis oracle.
type Result struct {
	Score           float64  `json:"score"`
	RiskSummary     string   `json:"riskSummary"`
	OriginalContent string   `json:"originalContent"`
	Clauses         []Clause `json:"clauses"`
}

// SourceText is the originalContent to store for a result produced from
// text: the oracle's own value when it sent one, otherwise text.
func (r Result) SourceText(text string) string {
	if strings.TrimSpace(r.OriginalContent) != "" {
		return r.OriginalContent
	}
	return text
}

// EmptyResult is the valid shape returned for empty input.
func EmptyResult() Result {
	return Result{Clauses: []Clause{}}
}

// FileRef points at the original upload in the file store.
type FileRef struct {
	Key       string `json:"-"`
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
}

// Record is one completed unit of work.
type Record struct {
	ID              int64
	OwnerID         int64
	Category        Category
	Identity        Identity
	SchemaVersion   string
	Fingerprint     string
	OriginalContent string
	Result          Result
	File            *FileRef
	DisplayName     string
	CreatedAt       time.Time
}

// HasFile reports whether original bytes are retrievable for this record.
func (r *Record) HasFile() bool {
	return r.File != nil && r.File.Key != ""
}

// CacheKey identifies a reusable record.
type CacheKey struct {
	OwnerID       int64
	Category      Category
	Identity      Identity
	SchemaVersion string
	Fingerprint   string
}

// DisplayLabel builds "通用合同-03" style labels. seq starts at 1.
func DisplayLabel(c Category, seq int) string {
	if seq < 1 {
		seq = 1
	}
	return fmt.Sprintf("%s-%02d", c.Label(), seq)
}
