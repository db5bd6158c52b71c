package sqlite

import (
	"encoding/json"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

// timestamps are stored as unix nanoseconds so ORDER BY is numeric
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func encodeResult(r analysis.Result) (string, error) {
	if r.Clauses == nil {
		r.Clauses = []analysis.Clause{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeResult(s string) (analysis.Result, error) {
	var r analysis.Result
	if s == "" {
		return analysis.EmptyResult(), nil
	}
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return r, err
	}
	if r.Clauses == nil {
		r.Clauses = []analysis.Clause{}
	}
	return r, nil
}
