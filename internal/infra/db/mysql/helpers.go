package mysql

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

// nowIfZero keeps NOT NULL datetime columns filled
func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
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
	if strings.TrimSpace(s) == "" {
		// result_json column requires valid JSON; treat blank as empty result
		return analysis.EmptyResult(), nil
	}
	var r analysis.Result
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return r, err
	}
	if r.Clauses == nil {
		r.Clauses = []analysis.Clause{}
	}
	return r, nil
}
