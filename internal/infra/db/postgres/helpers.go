package postgres

import (
	"encoding/json"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func encodeResult(r analysis.Result) ([]byte, error) {
	if r.Clauses == nil {
		r.Clauses = []analysis.Clause{}
	}
	return json.Marshal(r)
}

func decodeResult(b []byte) (analysis.Result, error) {
	if len(b) == 0 {
		return analysis.EmptyResult(), nil
	}
	var r analysis.Result
	if err := json.Unmarshal(b, &r); err != nil {
		return r, err
	}
	if r.Clauses == nil {
		r.Clauses = []analysis.Clause{}
	}
	return r, nil
}
