// Package output turns raw model replies into analysis results.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/share"
	"github.com/bryanwahyu/contract-risk/internal/infra/ai/prompt"
)

// resultSchema is what every review or merge reply must look like.
var resultSchema = map[string]any{
	"type":     "object",
	"required": []any{"score", "riskSummary", "clauses"},
	"properties": map[string]any{
		"score":           map[string]any{"type": "number"},
		"riskSummary":     map[string]any{"type": "string"},
		"originalContent": map[string]any{"type": "string"},
		"clauses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"section":      map[string]any{"type": "string"},
					"title":        map[string]any{"type": "string"},
					"originalText": map[string]any{"type": "string"},
					"explanation":  map[string]any{"type": "string"},
					"suggestion":   map[string]any{"type": "string"},
					"level":        map[string]any{"type": "string"},
				},
			},
		},
	},
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(resultSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("result.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile("result.json")
	})
	return compiled, compileErr
}

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*\\n?")
	fenceClose = regexp.MustCompile("\\n?```$")
)

// Clean strips markdown fences and control characters that break json.Unmarshal.
func Clean(raw string) string {
	t := strings.TrimSpace(raw)
	if strings.HasPrefix(t, "```") {
		t = fenceOpen.ReplaceAllString(t, "")
		t = fenceClose.ReplaceAllString(t, "")
		t = strings.TrimSpace(t)
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, t)
}

// Parse validates a model reply and returns a normalised Result.
// Any failure is reported as ai.ErrOracleOutputInvalid.
func Parse(raw string) (analysis.Result, error) {
	s, err := schema()
	if err != nil {
		return analysis.Result{}, err
	}
	text := Clean(raw)
	if text == "" {
		return analysis.Result{}, fmt.Errorf("%w: empty reply", ai.ErrOracleOutputInvalid)
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return analysis.Result{}, fmt.Errorf("%w: %v", ai.ErrOracleOutputInvalid, err)
	}
	if err := s.Validate(doc); err != nil {
		return analysis.Result{}, fmt.Errorf("%w: %v", ai.ErrOracleOutputInvalid, err)
	}

	var res analysis.Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return analysis.Result{}, fmt.Errorf("%w: %v", ai.ErrOracleOutputInvalid, err)
	}
	return Normalize(res), nil
}

// Normalize clamps score to 0..100, fills an empty summary, upper-cases
// levels (MEDIUM when unknown) and keeps at most prompt.MaxClauses clauses.
func Normalize(r analysis.Result) analysis.Result {
	switch {
	case math.IsNaN(r.Score) || r.Score < 0:
		r.Score = 0
	case r.Score > 100:
		r.Score = 100
	}
	r.RiskSummary = strings.TrimSpace(r.RiskSummary)
	if r.RiskSummary == "" {
		r.RiskSummary = share.DefaultSummary
	}

	if r.Clauses == nil {
		r.Clauses = []analysis.Clause{}
	}
	if len(r.Clauses) > prompt.MaxClauses {
		r.Clauses = r.Clauses[:prompt.MaxClauses]
	}
	for i := range r.Clauses {
		r.Clauses[i].Level = normalizeLevel(r.Clauses[i].Level)
	}
	return r
}

func normalizeLevel(l analysis.Level) analysis.Level {
	switch analysis.Level(strings.ToUpper(strings.TrimSpace(string(l)))) {
	case analysis.LevelHigh:
		return analysis.LevelHigh
	case analysis.LevelLow:
		return analysis.LevelLow
	default:
		return analysis.LevelMedium
	}
}
