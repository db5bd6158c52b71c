package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

// analysisResponse is identical for cache hits and fresh results.
type analysisResponse struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Date            time.Time         `json:"date"`
	Score           float64           `json:"score"`
	RiskSummary     string            `json:"riskSummary"`
	Clauses         []analysis.Clause `json:"clauses"`
	OriginalContent string            `json:"originalContent"`
	Status          string            `json:"status"`
	Type            analysis.Category `json:"type"`
	Identity        analysis.Identity `json:"identity"`
	PromptVersion   string            `json:"promptVersion"`
	SchemaVersion   string            `json:"schemaVersion"`
	ImagePreview    *string           `json:"imagePreview"`
	FileURL         *string           `json:"fileUrl"`
	FileName        *string           `json:"fileName"`
	Meta            map[string]any    `json:"meta,omitempty"`
}

type historyItem struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Type          analysis.Category `json:"type"`
	Identity      analysis.Identity `json:"identity"`
	PromptVersion string            `json:"promptVersion"`
	Date          time.Time         `json:"date"`
	Result        analysis.Result   `json:"result"`
	FileURL       string            `json:"fileUrl,omitempty"`
	FileName      string            `json:"fileName,omitempty"`
}

func fileURL(id int64) string {
	return fmt.Sprintf("/v1/contracts/%d/file", id)
}

func analysisView(rec *analysis.Record, meta map[string]any) analysisResponse {
	clauses := rec.Result.Clauses
	if clauses == nil {
		clauses = []analysis.Clause{}
	}
	out := analysisResponse{
		ID:              rec.ID,
		Name:            rec.DisplayName,
		Date:            rec.CreatedAt,
		Score:           rec.Result.Score,
		RiskSummary:     rec.Result.RiskSummary,
		Clauses:         clauses,
		// stored from Result.SourceText, so it already is the oracle's value when one was sent
		OriginalContent: rec.OriginalContent,
		Status:          "completed",
		Type:            rec.Category,
		Identity:        rec.Identity,
		PromptVersion:   rec.SchemaVersion,
		SchemaVersion:   rec.SchemaVersion,
		Meta:            meta,
	}
	if rec.HasFile() {
		u, name := fileURL(rec.ID), rec.File.Name
		out.FileURL, out.FileName = &u, &name
	}
	return out
}

func historyView(rec *analysis.Record) historyItem {
	res := rec.Result
	if res.Clauses == nil {
		res.Clauses = []analysis.Clause{}
	}
	res.OriginalContent = rec.OriginalContent
	item := historyItem{
		ID:            rec.ID,
		Name:          rec.DisplayName,
		Type:          rec.Category,
		Identity:      rec.Identity,
		PromptVersion: rec.SchemaVersion,
		Date:          rec.CreatedAt,
		Result:        res,
	}
	if rec.HasFile() {
		item.FileURL = fileURL(rec.ID)
		item.FileName = rec.File.Name
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
