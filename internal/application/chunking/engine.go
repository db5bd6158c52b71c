package chunking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/logger"
	"github.com/bryanwahyu/contract-risk/internal/metrics"
)

const (
	// SinglePassLimit is the longest text (in characters) sent to the oracle in one call.
	SinglePassLimit = 80_000
	ChunkSize       = 20_000
	// MaxChunks bounds both cost and fan-out; text past MaxChunks*ChunkSize is not analysed.
	MaxChunks          = 12
	DefaultConcurrency = 4
)

var tracer = otel.Tracer("github.com/bryanwahyu/contract-risk/internal/application/chunking")

// Engine splits oversized text into windows, analyses each window, and
// reduces the partial results with one merge call.
// Engine holds no per-call state and is safe for concurrent use.
type Engine struct {
	Oracle ai.Oracle
	Log    *logger.Logger

	SinglePassLimit int
	ChunkSize       int
	MaxChunks       int
	Concurrency     int
}

func New(oracle ai.Oracle, log *logger.Logger) *Engine {
	return &Engine{
		Oracle:          oracle,
		Log:             logger.OrNop(log),
		SinglePassLimit: SinglePassLimit,
		ChunkSize:       ChunkSize,
		MaxChunks:       MaxChunks,
		Concurrency:     DefaultConcurrency,
	}
}

// Header labels a window with its 1-based position and the window count.
func Header(i, n int) string {
	return fmt.Sprintf("【分块 %d/%d】\n", i, n)
}

// Split cuts text into consecutive windows of size characters, keeping at most max windows.
func Split(text string, size, max int) []string {
	if size <= 0 {
		size = ChunkSize
	}
	if max <= 0 {
		max = MaxChunks
	}
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes) && len(out) < max; start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// Run produces the final result for text. Oracle failures abort the run.
func (e *Engine) Run(ctx context.Context, c analysis.Category, id analysis.Identity, text string) (analysis.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return analysis.EmptyResult(), nil
	}
	log := logger.OrNop(e.Log)

	limit := e.SinglePassLimit
	if limit <= 0 {
		limit = SinglePassLimit
	}
	length := len([]rune(text))

	ctx, span := tracer.Start(ctx, "chunking.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("contract.category", string(c)),
		attribute.Int("text.chars", length),
	)

	if length <= limit {
		res, err := e.analyze(ctx, ai.Input{Category: c, Identity: id, Text: text})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "single pass failed")
			return analysis.Result{}, err
		}
		if strings.TrimSpace(res.OriginalContent) == "" {
			res.OriginalContent = text
		}
		return res, nil
	}

	chunks := Split(text, e.ChunkSize, e.MaxChunks)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	start := time.Now()
	log.Info("chunking.map.start", "category", c, "identity", id, "chars", length, "chunks", len(chunks))

	partials, err := e.mapChunks(ctx, c, id, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "map failed")
		log.Error("chunking.map.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return analysis.Result{}, err
	}
	log.Info("chunking.map.done", "chunks", len(chunks), "elapsed_ms", time.Since(start).Milliseconds())

	metrics.IncrementOracleCalls()
	final, err := e.Oracle.Merge(ctx, ai.MergeInput{Category: c, Identity: id, Partials: partials})
	if err != nil {
		metrics.IncrementOracleFailures()
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge failed")
		return analysis.Result{}, fmt.Errorf("merge %d chunks: %w", len(chunks), err)
	}
	// consumers always see the complete source, never a chunk
	final.OriginalContent = text
	if final.Clauses == nil {
		final.Clauses = []analysis.Clause{}
	}
	log.Info("chunking.merge.done", "chunks", len(chunks), "clauses", len(final.Clauses), "score", final.Score)
	return final, nil
}

// mapChunks analyses every window independently; results keep window order.
func (e *Engine) mapChunks(ctx context.Context, c analysis.Category, id analysis.Identity, chunks []string) ([]analysis.Result, error) {
	n := len(chunks)
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if limit > n {
		limit = n
	}

	results := make([]analysis.Result, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			res, err := e.analyze(gctx, ai.Input{Category: c, Identity: id, Text: Header(i+1, n) + chunk})
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, n, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) analyze(ctx context.Context, in ai.Input) (analysis.Result, error) {
	metrics.IncrementOracleCalls()
	res, err := e.Oracle.Analyze(ctx, in)
	if err != nil {
		metrics.IncrementOracleFailures()
		return analysis.Result{}, err
	}
	if res.Clauses == nil {
		res.Clauses = []analysis.Clause{}
	}
	return res, nil
}
