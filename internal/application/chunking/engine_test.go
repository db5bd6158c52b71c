package chunking

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

type fakeOracle struct {
	mu         sync.Mutex
	inputs     []ai.Input
	merges     []ai.MergeInput
	analyzeErr error
	delay      func(idx int) time.Duration
	omitText   bool
}

func (f *fakeOracle) Analyze(ctx context.Context, in ai.Input) (analysis.Result, error) {
	idx, _ := chunkIndex(in.Text)
	if f.delay != nil {
		time.Sleep(f.delay(idx))
	}
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.analyzeErr != nil {
		return analysis.Result{}, f.analyzeErr
	}
	res := analysis.Result{
		Score:       float64(idx),
		RiskSummary: "chunk " + strconv.Itoa(idx),
		Clauses:     []analysis.Clause{{Title: "t" + strconv.Itoa(idx), Level: analysis.LevelLow}},
	}
	if !f.omitText {
		res.OriginalContent = "echo"
	}
	return res, nil
}

func (f *fakeOracle) Merge(ctx context.Context, in ai.MergeInput) (analysis.Result, error) {
	f.mu.Lock()
	f.merges = append(f.merges, in)
	f.mu.Unlock()
	return analysis.Result{Score: 42, RiskSummary: "merged", OriginalContent: "partial only"}, nil
}

// chunkIndex parses "【分块 i/n】" and returns i, or 0 for single-pass input.
func chunkIndex(text string) (int, int) {
	const prefix = "【分块 "
	if !strings.HasPrefix(text, prefix) {
		return 0, 0
	}
	rest := strings.TrimPrefix(text, prefix)
	end := strings.Index(rest, "】")
	if end < 0 {
		return 0, 0
	}
	parts := strings.SplitN(rest[:end], "/", 2)
	i, _ := strconv.Atoi(parts[0])
	n, _ := strconv.Atoi(parts[1])
	return i, n
}

func TestRun_EmptyTextShortCircuits(t *testing.T) {
	o := &fakeOracle{}
	res, err := New(o, nil).Run(context.Background(), analysis.CategoryGeneral, analysis.IdentityA, "   \n ")
	require.NoError(t, err)
	assert.Equal(t, analysis.EmptyResult(), res)
	assert.Empty(t, o.inputs)
	assert.Empty(t, o.merges)
}

func TestRun_AtThresholdIsSinglePass(t *testing.T) {
	o := &fakeOracle{omitText: true}
	text := strings.Repeat("a", SinglePassLimit)

	res, err := New(o, nil).Run(context.Background(), analysis.CategoryLease, analysis.IdentityB, text)
	require.NoError(t, err)
	require.Len(t, o.inputs, 1)
	assert.Empty(t, o.merges)
	assert.Equal(t, text, o.inputs[0].Text)
	assert.Equal(t, text, res.OriginalContent, "missing original content is back-filled")
}

func TestRun_SinglePassKeepsOracleOriginalContent(t *testing.T) {
	o := &fakeOracle{}
	res, err := New(o, nil).Run(context.Background(), analysis.CategoryGeneral, analysis.IdentityA, "short contract")
	require.NoError(t, err)
	assert.Equal(t, "echo", res.OriginalContent)
}

func TestRun_JustOverThresholdChunks(t *testing.T) {
	o := &fakeOracle{}
	text := strings.Repeat("b", SinglePassLimit+1)

	_, err := New(o, nil).Run(context.Background(), analysis.CategoryGeneral, analysis.IdentityA, text)
	require.NoError(t, err)
	require.Len(t, o.inputs, 5)
	require.Len(t, o.merges, 1)
	for _, in := range o.inputs {
		i, n := chunkIndex(in.Text)
		assert.Equal(t, 5, n)
		body := strings.TrimPrefix(in.Text, Header(i, n))
		assert.LessOrEqual(t, len([]rune(body)), ChunkSize)
	}
}

func TestRun_200kCharactersTenChunksOneMerge(t *testing.T) {
	o := &fakeOracle{}
	text := strings.Repeat("条", 200_000)

	res, err := New(o, nil).Run(context.Background(), analysis.CategoryGeneral, analysis.IdentityA, text)
	require.NoError(t, err)
	assert.Len(t, o.inputs, 10)
	require.Len(t, o.merges, 1)
	assert.Len(t, o.merges[0].Partials, 10)
	assert.Equal(t, text, res.OriginalContent)
	assert.Equal(t, 42.0, res.Score)
}

func TestRun_CapsAtTwelveChunks(t *testing.T) {
	o := &fakeOracle{}
	text := strings.Repeat("c", 300_000)

	_, err := New(o, nil).Run(context.Background(), analysis.CategoryGeneral, analysis.IdentityA, text)
	require.NoError(t, err)
	assert.Len(t, o.inputs, MaxChunks)
}

func TestRun_MergeReceivesPartialsInWindowOrder(t *testing.T) {
	// later windows finish first
	o := &fakeOracle{delay: func(idx int) time.Duration { return time.Duration(6-idx) * 5 * time.Millisecond }}
	text := strings.Repeat("d", 5*ChunkSize)
	e := New(o, nil)
	e.SinglePassLimit = ChunkSize

	_, err := e.Run(context.Background(), analysis.CategoryNDA, analysis.IdentityB, text)
	require.NoError(t, err)
	require.Len(t, o.merges, 1)
	for i, p := range o.merges[0].Partials {
		assert.Equal(t, float64(i+1), p.Score)
	}
	assert.Equal(t, analysis.CategoryNDA, o.merges[0].Category)
	assert.Equal(t, analysis.IdentityB, o.merges[0].Identity)
}

func TestRun_OracleFailureAbortsWithoutMerge(t *testing.T) {
	o := &fakeOracle{analyzeErr: ai.ErrOracleOutputInvalid}
	text := strings.Repeat("e", SinglePassLimit*2)

	_, err := New(o, nil).Run(context.Background(), analysis.CategoryGeneral, analysis.IdentityA, text)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ai.ErrOracleOutputInvalid))
	assert.Empty(t, o.merges)
}

func TestSplit(t *testing.T) {
	assert.Nil(t, Split("", 3, 2))
	assert.Equal(t, []string{"abc", "def", "g"}, Split("abcdefg", 3, 12))
	assert.Equal(t, []string{"ab", "cd"}, Split("abcdefg", 2, 2))
	assert.Equal(t, []string{"甲乙", "丙"}, Split("甲乙丙", 2, 12))
}
