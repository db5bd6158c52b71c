package output

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

func TestParse_FencedReply(t *testing.T) {
	raw := "```json\n{\"score\": 65, \"riskSummary\": \" 押金条款不利 \", \"originalContent\": \"x\"," +
		"\"clauses\": [{\"title\": \"押金\", \"level\": \"high\"}, {\"title\": \"维修\", \"level\": \"urgent\"}]}\n```"
	res, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 65.0, res.Score)
	assert.Equal(t, "押金条款不利", res.RiskSummary)
	require.Len(t, res.Clauses, 2)
	assert.Equal(t, analysis.LevelHigh, res.Clauses[0].Level)
	assert.Equal(t, analysis.LevelMedium, res.Clauses[1].Level)
}

func TestParse_StripsControlCharacters(t *testing.T) {
	raw := "{\"score\": 10, \"riskSummary\": \"a\x01b\", \"clauses\": []}"
	res, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "ab", res.RiskSummary)
	assert.NotNil(t, res.Clauses)
}

func TestParse_ClampsAndCaps(t *testing.T) {
	var clauses []string
	for i := 0; i < 15; i++ {
		clauses = append(clauses, fmt.Sprintf(`{"title":"c%d","level":"LOW"}`, i))
	}
	raw := `{"score": 140, "riskSummary": "", "clauses": [` + strings.Join(clauses, ",") + `]}`
	res, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Score)
	assert.Equal(t, "暂无风险摘要", res.RiskSummary)
	assert.Len(t, res.Clauses, 12)
	assert.Equal(t, "c11", res.Clauses[11].Title)
}

func TestParse_Invalid(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":          "   ",
		"not json":       "对不起，我无法完成",
		"missing fields": `{"score": 50}`,
		"wrong type":     `{"score": "high", "riskSummary": "", "clauses": []}`,
		"array":          `[1,2,3]`,
	} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ai.ErrOracleOutputInvalid, name)
	}
}
