package prompt

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
)

// MaxClauses bounds the clause list in every oracle answer.
const MaxClauses = 12

const baseRules = "你是合同风险审阅助手，面向普通用户，用通俗中文解释合同风险与建议。" +
	"你提供的是“签前风险提醒与谈判建议”，不构成法律意见。" +
	"你将结合中国法律与常见合同实践识别风险。"

const outputRules = "只输出严格JSON（不要markdown、不要解释、不要多余字段）。" +
	"JSON字段必须且仅包含：score(0-100), riskSummary, clauses。不要复述合同全文。" +
	"clauses元素字段：section,title,originalText,explanation,suggestion,level(HIGH/MEDIUM/LOW)。" +
	"score含义：0=极高风险，100=风险很低。" +
	"clauses最多输出12条，优先输出最影响签署安全的条款。" +
	"riskSummary 梳理整份合同，输出概括性、整体性的风险评估。"

func roleRules(party string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "你必须严格站在%s立场，只识别与%s利益/风险直接相关的点。\n", party, party)
	fmt.Fprintf(&b, "禁止输出“对双方都一样”的泛泛建议（如：条款不清晰、建议明确），除非你说明该模糊将如何具体伤害%s。\n", party)
	fmt.Fprintf(&b, "每条 clause 的 explanation/suggestion 必须体现：如果我是%s，我为什么吃亏/我该怎么改/我该如何谈。\n", party)
	fmt.Fprintf(&b, "对%s明显有利、风险很低的条款一般不要输出（除非它掩盖了对方风险或存在反噬）。\n", party)
	fmt.Fprintf(&b, "score 含义：0=对%s极高风险，100=对%s风险很低（注意：是站在该方立场的分数）。", party, party)
	return b.String()
}

// System builds the review instructions for one contract type and party.
func System(c analysis.Category, id analysis.Identity) string {
	return baseRules + "\n" +
		roleRules(id.Party()) + "\n" +
		outputRules + "\n" +
		"合同类型：" + string(c) + "。\n" +
		"审阅重点：" + Hint(c) + "\n" +
		"输出语言：中文。\n" +
		"再次强调：只输出JSON字符串本体。"
}

const mergeRules = "\n你将收到多个分块审阅结果，请合并去重并输出最终JSON。合并规则：\n" +
	"- clauses 去重：若 originalText/标题/含义高度相似则只保留更清晰的一条。\n" +
	"- 保留最重要的风险点，最多12条。\n" +
	"- score 取整体风险评估（不是简单平均，可偏向更高风险）。\n"

// Merge extends System with the reduce step rules.
func Merge(c analysis.Category, id analysis.Identity) string {
	return System(c, id) + mergeRules
}

// OCR is the instruction sent together with page images.
const OCR = "请对图片进行OCR，输出完整可读的中文合同文本。只输出纯文本，不要解释。"
