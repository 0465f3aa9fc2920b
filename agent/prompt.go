package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tradegate/customs-copilot/docstore"
	"github.com/tradegate/customs-copilot/domain"
)

const defaultNoGroundingMessage = "관련 근거 문서를 찾지 못해 정확한 답변을 드리기 어렵습니다. " +
	"질문을 조금 더 구체적으로 작성해 주시면 다시 확인하겠습니다."

func defaultSystemPrompt(d domain.Domain) string {
	base := "당신은 관세/통관 전문 상담 어시스턴트입니다. " +
		"답변은 반드시 제공된 근거 문서의 내용만 인용해야 하며, 근거가 없는 내용은 추측하지 마세요. " +
		"근거 문서를 인용할 때는 [번호] 표기를 사용하세요."
	switch d {
	case domain.Statute:
		return base + " 관세법 조문과 법령 해석에 집중하세요."
	case domain.Regulation:
		return base + " 수출입 요건, 검역, 원산지 등 무역 규제에 집중하세요."
	case domain.Advisory:
		return base + " 품목분류 결정 사례와 유권해석 선례에 집중하세요."
	}
	return base
}

// BuildGroundedPrompt renders the user question plus the numbered evidence
// block the model is constrained to cite from.
func BuildGroundedPrompt(question string, docs []docstore.RetrievedDocument) string {
	var sb strings.Builder
	sb.WriteString("질문: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\n근거 문서:\n")
	for i, doc := range docs {
		title := doc.Title
		if title == "" {
			title = doc.SourceID
		}
		sb.WriteString(fmt.Sprintf("[%d] %s (유사도 %.2f)\n%s\n\n", i+1, title, doc.Score, excerptForPrompt(doc.Excerpt, 800)))
	}
	sb.WriteString("위 근거 문서만 사용하여 질문에 답하세요.")
	return sb.String()
}

// Normalize prepares a raw question for retrieval: trim, expand known
// abbreviations, and inject auxiliary hint fields (material, usage, ...) when
// the request carries them.
func Normalize(question string, abbreviations map[string]string, hints map[string]string) string {
	q := strings.Join(strings.Fields(question), " ")

	for abbr, expanded := range abbreviations {
		if containsWord(q, abbr) {
			q = replaceWord(q, abbr, expanded)
		}
	}

	if len(hints) > 0 {
		keys := make([]string, 0, len(hints))
		for k := range hints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var extra []string
		for _, k := range keys {
			if v := strings.TrimSpace(hints[k]); v != "" {
				extra = append(extra, fmt.Sprintf("%s: %s", k, v))
			}
		}
		if len(extra) > 0 {
			q = q + " (" + strings.Join(extra, ", ") + ")"
		}
	}
	return q
}

func containsWord(text, word string) bool {
	for _, tok := range strings.Fields(text) {
		if strings.EqualFold(strings.Trim(tok, ".,!?()[]"), word) {
			return true
		}
	}
	return false
}

func replaceWord(text, word, replacement string) string {
	fields := strings.Fields(text)
	for i, tok := range fields {
		if strings.EqualFold(strings.Trim(tok, ".,!?()[]"), word) {
			fields[i] = replacement
		}
	}
	return strings.Join(fields, " ")
}

func excerptForPrompt(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
