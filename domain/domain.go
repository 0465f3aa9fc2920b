package domain

import "fmt"

// Domain identifies one knowledge partition with its own document collection
// and agent configuration.
type Domain string

const (
	// Statute covers customs statute text (acts, articles, enforcement decrees).
	Statute Domain = "statute"
	// Regulation covers trade regulations (import/export requirements, quotas, origin rules).
	Regulation Domain = "regulation"
	// Advisory covers prior advisory case records (classification rulings, precedents).
	Advisory Domain = "advisory"
)

// All returns every known domain in fixed priority order.
// The order doubles as the tie-break priority: statute > regulation > advisory.
func All() []Domain {
	return []Domain{Statute, Regulation, Advisory}
}

// Valid reports whether d names a known domain.
func Valid(d Domain) bool {
	switch d {
	case Statute, Regulation, Advisory:
		return true
	}
	return false
}

// Priority returns the fixed tie-break rank of a domain, lower is higher priority.
func Priority(d Domain) int {
	for i, known := range All() {
		if known == d {
			return i
		}
	}
	return len(All())
}

// Config holds per-domain retrieval tuning. Statute lookups favour precision
// with a small TopK; advisory-case lookups favour recall with a larger TopK.
type Config struct {
	Domain         Domain
	TopK           int
	ScoreThreshold float64
	RerankEnabled  bool
	// Keywords are lexical routing cues for this domain.
	Keywords []string
	// Abbreviations maps trade shorthand to its expanded query form.
	Abbreviations map[string]string
}

// DefaultConfig returns the stock tuning for a domain.
func DefaultConfig(d Domain) (Config, error) {
	switch d {
	case Statute:
		return Config{
			Domain:         Statute,
			TopK:           3,
			ScoreThreshold: 0.35,
			RerankEnabled:  true,
			Keywords: []string{
				"법", "관세법", "조항", "조문", "시행령", "시행규칙", "벌칙", "과태료",
				"statute", "act", "article", "provision", "penalty",
			},
			Abbreviations: defaultAbbreviations(),
		}, nil
	case Regulation:
		return Config{
			Domain:         Regulation,
			TopK:           5,
			ScoreThreshold: 0.3,
			RerankEnabled:  true,
			Keywords: []string{
				"수입", "수출", "규제", "요건", "검역", "허가", "원산지", "나라", "국가", "세율", "관세율",
				"import", "export", "requirement", "quarantine", "tariff", "origin",
			},
			Abbreviations: defaultAbbreviations(),
		}, nil
	case Advisory:
		return Config{
			Domain:         Advisory,
			TopK:           8,
			ScoreThreshold: 0.25,
			RerankEnabled:  false,
			Keywords: []string{
				"사례", "선례", "판례", "결정", "품목분류", "유권해석", "질의", "회신",
				"case", "precedent", "ruling", "classification", "advisory",
			},
			Abbreviations: defaultAbbreviations(),
		}, nil
	}
	return Config{}, fmt.Errorf("unknown domain %q", d)
}

// DefaultConfigs returns the stock tuning for every domain, keyed by domain.
func DefaultConfigs() map[Domain]Config {
	out := make(map[Domain]Config, len(All()))
	for _, d := range All() {
		cfg, _ := DefaultConfig(d)
		out[d] = cfg
	}
	return out
}

func defaultAbbreviations() map[string]string {
	return map[string]string{
		"FTA": "자유무역협정 FTA",
		"HS":  "HS 품목분류코드",
		"CIF": "운임보험료포함가격 CIF",
		"FOB": "본선인도가격 FOB",
		"AEO": "수출입안전관리우수업체 AEO",
	}
}
