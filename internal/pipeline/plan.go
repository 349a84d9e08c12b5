package pipeline

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"scour/internal/services"
)

var keywordStrip = regexp.MustCompile(`[!?.,:;\-+=*&%$#@/\\~^|<>()\[\]{}"'` + "`" + `\s]+`)

// NormalizeKeywords canonicalizes raw keywords: leading hashes dropped, NFKC
// normalization applied, punctuation and whitespace removed, duplicates
// collapsed in first-seen order, capped at maxKeywords.
func NormalizeKeywords(raw []string, maxKeywords int) []string {
	seen := make(map[string]struct{}, len(raw))
	keywords := make([]string, 0, len(raw))
	for _, keyword := range raw {
		keyword = strings.TrimPrefix(keyword, "#")
		keyword = norm.NFKC.String(keyword)
		keyword = strings.TrimSpace(keyword)
		keyword = keywordStrip.ReplaceAllString(keyword, "")
		if keyword == "" {
			continue
		}
		if _, dup := seen[keyword]; dup {
			continue
		}
		seen[keyword] = struct{}{}
		keywords = append(keywords, keyword)
		if maxKeywords > 0 && len(keywords) >= maxKeywords {
			break
		}
	}
	return keywords
}

// FairSplit divides a requested result count across n keywords: every
// keyword gets the integer base, and the remainder goes one-per-keyword to
// the first keywords.
func FairSplit(requested, n int) []int {
	if n <= 0 {
		return nil
	}
	base := requested / n
	remainder := requested % n
	targets := make([]int, n)
	for i := range targets {
		targets[i] = base
		if i < remainder {
			targets[i]++
		}
	}
	return targets
}

// KeywordBatch is one remote discovery call for one keyword.
type KeywordBatch struct {
	Keyword string
	Limit   int
}

// Plan is the stage-1 execution plan for a multi-keyword search.
type Plan struct {
	Keywords      []string
	PerTarget     []int
	PerOversample []int
	Batches       []KeywordBatch
}

// BuildPlan normalizes the keywords and lays out the per-keyword discovery
// batches. With two or more keywords every target is oversampled to absorb
// cross-keyword duplicates; each batch is capped at the remote page size.
func BuildPlan(raw []string, requested, maxKeywords, pageSize int, oversample float64) (*Plan, error) {
	keywords := NormalizeKeywords(raw, maxKeywords)
	if len(keywords) == 0 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "plan", "no usable keywords", nil)
	}
	if requested <= 0 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "plan", "requested result count must be positive", nil)
	}

	targets := FairSplit(requested, len(keywords))

	factor := 1.0
	if len(keywords) >= 2 && oversample > 1.0 {
		factor = oversample
	}

	plan := &Plan{
		Keywords:      keywords,
		PerTarget:     targets,
		PerOversample: make([]int, len(keywords)),
	}
	for i, target := range targets {
		want := int(math.Ceil(float64(target) * factor))
		if want < 1 {
			want = 1
		}
		plan.PerOversample[i] = want
		for remaining := want; remaining > 0; remaining -= pageSize {
			limit := remaining
			if limit > pageSize {
				limit = pageSize
			}
			plan.Batches = append(plan.Batches, KeywordBatch{Keyword: keywords[i], Limit: limit})
		}
	}
	return plan, nil
}
