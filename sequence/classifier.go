package sequence

import (
	"strings"

	"leadpilot/models"
)

// Classifier maps a lead to the sequence type it should be auto-enrolled
// into. Implementations are pure; the keyword lists are configuration, not
// part of the engine contract.
type Classifier interface {
	Classify(lead *models.Lead) (sequenceType string, ok bool)
}

// SegmentRule matches a lead's category or tags against keywords.
type SegmentRule struct {
	SequenceType string
	Keywords     []string
}

// KeywordClassifier applies rules in order and falls back to Default when
// nothing matches. An empty Default means no auto-enrollment.
type KeywordClassifier struct {
	Rules   []SegmentRule
	Default string
}

// DefaultSegmentRules are the stock heuristics; deployments override them
// through configuration.
func DefaultSegmentRules() []SegmentRule {
	return []SegmentRule{
		{SequenceType: "trial_onboarding", Keywords: []string{"trial", "signup", "demo"}},
		{SequenceType: "agency_outreach", Keywords: []string{"agency", "consultant"}},
	}
}

func NewKeywordClassifier(rules []SegmentRule, fallback string) *KeywordClassifier {
	return &KeywordClassifier{Rules: rules, Default: fallback}
}

func (c *KeywordClassifier) Classify(lead *models.Lead) (string, bool) {
	haystack := strings.ToLower(lead.Category)
	for _, tag := range lead.Tags {
		haystack += " " + strings.ToLower(tag.Tag)
	}

	for _, rule := range c.Rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
				return rule.SequenceType, true
			}
		}
	}
	if c.Default != "" {
		return c.Default, true
	}
	return "", false
}
