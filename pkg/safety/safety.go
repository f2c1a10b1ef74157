package safety

import (
	"regexp"

	"github.com/y-hosokawa/hibari/pkg/model"
)

const redactedPlaceholder = "[REDACTED]"

const maxExcerptLen = 80

// Rule is one immutable screening rule. Rules are evaluated in the order
// given at construction.
type Rule struct {
	Name     string
	Type     model.FlagType
	Severity model.Severity
	Pattern  *regexp.Regexp

	// Redact replaces matched text in the sanitized output
	Redact bool
}

// ScanResult is the outcome of screening one input
type ScanResult struct {
	Sanitized string
	Severity  model.Severity
	Flags     []model.SecurityFlag
}

// Blocked reports whether the input must not reach the model
func (r *ScanResult) Blocked() bool {
	return r.Severity == model.SeverityBlock
}

// Screener runs a fixed ordered rule set over raw input before any model
// call. Scanning is a bounded regex pass and never calls out.
type Screener struct {
	rules []Rule
}

// New creates a Screener with the given rules
func New(rules ...Rule) *Screener {
	return &Screener{rules: rules}
}

// Default creates a Screener with the built-in rule set
func Default() *Screener {
	return New(DefaultRules()...)
}

// Scan evaluates every rule against the text. The highest severity among
// matched rules wins. Matches of redacting rules are masked in Sanitized.
func (s *Screener) Scan(text string) *ScanResult {
	result := &ScanResult{
		Sanitized: text,
		Severity:  model.SeverityNone,
	}

	for _, rule := range s.rules {
		matches := rule.Pattern.FindAllString(result.Sanitized, -1)
		if len(matches) == 0 {
			continue
		}

		for _, m := range matches {
			result.Flags = append(result.Flags, model.SecurityFlag{
				Type:     rule.Type,
				Rule:     rule.Name,
				Severity: rule.Severity,
				Excerpt:  excerpt(m),
			})
		}
		if severityRank(rule.Severity) > severityRank(result.Severity) {
			result.Severity = rule.Severity
		}
		if rule.Redact {
			result.Sanitized = rule.Pattern.ReplaceAllString(result.Sanitized, redactedPlaceholder)
		}
	}

	return result
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityBlock:
		return 2
	case model.SeverityWarn:
		return 1
	default:
		return 0
	}
}

func excerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= maxExcerptLen {
		return s
	}
	return string(runes[:maxExcerptLen])
}
