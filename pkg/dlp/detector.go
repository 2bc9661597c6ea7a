package dlp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Finding is one rule match inside a field value.
type Finding struct {
	Type  string `json:"type"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Detector keeps patient identifiers out of inferred configurations. Values of fields the
// catalog flags as PHI are reduced to their shape; every other value is scanned with the
// regex rules.
type Detector struct {
	rules []compiledRule
}

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("dlp rule %s: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled}, nil
}

// Detect returns the rule matches in value ordered by position.
func (d *Detector) Detect(value string) []Finding {
	if d == nil {
		return nil
	}
	var findings []Finding
	for _, rule := range d.rules {
		for _, match := range rule.re.FindAllStringIndex(value, -1) {
			findings = append(findings, Finding{Type: rule.rule.Type, Start: match[0], End: match[1]})
		}
	}
	sort.Slice(findings, func(i, j int) bool {
		return findings[i].Start < findings[j].Start
	})
	return findings
}

// Sanitize replaces every rule match with the rule's mask.
func (d *Detector) Sanitize(value string) string {
	if d == nil {
		return value
	}
	masked := value
	for _, rule := range d.rules {
		masked = rule.re.ReplaceAllString(masked, rule.rule.Mask)
	}
	return masked
}

// MaskValue masks a field value, reducing it to its shape when phi is set.
func (d *Detector) MaskValue(value string, phi bool) string {
	if phi {
		return Shape(value)
	}
	return d.Sanitize(value)
}

// Shape keeps the structure of a value while dropping its content: digits become 9,
// letters become A and separators are kept ("123456^^^MRN" -> "999999^^^AAA").
func Shape(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			b.WriteByte('9')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteByte('A')
		case r > 127:
			b.WriteByte('A')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
