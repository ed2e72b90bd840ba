package dlp

import (
	"fmt"
	"regexp"
	"strings"
)

// Finding is one identifier match inside a scanned value.
type Finding struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// ScanResult reports identifiers that survived field-level removal, typically
// inside free-text values.
type ScanResult struct {
	Detected   bool      `json:"detected"`
	Confidence float64   `json:"confidence"`
	Types      []string  `json:"types"`
	Findings   []Finding `json:"findings"`
}

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Detector scans de-identified payloads for residual direct identifiers.
// A nil detector is a no-op.
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
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled}, nil
}

// Detect walks the payload recursively and matches every enabled rule against
// each string value.
func (d *Detector) Detect(data map[string]interface{}) ScanResult {
	if d == nil {
		return ScanResult{}
	}

	var findings []Finding
	types := make(map[string]struct{})

	var recurse func(value interface{})
	recurse = func(value interface{}) {
		switch v := value.(type) {
		case string:
			detectInText(v, d.rules, types, &findings)
		case map[string]interface{}:
			for _, nested := range v {
				recurse(nested)
			}
		case []interface{}:
			for _, nested := range v {
				recurse(nested)
			}
		default:
			text := strings.TrimSpace(convertToString(v))
			if text == "" {
				return
			}
			detectInText(text, d.rules, types, &findings)
		}
	}

	for _, value := range data {
		recurse(value)
	}

	typeList := make([]string, 0, len(types))
	for t := range types {
		typeList = append(typeList, t)
	}

	return ScanResult{
		Detected:   len(findings) > 0,
		Confidence: confidenceScore(len(findings)),
		Types:      typeList,
		Findings:   findings,
	}
}

func detectInText(text string, rules []compiledRule, types map[string]struct{}, findings *[]Finding) {
	for _, rule := range rules {
		matches := rule.re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		types[rule.rule.Type] = struct{}{}
		for _, match := range matches {
			*findings = append(*findings, Finding{
				Type:  rule.rule.Type,
				Value: text[match[0]:match[1]],
				Start: match[0],
				End:   match[1],
			})
		}
	}
}

// Sanitize returns a deep copy with every rule match replaced by its mask.
func (d *Detector) Sanitize(data map[string]interface{}) map[string]interface{} {
	if d == nil {
		return data
	}

	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		out[key] = sanitizeValue(value, d.rules)
	}
	return out
}

func sanitizeValue(value interface{}, rules []compiledRule) interface{} {
	switch v := value.(type) {
	case string:
		masked := v
		for _, rule := range rules {
			masked = rule.re.ReplaceAllString(masked, rule.rule.Mask)
		}
		return masked
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, nested := range v {
			out[k] = sanitizeValue(nested, rules)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, nested := range v {
			out[i] = sanitizeValue(nested, rules)
		}
		return out
	default:
		return value
	}
}

func convertToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func confidenceScore(count int) float64 {
	switch {
	case count == 0:
		return 0
	case count == 1:
		return 0.7
	case count == 2:
		return 0.85
	default:
		return 0.95
	}
}
