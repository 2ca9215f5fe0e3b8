package analysis

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules/default.yaml
var defaultRules []byte

// RuleSet is a versioned table of classification heuristics.
// Keyword and pattern order is significant: indicator tags are emitted in list order.
type RuleSet struct {
	Version          string             `yaml:"version"`
	Thresholds       Thresholds         `yaml:"thresholds"`
	SpamKeywords     []string           `yaml:"spam_keywords"`
	CustomerKeywords []string           `yaml:"customer_keywords"`
	PhishingPatterns []string           `yaml:"phishing_patterns"`
	UrgencyWords     []string           `yaml:"urgency_words"`
	TrustedTLDs      []string           `yaml:"trusted_tlds"`
	StopWords        []string           `yaml:"stop_words"`
	Negators         []string           `yaml:"negators"`
	Sentiment        map[string]float64 `yaml:"sentiment"`
}

// Thresholds are the cut-offs for the derived indicators
type Thresholds struct {
	CapsRatio        float64 `yaml:"caps_ratio"`
	ExclamationCount int     `yaml:"exclamation_count"`
	LinkCount        int     `yaml:"link_count"`
}

// DefaultRuleSet returns the rule set compiled into the binary
func DefaultRuleSet() (*RuleSet, error) {
	rs, err := LoadRuleSet(bytes.NewReader(defaultRules))
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rule set: %w", err)
	}
	return rs, nil
}

// LoadRuleSetFile loads a rule set from path, or the embedded default when path is empty
func LoadRuleSetFile(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRuleSet()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule set %s: %w", path, err)
	}
	defer f.Close()

	rs, err := LoadRuleSet(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule set %s: %w", path, err)
	}
	return rs, nil
}

// LoadRuleSet decodes and validates a YAML rule set
func LoadRuleSet(r io.Reader) (*RuleSet, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rs RuleSet
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("failed to decode rule set: %w", err)
	}

	rs.normalize()
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks that the rule set is usable
func (rs *RuleSet) Validate() error {
	if rs.Version == "" {
		return fmt.Errorf("rule set version is required")
	}
	if rs.Thresholds.CapsRatio <= 0 || rs.Thresholds.CapsRatio > 1 {
		return fmt.Errorf("thresholds.caps_ratio must be in (0,1]")
	}
	if rs.Thresholds.ExclamationCount < 0 {
		return fmt.Errorf("thresholds.exclamation_count must not be negative")
	}
	if rs.Thresholds.LinkCount < 0 {
		return fmt.Errorf("thresholds.link_count must not be negative")
	}
	for i, kw := range rs.SpamKeywords {
		if kw == "" {
			return fmt.Errorf("spam_keywords[%d] is empty", i)
		}
	}
	for i, kw := range rs.CustomerKeywords {
		if kw == "" {
			return fmt.Errorf("customer_keywords[%d] is empty", i)
		}
	}
	for i, w := range rs.UrgencyWords {
		if w == "" {
			return fmt.Errorf("urgency_words[%d] is empty", i)
		}
	}
	return nil
}

// normalize lower-cases every matchable term. Text is matched in lower case.
func (rs *RuleSet) normalize() {
	lowerAll(rs.SpamKeywords)
	lowerAll(rs.CustomerKeywords)
	lowerAll(rs.UrgencyWords)
	lowerAll(rs.StopWords)
	lowerAll(rs.Negators)
	for i, tld := range rs.TrustedTLDs {
		rs.TrustedTLDs[i] = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tld)), ".")
	}
	if len(rs.Sentiment) > 0 {
		lex := make(map[string]float64, len(rs.Sentiment))
		for word, score := range rs.Sentiment {
			lex[strings.ToLower(word)] = score
		}
		rs.Sentiment = lex
	}
}

func lowerAll(words []string) {
	for i, w := range words {
		words[i] = strings.ToLower(strings.TrimSpace(w))
	}
}
