package analysis

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brandon/mail-triage/pkg/types"
)

const (
	maxKeyPhrases    = 10
	maxUrgency       = 10
	maxProfessional  = 10
	baseProfessional = 5
)

var (
	linkPattern     = regexp.MustCompile(`https?://[^\s]+`)
	sentenceSplit   = regexp.MustCompile(`[.!?]+`)
	repeatedMarks   = regexp.MustCompile(`[!?]{2,}`)
	wordSplit       = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	sentimentSplit  = regexp.MustCompile(`[^\p{L}\p{N}_']+`)
	keyPhraseFilter = regexp.MustCompile(`^[a-z]+$`)
)

// Classifier scores messages against a compiled rule set.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules     *RuleSet
	phishing  []*regexp.Regexp
	stopWords map[string]struct{}
	negators  map[string]struct{}
}

// NewClassifier compiles the rule set's phishing patterns
func NewClassifier(rules *RuleSet) (*Classifier, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule set is required")
	}

	c := &Classifier{
		rules:     rules,
		phishing:  make([]*regexp.Regexp, 0, len(rules.PhishingPatterns)),
		stopWords: toSet(rules.StopWords),
		negators:  toSet(rules.Negators),
	}

	for i, p := range rules.PhishingPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid phishing pattern %d %q: %w", i+1, p, err)
		}
		c.phishing = append(c.phishing, re)
	}

	return c, nil
}

// RuleSetVersion returns the version of the loaded rule set
func (c *Classifier) RuleSetVersion() string {
	return c.rules.Version
}

// Classify computes the analysis for a parsed message
func (c *Classifier) Classify(email *types.ParsedEmail) types.AnalysisResult {
	var subject, body, from string
	if email != nil {
		subject, body, from = email.Subject, email.BodyText, email.From
	}

	raw := subject + " " + body
	text := strings.ToLower(raw)

	spam := c.spamIndicators(raw, text)
	phishing := c.phishingIndicators(text, from)
	customer := c.customerScore(text)
	professionalism := professionalismScore(raw)

	trust := 100.0
	trust -= 5 * float64(len(spam))
	trust -= 15 * float64(len(phishing))
	trust += 2 * (professionalism - baseProfessional)
	trust += 10 * customer
	trust = clamp(trust, 0, 100)

	return types.AnalysisResult{
		Category:             categorize(len(spam), len(phishing), trust, customer),
		TrustScore:           round1(trust),
		SentimentScore:       round1(c.sentimentScore(text)),
		UrgencyScore:         round1(c.urgencyScore(text)),
		ProfessionalismScore: round1(professionalism),
		CustomerScore:        round1(customer),
		SpamIndicators:       spam,
		PhishingIndicators:   phishing,
		KeyPhrases:           c.keyPhrases(text),
		RuleSetVersion:       c.rules.Version,
	}
}

// categorize is an ordered decision list; the first matching rule wins.
func categorize(spamCount, phishingCount int, trust, customer float64) types.Category {
	switch {
	case phishingCount > 0 || trust < 30:
		return types.CategorySpam
	case spamCount > 3 && trust < 50:
		return types.CategorySpam
	case customer > 0.3:
		return types.CategoryCustomer
	case spamCount > 5:
		return types.CategoryPromotional
	default:
		return types.CategoryNormal
	}
}

func (c *Classifier) spamIndicators(raw, text string) []string {
	indicators := make([]string, 0)
	for _, kw := range c.rules.SpamKeywords {
		if strings.Contains(text, kw) {
			indicators = append(indicators, kw)
		}
	}

	if capsRatio(raw) > c.rules.Thresholds.CapsRatio {
		indicators = append(indicators, "excessive_caps")
	}
	if strings.Count(text, "!") > c.rules.Thresholds.ExclamationCount {
		indicators = append(indicators, "excessive_exclamation")
	}

	return indicators
}

func (c *Classifier) phishingIndicators(text, from string) []string {
	indicators := make([]string, 0)
	for i, re := range c.phishing {
		if re.MatchString(text) {
			indicators = append(indicators, fmt.Sprintf("phishing_pattern_%d", i+1))
		}
	}

	if len(linkPattern.FindAllString(text, -1)) > c.rules.Thresholds.LinkCount {
		indicators = append(indicators, "excessive_links")
	}

	if strings.Contains(from, "@") && !c.trustedDomain(senderDomain(from)) {
		indicators = append(indicators, "suspicious_domain")
	}

	return indicators
}

// senderDomain returns the text after the last '@', without a closing angle bracket
func senderDomain(from string) string {
	domain := from[strings.LastIndex(from, "@")+1:]
	domain = strings.TrimSpace(domain)
	domain = strings.TrimRight(domain, "> \t")
	return strings.ToLower(domain)
}

func (c *Classifier) trustedDomain(domain string) bool {
	for _, tld := range c.rules.TrustedTLDs {
		if strings.HasSuffix(domain, "."+tld) {
			return true
		}
	}
	return false
}

// customerScore adds 0.1 per keyword present, capped at 1
func (c *Classifier) customerScore(text string) float64 {
	score := 0.0
	for _, kw := range c.rules.CustomerKeywords {
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}
	return math.Min(score, 1)
}

func (c *Classifier) sentimentScore(text string) float64 {
	if len(c.rules.Sentiment) == 0 {
		return 0
	}

	score := 0.0
	negate := false
	for _, token := range sentimentSplit.Split(text, -1) {
		token = strings.Trim(token, "'")
		if token == "" {
			continue
		}
		if _, ok := c.negators[token]; ok {
			negate = true
			continue
		}
		if polarity, ok := c.rules.Sentiment[token]; ok {
			if negate {
				polarity = -polarity
			}
			score += polarity
		}
		negate = false
	}
	return score
}

func (c *Classifier) urgencyScore(text string) float64 {
	count := 0
	for _, w := range c.rules.UrgencyWords {
		count += strings.Count(text, w)
	}
	if count > maxUrgency {
		count = maxUrgency
	}
	return float64(count)
}

func (c *Classifier) keyPhrases(text string) []string {
	counts := make(map[string]int)
	var order []string

	for _, token := range wordSplit.Split(text, -1) {
		if len(token) <= 3 || !keyPhraseFilter.MatchString(token) {
			continue
		}
		if _, stop := c.stopWords[token]; stop {
			continue
		}
		if counts[token] == 0 {
			order = append(order, token)
		}
		counts[token]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > maxKeyPhrases {
		order = order[:maxKeyPhrases]
	}
	if order == nil {
		return []string{}
	}
	return order
}

// capsRatio is the share of uppercase letters among all runes of s
func capsRatio(s string) float64 {
	total := utf8.RuneCountInString(s)
	if total == 0 {
		return 0
	}
	upper := 0
	for _, r := range s {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper) / float64(total)
}

func professionalismScore(raw string) float64 {
	var sentences []string
	for _, s := range sentenceSplit.Split(raw, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return baseProfessional
	}

	score := float64(baseProfessional)

	totalLen := 0
	capitalized := 0
	for _, s := range sentences {
		totalLen += utf8.RuneCountInString(s)
		first, _ := utf8.DecodeRuneInString(s)
		if unicode.IsUpper(first) {
			capitalized++
		}
	}

	avg := float64(totalLen) / float64(len(sentences))
	if avg > 50 && avg < 200 {
		score += 2
	}
	if float64(capitalized)/float64(len(sentences)) > 0.7 {
		score += 2
	}
	if !repeatedMarks.MatchString(raw) {
		score++
	}

	return math.Min(score, maxProfessional)
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round1 rounds half up to one decimal place
func round1(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}
