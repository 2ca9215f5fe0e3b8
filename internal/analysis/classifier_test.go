package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-triage/pkg/types"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	rs, err := DefaultRuleSet()
	require.NoError(t, err)
	c, err := NewClassifier(rs)
	require.NoError(t, err)
	return c
}

func TestClassify_SpamScenario(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(&types.ParsedEmail{
		From:     "user@unknown-tld.xyz",
		Subject:  "URGENT!!! You are a WINNER, claim your FREE prize now!!!",
		BodyText: "CLICK HERE for the LINK. CLICK HERE NOW, ACT NOW.",
	})

	for _, tag := range []string{"free", "click here", "urgent", "winner", "prize", "excessive_caps", "excessive_exclamation"} {
		assert.Contains(t, result.SpamIndicators, tag)
	}
	assert.Contains(t, result.PhishingIndicators, "suspicious_domain")
	assert.Equal(t, types.CategorySpam, result.Category)
	assert.Less(t, result.TrustScore, 50.0)
	assert.Equal(t, 34.0, result.TrustScore)
	assert.Equal(t, 7.0, result.ProfessionalismScore)
}

func TestClassify_SpamIndicatorOrder(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(&types.ParsedEmail{
		Subject:  "URGENT!!! You are a WINNER, claim your FREE prize now!!!",
		BodyText: "CLICK HERE for the LINK. CLICK HERE NOW, ACT NOW.",
	})

	assert.Equal(t, []string{
		"free", "click here", "urgent", "winner", "prize", "act now",
		"excessive_caps", "excessive_exclamation",
	}, result.SpamIndicators)
	assert.Equal(t, []string{"phishing_pattern_5"}, result.PhishingIndicators)
}

func TestClassify_CustomerScenario(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(&types.ParsedEmail{
		From:    "Acme Billing <billing@acme.com>",
		Subject: "Invoice #1023 for your recent order",
		BodyText: "Dear customer, thank you for your purchase. Please find attached the invoice " +
			"for your order. The payment is due within thirty days. Contact our support team with any question.",
	})

	assert.Equal(t, types.CategoryCustomer, result.Category)
	assert.Empty(t, result.SpamIndicators)
	assert.Empty(t, result.PhishingIndicators)
	assert.Greater(t, result.TrustScore, 80.0)
	assert.Equal(t, 0.6, result.CustomerScore)
	assert.Greater(t, result.SentimentScore, 0.0)
}

func TestClassify_EmptyMessage(t *testing.T) {
	c := newTestClassifier(t)

	for name, email := range map[string]*types.ParsedEmail{
		"empty fields": {},
		"nil message":  nil,
	} {
		t.Run(name, func(t *testing.T) {
			result := c.Classify(email)
			assert.Equal(t, types.CategoryNormal, result.Category)
			assert.Equal(t, 100.0, result.TrustScore)
			assert.Equal(t, 5.0, result.ProfessionalismScore)
			assert.Equal(t, 0.0, result.SentimentScore)
			assert.Equal(t, 0.0, result.UrgencyScore)
			assert.NotNil(t, result.KeyPhrases)
			assert.Empty(t, result.KeyPhrases)
			assert.NotNil(t, result.SpamIndicators)
			assert.NotNil(t, result.PhishingIndicators)
		})
	}
}

func TestClassify_PhishingPrecedesCustomer(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(&types.ParsedEmail{
		From:     "support@bank.com",
		Subject:  "Your order, invoice and payment",
		BodyText: "Please verify your account for your subscription, delivery and refund support.",
	})

	require.Greater(t, result.CustomerScore, 0.3)
	assert.Contains(t, result.PhishingIndicators, "phishing_pattern_1")
	assert.Equal(t, types.CategorySpam, result.Category)
}

func TestClassify_Deterministic(t *testing.T) {
	c := newTestClassifier(t)
	email := &types.ParsedEmail{
		From:     "promo@deals.biz",
		Subject:  "Limited time discount on your subscription",
		BodyText: "Act now! Buy now! Visit http://a.example http://b.example and claim your bonus cash.",
	}

	first := c.Classify(email)
	second := c.Classify(email)
	assert.Equal(t, first, second)
}

func TestClassify_Bounds(t *testing.T) {
	c := newTestClassifier(t)

	heavy := strings.Repeat("URGENT act now!!! free cash prize winner bonus discount now now now ", 20)
	links := strings.Repeat("https://x.example/verify ", 10)

	inputs := []*types.ParsedEmail{
		{Subject: heavy, BodyText: links, From: "x@evil.ru"},
		{Subject: strings.Repeat("order invoice payment receipt product service support ", 5)},
		{BodyText: "Hello."},
		{BodyText: "!!!???"},
	}

	for _, email := range inputs {
		result := c.Classify(email)
		assert.GreaterOrEqual(t, result.TrustScore, 0.0)
		assert.LessOrEqual(t, result.TrustScore, 100.0)
		assert.GreaterOrEqual(t, result.ProfessionalismScore, 0.0)
		assert.LessOrEqual(t, result.ProfessionalismScore, 10.0)
		assert.GreaterOrEqual(t, result.UrgencyScore, 0.0)
		assert.LessOrEqual(t, result.UrgencyScore, 10.0)
		assert.LessOrEqual(t, result.CustomerScore, 1.0)
		assert.LessOrEqual(t, len(result.KeyPhrases), 10)
	}
}

func TestClassify_ExcessiveLinks(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(&types.ParsedEmail{
		BodyText: strings.Repeat("see https://example.com/page ", 6),
	})
	assert.Contains(t, result.PhishingIndicators, "excessive_links")

	result = c.Classify(&types.ParsedEmail{
		BodyText: strings.Repeat("see https://example.com/page ", 5),
	})
	assert.NotContains(t, result.PhishingIndicators, "excessive_links")
}

func TestClassify_CustomerScoreAccumulates(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name string
		body string
		want types.Category
	}{
		{name: "two keywords", body: "About the invoice and receipt.", want: types.CategoryNormal},
		{name: "three keywords", body: "About the invoice, payment and receipt.", want: types.CategoryCustomer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(&types.ParsedEmail{Subject: "Hello", BodyText: tt.body})
			assert.Equal(t, tt.want, result.Category)
		})
	}

	result := c.Classify(&types.ParsedEmail{BodyText: "About the invoice, payment and receipt."})
	assert.Equal(t, 0.3, result.CustomerScore)
	assert.Greater(t, c.customerScore("invoice payment receipt"), 0.3)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		spam     int
		phishing int
		trust    float64
		customer float64
		want     types.Category
	}{
		{name: "phishing wins", spam: 0, phishing: 1, trust: 90, customer: 1, want: types.CategorySpam},
		{name: "low trust", spam: 0, phishing: 0, trust: 29.9, customer: 0, want: types.CategorySpam},
		{name: "many spam and middling trust", spam: 4, phishing: 0, trust: 45, customer: 0.5, want: types.CategorySpam},
		{name: "many spam but high trust", spam: 4, phishing: 0, trust: 60, customer: 0.4, want: types.CategoryCustomer},
		{name: "promotional", spam: 6, phishing: 0, trust: 70, customer: 0, want: types.CategoryPromotional},
		{name: "normal", spam: 1, phishing: 0, trust: 95, customer: 0.1, want: types.CategoryNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorize(tt.spam, tt.phishing, tt.trust, tt.customer))
		})
	}
}

func TestProfessionalismScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{name: "empty", text: "", want: 5},
		{name: "only punctuation", text: " . ", want: 5},
		{name: "one long sentence", text: "Thank you for sending the quarterly report over to our team today.", want: 10},
		{name: "short lowercase sentences", text: "hi there. ok.", want: 6},
		{name: "repeated marks", text: "Great!! Thanks.", want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, professionalismScore(tt.text))
		})
	}
}

func TestKeyPhrases(t *testing.T) {
	c := newTestClassifier(t)

	t.Run("three qualifying tokens", func(t *testing.T) {
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, c.keyPhrases("alpha beta gamma"))
	})

	t.Run("frequency then first occurrence", func(t *testing.T) {
		got := c.keyPhrases("delta alpha delta beta alpha delta")
		assert.Equal(t, []string{"delta", "alpha", "beta"}, got)
	})

	t.Run("drops short, stop and non alphabetic tokens", func(t *testing.T) {
		got := c.keyPhrases("the cat with item42 snake_case words about")
		assert.Equal(t, []string{"words"}, got)
	})

	t.Run("drops common four letter words", func(t *testing.T) {
		got := c.keyPhrases("this report from your team")
		assert.Equal(t, []string{"report", "team"}, got)
	})

	t.Run("capped at ten", func(t *testing.T) {
		got := c.keyPhrases("aaaa bbbb cccc dddd eeee ffff gggg hhhh iiii jjjj kkkk llll")
		assert.Len(t, got, 10)
		assert.Equal(t, "aaaa", got[0])
	})
}

func TestSentimentScore(t *testing.T) {
	c := newTestClassifier(t)

	assert.Equal(t, 3.0, c.sentimentScore("this is good"))
	assert.Equal(t, -3.0, c.sentimentScore("this is not good"))
	assert.Equal(t, -3.0, c.sentimentScore("terrible"))
	assert.Equal(t, 0.0, c.sentimentScore(""))
}

func TestUrgencyScore(t *testing.T) {
	c := newTestClassifier(t)

	assert.Equal(t, 2.0, c.urgencyScore("please reply asap, this is urgent"))
	assert.Equal(t, 10.0, c.urgencyScore(strings.Repeat("now ", 25)))
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "acme.com", senderDomain("Billing <billing@acme.com>"))
	assert.Equal(t, "unknown-tld.xyz", senderDomain("user@unknown-tld.xyz"))
	assert.Equal(t, "b.org", senderDomain("a@x@B.org "))
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 0.3, round1(0.25))
	assert.Equal(t, 2.0, round1(1.96))
	assert.Equal(t, -2.2, round1(-2.25))
}

func TestNewClassifier_InvalidPattern(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)
	rs.PhishingPatterns = append(rs.PhishingPatterns, "([")

	_, err = NewClassifier(rs)
	assert.Error(t, err)
}
