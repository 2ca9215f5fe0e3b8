package types

import "time"

// Category is the classification bucket assigned to a message
type Category string

const (
	CategoryCustomer    Category = "customer"
	CategoryNormal      Category = "normal"
	CategorySpam        Category = "spam"
	CategoryPromotional Category = "promotional"
	CategoryUnknown     Category = "unknown"
)

// Categories lists every category in reporting order
var Categories = []Category{
	CategoryCustomer,
	CategoryNormal,
	CategorySpam,
	CategoryPromotional,
	CategoryUnknown,
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Attachment holds attachment metadata. Content is never retained.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ParsedEmail is a decoded message as produced by the parser
type ParsedEmail struct {
	MessageID string `json:"message_id"`
	// MessageIDSynthesized is set when the server omitted Message-ID and the
	// identifier was derived from sender, subject and date.
	MessageIDSynthesized bool         `json:"message_id_synthesized"`
	UID                  uint32       `json:"uid"`
	SeqNum               uint32       `json:"seq_num"`
	From                 string       `json:"from"`
	To                   string       `json:"to"`
	Subject              string       `json:"subject"`
	Date                 time.Time    `json:"date"`
	BodyText             string       `json:"body_text,omitempty"`
	BodyHTML             string       `json:"body_html,omitempty"`
	Attachments          []Attachment `json:"attachments"`
}

// AnalysisResult is the heuristic assessment of a single message
type AnalysisResult struct {
	Category             Category `json:"category"`
	TrustScore           float64  `json:"trust_score"`
	SentimentScore       float64  `json:"sentiment_score"`
	UrgencyScore         float64  `json:"urgency_score"`
	ProfessionalismScore float64  `json:"professionalism_score"`
	CustomerScore        float64  `json:"customer_score"`
	SpamIndicators       []string `json:"spam_indicators"`
	PhishingIndicators   []string `json:"phishing_indicators"`
	KeyPhrases           []string `json:"key_phrases"`
	RuleSetVersion       string   `json:"rule_set_version,omitempty"`
}

// EmailRecord is a persisted, analyzed message
type EmailRecord struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Mailbox   string `json:"mailbox"`
	ParsedEmail
	AnalysisResult
	IsAnalyzed bool      `json:"is_analyzed"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Summary is the simplified view of a message kept by live-listen sessions
type Summary struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Date        time.Time    `json:"date"`
	Preview     string       `json:"preview"`
	Attachments []Attachment `json:"attachments"`
}

// Account is the durable view of a configured mailbox account
type Account struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	TLS         bool       `json:"tls"`
	DisplayName string     `json:"display_name"`
	IsActive    bool       `json:"is_active"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
