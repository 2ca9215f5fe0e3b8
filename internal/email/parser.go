package email

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/brandon/mail-triage/pkg/types"
)

// SyntheticIDDomain is the right-hand side of generated Message-IDs
const SyntheticIDDomain = "mail-triage.local"

// PreviewLength is the maximum number of characters in a summary preview
const PreviewLength = 200

var (
	errEmptyMessage = errors.New("empty message")
	errNoHeaders    = errors.New("message has no recognizable headers")
)

var newlineFolder = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// RawMessage is the undecoded RFC 5322 text of one retrieved message
type RawMessage struct {
	SeqNum uint32
	UID    uint32
	Body   []byte
}

// Parse decodes a raw message into a ParsedEmail.
// Any failure is returned as a *ParseError and the message should be skipped.
func Parse(raw RawMessage) (*types.ParsedEmail, error) {
	parseErr := func(err error) error {
		return &ParseError{SeqNum: raw.SeqNum, UID: raw.UID, Size: len(raw.Body), Err: err}
	}

	if len(bytes.TrimSpace(raw.Body)) == 0 {
		return nil, parseErr(errEmptyMessage)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, parseErr(fmt.Errorf("failed to read envelope: %w", err))
	}

	email := &types.ParsedEmail{
		MessageID:   strings.TrimSpace(env.GetHeader("Message-ID")),
		UID:         raw.UID,
		SeqNum:      raw.SeqNum,
		From:        env.GetHeader("From"),
		To:          env.GetHeader("To"),
		Subject:     env.GetHeader("Subject"),
		BodyText:    env.Text,
		BodyHTML:    env.HTML,
		Attachments: []types.Attachment{},
	}

	dateHeader := env.GetHeader("Date")
	if email.MessageID == "" && email.From == "" && email.To == "" && email.Subject == "" && dateHeader == "" {
		return nil, parseErr(errNoHeaders)
	}

	if dateHeader != "" {
		if date, err := mail.ParseDate(dateHeader); err == nil {
			email.Date = date
		}
	}

	for _, part := range env.Attachments {
		email.Attachments = append(email.Attachments, attachmentMeta(part))
	}
	for _, part := range env.Inlines {
		email.Attachments = append(email.Attachments, attachmentMeta(part))
	}

	if email.MessageID == "" {
		email.MessageID = SynthesizeMessageID(email.From, email.Subject, email.Date)
		email.MessageIDSynthesized = true
	}

	return email, nil
}

func attachmentMeta(part *enmime.Part) types.Attachment {
	return types.Attachment{
		Filename:    part.FileName,
		ContentType: part.ContentType,
		Size:        int64(len(part.Content)),
	}
}

// SynthesizeMessageID derives a stable identifier for messages without a Message-ID.
// Two messages with the same sender, subject and date collide.
func SynthesizeMessageID(from, subject string, date time.Time) string {
	var builder strings.Builder
	builder.WriteString(from)
	builder.WriteString("|")
	builder.WriteString(subject)
	builder.WriteString("|")
	if !date.IsZero() {
		builder.WriteString(date.UTC().Format(time.RFC3339))
	}

	sum := sha256.Sum256([]byte(builder.String()))
	return fmt.Sprintf("<synthetic-%s@%s>", hex.EncodeToString(sum[:16]), SyntheticIDDomain)
}

// Summarize builds the live-listen view of a message
func Summarize(email *types.ParsedEmail) types.Summary {
	preview := email.BodyText
	if runes := []rune(preview); len(runes) > PreviewLength {
		preview = string(runes[:PreviewLength]) + "..."
	}

	attachments := email.Attachments
	if attachments == nil {
		attachments = []types.Attachment{}
	}

	return types.Summary{
		From:        email.From,
		To:          email.To,
		Subject:     email.Subject,
		Date:        email.Date,
		Preview:     newlineFolder.Replace(preview),
		Attachments: attachments,
	}
}
