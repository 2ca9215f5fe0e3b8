package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-triage/internal/config"
	"github.com/brandon/mail-triage/pkg/types"
)

// Store provides methods for storing and retrieving accounts and analyzed emails
type Store struct {
	cache  *Cache
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
	}
}

type accountRow struct {
	ID          string       `db:"id"`
	Name        string       `db:"name"`
	Email       string       `db:"email"`
	Host        string       `db:"host"`
	Port        int          `db:"port"`
	TLS         bool         `db:"tls"`
	DisplayName string       `db:"display_name"`
	IsActive    bool         `db:"is_active"`
	LastSync    sql.NullTime `db:"last_sync"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (r *accountRow) toAccount() *types.Account {
	acc := &types.Account{
		ID:          r.ID,
		Name:        r.Name,
		Email:       r.Email,
		Host:        r.Host,
		Port:        r.Port,
		TLS:         r.TLS,
		DisplayName: r.DisplayName,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.LastSync.Valid {
		t := r.LastSync.Time
		acc.LastSync = &t
	}
	return acc
}

const accountColumns = `id, name, email, host, port, tls, display_name, is_active, last_sync, created_at, updated_at`

// UpsertAccount registers a configured account by name and returns the stored row
func (s *Store) UpsertAccount(ctx context.Context, acc *config.AccountConfig) (*types.Account, error) {
	now := time.Now().UTC()

	_, err := s.cache.DB().ExecContext(ctx, `
		INSERT INTO accounts (id, name, email, host, port, tls, display_name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			email = excluded.email,
			host = excluded.host,
			port = excluded.port,
			tls = excluded.tls,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at`,
		uuid.New().String(), acc.Name, acc.Email, acc.Host, acc.Port, boolToInt(acc.TLS), acc.DisplayName,
		now, now,
	)
	if err != nil {
		return nil, persistErr("upsert account", err)
	}

	return s.GetAccountByName(ctx, acc.Name)
}

// GetAccountByName returns the account registered under name
func (s *Store) GetAccountByName(ctx context.Context, name string) (*types.Account, error) {
	var row accountRow
	err := s.cache.DB().GetContext(ctx, &row,
		"SELECT "+accountColumns+" FROM accounts WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get account", err)
	}
	return row.toAccount(), nil
}

// GetAccount returns an account by ID
func (s *Store) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	var row accountRow
	err := s.cache.DB().GetContext(ctx, &row,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get account", err)
	}
	return row.toAccount(), nil
}

// ListAccounts returns all registered accounts ordered by name
func (s *Store) ListAccounts(ctx context.Context) ([]types.Account, error) {
	var rows []accountRow
	if err := s.cache.DB().SelectContext(ctx, &rows,
		"SELECT "+accountColumns+" FROM accounts ORDER BY name"); err != nil {
		return nil, persistErr("list accounts", err)
	}

	accounts := make([]types.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, *rows[i].toAccount())
	}
	return accounts, nil
}

// SetAccountActive enables or disables fetching for an account
func (s *Store) SetAccountActive(ctx context.Context, id string, active bool) error {
	result, err := s.cache.DB().ExecContext(ctx,
		"UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return persistErr("update account", err)
	}
	return requireAffected(result, "account", id)
}

// TouchLastSync records the completion time of a fetch session
func (s *Store) TouchLastSync(ctx context.Context, accountID string, t time.Time) error {
	result, err := s.cache.DB().ExecContext(ctx,
		"UPDATE accounts SET last_sync = ?, updated_at = ? WHERE id = ?",
		t.UTC(), time.Now().UTC(), accountID)
	if err != nil {
		return persistErr("update last sync", err)
	}
	return requireAffected(result, "account", accountID)
}

type emailRow struct {
	ID                   string    `db:"id"`
	AccountID            string    `db:"account_id"`
	Mailbox              string    `db:"mailbox"`
	MessageID            string    `db:"message_id"`
	MessageIDSynthesized bool      `db:"message_id_synthesized"`
	UID                  int64     `db:"uid"`
	From                 string    `db:"from_addr"`
	To                   string    `db:"to_addr"`
	Subject              string    `db:"subject"`
	Date                 time.Time `db:"date"`
	BodyText             string    `db:"body_text"`
	BodyHTML             string    `db:"body_html"`
	Attachments          string    `db:"attachments"`
	Category             string    `db:"category"`
	TrustScore           float64   `db:"trust_score"`
	SentimentScore       float64   `db:"sentiment_score"`
	UrgencyScore         float64   `db:"urgency_score"`
	ProfessionalismScore float64   `db:"professionalism_score"`
	CustomerScore        float64   `db:"customer_score"`
	SpamIndicators       string    `db:"spam_indicators"`
	PhishingIndicators   string    `db:"phishing_indicators"`
	KeyPhrases           string    `db:"key_phrases"`
	RuleSetVersion       string    `db:"rule_set_version"`
	IsAnalyzed           bool      `db:"is_analyzed"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// emailListColumns omits the message bodies
const emailListColumns = `id, account_id, mailbox, message_id, message_id_synthesized, uid,
	from_addr, to_addr, subject, date, attachments,
	category, trust_score, sentiment_score, urgency_score, professionalism_score, customer_score,
	spam_indicators, phishing_indicators, key_phrases, rule_set_version, is_analyzed,
	created_at, updated_at`

const emailColumns = emailListColumns + `, body_text, body_html`

func (r *emailRow) toRecord() (*types.EmailRecord, error) {
	rec := &types.EmailRecord{
		ID:        r.ID,
		AccountID: r.AccountID,
		Mailbox:   r.Mailbox,
		ParsedEmail: types.ParsedEmail{
			MessageID:            r.MessageID,
			MessageIDSynthesized: r.MessageIDSynthesized,
			UID:                  uint32(r.UID),
			From:                 r.From,
			To:                   r.To,
			Subject:              r.Subject,
			Date:                 r.Date,
			BodyText:             r.BodyText,
			BodyHTML:             r.BodyHTML,
		},
		AnalysisResult: types.AnalysisResult{
			Category:             types.Category(r.Category),
			TrustScore:           r.TrustScore,
			SentimentScore:       r.SentimentScore,
			UrgencyScore:         r.UrgencyScore,
			ProfessionalismScore: r.ProfessionalismScore,
			CustomerScore:        r.CustomerScore,
			RuleSetVersion:       r.RuleSetVersion,
		},
		IsAnalyzed: r.IsAnalyzed,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}

	fields := []struct {
		name string
		raw  string
		dest interface{}
	}{
		{"attachments", r.Attachments, &rec.Attachments},
		{"spam_indicators", r.SpamIndicators, &rec.SpamIndicators},
		{"phishing_indicators", r.PhishingIndicators, &rec.PhishingIndicators},
		{"key_phrases", r.KeyPhrases, &rec.KeyPhrases},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", f.name, err)
		}
	}

	return rec, nil
}

// CreateEmail inserts a new record. It returns *ConflictError when the
// account already holds the message identifier. ID and timestamps are
// assigned when empty.
func (s *Store) CreateEmail(ctx context.Context, rec *types.EmailRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Category == "" {
		rec.Category = types.CategoryUnknown
	}

	attachments, err := marshalList(rec.Attachments)
	if err != nil {
		return persistErr("marshal attachments", err)
	}
	spam, err := marshalList(rec.SpamIndicators)
	if err != nil {
		return persistErr("marshal spam indicators", err)
	}
	phishing, err := marshalList(rec.PhishingIndicators)
	if err != nil {
		return persistErr("marshal phishing indicators", err)
	}
	phrases, err := marshalList(rec.KeyPhrases)
	if err != nil {
		return persistErr("marshal key phrases", err)
	}

	result, err := s.cache.DB().ExecContext(ctx, `
		INSERT INTO emails (
			id, account_id, mailbox, message_id, message_id_synthesized, uid,
			from_addr, to_addr, subject, date, body_text, body_html, attachments,
			category, trust_score, sentiment_score, urgency_score, professionalism_score, customer_score,
			spam_indicators, phishing_indicators, key_phrases, rule_set_version, is_analyzed,
			created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?
		)
		ON CONFLICT(account_id, message_id) DO NOTHING`,
		rec.ID, rec.AccountID, rec.Mailbox, rec.MessageID, boolToInt(rec.MessageIDSynthesized), rec.UID,
		rec.From, rec.To, rec.Subject, rec.Date.UTC(), rec.BodyText, rec.BodyHTML, attachments,
		string(rec.Category), rec.TrustScore, rec.SentimentScore, rec.UrgencyScore, rec.ProfessionalismScore, rec.CustomerScore,
		spam, phishing, phrases, rec.RuleSetVersion, boolToInt(rec.IsAnalyzed),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return persistErr("create email", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistErr("create email", err)
	}
	if affected == 0 {
		return &ConflictError{AccountID: rec.AccountID, MessageID: rec.MessageID}
	}

	return nil
}

// HasMessage reports whether the account already stores messageID
func (s *Store) HasMessage(ctx context.Context, accountID, messageID string) (bool, error) {
	var exists bool
	err := s.cache.DB().GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM emails WHERE account_id = ? AND message_id = ?)",
		accountID, messageID)
	if err != nil {
		return false, persistErr("check message", err)
	}
	return exists, nil
}

// GetEmail retrieves a full record by ID
func (s *Store) GetEmail(ctx context.Context, id string) (*types.EmailRecord, error) {
	var row emailRow
	err := s.cache.DB().GetContext(ctx, &row,
		"SELECT "+emailColumns+" FROM emails WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get email", err)
	}
	return row.toRecord()
}

// UpdateAnalysis replaces the analysis of a stored record
func (s *Store) UpdateAnalysis(ctx context.Context, id string, analysis types.AnalysisResult) error {
	spam, err := marshalList(analysis.SpamIndicators)
	if err != nil {
		return persistErr("marshal spam indicators", err)
	}
	phishing, err := marshalList(analysis.PhishingIndicators)
	if err != nil {
		return persistErr("marshal phishing indicators", err)
	}
	phrases, err := marshalList(analysis.KeyPhrases)
	if err != nil {
		return persistErr("marshal key phrases", err)
	}

	result, err := s.cache.DB().ExecContext(ctx, `
		UPDATE emails SET
			category = ?, trust_score = ?, sentiment_score = ?, urgency_score = ?,
			professionalism_score = ?, customer_score = ?,
			spam_indicators = ?, phishing_indicators = ?, key_phrases = ?,
			rule_set_version = ?, is_analyzed = 1, updated_at = ?
		WHERE id = ?`,
		string(analysis.Category), analysis.TrustScore, analysis.SentimentScore, analysis.UrgencyScore,
		analysis.ProfessionalismScore, analysis.CustomerScore,
		spam, phishing, phrases,
		analysis.RuleSetVersion, time.Now().UTC(),
		id,
	)
	if err != nil {
		return persistErr("update analysis", err)
	}
	return requireAffected(result, "email", id)
}

// DeleteEmail removes a record by ID
func (s *Store) DeleteEmail(ctx context.Context, id string) error {
	result, err := s.cache.DB().ExecContext(ctx, "DELETE FROM emails WHERE id = ?", id)
	if err != nil {
		return persistErr("delete email", err)
	}
	return requireAffected(result, "email", id)
}

func requireAffected(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return persistErr("read affected rows", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// marshalList encodes a slice as JSON, storing nil as an empty array
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
