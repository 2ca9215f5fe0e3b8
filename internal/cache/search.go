package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/brandon/mail-triage/pkg/types"
)

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// allowedSorts whitelists sortable columns
var allowedSorts = map[string]bool{
	"date":            true,
	"trust_score":     true,
	"sentiment_score": true,
	"urgency_score":   true,
	"created_at":      true,
	"subject":         true,
}

// EmailFilter controls filtering, sorting, and pagination for email queries
type EmailFilter struct {
	AccountID string
	Category  *types.Category
	MinTrust  *float64
	MaxTrust  *float64
	Query     string // full-text match on subject, sender and body
	SortBy    string // date (default), trust_score, sentiment_score, urgency_score, created_at, subject
	SortOrder string // asc or desc (default)
	Limit     int
	Offset    int
}

// where builds the WHERE clause and its arguments
func (f EmailFilter) where() (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if f.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, string(*f.Category))
	}
	if f.MinTrust != nil {
		conditions = append(conditions, "trust_score >= ?")
		args = append(args, *f.MinTrust)
	}
	if f.MaxTrust != nil {
		conditions = append(conditions, "trust_score <= ?")
		args = append(args, *f.MaxTrust)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		conditions = append(conditions, "rowid IN (SELECT rowid FROM emails_fts WHERE emails_fts MATCH ?)")
		args = append(args, ftsPhrase(q))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ftsPhrase quotes q as a single FTS5 phrase so operators in user input are literal
func ftsPhrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

func (f EmailFilter) orderBy() string {
	sortBy := "date"
	if allowedSorts[f.SortBy] {
		sortBy = f.SortBy
	}

	direction := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		direction = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", sortBy, direction, direction)
}

func (f EmailFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultSearchLimit
	case f.Limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return f.Limit
	}
}

// FindEmails returns records matching the filter. Bodies are omitted.
func (s *Store) FindEmails(ctx context.Context, filter EmailFilter) ([]types.EmailRecord, error) {
	where, args := filter.where()

	query := "SELECT " + emailListColumns + " FROM emails" + where + filter.orderBy() + " LIMIT ? OFFSET ?"
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, filter.limit(), offset)

	var rows []emailRow
	if err := s.cache.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, persistErr("find emails", err)
	}

	records := make([]types.EmailRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, persistErr("decode email", err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

// CountEmails returns the number of records matching the filter, ignoring pagination
func (s *Store) CountEmails(ctx context.Context, filter EmailFilter) (int, error) {
	where, args := filter.where()

	var count int
	if err := s.cache.DB().GetContext(ctx, &count, "SELECT COUNT(*) FROM emails"+where, args...); err != nil {
		return 0, persistErr("count emails", err)
	}
	return count, nil
}

// Stats summarizes the stored emails of one account
type Stats struct {
	AccountID        string                 `json:"account_id"`
	Total            int                    `json:"total"`
	ByCategory       map[types.Category]int `json:"by_category"`
	AverageTrust     float64                `json:"average_trust"`
	AverageSentiment float64                `json:"average_sentiment"`
	LastSync         *time.Time             `json:"last_sync,omitempty"`
}

// AccountStats returns per-category counts and score averages for an account.
// Records with a category outside the known set are counted as unknown.
func (s *Store) AccountStats(ctx context.Context, accountID string) (*Stats, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		AccountID:  accountID,
		ByCategory: make(map[types.Category]int, len(types.Categories)),
		LastSync:   account.LastSync,
	}
	for _, c := range types.Categories {
		stats.ByCategory[c] = 0
	}

	var agg struct {
		Total     int             `db:"total"`
		Trust     sql.NullFloat64 `db:"avg_trust"`
		Sentiment sql.NullFloat64 `db:"avg_sentiment"`
	}
	err = s.cache.DB().GetContext(ctx, &agg, `
		SELECT COUNT(*) AS total, AVG(trust_score) AS avg_trust, AVG(sentiment_score) AS avg_sentiment
		FROM emails WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, persistErr("aggregate emails", err)
	}
	stats.Total = agg.Total
	stats.AverageTrust = agg.Trust.Float64
	stats.AverageSentiment = agg.Sentiment.Float64

	var counts []struct {
		Category string `db:"category"`
		Count    int    `db:"n"`
	}
	err = s.cache.DB().SelectContext(ctx, &counts,
		"SELECT category, COUNT(*) AS n FROM emails WHERE account_id = ? GROUP BY category", accountID)
	if err != nil {
		return nil, persistErr("count categories", err)
	}

	known := 0
	for _, c := range counts {
		category := types.Category(c.Category)
		if category == types.CategoryUnknown || !category.Valid() {
			continue
		}
		stats.ByCategory[category] = c.Count
		known += c.Count
	}
	stats.ByCategory[types.CategoryUnknown] = stats.Total - known

	return stats, nil
}
