package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mail-triage/internal/cache"
	"github.com/brandon/mail-triage/pkg/types"
)

// SearchEmailsTool searches stored emails
type SearchEmailsTool struct {
	deps
}

// Name returns the tool name
func (t *SearchEmailsTool) Name() string {
	return "search_emails"
}

// Description returns the tool description
func (t *SearchEmailsTool) Description() string {
	return "Search stored emails by account, category, trust range and full text, sorted by date or score"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Optional: Filter by specific account"),
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by category",
				"enum":        types.Categories,
			},
			"min_trust": map[string]interface{}{
				"type":        "number",
				"description": "Optional: Minimum trust score (0-100)",
			},
			"max_trust": map[string]interface{}{
				"type":        "number",
				"description": "Optional: Maximum trust score (0-100)",
			},
			"query": stringProp("Optional: Full-text match on subject, sender and body"),
			"sort_by": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Sort column (default: date)",
				"enum":        []string{"date", "trust_score", "sentiment_score", "urgency_score", "created_at", "subject"},
			},
			"sort_order": map[string]interface{}{
				"type":        "string",
				"description": "Optional: asc or desc (default: desc)",
				"enum":        []string{"asc", "desc"},
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (default: 100, max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Number of results to skip",
				"minimum":     0,
			},
		},
	}
}

// Execute executes the tool
func (t *SearchEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	filter := cache.EmailFilter{
		Query:     stringParam(params, "query"),
		SortBy:    stringParam(params, "sort_by"),
		SortOrder: stringParam(params, "sort_order"),
	}

	if name := stringParam(params, "account_name"); name != "" {
		account, err := t.cacheStore.GetAccountByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to find account %s: %w", name, err)
		}
		filter.AccountID = account.ID
	}

	if c := stringParam(params, "category"); c != "" {
		category := types.Category(c)
		if !category.Valid() {
			return nil, fmt.Errorf("invalid category: %s", c)
		}
		filter.Category = &category
	}

	var err error
	if filter.MinTrust, err = floatParam(params, "min_trust"); err != nil {
		return nil, err
	}
	if filter.MaxTrust, err = floatParam(params, "max_trust"); err != nil {
		return nil, err
	}
	if filter.Limit, err = intParam(params, "limit", t.config.SearchResultLimit); err != nil {
		return nil, err
	}
	if filter.Offset, err = intParam(params, "offset", 0); err != nil {
		return nil, err
	}

	results, err := t.cacheStore.FindEmails(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	total, err := t.cacheStore.CountEmails(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}

	return map[string]interface{}{
		"total":  total,
		"emails": recordSummaries(results),
	}, nil
}
