package tools

import (
	"context"

	"github.com/brandon/mail-triage/internal/email"
)

// FetchEmailsTool runs a bounded fetch on one or all accounts
type FetchEmailsTool struct {
	deps
}

// Name returns the tool name
func (t *FetchEmailsTool) Name() string {
	return "fetch_emails"
}

// Description returns the tool description
func (t *FetchEmailsTool) Description() string {
	return "Fetch the most recent emails from IMAP, classify and store the new ones"
}

// InputSchema returns the JSON schema for tool inputs
func (t *FetchEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Optional: Account to fetch, or all accounts if omitted"),
			"mailbox":      stringProp("Optional: Mailbox to fetch (default: INBOX)"),
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Number of most recent messages (default: 50, max: 500)",
				"minimum":     1,
				"maximum":     email.MaxFetchLimit,
			},
		},
	}
}

// Execute executes the tool
func (t *FetchEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	limit, err := intParam(params, "limit", t.config.Fetch.DefaultLimit)
	if err != nil {
		return nil, err
	}

	name := stringParam(params, "account_name")
	if name == "" {
		results := t.emailManager.FetchAll(ctx, limit)
		out := make([]map[string]interface{}, 0, len(results))
		for _, r := range results {
			entry := map[string]interface{}{"account": r.Account}
			if r.Error != "" {
				entry["error"] = r.Error
			}
			if r.Result != nil {
				entry["result"] = fetchSummary(r.Result)
			}
			out = append(out, entry)
		}
		return out, nil
	}

	result, err := t.emailManager.Fetch(ctx, email.FetchRequest{
		AccountName: name,
		Mailbox:     stringParam(params, "mailbox"),
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}

	return fetchSummary(result), nil
}

func fetchSummary(result *email.FetchResult) map[string]interface{} {
	summary := map[string]interface{}{
		"account": result.Account,
		"mailbox": result.Mailbox,
		"total":   result.Total,
		"new":     result.New,
		"skipped": result.Skipped,
		"emails":  recordSummaries(result.Records),
	}
	if len(result.Failures) > 0 {
		summary["failures"] = result.Failures
	}
	return summary
}
