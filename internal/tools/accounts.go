package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/brandon/mail-triage/internal/cache"
	"github.com/brandon/mail-triage/pkg/types"
)

// ListAccountsTool lists configured accounts with their sync state
type ListAccountsTool struct {
	deps
}

// Name returns the tool name
func (t *ListAccountsTool) Name() string {
	return "list_accounts"
}

// Description returns the tool description
func (t *ListAccountsTool) Description() string {
	return "List configured email accounts with last sync time and listening state"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListAccountsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Execute executes the tool
func (t *ListAccountsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	listening := make(map[string]bool)
	for _, name := range t.emailManager.ListeningAccounts() {
		listening[name] = true
	}

	names := t.emailManager.AccountNames()
	accounts := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		account, err := t.emailManager.GetAccount(name)
		if err != nil {
			return nil, err
		}

		entry := map[string]interface{}{
			"name":         name,
			"email":        account.Config.Email,
			"display_name": account.Config.DisplayName,
			"host":         account.Config.Host,
			"port":         account.Config.Port,
			"tls":          account.Config.TLS,
			"listening":    listening[name],
		}

		stored, err := t.cacheStore.GetAccountByName(ctx, name)
		switch {
		case err == nil:
			entry["id"] = stored.ID
			entry["is_active"] = stored.IsActive
			if stored.LastSync != nil {
				entry["last_sync"] = stored.LastSync.Format(time.RFC3339)
			}
		case !cache.IsNotFound(err):
			return nil, fmt.Errorf("failed to load account %s: %w", name, err)
		}

		accounts = append(accounts, entry)
	}

	return accounts, nil
}

// AccountStatsTool reports per-category counts for one account or all of them
type AccountStatsTool struct {
	deps
}

// Name returns the tool name
func (t *AccountStatsTool) Name() string {
	return "account_stats"
}

// Description returns the tool description
func (t *AccountStatsTool) Description() string {
	return "Show stored email counts per category and average trust and sentiment. " +
		"Without account_name, reports every account and the overall totals"
}

// InputSchema returns the JSON schema for tool inputs
func (t *AccountStatsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Account name (optional, default: all accounts)"),
		},
	}
}

// Execute executes the tool
func (t *AccountStatsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if name := stringParam(params, "account_name"); name != "" {
		account, err := t.cacheStore.GetAccountByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to find account %s: %w", name, err)
		}

		stats, err := t.cacheStore.AccountStats(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}

		return map[string]interface{}{
			"account": name,
			"stats":   stats,
		}, nil
	}

	accounts, err := t.cacheStore.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	totalEmails := 0
	byCategory := make(map[types.Category]int, len(types.Categories))
	for _, c := range types.Categories {
		byCategory[c] = 0
	}

	perAccount := make([]map[string]interface{}, 0, len(accounts))
	for _, account := range accounts {
		stats, err := t.cacheStore.AccountStats(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats for %s: %w", account.Name, err)
		}

		totalEmails += stats.Total
		for c, n := range stats.ByCategory {
			byCategory[c] += n
		}
		perAccount = append(perAccount, map[string]interface{}{
			"account":   account.Name,
			"is_active": account.IsActive,
			"stats":     stats,
		})
	}

	return map[string]interface{}{
		"total_accounts": len(accounts),
		"total_emails":   totalEmails,
		"by_category":    byCategory,
		"accounts":       perAccount,
	}, nil
}

// SetAccountActiveTool enables or disables fetching for an account
type SetAccountActiveTool struct {
	deps
}

// Name returns the tool name
func (t *SetAccountActiveTool) Name() string {
	return "set_account_active"
}

// Description returns the tool description
func (t *SetAccountActiveTool) Description() string {
	return "Enable or disable fetching for an account. Inactive accounts can still be listened to"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SetAccountActiveTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Account name"),
			"active": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether fetch_emails may run for the account",
			},
		},
		"required": []string{"account_name", "active"},
	}
}

// Execute executes the tool
func (t *SetAccountActiveTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, err := requiredString(params, "account_name")
	if err != nil {
		return nil, err
	}
	active, err := boolParam(params, "active")
	if err != nil {
		return nil, err
	}

	account, err := t.emailManager.SetAccountActive(ctx, name, active)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"account":   account.Name,
		"is_active": account.IsActive,
	}, nil
}
