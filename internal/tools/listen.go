package tools

import (
	"context"
)

// StartListeningTool starts a live-listen session
type StartListeningTool struct {
	deps
}

// Name returns the tool name
func (t *StartListeningTool) Name() string {
	return "start_listening"
}

// Description returns the tool description
func (t *StartListeningTool) Description() string {
	return "Start watching a mailbox for new messages. Summaries are kept in memory and are not stored."
}

// InputSchema returns the JSON schema for tool inputs
func (t *StartListeningTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Account to listen on"),
			"mailbox":      stringProp("Optional: Mailbox to watch (default: INBOX)"),
		},
		"required": []string{"account_name"},
	}
}

// Execute executes the tool
func (t *StartListeningTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, err := requiredString(params, "account_name")
	if err != nil {
		return nil, err
	}

	session, err := t.emailManager.StartListening(ctx, name, stringParam(params, "mailbox"), nil)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"account":   session.Account(),
		"mailbox":   session.Mailbox(),
		"listening": true,
		"capacity":  session.Cache().Cap(),
	}, nil
}

// StopListeningTool stops a live-listen session
type StopListeningTool struct {
	deps
}

// Name returns the tool name
func (t *StopListeningTool) Name() string {
	return "stop_listening"
}

// Description returns the tool description
func (t *StopListeningTool) Description() string {
	return "Stop watching an account's mailbox and discard its recent message cache"
}

// InputSchema returns the JSON schema for tool inputs
func (t *StopListeningTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Account to stop listening on"),
		},
		"required": []string{"account_name"},
	}
}

// Execute executes the tool
func (t *StopListeningTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, err := requiredString(params, "account_name")
	if err != nil {
		return nil, err
	}

	if err := t.emailManager.StopListening(name); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"account":   name,
		"listening": false,
	}, nil
}

// RecentEmailsTool returns the summaries collected by a listen session
type RecentEmailsTool struct {
	deps
}

// Name returns the tool name
func (t *RecentEmailsTool) Name() string {
	return "recent_emails"
}

// Description returns the tool description
func (t *RecentEmailsTool) Description() string {
	return "List the most recent message summaries seen by an account's listen session, oldest first"
}

// InputSchema returns the JSON schema for tool inputs
func (t *RecentEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Account with an active listen session"),
		},
		"required": []string{"account_name"},
	}
}

// Execute executes the tool
func (t *RecentEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, err := requiredString(params, "account_name")
	if err != nil {
		return nil, err
	}

	summaries, err := t.emailManager.RecentEmails(name)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"account": name,
		"count":   len(summaries),
		"emails":  summaries,
	}, nil
}
