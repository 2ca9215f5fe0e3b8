package tools

import (
	"context"
	"fmt"
)

// GetEmailTool retrieves a full stored email by ID
type GetEmailTool struct {
	deps
}

// Name returns the tool name
func (t *GetEmailTool) Name() string {
	return "get_email"
}

// Description returns the tool description
func (t *GetEmailTool) Description() string {
	return "Retrieve a stored email with its body and analysis by ID"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": stringProp("Email ID (from search or fetch results)"),
		},
		"required": []string{"email_id"},
	}
}

// Execute executes the tool
func (t *GetEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID, err := requiredString(params, "email_id")
	if err != nil {
		return nil, err
	}

	rec, err := t.cacheStore.GetEmail(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return rec, nil
}

// AnalyzeEmailTool re-runs classification on a stored email
type AnalyzeEmailTool struct {
	deps
}

// Name returns the tool name
func (t *AnalyzeEmailTool) Name() string {
	return "analyze_email"
}

// Description returns the tool description
func (t *AnalyzeEmailTool) Description() string {
	return "Re-run classification on a stored email with the current rule set and save the result"
}

// InputSchema returns the JSON schema for tool inputs
func (t *AnalyzeEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": stringProp("Email ID to analyze"),
		},
		"required": []string{"email_id"},
	}
}

// Execute executes the tool
func (t *AnalyzeEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID, err := requiredString(params, "email_id")
	if err != nil {
		return nil, err
	}

	rec, err := t.emailManager.Reanalyze(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze email: %w", err)
	}

	return map[string]interface{}{
		"id":       rec.ID,
		"analysis": rec.AnalysisResult,
	}, nil
}

// DeleteEmailTool removes a stored email
type DeleteEmailTool struct {
	deps
}

// Name returns the tool name
func (t *DeleteEmailTool) Name() string {
	return "delete_email"
}

// Description returns the tool description
func (t *DeleteEmailTool) Description() string {
	return "Delete a stored email by ID. The message on the server is not touched."
}

// InputSchema returns the JSON schema for tool inputs
func (t *DeleteEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": stringProp("Email ID to delete"),
		},
		"required": []string{"email_id"},
	}
}

// Execute executes the tool
func (t *DeleteEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID, err := requiredString(params, "email_id")
	if err != nil {
		return nil, err
	}

	if err := t.cacheStore.DeleteEmail(ctx, emailID); err != nil {
		return nil, fmt.Errorf("failed to delete email: %w", err)
	}

	t.logger.WithField("email_id", emailID).Info("Deleted email")
	return map[string]interface{}{
		"id":      emailID,
		"deleted": true,
	}, nil
}
