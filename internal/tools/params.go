package tools

import (
	"fmt"
	"strconv"
	"time"

	"github.com/brandon/mail-triage/pkg/types"
)

// stringParam returns an optional string argument
func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func requiredString(params map[string]interface{}, key string) (string, error) {
	s := stringParam(params, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// intParam accepts JSON numbers and numeric strings
func intParam(params map[string]interface{}, key string, def int) (int, error) {
	switch v := params[key].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case string:
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid %s: expected a number", key)
	}
}

// boolParam accepts JSON booleans and "true"/"false" strings
func boolParam(params map[string]interface{}, key string) (bool, error) {
	switch v := params[key].(type) {
	case nil:
		return false, fmt.Errorf("%s is required", key)
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("invalid %s: expected a boolean", key)
	}
}

func floatParam(params map[string]interface{}, key string) (*float64, error) {
	switch v := params[key].(type) {
	case nil:
		return nil, nil
	case float64:
		return &v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("invalid %s: expected a number", key)
	}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// recordSummary is the compact listing form of a stored email
func recordSummary(rec types.EmailRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":          rec.ID,
		"message_id":  rec.MessageID,
		"mailbox":     rec.Mailbox,
		"from":        rec.From,
		"subject":     rec.Subject,
		"date":        rec.Date.Format(time.RFC3339),
		"category":    rec.Category,
		"trust_score": rec.TrustScore,
	}
}

func recordSummaries(records []types.EmailRecord) []map[string]interface{} {
	out := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		out[i] = recordSummary(rec)
	}
	return out
}
