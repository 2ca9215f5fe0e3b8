package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-triage/internal/analysis"
	"github.com/brandon/mail-triage/internal/cache"
	"github.com/brandon/mail-triage/internal/config"
	"github.com/brandon/mail-triage/internal/email"
)

type idleFetcher struct{}

func (idleFetcher) FetchBounded(ctx context.Context, limit int, mailbox string) ([]email.RawMessage, error) {
	return []email.RawMessage{}, nil
}

func (idleFetcher) Listen(ctx context.Context, mailbox string, onMessage func(email.RawMessage)) error {
	<-ctx.Done()
	return nil
}

func (idleFetcher) Stop() error { return nil }

func (idleFetcher) TestConnection(ctx context.Context) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		SearchResultLimit: 100,
		Fetch:             config.FetchConfig{DefaultLimit: 50, Mailbox: "INBOX", Concurrency: 1},
		Listen:            config.ListenConfig{CacheSize: 200},
		Accounts: []config.AccountConfig{
			{Name: "work", Email: "me@example.com", Password: "pw", Host: "imap.example.com", Port: 993, TLS: true},
		},
	}

	c, err := cache.NewCache(cache.MemoryPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	store := cache.NewStore(c, logger)

	rules, err := analysis.DefaultRuleSet()
	require.NoError(t, err)
	classifier, err := analysis.NewClassifier(rules)
	require.NoError(t, err)

	manager := email.NewManager(cfg, store, classifier, logger,
		email.WithFetcherFactory(func(*config.AccountConfig) email.Fetcher { return idleFetcher{} }))
	t.Cleanup(func() { manager.Close() })

	s, err := NewServer(cfg, manager, store, logger, "test")
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, s *Server, requests ...string) []map[string]interface{} {
	t.Helper()

	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(strings.Join(requests, "\n")), &out))

	var responses []map[string]interface{}
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestServe(t *testing.T) {
	s := newTestServer(t)

	responses := serve(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"list_accounts","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"send_email"}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"recent_emails","arguments":{"account_name":"work"}}}`,
		`{"jsonrpc":"2.0","id":6,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":7,"method":"ping"}`,
	)
	require.Len(t, responses, 7)

	initResult := responses[0]["result"].(map[string]interface{})
	assert.Equal(t, ProtocolVersion, initResult["protocolVersion"])
	assert.Equal(t, "mail-triage", initResult["serverInfo"].(map[string]interface{})["name"])

	toolList := responses[1]["result"].(map[string]interface{})["tools"].([]interface{})
	assert.Len(t, toolList, 11)

	content := responses[2]["result"].(map[string]interface{})["content"].([]interface{})
	text := content[0].(map[string]interface{})["text"].(string)
	var accounts []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "work", accounts[0]["name"])

	assert.Equal(t, float64(codeMethodNotFound), responses[3]["error"].(map[string]interface{})["code"])

	failed := responses[4]["result"].(map[string]interface{})
	assert.Equal(t, true, failed["isError"])

	assert.Equal(t, float64(6), responses[5]["id"])
	assert.Contains(t, responses[5]["error"].(map[string]interface{})["message"], "resources/list")

	assert.Contains(t, responses[6], "result")
}

func TestServe_ParseError(t *testing.T) {
	s := newTestServer(t)

	responses := serve(t, s, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, `{not json`)
	require.Len(t, responses, 2)
	assert.Equal(t, float64(codeParseError), responses[1]["error"].(map[string]interface{})["code"])
}

func TestServe_CancelledContext(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	require.NoError(t, s.Serve(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), &out))
	assert.Empty(t, out.String())
}
