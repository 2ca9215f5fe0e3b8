package tools

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-triage/internal/analysis"
	"github.com/brandon/mail-triage/internal/cache"
	"github.com/brandon/mail-triage/internal/config"
	"github.com/brandon/mail-triage/internal/email"
	"github.com/brandon/mail-triage/pkg/types"
)

type stubFetcher struct {
	mu       sync.Mutex
	messages []email.RawMessage
	stop     chan struct{}
}

func (f *stubFetcher) FetchBounded(ctx context.Context, limit int, mailbox string) ([]email.RawMessage, error) {
	return f.messages, nil
}

func (f *stubFetcher) Listen(ctx context.Context, mailbox string, onMessage func(email.RawMessage)) error {
	f.mu.Lock()
	stop := make(chan struct{})
	f.stop = stop
	f.mu.Unlock()

	for _, m := range f.messages {
		onMessage(m)
	}
	select {
	case <-ctx.Done():
	case <-stop:
	}
	return nil
}

func (f *stubFetcher) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
	return nil
}

func (f *stubFetcher) TestConnection(ctx context.Context) error { return nil }

const spamRaw = "Message-ID: <spam@x>\r\n" +
	"From: user@unknown-tld.xyz\r\n" +
	"To: me@example.com\r\n" +
	"Subject: URGENT!!! You are a WINNER, claim your FREE prize now!!!\r\n" +
	"Date: Fri, 01 Mar 2024 09:00:00 +0000\r\n" +
	"\r\n" +
	"CLICK HERE for the LINK. CLICK HERE NOW, ACT NOW.\r\n"

const customerRaw = "Message-ID: <order@acme.com>\r\n" +
	"From: Acme Billing <billing@acme.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Invoice #1023 for your recent order\r\n" +
	"Date: Fri, 01 Mar 2024 10:00:00 +0000\r\n" +
	"\r\n" +
	"Thank you for your purchase. The payment for your order is due. Contact support with any question.\r\n"

func newTestRegistry(t *testing.T) (*Registry, *cache.Store) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		SearchResultLimit: 100,
		Fetch:             config.FetchConfig{DefaultLimit: 50, Mailbox: "INBOX", Concurrency: 2},
		Listen:            config.ListenConfig{CacheSize: 10},
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

	fetcher := &stubFetcher{messages: []email.RawMessage{
		{SeqNum: 1, UID: 11, Body: []byte(spamRaw)},
		{SeqNum: 2, UID: 12, Body: []byte(customerRaw)},
	}}
	manager := email.NewManager(cfg, store, classifier, logger,
		email.WithFetcherFactory(func(*config.AccountConfig) email.Fetcher { return fetcher }))
	t.Cleanup(func() { manager.Close() })

	_, err = manager.SyncAccounts(context.Background())
	require.NoError(t, err)

	reg, err := NewRegistry(cfg, manager, store, logger)
	require.NoError(t, err)
	return reg, store
}

func execute(t *testing.T, reg *Registry, name string, params map[string]interface{}) (interface{}, error) {
	t.Helper()
	tool, ok := reg.GetTool(name)
	require.True(t, ok, "tool %s not registered", name)
	return tool.Execute(context.Background(), params)
}

func TestRegistry_Definitions(t *testing.T) {
	reg, _ := newTestRegistry(t)

	defs := reg.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d["name"].(string)
		assert.NotEmpty(t, d["description"])
		assert.NotNil(t, d["inputSchema"])
	}

	assert.Equal(t, []string{
		"account_stats", "analyze_email", "delete_email", "fetch_emails", "get_email",
		"list_accounts", "recent_emails", "search_emails", "set_account_active", "start_listening",
		"stop_listening",
	}, names)

	_, ok := reg.GetTool("send_email")
	assert.False(t, ok)
}

func TestFetchSearchAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)

	out, err := execute(t, reg, "fetch_emails", map[string]interface{}{"account_name": "work", "limit": float64(10)})
	require.NoError(t, err)
	summary := out.(map[string]interface{})
	assert.Equal(t, 2, summary["total"])
	assert.Equal(t, 2, summary["new"])

	out, err = execute(t, reg, "fetch_emails", map[string]interface{}{})
	require.NoError(t, err)
	all := out.([]map[string]interface{})
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0]["result"].(map[string]interface{})["skipped"])

	out, err = execute(t, reg, "search_emails", map[string]interface{}{
		"account_name": "work",
		"category":     "customer",
	})
	require.NoError(t, err)
	found := out.(map[string]interface{})
	assert.Equal(t, 1, found["total"])
	emails := found["emails"].([]map[string]interface{})
	require.Len(t, emails, 1)
	assert.Equal(t, "<order@acme.com>", emails[0]["message_id"])

	out, err = execute(t, reg, "get_email", map[string]interface{}{"email_id": emails[0]["id"]})
	require.NoError(t, err)
	rec := out.(*types.EmailRecord)
	assert.Contains(t, rec.BodyText, "Thank you for your purchase")
	assert.Equal(t, types.CategoryCustomer, rec.Category)

	out, err = execute(t, reg, "search_emails", map[string]interface{}{"max_trust": "50"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]interface{})["total"])
}

func TestSearchEmails_InvalidParams(t *testing.T) {
	reg, _ := newTestRegistry(t)

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{name: "category", params: map[string]interface{}{"category": "newsletter"}},
		{name: "trust", params: map[string]interface{}{"min_trust": "high"}},
		{name: "limit", params: map[string]interface{}{"limit": true}},
		{name: "account", params: map[string]interface{}{"account_name": "missing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, reg, "search_emails", tt.params)
			assert.Error(t, err)
		})
	}
}

func TestAnalyzeDeleteAndStats(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	_, err := execute(t, reg, "fetch_emails", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)

	acc, err := store.GetAccountByName(ctx, "work")
	require.NoError(t, err)
	records, err := store.FindEmails(ctx, cache.EmailFilter{AccountID: acc.ID, SortBy: "trust_score", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	spamID := records[0].ID

	out, err := execute(t, reg, "analyze_email", map[string]interface{}{"email_id": spamID})
	require.NoError(t, err)
	analyzed := out.(map[string]interface{})["analysis"].(types.AnalysisResult)
	assert.Equal(t, types.CategorySpam, analyzed.Category)

	out, err = execute(t, reg, "account_stats", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)
	stats := out.(map[string]interface{})["stats"].(*cache.Stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByCategory[types.CategorySpam])
	assert.Equal(t, 1, stats.ByCategory[types.CategoryCustomer])
	assert.NotNil(t, stats.LastSync)

	_, err = execute(t, reg, "delete_email", map[string]interface{}{"email_id": spamID})
	require.NoError(t, err)

	_, err = execute(t, reg, "get_email", map[string]interface{}{"email_id": spamID})
	assert.True(t, cache.IsNotFound(err))

	_, err = execute(t, reg, "delete_email", map[string]interface{}{})
	assert.Error(t, err)
}

func TestAccountStats_AllAccounts(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := execute(t, reg, "fetch_emails", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)

	out, err := execute(t, reg, "account_stats", map[string]interface{}{})
	require.NoError(t, err)

	overall := out.(map[string]interface{})
	assert.Equal(t, 1, overall["total_accounts"])
	assert.Equal(t, 2, overall["total_emails"])
	byCategory := overall["by_category"].(map[types.Category]int)
	assert.Equal(t, 1, byCategory[types.CategorySpam])
	assert.Equal(t, 1, byCategory[types.CategoryCustomer])
	assert.Equal(t, 0, byCategory[types.CategoryPromotional])

	accounts := overall["accounts"].([]map[string]interface{})
	require.Len(t, accounts, 1)
	assert.Equal(t, "work", accounts[0]["account"])
	assert.Equal(t, 2, accounts[0]["stats"].(*cache.Stats).Total)
}

func TestSetAccountActive(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	out, err := execute(t, reg, "set_account_active", map[string]interface{}{"account_name": "work", "active": false})
	require.NoError(t, err)
	assert.Equal(t, false, out.(map[string]interface{})["is_active"])

	acc, err := store.GetAccountByName(ctx, "work")
	require.NoError(t, err)
	assert.False(t, acc.IsActive)

	_, err = execute(t, reg, "fetch_emails", map[string]interface{}{"account_name": "work"})
	assert.ErrorIs(t, err, email.ErrAccountInactive)

	_, err = execute(t, reg, "start_listening", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)
	_, err = execute(t, reg, "stop_listening", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)

	_, err = execute(t, reg, "set_account_active", map[string]interface{}{"account_name": "work", "active": "true"})
	require.NoError(t, err)

	out, err = execute(t, reg, "fetch_emails", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(map[string]interface{})["new"])

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{name: "missing active", params: map[string]interface{}{"account_name": "work"}},
		{name: "bad active", params: map[string]interface{}{"account_name": "work", "active": "maybe"}},
		{name: "missing account", params: map[string]interface{}{"active": true}},
		{name: "unknown account", params: map[string]interface{}{"account_name": "nope", "active": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, reg, "set_account_active", tt.params)
			assert.Error(t, err)
		})
	}
}

func TestListAccounts(t *testing.T) {
	reg, _ := newTestRegistry(t)

	out, err := execute(t, reg, "list_accounts", nil)
	require.NoError(t, err)

	accounts := out.([]map[string]interface{})
	require.Len(t, accounts, 1)
	assert.Equal(t, "work", accounts[0]["name"])
	assert.Equal(t, true, accounts[0]["is_active"])
	assert.Equal(t, false, accounts[0]["listening"])
	assert.NotContains(t, accounts[0], "password")
	assert.NotContains(t, accounts[0], "last_sync")
}

func TestListeningTools(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	_, err := execute(t, reg, "recent_emails", map[string]interface{}{"account_name": "work"})
	assert.ErrorIs(t, err, email.ErrNotListening)

	out, err := execute(t, reg, "start_listening", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)
	assert.Equal(t, "INBOX", out.(map[string]interface{})["mailbox"])
	assert.Equal(t, 10, out.(map[string]interface{})["capacity"])

	var recent map[string]interface{}
	require.Eventually(t, func() bool {
		out, err := execute(t, reg, "recent_emails", map[string]interface{}{"account_name": "work"})
		if err != nil {
			return false
		}
		recent = out.(map[string]interface{})
		return recent["count"] == 2
	}, time.Second, 10*time.Millisecond)

	summaries := recent["emails"].([]types.Summary)
	assert.Equal(t, "Invoice #1023 for your recent order", summaries[1].Subject)

	out, err = execute(t, reg, "list_accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out.([]map[string]interface{})[0]["listening"])

	_, err = execute(t, reg, "fetch_emails", map[string]interface{}{"account_name": "work"})
	assert.ErrorIs(t, err, email.ErrAccountBusy)

	_, err = execute(t, reg, "stop_listening", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)

	_, err = execute(t, reg, "stop_listening", map[string]interface{}{"account_name": "work"})
	assert.ErrorIs(t, err, email.ErrNotListening)

	count, err := store.CountEmails(ctx, cache.EmailFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIntParam(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    int
		wantErr bool
	}{
		{name: "missing", value: nil, want: 7},
		{name: "number", value: float64(3), want: 3},
		{name: "string", value: "12", want: 12},
		{name: "empty string", value: "", want: 7},
		{name: "bad string", value: "x", wantErr: true},
		{name: "bool", value: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := map[string]interface{}{}
			if tt.value != nil {
				params["n"] = tt.value
			}
			got, err := intParam(params, "n", 7)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
