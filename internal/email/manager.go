package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mail-triage/internal/cache"
	"github.com/brandon/mail-triage/internal/config"
	"github.com/brandon/mail-triage/internal/metrics"
	"github.com/brandon/mail-triage/pkg/types"
)

const (
	DefaultMailbox    = "INBOX"
	DefaultFetchLimit = 50
	MaxFetchLimit     = 500
)

// Store is the persistence used by the pipeline
type Store interface {
	UpsertAccount(ctx context.Context, acc *config.AccountConfig) (*types.Account, error)
	HasMessage(ctx context.Context, accountID, messageID string) (bool, error)
	CreateEmail(ctx context.Context, rec *types.EmailRecord) error
	TouchLastSync(ctx context.Context, accountID string, t time.Time) error
	SetAccountActive(ctx context.Context, id string, active bool) error
	GetEmail(ctx context.Context, id string) (*types.EmailRecord, error)
	UpdateAnalysis(ctx context.Context, id string, analysis types.AnalysisResult) error
}

// Classifier scores a parsed message
type Classifier interface {
	Classify(email *types.ParsedEmail) types.AnalysisResult
}

// FetchRequest selects what a bounded fetch retrieves
type FetchRequest struct {
	AccountName string
	Mailbox     string
	Limit       int
}

// FetchResult aggregates one fetch session. Messages that failed to parse
// are excluded from every count: Total = New + Skipped + len(Failures).
type FetchResult struct {
	Account  string              `json:"account"`
	Mailbox  string              `json:"mailbox"`
	Total    int                 `json:"total"`
	New      int                 `json:"new"`
	Skipped  int                 `json:"skipped"`
	Records  []types.EmailRecord `json:"records"`
	Failures []FetchFailure      `json:"failures,omitempty"`
}

// FetchFailure is a message that parsed but could not be stored
type FetchFailure struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// AccountFetchResult is the outcome of one account in FetchAll
type AccountFetchResult struct {
	Account string       `json:"account"`
	Result  *FetchResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Manager runs the fetch, parse, dedup, classify and persist pipeline
// and owns the live-listen sessions.
type Manager struct {
	accountManager *AccountManager
	store          Store
	classifier     Classifier
	config         *config.Config
	logger         *logrus.Logger
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]*ListenSession
}

// Option customizes a Manager
type Option func(*managerOptions)

type managerOptions struct {
	factory FetcherFactory
	now     func() time.Time
}

// WithFetcherFactory replaces the IMAP fetcher used for every account
func WithFetcherFactory(factory FetcherFactory) Option {
	return func(o *managerOptions) {
		o.factory = factory
	}
}

// WithClock overrides the time source used for lastSync
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) {
		o.now = now
	}
}

// NewManager creates a new email manager
func NewManager(cfg *config.Config, store Store, classifier Classifier, logger *logrus.Logger, opts ...Option) *Manager {
	o := managerOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		o.factory = NewIMAPFetcherFactory(ClientOptionsFromConfig(cfg.IMAP), logger)
	}

	return &Manager{
		accountManager: NewAccountManager(cfg, o.factory),
		store:          store,
		classifier:     classifier,
		config:         cfg,
		logger:         logger,
		now:            o.now,
		sessions:       make(map[string]*ListenSession),
	}
}

// AccountNames returns the configured account names
func (m *Manager) AccountNames() []string {
	return m.accountManager.ListAccounts()
}

// GetAccount returns an account by name
func (m *Manager) GetAccount(name string) (*Account, error) {
	return m.accountManager.GetAccount(name)
}

// SyncAccounts registers every configured account with the store
func (m *Manager) SyncAccounts(ctx context.Context) ([]types.Account, error) {
	var accounts []types.Account
	for _, name := range m.accountManager.ListAccounts() {
		account, err := m.accountManager.GetAccount(name)
		if err != nil {
			return nil, err
		}
		stored, err := m.store.UpsertAccount(ctx, account.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to register account %s: %w", name, err)
		}
		accounts = append(accounts, *stored)
	}
	return accounts, nil
}

func (m *Manager) normalize(req FetchRequest) (FetchRequest, error) {
	if req.Mailbox == "" {
		req.Mailbox = m.config.Fetch.Mailbox
	}
	if req.Mailbox == "" {
		req.Mailbox = DefaultMailbox
	}
	if req.Limit == 0 {
		req.Limit = m.config.Fetch.DefaultLimit
	}
	if req.Limit == 0 {
		req.Limit = DefaultFetchLimit
	}
	if req.Limit < 1 || req.Limit > MaxFetchLimit {
		return req, fmt.Errorf("limit must be between 1 and %d, got %d", MaxFetchLimit, req.Limit)
	}
	return req, nil
}

// Fetch retrieves the most recent messages of a mailbox and persists the new ones.
// Only connection failures abort the batch; the account's lastSync is updated
// once after every message has been processed.
func (m *Manager) Fetch(ctx context.Context, req FetchRequest) (result *FetchResult, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveFetch(start, err)
	}()

	req, err = m.normalize(req)
	if err != nil {
		return nil, err
	}

	account, err := m.accountManager.GetAccount(req.AccountName)
	if err != nil {
		return nil, err
	}

	stored, err := m.store.UpsertAccount(ctx, account.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to register account: %w", err)
	}
	if !stored.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrAccountInactive, req.AccountName)
	}

	release, err := m.accountManager.tryAcquire(req.AccountName, sessionFetch)
	if err != nil {
		return nil, err
	}
	defer release()

	raws, err := account.Fetcher.FetchBounded(ctx, req.Limit, req.Mailbox)
	if err != nil {
		return nil, err
	}

	result = &FetchResult{
		Account: req.AccountName,
		Mailbox: req.Mailbox,
		Records: []types.EmailRecord{},
	}

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.process(ctx, stored.ID, req.Mailbox, raw, result)
	}

	if err := m.store.TouchLastSync(ctx, stored.ID, m.now()); err != nil {
		return nil, fmt.Errorf("failed to update last sync: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"account":  req.AccountName,
		"mailbox":  req.Mailbox,
		"total":    result.Total,
		"new":      result.New,
		"skipped":  result.Skipped,
		"failures": len(result.Failures),
	}).Info("Fetched mailbox")

	return result, nil
}

// process runs one raw message through parse, dedup, classify and persist
func (m *Manager) process(ctx context.Context, accountID, mailbox string, raw RawMessage, result *FetchResult) {
	parsed, err := Parse(raw)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeParseError).Inc()
		m.logger.WithError(err).WithField("seq_num", raw.SeqNum).Warn("Skipping unparseable message")
		return
	}
	result.Total++

	logger := m.logger.WithField("message_id", parsed.MessageID)

	persist, err := m.shouldPersist(ctx, accountID, parsed.MessageID)
	if err != nil {
		m.recordFailure(result, parsed.MessageID, err)
		return
	}
	if !persist {
		result.Skipped++
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		logger.Debug("Message already stored")
		return
	}

	rec := &types.EmailRecord{
		AccountID:      accountID,
		Mailbox:        mailbox,
		ParsedEmail:    *parsed,
		AnalysisResult: m.classifier.Classify(parsed),
		IsAnalyzed:     true,
	}

	if err := m.store.CreateEmail(ctx, rec); err != nil {
		if cache.IsConflict(err) {
			result.Skipped++
			metrics.MessagesTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			logger.Debug("Message stored concurrently")
			return
		}
		m.recordFailure(result, parsed.MessageID, err)
		return
	}

	result.New++
	result.Records = append(result.Records, *rec)
	metrics.MessagesTotal.WithLabelValues(metrics.OutcomeNew).Inc()
	metrics.ClassifiedTotal.WithLabelValues(string(rec.Category)).Inc()

	if parsed.MessageIDSynthesized {
		logger.Debug("Stored message with synthesized identifier")
	}
}

// shouldPersist reports whether messageID is not yet stored for the account
func (m *Manager) shouldPersist(ctx context.Context, accountID, messageID string) (bool, error) {
	exists, err := m.store.HasMessage(ctx, accountID, messageID)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (m *Manager) recordFailure(result *FetchResult, messageID string, err error) {
	metrics.MessagesTotal.WithLabelValues(metrics.OutcomePersistError).Inc()
	m.logger.WithError(err).WithField("message_id", messageID).Error("Failed to store message")
	result.Failures = append(result.Failures, FetchFailure{MessageID: messageID, Error: err.Error()})
}

// FetchAll fetches every configured account concurrently. A failing account
// does not affect the others.
func (m *Manager) FetchAll(ctx context.Context, limit int) []AccountFetchResult {
	names := m.accountManager.ListAccounts()
	results := make([]AccountFetchResult, len(names))

	var g errgroup.Group
	if m.config.Fetch.Concurrency > 0 {
		g.SetLimit(m.config.Fetch.Concurrency)
	}

	for i, name := range names {
		g.Go(func() error {
			res, err := m.Fetch(ctx, FetchRequest{AccountName: name, Limit: limit})
			results[i] = AccountFetchResult{Account: name, Result: res}
			if err != nil {
				results[i].Error = err.Error()
				m.logger.WithError(err).WithField("account", name).Warn("Account fetch failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Reanalyze recomputes and stores the analysis of a persisted message
func (m *Manager) Reanalyze(ctx context.Context, emailID string) (*types.EmailRecord, error) {
	rec, err := m.store.GetEmail(ctx, emailID)
	if err != nil {
		return nil, err
	}

	analysis := m.classifier.Classify(&rec.ParsedEmail)
	if err := m.store.UpdateAnalysis(ctx, emailID, analysis); err != nil {
		return nil, err
	}

	rec.AnalysisResult = analysis
	rec.IsAnalyzed = true
	metrics.ClassifiedTotal.WithLabelValues(string(analysis.Category)).Inc()
	return rec, nil
}

// SetAccountActive enables or disables fetching for a configured account.
// Listening is unaffected since it stores nothing.
func (m *Manager) SetAccountActive(ctx context.Context, accountName string, active bool) (*types.Account, error) {
	account, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return nil, err
	}

	stored, err := m.store.UpsertAccount(ctx, account.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to register account: %w", err)
	}
	if err := m.store.SetAccountActive(ctx, stored.ID, active); err != nil {
		return nil, err
	}
	stored.IsActive = active

	m.logger.WithFields(logrus.Fields{
		"account": accountName,
		"active":  active,
	}).Info("Updated account state")
	return stored, nil
}

// TestConnection checks that the account's server accepts its credentials
func (m *Manager) TestConnection(ctx context.Context, accountName string) error {
	account, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return err
	}
	return account.Fetcher.TestConnection(ctx)
}

// ListenSession is a live-listen session on one account
type ListenSession struct {
	account string
	mailbox string
	cache   *RecentCache
	fetcher Fetcher
	cancel  context.CancelFunc
	done    chan struct{}
	err     error

	stopOnce sync.Once
	stopErr  error
}

// Account returns the account name of the session
func (s *ListenSession) Account() string { return s.account }

// Mailbox returns the mailbox being watched
func (s *ListenSession) Mailbox() string { return s.mailbox }

// Cache returns the session's recent-message cache
func (s *ListenSession) Cache() *RecentCache { return s.cache }

// Done is closed when the session has ended
func (s *ListenSession) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, if any. Valid after Done is closed.
func (s *ListenSession) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stop closes the listening connection and waits for the session to end. Idempotent.
func (s *ListenSession) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		s.stopErr = s.fetcher.Stop()
		<-s.done
	})
	return s.stopErr
}

// StartListening starts a live-listen session on an account. Every existing and
// newly arrived message is summarized into the session cache and passed to observer.
// Nothing is deduplicated or persisted.
func (m *Manager) StartListening(ctx context.Context, accountName, mailbox string, observer func(types.Summary)) (*ListenSession, error) {
	account, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return nil, err
	}
	if mailbox == "" {
		mailbox = DefaultMailbox
	}

	release, err := m.accountManager.tryAcquire(accountName, sessionListen)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &ListenSession{
		account: accountName,
		mailbox: mailbox,
		cache:   NewRecentCache(m.config.Listen.CacheSize),
		fetcher: account.Fetcher,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[accountName] = session
	m.mu.Unlock()

	logger := m.logger.WithFields(logrus.Fields{
		"account": accountName,
		"mailbox": mailbox,
	})

	onMessage := func(raw RawMessage) {
		parsed, err := Parse(raw)
		if err != nil {
			metrics.MessagesTotal.WithLabelValues(metrics.OutcomeParseError).Inc()
			logger.WithError(err).Warn("Skipping unparseable message")
			return
		}

		summary := Summarize(parsed)
		session.cache.Push(summary)
		metrics.ListenCacheSize.WithLabelValues(accountName).Set(float64(session.cache.Len()))

		if observer != nil {
			observer(summary)
		}
	}

	go func() {
		defer close(session.done)
		defer release()
		defer m.removeSession(accountName, session)
		defer cancel()

		session.err = account.Fetcher.Listen(listenCtx, mailbox, onMessage)
		if session.err != nil {
			logger.WithError(session.err).Error("Listen session ended")
			return
		}
		logger.Info("Listen session ended")
	}()

	return session, nil
}

func (m *Manager) removeSession(accountName string, session *ListenSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[accountName] == session {
		delete(m.sessions, accountName)
	}
	metrics.ListenCacheSize.DeleteLabelValues(accountName)
}

func (m *Manager) session(accountName string) (*ListenSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[accountName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotListening, accountName)
	}
	return session, nil
}

// StopListening stops the account's listen session
func (m *Manager) StopListening(accountName string) error {
	session, err := m.session(accountName)
	if err != nil {
		return err
	}
	return session.Stop()
}

// RecentEmails returns the summaries cached by the account's listen session, oldest first
func (m *Manager) RecentEmails(accountName string) ([]types.Summary, error) {
	session, err := m.session(accountName)
	if err != nil {
		return nil, err
	}
	return session.cache.Items(), nil
}

// ListeningAccounts returns the accounts with an active listen session
func (m *Manager) ListeningAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, name := range m.accountManager.ListAccounts() {
		if _, ok := m.sessions[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Close stops every listen session and closes all connections
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*ListenSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.accountManager.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
