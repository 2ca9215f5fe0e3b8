package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-triage/internal/config"
	"github.com/brandon/mail-triage/internal/metrics"
)

const updateBuffer = 64

var errIdleEnded = errors.New("idle ended unexpectedly")

// Fetcher retrieves raw messages from a remote mailbox
type Fetcher interface {
	FetchBounded(ctx context.Context, limit int, mailbox string) ([]RawMessage, error)
	Listen(ctx context.Context, mailbox string, onMessage func(RawMessage)) error
	Stop() error
	TestConnection(ctx context.Context) error
}

// FetcherFactory builds a Fetcher for an account
type FetcherFactory func(acc *config.AccountConfig) Fetcher

// ClientOptions bounds connection establishment and commands
type ClientOptions struct {
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	ConnectAttempts int
	RetryInterval   time.Duration
}

// DefaultClientOptions returns the options used when none are configured
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectTimeout:  10 * time.Second,
		CommandTimeout:  60 * time.Second,
		ConnectAttempts: 3,
		RetryInterval:   500 * time.Millisecond,
	}
}

// ClientOptionsFromConfig maps the imap config section to client options
func ClientOptionsFromConfig(cfg config.IMAPConfig) ClientOptions {
	opts := DefaultClientOptions()
	if cfg.ConnectTimeout > 0 {
		opts.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.CommandTimeout > 0 {
		opts.CommandTimeout = cfg.CommandTimeout
	}
	if cfg.ConnectAttempts > 0 {
		opts.ConnectAttempts = cfg.ConnectAttempts
	}
	return opts
}

// IMAPClient is a Fetcher backed by an IMAP server.
// Each FetchBounded call uses its own connection; Listen keeps one open until stopped.
type IMAPClient struct {
	config *config.AccountConfig
	opts   ClientOptions
	logger *logrus.Logger

	mu        sync.Mutex
	listening *client.Client
	stopped   bool
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig, opts ClientOptions) *IMAPClient {
	return &IMAPClient{
		config: cfg,
		opts:   opts,
		logger: logrus.New(),
	}
}

// NewIMAPFetcherFactory returns a FetcherFactory producing IMAP clients
func NewIMAPFetcherFactory(opts ClientOptions, logger *logrus.Logger) FetcherFactory {
	return func(acc *config.AccountConfig) Fetcher {
		c := NewIMAPClient(acc, opts)
		c.SetLogger(logger)
		return c
	}
}

// SetLogger sets the logger for the client
func (c *IMAPClient) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// connect dials with bounded retries and logs in. Authentication failures are not retried.
func (c *IMAPClient) connect(ctx context.Context) (*client.Client, error) {
	attempts := c.opts.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.RetryInterval
	exp.MaxInterval = 10 * c.opts.RetryInterval
	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	var cl *client.Client
	operation := func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		cl = conn
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"account": c.config.Name,
			"retry":   next.String(),
		}).Warn("Failed to dial IMAP server")
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, c.connErr("dial", err)
	}

	cl.Timeout = c.opts.CommandTimeout

	if err := cl.Login(c.config.Email, c.config.Password); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, c.connErr("login", err)
	}

	c.logger.WithField("account", c.config.Name).Debug("Connected to IMAP server")
	return cl, nil
}

// dial opens the transport and reads the server greeting within ConnectTimeout
func (c *IMAPClient) dial(ctx context.Context) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Addr())
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(c.opts.ConnectTimeout)); err != nil {
		conn.Close()
		return nil, err
	}

	if c.config.TLS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         c.config.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.config.InsecureSkipVerify, //nolint:gosec
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	cl, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		cl.Terminate() //nolint:errcheck
		return nil, err
	}

	return cl, nil
}

func (c *IMAPClient) connErr(op string, err error) error {
	metrics.ConnectionErrorsTotal.WithLabelValues(op).Inc()
	c.logger.WithError(err).WithFields(logrus.Fields{
		"account": c.config.Name,
		"op":      op,
	}).Error("IMAP connection failed")
	return &ConnectionError{Account: c.config.Name, Op: op, Err: err}
}

func (c *IMAPClient) logout(cl *client.Client) {
	if err := cl.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		c.logger.WithError(err).WithField("account", c.config.Name).Debug("Logout failed")
	}
}

// TestConnection connects, authenticates and logs out
func (c *IMAPClient) TestConnection(ctx context.Context) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	c.logout(cl)
	return nil
}

// FetchBounded returns up to limit of the most recent messages in mailbox, in sequence order
func (c *IMAPClient) FetchBounded(ctx context.Context, limit int, mailbox string) ([]RawMessage, error) {
	cl, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.logout(cl)

	stop := context.AfterFunc(ctx, func() {
		cl.Terminate() //nolint:errcheck
	})
	defer stop()

	mbox, err := cl.Select(mailbox, true)
	if err != nil {
		return nil, c.abortErr(ctx, "select", err)
	}
	if mbox.Messages == 0 || limit < 1 {
		return []RawMessage{}, nil
	}

	seqNums, err := cl.Search(imap.NewSearchCriteria())
	if err != nil {
		return nil, c.abortErr(ctx, "search", err)
	}
	if len(seqNums) == 0 {
		return []RawMessage{}, nil
	}

	sort.Slice(seqNums, func(i, j int) bool { return seqNums[i] < seqNums[j] })
	if len(seqNums) > limit {
		seqNums = seqNums[len(seqNums)-limit:]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	raws, err := c.fetch(cl, seqSet)
	if err != nil {
		return nil, c.abortErr(ctx, "fetch", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account": c.config.Name,
		"mailbox": mailbox,
		"count":   len(raws),
	}).Debug("Fetched messages")

	return raws, nil
}

func (c *IMAPClient) abortErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return c.connErr(op, err)
}

// fetch retrieves the full text of every message in seqSet without setting \Seen.
// Messages whose body cannot be read are logged and skipped.
func (c *IMAPClient) fetch(cl *client.Client, seqSet *imap.SeqSet) ([]RawMessage, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- cl.Fetch(seqSet, items, messages)
	}()

	var raws []RawMessage
	for msg := range messages {
		literal := msg.GetBody(section)
		if literal == nil {
			c.logger.WithFields(logrus.Fields{
				"account": c.config.Name,
				"seq_num": msg.SeqNum,
			}).Warn("Message has no body, skipping")
			continue
		}

		body, err := io.ReadAll(literal)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"account": c.config.Name,
				"seq_num": msg.SeqNum,
			}).Warn("Failed to read message body, skipping")
			continue
		}

		raws = append(raws, RawMessage{SeqNum: msg.SeqNum, UID: msg.Uid, Body: body})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(raws, func(i, j int) bool { return raws[i].SeqNum < raws[j].SeqNum })
	return raws, nil
}

// Listen delivers every existing message in mailbox, then each newly arrived one,
// until Stop is called or ctx is cancelled. Both return nil.
func (c *IMAPClient) Listen(ctx context.Context, mailbox string, onMessage func(RawMessage)) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}

	updates := make(chan client.Update, updateBuffer)
	cl.Updates = updates

	c.mu.Lock()
	c.listening = cl
	c.stopped = false
	c.mu.Unlock()
	defer c.release(cl)

	// A stop issued while logging in only reaches ctx.
	if ctx.Err() != nil {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		cl.Terminate() //nolint:errcheck
	})
	defer stop()

	mbox, err := cl.Select(mailbox, true)
	if err != nil {
		return c.listenErr(ctx, "select", err)
	}

	seen := mbox.Messages
	if seen > 0 {
		if err := c.deliver(cl, 1, seen, onMessage); err != nil {
			return c.listenErr(ctx, "fetch", err)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"account":  c.config.Name,
		"mailbox":  mailbox,
		"existing": seen,
	}).Info("Listening for new messages")

	for {
		count, err := c.awaitArrival(ctx, cl, updates, &seen)
		if err != nil {
			return c.listenErr(ctx, "idle", err)
		}

		if err := c.deliver(cl, seen+1, count, onMessage); err != nil {
			return c.listenErr(ctx, "fetch", err)
		}
		seen = count
	}
}

// awaitArrival idles until the mailbox grows past *seen and returns the new message count
func (c *IMAPClient) awaitArrival(ctx context.Context, cl *client.Client, updates <-chan client.Update, seen *uint32) (uint32, error) {
	stop := make(chan struct{})
	idleDone := make(chan error, 1)

	go func() {
		idleDone <- cl.Idle(stop, nil)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-idleDone
			return 0, ctx.Err()

		case err := <-idleDone:
			if err == nil {
				err = errIdleEnded
			}
			return 0, err

		case update := <-updates:
			switch u := update.(type) {
			case *client.MailboxUpdate:
				if u.Mailbox.Messages > *seen {
					close(stop)
					if err := <-idleDone; err != nil {
						return 0, err
					}
					return u.Mailbox.Messages, nil
				}
				*seen = u.Mailbox.Messages
			case *client.ExpungeUpdate:
				if *seen > 0 {
					*seen--
				}
			}
		}
	}
}

func (c *IMAPClient) deliver(cl *client.Client, from, to uint32, onMessage func(RawMessage)) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to)

	raws, err := c.fetch(cl, seqSet)
	if err != nil {
		return err
	}
	for _, raw := range raws {
		onMessage(raw)
	}
	return nil
}

// listenErr maps a failure of the listening connection. Stop and cancellation are clean exits.
func (c *IMAPClient) listenErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || c.isStopped() {
		return nil
	}
	return c.connErr(op, err)
}

func (c *IMAPClient) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *IMAPClient) release(cl *client.Client) {
	c.mu.Lock()
	owned := c.listening == cl
	if owned {
		c.listening = nil
	}
	c.mu.Unlock()

	if owned {
		c.logout(cl)
	}
}

// Stop closes the listening connection. It is a no-op when not listening.
func (c *IMAPClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listening == nil {
		return nil
	}

	cl := c.listening
	c.listening = nil
	c.stopped = true

	if err := cl.Terminate(); err != nil {
		return fmt.Errorf("failed to close IMAP connection: %w", err)
	}

	c.logger.WithField("account", c.config.Name).Info("Stopped listening")
	return nil
}
