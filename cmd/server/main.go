package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brandon/mail-triage/internal/analysis"
	"github.com/brandon/mail-triage/internal/config"
	"github.com/brandon/mail-triage/internal/email"
	"github.com/brandon/mail-triage/internal/mcp"
	"github.com/brandon/mail-triage/internal/metrics"
	"github.com/brandon/mail-triage/pkg/types"
)

var (
	version    = "dev"
	configFile string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mail-triage",
		Short:         "IMAP ingestion and heuristic triage",
		Long:          "mail-triage fetches mail over IMAP, classifies it and stores the results in SQLite",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE:          serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(serveCmd(), fetchCmd(), listenCmd(), testConnectionCmd(), setActiveCmd(), analyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger. Logs go to stderr since
// stdout carries MCP responses and command output.
func setup(requireAccounts bool) (*config.Config, *logrus.Logger, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if requireAccounts {
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(true)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if cfg.MetricsAddr != "" {
				stop := serveMetrics(cfg.MetricsAddr, logger)
				defer stop()
			}

			server, err := mcp.NewServer(cfg, a.manager, a.store, logger, version)
			if err != nil {
				return err
			}

			logger.WithField("version", version).Info("Starting mail-triage")
			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Server stopped with error")
				return err
			}
			logger.Info("Shutting down mail-triage")
			return nil
		},
	}
}

// serveMetrics exposes the Prometheus registry on addr until the returned func is called
func serveMetrics(addr string, logger *logrus.Logger) func() {
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	}
}

func fetchCmd() *cobra.Command {
	var (
		account string
		mailbox string
		limit   int
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, classify and store the most recent messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(true)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if all {
				return printJSON(a.manager.FetchAll(ctx, limit))
			}

			if account == "" {
				account = cfg.GetDefaultAccount().Name
			}
			result, err := a.manager.Fetch(ctx, email.FetchRequest{
				AccountName: account,
				Mailbox:     mailbox,
				Limit:       limit,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account name (default: the default account)")
	cmd.Flags().StringVar(&mailbox, "mailbox", "", "Mailbox to fetch (default: fetch.mailbox)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of most recent messages (default: fetch.default_limit)")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every configured account")
	return cmd
}

func listenCmd() *cobra.Command {
	var account, mailbox string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print a JSON summary for every message in a mailbox and each new arrival",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(true)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if account == "" {
				account = cfg.GetDefaultAccount().Name
			}

			enc := json.NewEncoder(os.Stdout)
			session, err := a.manager.StartListening(ctx, account, mailbox, func(s types.Summary) {
				if err := enc.Encode(s); err != nil {
					logger.WithError(err).Error("Failed to write summary")
				}
			})
			if err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return session.Stop()
			case <-session.Done():
				return session.Err()
			}
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account name (default: the default account)")
	cmd.Flags().StringVar(&mailbox, "mailbox", "INBOX", "Mailbox to watch")
	return cmd
}

func testConnectionCmd() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that accounts can connect and authenticate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(true)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			names := cfg.AccountNames()
			if account != "" {
				names = []string{account}
			}

			var failed int
			for _, name := range names {
				if err := a.manager.TestConnection(ctx, name); err != nil {
					failed++
					fmt.Printf("%s: FAILED (%v)\n", name, err)
					continue
				}
				fmt.Printf("%s: OK\n", name)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d accounts failed", failed, len(names))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account name (default: all accounts)")
	return cmd
}

func setActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-active <account> <true|false>",
		Short: "Enable or disable fetching for an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid state %q: %w", args[1], err)
			}

			cfg, logger, err := setup(true)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			account, err := a.manager.SetAccountActive(ctx, args[0], active)
			if err != nil {
				return err
			}
			return printJSON(account)
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file.eml>",
		Short: "Parse and classify a message file without connecting or storing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(false)
			if err != nil {
				return err
			}

			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			parsed, err := email.Parse(email.RawMessage{Body: body})
			if err != nil {
				return err
			}

			rules, err := analysis.LoadRuleSetFile(cfg.RulesPath)
			if err != nil {
				return err
			}
			classifier, err := analysis.NewClassifier(rules)
			if err != nil {
				return err
			}

			return printJSON(map[string]interface{}{
				"message_id": parsed.MessageID,
				"from":       parsed.From,
				"subject":    parsed.Subject,
				"analysis":   classifier.Classify(parsed),
			})
		},
	}
}
