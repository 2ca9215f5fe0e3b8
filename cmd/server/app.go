package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-triage/internal/analysis"
	"github.com/brandon/mail-triage/internal/cache"
	"github.com/brandon/mail-triage/internal/config"
	"github.com/brandon/mail-triage/internal/email"
)

// app wires the storage, classifier and pipeline shared by every command
type app struct {
	logger  *logrus.Logger
	cache   *cache.Cache
	store   *cache.Store
	manager *email.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	rules, err := analysis.LoadRuleSetFile(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	classifier, err := analysis.NewClassifier(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	logger.WithField("rule_set", classifier.RuleSetVersion()).Debug("Loaded rule set")

	c, err := cache.NewCache(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	store := cache.NewStore(c, logger)
	manager := email.NewManager(cfg, store, classifier, logger)

	if _, err := manager.SyncAccounts(ctx); err != nil {
		manager.Close()
		c.Close()
		return nil, err
	}

	return &app{
		logger:  logger,
		cache:   c,
		store:   store,
		manager: manager,
	}, nil
}

func (a *app) close() {
	if err := a.manager.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close email manager")
	}
	if err := a.cache.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close cache")
	}
}
