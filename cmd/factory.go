package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/internal/browser"
	"github.com/dbbuilder/autoplaytest/internal/config"
	"github.com/dbbuilder/autoplaytest/internal/executor"
	"github.com/dbbuilder/autoplaytest/internal/generator"
	"github.com/dbbuilder/autoplaytest/internal/session"
	"github.com/dbbuilder/autoplaytest/internal/store"
)

// runComponents holds the services a run needs, so teardown happens in one
// place regardless of which step failed.
type runComponents struct {
	Browser     *browser.Manager
	Sessions    *session.Store
	Coordinator *executor.Coordinator
	Store       *store.Store
	pool        *pgxpool.Pool
	logger      *zap.Logger
}

// newRunComponents wires the execution pipeline: browser manager, session
// store (restored from disk when persistence is on), coordinator, and the
// optional Postgres store.
func newRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	mgr, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing browser: %w", err)
	}

	sessions := session.NewStore(cfg.Session, logger)
	if cfg.Session.Persist {
		if n, err := sessions.Restore(); err != nil {
			logger.Warn("Failed to restore persisted sessions", zap.Error(err))
		} else if n > 0 {
			logger.Info("Restored persisted sessions", zap.Int("count", n))
		}
	}

	coord, err := executor.New(cfg, logger, mgr, sessions,
		session.NewCaptureAdapter(logger), session.NewInjector(logger), nil)
	if err != nil {
		_ = mgr.Shutdown(ctx)
		return nil, fmt.Errorf("initializing coordinator: %w", err)
	}

	c := &runComponents{
		Browser:     mgr,
		Sessions:    sessions,
		Coordinator: coord,
		logger:      logger,
	}

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			c.Shutdown(ctx)
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		c.pool = pool
		c.Store = st
	}

	return c, nil
}

// Shutdown releases everything the run acquired. Sessions are flushed to disk
// first so a captured session survives into the next invocation.
func (c *runComponents) Shutdown(ctx context.Context) {
	if c.Sessions != nil {
		if err := c.Sessions.Persist(); err != nil {
			c.logger.Warn("Failed to persist sessions on shutdown", zap.Error(err))
		}
	}
	if c.Browser != nil {
		if err := c.Browser.Shutdown(ctx); err != nil {
			c.logger.Warn("Browser shutdown reported errors", zap.Error(err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

// newGenerator builds the configured AI provider and wraps it in a Generator.
func newGenerator(cfg *config.Config, logger *zap.Logger) (*generator.Generator, error) {
	gcfg := cfg.Generator

	var provider generator.Provider
	switch gcfg.Provider {
	case config.ProviderGemini:
		opts := []generator.GeminiOption{
			generator.WithGeminiGenerationParams(gcfg.Temperature, gcfg.MaxTokens),
		}
		if gcfg.Endpoint != "" {
			opts = append(opts, generator.WithGeminiBaseURL(gcfg.Endpoint))
		}
		if gcfg.APITimeout > 0 {
			opts = append(opts, generator.WithGeminiHTTPClient(&http.Client{Timeout: gcfg.APITimeout}))
		}
		p, err := generator.NewGeminiProvider(gcfg.APIKey, gcfg.Model, logger, opts...)
		if err != nil {
			return nil, err
		}
		provider = p
	case config.ProviderOpenAI, "":
		opts := []generator.OpenAIOption{
			generator.WithOpenAIGenerationParams(gcfg.Temperature, gcfg.MaxTokens),
		}
		if gcfg.Endpoint != "" {
			opts = append(opts, generator.WithOpenAIBaseURL(gcfg.Endpoint))
		}
		if gcfg.APITimeout > 0 {
			opts = append(opts, generator.WithOpenAIHTTPClient(&http.Client{Timeout: gcfg.APITimeout}))
		}
		p, err := generator.NewOpenAIProvider(gcfg.APIKey, gcfg.Model, logger, opts...)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unsupported generator provider %q", gcfg.Provider)
	}

	return generator.New(provider, logger), nil
}
