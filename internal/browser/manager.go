// Package browser implements the execution capability on top of a real
// Chromium instance driven over the DevTools protocol. The Manager owns the
// browser process; each execution context is an isolated tab.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/config"
)

// Manager manages the lifecycle of the browser process and the creation of
// isolated execution contexts (tabs).
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// ChromeDP allocator context manages the underlying browser executable.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// Track live contexts for graceful shutdown.
	contexts map[string]*executionContext
	mu       sync.Mutex
}

// Ensure Manager satisfies the capability contract.
var _ schemas.UnitRunner = (*Manager)(nil)

// NewManager creates and initializes the browser manager. The allocator is
// lazy: the browser executable starts with the first execution context.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		contexts: make(map[string]*executionContext),
	}

	opts := m.generateAllocatorOptions()
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Bool("ignore_tls_errors", cfg.Browser.IgnoreTLSErrors),
	)
	return m, nil
}

// generateAllocatorOptions configures the flags for the browser executable.
func (m *Manager) generateAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := m.cfg.Browser

	if browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Stability flags for containerized environments.
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		// GPU often causes issues in headless/containerized environments.
		chromedp.Flag("disable-gpu", browserCfg.Headless),

		chromedp.Flag("ignore-certificate-errors", browserCfg.IgnoreTLSErrors),
	)

	for _, arg := range browserCfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	return opts
}

// NewExecutionContext creates a new, isolated browser tab pointed at target.
// The caller owns the context and must Close it.
func (m *Manager) NewExecutionContext(reqCtx context.Context, target string) (schemas.ExecutionContext, error) {
	ctx, cancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// Tie the tab's lifecycle to the incoming request context.
	go func() {
		select {
		case <-reqCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	// Establish the connection before handing the tab out.
	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize browser context: %w", err)
	}

	id := uuid.New().String()
	ec := newExecutionContext(ctx, cancel, m.logger, m.cfg, m, id, target)

	m.mu.Lock()
	m.contexts[id] = ec
	m.mu.Unlock()

	return ec, nil
}

// unregister removes a closed context from the tracking map.
func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, id)
}

// Shutdown gracefully terminates all tabs and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager")

	m.mu.Lock()
	toClose := make([]*executionContext, 0, len(m.contexts))
	for _, ec := range m.contexts {
		toClose = append(toClose, ec)
	}
	m.contexts = make(map[string]*executionContext)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, ec := range toClose {
		wg.Add(1)
		go func(ec *executionContext) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := ec.Close(closeCtx); err != nil {
				m.logger.Warn("Error closing execution context during shutdown",
					zap.String("context_id", ec.id), zap.Error(err))
			}
		}(ec)
	}
	wg.Wait()

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}

	m.logger.Info("Browser manager shutdown complete")
	return nil
}
