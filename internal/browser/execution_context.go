package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/config"
)

// unauthenticatedProbe is the page-side escape hatch: a unit script that
// positively detects a logged-out state sets this flag, which is a stronger
// signal than status-code heuristics.
const unauthenticatedProbe = `window.__autoplay_unauthenticated === true`

// executionContext implements schemas.ExecutionContext over one browser tab.
// Listeners collect the raw signals (document status, console errors) in the
// background while the unit script runs.
type executionContext struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	cfg     *config.Config
	manager *Manager
	id      string
	target  string

	mu             sync.Mutex
	documentStatus int
	consoleErrors  []string
	finalURL       string
}

var _ schemas.ExecutionContext = (*executionContext)(nil)

func newExecutionContext(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *zap.Logger,
	cfg *config.Config,
	manager *Manager,
	id string,
	target string,
) *executionContext {
	ec := &executionContext{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("execution_context").With(zap.String("context_id", id)),
		cfg:     cfg,
		manager: manager,
		id:      id,
		target:  target,
	}
	ec.setupListeners()
	return ec
}

// setupListeners attaches DevTools event listeners that collect signals in
// real time: the status of the last top-level document response and any
// console.error output.
func (ec *executionContext) setupListeners() {
	chromedp.ListenTarget(ec.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			if ev.Type == network.ResourceTypeDocument {
				ec.mu.Lock()
				ec.documentStatus = int(ev.Response.Status)
				ec.mu.Unlock()
			}
		case *runtime.EventConsoleAPICalled:
			if ev.Type != runtime.APITypeError {
				return
			}
			var sb strings.Builder
			for _, arg := range ev.Args {
				sb.Write(arg.Value)
				sb.WriteByte(' ')
			}
			ec.mu.Lock()
			ec.consoleErrors = append(ec.consoleErrors, strings.TrimSpace(sb.String()))
			ec.mu.Unlock()
		case *runtime.EventExceptionThrown:
			ec.mu.Lock()
			ec.consoleErrors = append(ec.consoleErrors, ev.ExceptionDetails.Error())
			ec.mu.Unlock()
		}
	})
}

// createActionContext derives a run context from the tab that is also
// cancelled when the per-operation context expires.
func (ec *executionContext) createActionContext(opCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(ec.ctx)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return runCtx, cancel
}

// Run navigates the tab to the target and executes the unit's script. A
// script exception is an application-level failure, not an infrastructure
// error; only transport problems surface as errors.
func (ec *executionContext) Run(ctx context.Context, unit schemas.TestUnit) (schemas.RunResult, error) {
	ec.logger.Debug("Running unit",
		zap.String("unit_id", unit.ID),
		zap.String("category", string(unit.Category)),
		zap.String("target", ec.target),
	)

	runCtx, cancel := ec.createActionContext(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(ec.target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(ec.cfg.Browser.StabilizeWait),
	); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return schemas.RunResult{}, ctxErr
		}
		return schemas.RunResult{}, fmt.Errorf("navigating to %s: %w", ec.target, err)
	}

	evalErr := chromedp.Run(runCtx, chromedp.Evaluate(unit.Source, nil,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		},
	))

	var unauthenticated bool
	var finalURL string
	sigErr := chromedp.Run(runCtx,
		chromedp.Location(&finalURL),
		chromedp.Evaluate(unauthenticatedProbe, &unauthenticated),
	)
	if sigErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return schemas.RunResult{}, ctxErr
		}
		ec.logger.Warn("Failed to collect post-run signals", zap.String("unit_id", unit.ID), zap.Error(sigErr))
	}

	ec.mu.Lock()
	ec.finalURL = finalURL
	res := schemas.RunResult{
		Signals: schemas.RawSignals{
			HTTPStatus:      ec.documentStatus,
			FinalURL:        finalURL,
			ConsoleErrors:   append([]string(nil), ec.consoleErrors...),
			Unauthenticated: unauthenticated,
		},
	}
	ec.mu.Unlock()

	switch {
	case evalErr != nil && ctx.Err() != nil:
		return schemas.RunResult{}, ctx.Err()
	case evalErr != nil:
		// A thrown exception is the script telling us the assertion failed.
		res.Status = schemas.StatusFailed
		res.Detail = evalErr.Error()
	default:
		res.Status = schemas.StatusPassed
	}
	return res, nil
}

// ReadState snapshots cookies and both web storages off the live tab.
func (ec *executionContext) ReadState(ctx context.Context) (schemas.BrowserState, error) {
	runCtx, cancel := ec.createActionContext(ctx)
	defer cancel()

	var cdpCookies []*network.Cookie
	var localStorage, sessionStorage map[string]string

	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cdpCookies, err = network.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Evaluate(dumpStorageScript("localStorage"), &localStorage),
		chromedp.Evaluate(dumpStorageScript("sessionStorage"), &sessionStorage),
	)
	if err != nil {
		return schemas.BrowserState{}, fmt.Errorf("reading browser state: %w", err)
	}

	return schemas.BrowserState{
		Cookies:        fromCDPCookies(cdpCookies),
		LocalStorage:   localStorage,
		SessionStorage: sessionStorage,
	}, nil
}

// fromCDPCookies maps DevTools cookies to the capture representation.
func fromCDPCookies(cdpCookies []*network.Cookie) []schemas.Cookie {
	cookies := make([]schemas.Cookie, 0, len(cdpCookies))
	for _, c := range cdpCookies {
		cookie := schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies
}

// WriteState restores a captured state into the tab. The tab must land on the
// target origin first so the storage writes attach to the right origin; the
// unit's own navigation afterwards then starts authenticated.
func (ec *executionContext) WriteState(ctx context.Context, state schemas.BrowserState) error {
	runCtx, cancel := ec.createActionContext(ctx)
	defer cancel()

	tasks := chromedp.Tasks{
		chromedp.Navigate(ec.target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range state.Cookies {
				p := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly)
				if c.SameSite != "" {
					p = p.WithSameSite(network.CookieSameSite(c.SameSite))
				}
				if !c.Expires.IsZero() {
					exp := cdp.TimeSinceEpoch(c.Expires)
					p = p.WithExpires(&exp)
				}
				if err := p.Do(ctx); err != nil {
					return fmt.Errorf("setting cookie %q: %w", c.Name, err)
				}
			}
			return nil
		}),
	}

	if script, err := loadStorageScript("localStorage", state.LocalStorage); err != nil {
		return err
	} else if script != "" {
		tasks = append(tasks, chromedp.Evaluate(script, nil))
	}
	if script, err := loadStorageScript("sessionStorage", state.SessionStorage); err != nil {
		return err
	} else if script != "" {
		tasks = append(tasks, chromedp.Evaluate(script, nil))
	}

	if err := chromedp.Run(runCtx, tasks); err != nil {
		return fmt.Errorf("writing browser state: %w", err)
	}

	ec.logger.Debug("Session state injected",
		zap.Int("cookies", len(state.Cookies)),
		zap.Int("local_storage", len(state.LocalStorage)),
		zap.Int("session_storage", len(state.SessionStorage)),
	)
	return nil
}

// CurrentURL returns the last URL observed by Run, or the target before any
// unit has run.
func (ec *executionContext) CurrentURL() string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.finalURL != "" {
		return ec.finalURL
	}
	return ec.target
}

// Close tears down the tab and unregisters it from the manager.
func (ec *executionContext) Close(ctx context.Context) error {
	ec.logger.Debug("Closing execution context")
	if ec.manager != nil {
		ec.manager.unregister(ec.id)
	}
	if ec.cancel != nil {
		ec.cancel()
	}
	return nil
}

// dumpStorageScript serializes a web storage object to a plain map.
func dumpStorageScript(storage string) string {
	return fmt.Sprintf(`(() => {
	const out = {};
	for (let i = 0; i < %[1]s.length; i++) {
		const k = %[1]s.key(i);
		out[k] = %[1]s.getItem(k);
	}
	return out;
})()`, storage)
}

// loadStorageScript builds a script that writes every entry of items into the
// named web storage. Returns "" when there is nothing to write.
func loadStorageScript(storage string, items map[string]string) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding %s payload: %w", storage, err)
	}
	return fmt.Sprintf(`(() => {
	const items = %s;
	for (const k of Object.keys(items)) {
		%s.setItem(k, items[k]);
	}
})()`, string(payload), storage), nil
}
