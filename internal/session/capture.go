package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// tokenMarkers are the substrings that flag a cookie or storage key as likely
// auth material. The scrape is heuristic by design; an empty result is normal.
var tokenMarkers = []string{
	"session", "sessionid", "auth", "token",
	"access_token", "refresh_token", "jwt",
	"authorization", "auth_token", "bearer",
}

// CaptureAdapter extracts cookies, web storage, and recognizable auth tokens
// from a live execution context immediately after a login unit passes.
type CaptureAdapter struct {
	logger *zap.Logger
}

// NewCaptureAdapter returns a capture adapter logging under its own name.
func NewCaptureAdapter(logger *zap.Logger) *CaptureAdapter {
	return &CaptureAdapter{logger: logger.Named("session_capture")}
}

// Capture reads the browser state out of execCtx and packages it as a
// SessionRecord for key. Timestamps and validity are stamped by Store.Put.
// Any read failure is returned as an error the coordinator treats as soft:
// capture is best-effort and must never abort a batch.
func (a *CaptureAdapter) Capture(ctx context.Context, execCtx schemas.ExecutionContext, key schemas.SessionKey) (*schemas.SessionRecord, error) {
	state, err := execCtx.ReadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading browser state for %s: %w", key.String(), err)
	}

	rec := &schemas.SessionRecord{
		Key:            key,
		Cookies:        state.Cookies,
		LocalStorage:   state.LocalStorage,
		SessionStorage: state.SessionStorage,
		AuthTokens:     scrapeTokens(state),
	}

	a.logger.Debug("Captured session state",
		zap.String("key", key.String()),
		zap.Int("cookies", len(rec.Cookies)),
		zap.Int("local_storage", len(rec.LocalStorage)),
		zap.Int("session_storage", len(rec.SessionStorage)),
		zap.Int("auth_tokens", len(rec.AuthTokens)),
	)
	return rec, nil
}

// scrapeTokens scans cookies and both storages for keys that look like auth
// material. Prefixes keep the source of each token distinguishable.
func scrapeTokens(state schemas.BrowserState) map[string]string {
	tokens := make(map[string]string)

	for _, c := range state.Cookies {
		if looksLikeToken(c.Name) {
			tokens["cookie_"+c.Name] = c.Value
		}
	}
	for k, v := range state.LocalStorage {
		if looksLikeToken(k) {
			tokens["storage_"+k] = v
		}
	}
	for k, v := range state.SessionStorage {
		if looksLikeToken(k) {
			tokens["session_"+k] = v
		}
	}
	return tokens
}

func looksLikeToken(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range tokenMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
