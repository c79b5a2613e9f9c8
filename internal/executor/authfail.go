package executor

import (
	"fmt"
	"regexp"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/config"
)

// Detector decides whether a failed run looks like an authentication
// rejection. The predicate is deliberately pluggable: the default is
// pattern-based and can both over- and under-trigger, so callers with better
// knowledge of the application can substitute their own.
type Detector interface {
	AuthFailure(res schemas.RunResult) bool
}

// SignalDetector is the default heuristic. It inspects the raw signals of a
// run for an explicit unauthenticated marker, a 401/403-like status, or a
// final URL that bounced back to a login page.
type SignalDetector struct {
	statuses map[int]struct{}
	loginRe  *regexp.Regexp
}

// NewSignalDetector compiles the configured patterns into a detector.
func NewSignalDetector(cfg config.RunnerConfig) (*SignalDetector, error) {
	d := &SignalDetector{statuses: make(map[int]struct{}, len(cfg.AuthFailureStatuses))}
	for _, s := range cfg.AuthFailureStatuses {
		d.statuses[s] = struct{}{}
	}
	if cfg.LoginRedirectPattern != "" {
		re, err := regexp.Compile(cfg.LoginRedirectPattern)
		if err != nil {
			return nil, fmt.Errorf("compiling login redirect pattern: %w", err)
		}
		d.loginRe = re
	}
	return d, nil
}

// AuthFailure implements Detector.
func (d *SignalDetector) AuthFailure(res schemas.RunResult) bool {
	if res.Signals.Unauthenticated {
		return true
	}
	if _, ok := d.statuses[res.Signals.HTTPStatus]; ok {
		return true
	}
	if d.loginRe != nil && res.Signals.FinalURL != "" && d.loginRe.MatchString(res.Signals.FinalURL) {
		return true
	}
	return false
}
