// Package schemas holds the shared data model of the orchestrator: test units,
// execution outcomes, captured sessions, and the capability interfaces that
// decouple the coordinator from the browser runtime and the AI providers.
package schemas

import (
	"context"
	"time"
)

// -- Test Units --

// Category classifies a generated test unit. The scheduler only distinguishes
// login units from everything else; the rest of the vocabulary is carried
// through for reporting and generation.
type Category string

const (
	CategoryLogin            Category = "login"
	CategoryNavigation       Category = "navigation"
	CategoryFormInteraction  Category = "form_interaction"
	CategorySearch           Category = "search"
	CategoryCRUDOperations   Category = "crud_operations"
	CategoryAPIIntegration   Category = "api_integration"
	CategoryAccessibility    Category = "accessibility"
	CategoryPerformance      Category = "performance"
	CategoryVisualRegression Category = "visual_regression"
	CategoryE2EWorkflow      Category = "e2e_workflow"
)

// Categories lists the fixed vocabulary, in generation order.
var Categories = []Category{
	CategoryLogin,
	CategoryNavigation,
	CategoryFormInteraction,
	CategorySearch,
	CategoryCRUDOperations,
	CategoryAPIIntegration,
	CategoryAccessibility,
	CategoryPerformance,
	CategoryVisualRegression,
	CategoryE2EWorkflow,
}

// TestUnit is one independently executable generated test. Units are created
// by the generation layer, immutable afterwards, and owned by the caller.
type TestUnit struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	// Source is the unit's script body. It is opaque to the coordinator and
	// passed through to the execution capability unmodified.
	Source string `json:"source"`
	// Description is a short human-readable summary from the generator.
	Description string `json:"description,omitempty"`
}

// RequiresAuthentication reports whether the unit should run against an
// authenticated context. Login units never do; everything else does whenever
// a session is available for the target.
func (u TestUnit) RequiresAuthentication(sessionAvailable bool) bool {
	return u.Category != CategoryLogin && sessionAvailable
}

// -- Execution Outcomes --

// Status is the terminal state of a single unit execution.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// SessionAction records what the coordinator did with session state around a
// unit execution.
type SessionAction string

const (
	// SessionNone: the unit ran cold, no session state was involved.
	SessionNone SessionAction = "none"
	// SessionCaptured: a login unit passed and its state was captured.
	SessionCaptured SessionAction = "captured"
	// SessionInjected: a stored session was restored before the run.
	SessionInjected SessionAction = "injected"
	// SessionRetriedFreshLogin: the injected session was rejected by the
	// application and this outcome is the one-shot cold retry.
	SessionRetriedFreshLogin SessionAction = "injection_failed_fresh_login"
)

// ExecutionOutcome is the per-unit result the coordinator appends, in schedule
// order, to the batch outcome list. Retry outcomes follow their trigger
// immediately and carry Retry=true.
type ExecutionOutcome struct {
	UnitID        string        `json:"unit_id"`
	Category      Category      `json:"category"`
	Status        Status        `json:"status"`
	Duration      time.Duration `json:"duration"`
	SessionAction SessionAction `json:"session_action"`
	Detail        string        `json:"detail,omitempty"`
	Retry         bool          `json:"retry,omitempty"`
}

// Batch identifies one scheduled pass of test units against a target.
type Batch struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Principal  string    `json:"principal"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// -- Execution capability --

// RawSignals exposes enough of what the browser observed during a run for the
// coordinator's auth-failure heuristic to work with.
type RawSignals struct {
	HTTPStatus    int      `json:"http_status"`
	FinalURL      string   `json:"final_url"`
	ConsoleErrors []string `json:"console_errors,omitempty"`
	// Unauthenticated is an explicit marker from the execution capability,
	// set when the runtime itself detected an auth rejection.
	Unauthenticated bool `json:"unauthenticated,omitempty"`
}

// RunResult is the raw result of driving one unit through the browser.
type RunResult struct {
	Status  Status     `json:"status"`
	Detail  string     `json:"detail,omitempty"`
	Signals RawSignals `json:"signals"`
}

// BrowserState is the transferable authentication state of a live browser
// context: cookies plus both web storages.
type BrowserState struct {
	Cookies        []Cookie          `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
}

// ExecutionContext is one isolated browser context (a tab). The coordinator
// creates a fresh one per unit, optionally restores session state into it,
// runs the unit, and for login units reads the resulting state back out.
type ExecutionContext interface {
	// Run navigates to the target and executes the unit's script.
	Run(ctx context.Context, unit TestUnit) (RunResult, error)
	// ReadState extracts cookies and web storage from the live context.
	ReadState(ctx context.Context) (BrowserState, error)
	// WriteState restores cookies and web storage into the live context.
	WriteState(ctx context.Context, state BrowserState) error
	// CurrentURL returns the context's last observed URL.
	CurrentURL() string
	// Close releases the underlying browser context.
	Close(ctx context.Context) error
}

// UnitRunner is the execution capability consumed by the coordinator. The
// chromedp-backed implementation lives in internal/browser; tests substitute
// their own.
type UnitRunner interface {
	NewExecutionContext(ctx context.Context, target string) (ExecutionContext, error)
}
