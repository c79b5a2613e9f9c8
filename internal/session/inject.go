package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// Injector restores a captured session into a fresh, isolated execution
// context before a non-login unit runs. Injectors only read records; the
// Store is the single writer.
type Injector struct {
	logger *zap.Logger
}

// NewInjector returns an injector logging under its own name.
func NewInjector(logger *zap.Logger) *Injector {
	return &Injector{logger: logger.Named("session_inject")}
}

// Restore writes the record's cookies and storage into execCtx. A failure
// here is soft: the coordinator downgrades the unit to a cold run.
func (i *Injector) Restore(ctx context.Context, execCtx schemas.ExecutionContext, rec *schemas.SessionRecord) error {
	if err := execCtx.WriteState(ctx, rec.State()); err != nil {
		return fmt.Errorf("restoring session %s: %w", rec.Key.String(), err)
	}

	i.logger.Debug("Injected session state",
		zap.String("key", rec.Key.String()),
		zap.Int("cookies", len(rec.Cookies)),
	)
	return nil
}
