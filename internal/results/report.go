// Package results compiles execution outcomes into a batch report: status
// totals, pass rate, and how the session layer behaved across the batch.
package results

import (
	"time"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

// SessionStats summarizes the session lifecycle over one batch.
type SessionStats struct {
	Captured     int `json:"captured"`
	Injected     int `json:"injected"`
	RetriedFresh int `json:"retried_fresh_login"`
	Cold         int `json:"cold"`
}

// Totals counts outcomes by final status.
type Totals struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
}

// Report is the complete summary of one batch.
type Report struct {
	Batch    schemas.Batch              `json:"batch"`
	Totals   Totals                     `json:"totals"`
	PassRate float64                    `json:"pass_rate"`
	Duration time.Duration              `json:"duration"`
	Session  SessionStats               `json:"session"`
	Retries  int                        `json:"retries"`
	Outcomes []schemas.ExecutionOutcome `json:"outcomes"`
}

// Build aggregates the outcomes of a batch into a report. Retry outcomes
// count toward totals like any other outcome: the report reflects every
// execution that happened, not just the final verdict per unit.
func Build(batch schemas.Batch, outcomes []schemas.ExecutionOutcome) *Report {
	r := &Report{
		Batch:    batch,
		Outcomes: outcomes,
		Duration: batch.FinishedAt.Sub(batch.StartedAt),
	}

	for _, o := range outcomes {
		switch o.Status {
		case schemas.StatusPassed:
			r.Totals.Passed++
		case schemas.StatusFailed:
			r.Totals.Failed++
		case schemas.StatusError:
			r.Totals.Errored++
		case schemas.StatusSkipped:
			r.Totals.Skipped++
		}

		switch o.SessionAction {
		case schemas.SessionCaptured:
			r.Session.Captured++
		case schemas.SessionInjected:
			r.Session.Injected++
		case schemas.SessionRetriedFreshLogin:
			r.Session.RetriedFresh++
		default:
			r.Session.Cold++
		}

		if o.Retry {
			r.Retries++
		}
	}

	if executed := len(outcomes) - r.Totals.Skipped; executed > 0 {
		r.PassRate = float64(r.Totals.Passed) / float64(executed)
	}
	return r
}
