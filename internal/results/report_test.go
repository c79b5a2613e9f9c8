package results

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbbuilder/autoplaytest/api/schemas"
)

func reportFixture() (schemas.Batch, []schemas.ExecutionOutcome) {
	started := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	batch := schemas.Batch{
		ID:         "batch-1",
		Target:     "https://app.example.com",
		Principal:  "alice",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Minute),
	}
	outcomes := []schemas.ExecutionOutcome{
		{UnitID: "login_1", Category: schemas.CategoryLogin, Status: schemas.StatusPassed, SessionAction: schemas.SessionCaptured},
		{UnitID: "nav_2", Category: schemas.CategoryNavigation, Status: schemas.StatusFailed, SessionAction: schemas.SessionInjected},
		{UnitID: "nav_2", Category: schemas.CategoryNavigation, Status: schemas.StatusPassed, SessionAction: schemas.SessionRetriedFreshLogin, Retry: true},
		{UnitID: "form_3", Category: schemas.CategoryFormInteraction, Status: schemas.StatusError, SessionAction: schemas.SessionNone},
		{UnitID: "perf_4", Category: schemas.CategoryPerformance, Status: schemas.StatusSkipped, SessionAction: schemas.SessionNone},
	}
	return batch, outcomes
}

func TestBuildReport(t *testing.T) {
	batch, outcomes := reportFixture()
	report := Build(batch, outcomes)

	assert.Equal(t, 2, report.Totals.Passed)
	assert.Equal(t, 1, report.Totals.Failed)
	assert.Equal(t, 1, report.Totals.Errored)
	assert.Equal(t, 1, report.Totals.Skipped)

	// Skipped units do not dilute the pass rate.
	assert.InDelta(t, 0.5, report.PassRate, 0.001)

	assert.Equal(t, 1, report.Session.Captured)
	assert.Equal(t, 1, report.Session.Injected)
	assert.Equal(t, 1, report.Session.RetriedFresh)
	assert.Equal(t, 2, report.Session.Cold)
	assert.Equal(t, 1, report.Retries)

	assert.Equal(t, 2*time.Minute, report.Duration)
	assert.Len(t, report.Outcomes, 5)
}

func TestBuildReportEmptyBatch(t *testing.T) {
	batch, _ := reportFixture()
	report := Build(batch, nil)

	assert.Zero(t, report.PassRate)
	assert.Zero(t, report.Totals)
	assert.Empty(t, report.Outcomes)
}

func TestWriteJSON(t *testing.T) {
	batch, outcomes := reportFixture()
	report := Build(batch, outcomes)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, report))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report.Totals, decoded.Totals)
	assert.Equal(t, "batch-1", decoded.Batch.ID)
}

func TestWriteFileCreatesDirectories(t *testing.T) {
	batch, outcomes := reportFixture()
	report := Build(batch, outcomes)

	path := filepath.Join(t.TempDir(), "reports", "batch-1.json")
	require.NoError(t, WriteFile(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Outcomes, len(outcomes))
}
