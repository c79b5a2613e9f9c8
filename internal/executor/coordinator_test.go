package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dbbuilder/autoplaytest/api/schemas"
	"github.com/dbbuilder/autoplaytest/internal/config"
	"github.com/dbbuilder/autoplaytest/internal/session"
)

func testCfg(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Target.URL = "https://app.example.com/"
	cfg.Session.Persist = false
	cfg.Session.Dir = filepath.Join(t.TempDir(), "sessions")
	return cfg
}

func testKey() schemas.SessionKey {
	return schemas.SessionKey{Origin: "https://app.example.com", Principal: "alice"}
}

// newCoordinator wires a coordinator with the real store, capture adapter and
// injector over the fake browser runner.
func newCoordinator(t *testing.T, cfg *config.Config, runner *fakeRunner) (*Coordinator, *session.Store) {
	t.Helper()
	logger := zap.NewNop()
	store := session.NewStore(cfg.Session, logger)
	coord, err := New(cfg, logger, runner, store,
		session.NewCaptureAdapter(logger), session.NewInjector(logger), nil)
	require.NoError(t, err)
	return coord, store
}

func loginUnit(id string) schemas.TestUnit {
	return schemas.TestUnit{ID: id, Category: schemas.CategoryLogin, Source: "login script"}
}

func navUnit(id string) schemas.TestUnit {
	return schemas.TestUnit{ID: id, Category: schemas.CategoryNavigation, Source: "nav script"}
}

func formUnit(id string) schemas.TestUnit {
	return schemas.TestUnit{ID: id, Category: schemas.CategoryFormInteraction, Source: "form script"}
}

func authedState() schemas.BrowserState {
	return schemas.BrowserState{
		Cookies:      []schemas.Cookie{{Name: "sessionid", Value: "s-1", Domain: "app.example.com", Path: "/"}},
		LocalStorage: map[string]string{"access_token": "tok"},
	}
}

func TestScheduleAndRun_LoginCaptureThenInject(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B"), formUnit("form_C")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, schemas.StatusPassed, outcomes[0].Status)
	assert.Equal(t, schemas.SessionCaptured, outcomes[0].SessionAction)
	assert.Equal(t, schemas.SessionInjected, outcomes[1].SessionAction)
	assert.Equal(t, schemas.SessionInjected, outcomes[2].SessionAction)

	// The injected state is what the login context exposed.
	navCtxs := runner.contextsFor("nav_B")
	require.Len(t, navCtxs, 1)
	require.NotNil(t, navCtxs[0].injected)
	assert.Equal(t, "s-1", navCtxs[0].injected.Cookies[0].Value)
}

func TestScheduleAndRun_ReordersLoginFirst(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{navUnit("nav_B"), loginUnit("login_A")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "login_A", outcomes[0].UnitID)
	assert.Equal(t, "nav_B", outcomes[1].UnitID)
	assert.Equal(t, schemas.SessionInjected, outcomes[1].SessionAction,
		"nav unit scheduled after the login must see the captured session")
}

func TestScheduleAndRun_FailedLoginMeansColdRuns(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").results = []schemas.RunResult{{Status: schemas.StatusFailed, Detail: "bad credentials"}}

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), formUnit("form_C")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, schemas.StatusFailed, outcomes[0].Status)
	assert.Equal(t, schemas.SessionNone, outcomes[0].SessionAction, "no capture after a failed login")
	assert.Equal(t, schemas.SessionNone, outcomes[1].SessionAction, "form runs cold")

	formCtxs := runner.contextsFor("form_C")
	require.Len(t, formCtxs, 1)
	assert.Nil(t, formCtxs[0].injected)
}

func TestScheduleAndRun_CaptureFailureIsSoft(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").readErr = errors.New("context already closed")

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 2, "capture failure must never abort the batch")

	assert.Equal(t, schemas.StatusPassed, outcomes[0].Status)
	assert.Equal(t, schemas.SessionNone, outcomes[0].SessionAction)
	assert.Equal(t, schemas.SessionNone, outcomes[1].SessionAction)
}

func TestScheduleAndRun_InjectionFailureDowngradesToCold(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()
	runner.injectErr = errors.New("tab crashed")

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	// A pure injection-mechanism failure is not the auth-retry marker.
	assert.Equal(t, schemas.SessionNone, outcomes[1].SessionAction)
	assert.False(t, outcomes[1].Retry)
	assert.Equal(t, schemas.StatusPassed, outcomes[1].Status)
}

func TestScheduleAndRun_AuthFailureTriggersOneColdRetry(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()
	runner.on("nav_B").results = []schemas.RunResult{
		{Status: schemas.StatusFailed, Detail: "redirected", Signals: schemas.RawSignals{HTTPStatus: 401, FinalURL: "https://app.example.com/login"}},
		{Status: schemas.StatusPassed},
	}

	coord, store := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 3, "one extra outcome for the retry")

	assert.Equal(t, "nav_B", outcomes[1].UnitID)
	assert.Equal(t, schemas.SessionInjected, outcomes[1].SessionAction)
	assert.Equal(t, schemas.StatusFailed, outcomes[1].Status)

	retry := outcomes[2]
	assert.Equal(t, "nav_B", retry.UnitID)
	assert.True(t, retry.Retry)
	assert.Equal(t, schemas.SessionRetriedFreshLogin, retry.SessionAction)
	assert.Equal(t, schemas.StatusPassed, retry.Status)

	// Second attempt ran cold.
	navCtxs := runner.contextsFor("nav_B")
	require.Len(t, navCtxs, 2)
	assert.NotNil(t, navCtxs[0].injected)
	assert.Nil(t, navCtxs[1].injected)

	// The dead session was invalidated.
	_, err = store.Get(testKey())
	assert.ErrorIs(t, err, session.ErrMiss)
}

func TestScheduleAndRun_AtMostOneRetry(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()
	// Every attempt looks like an auth failure.
	runner.on("nav_B").results = []schemas.RunResult{
		{Status: schemas.StatusFailed, Signals: schemas.RawSignals{HTTPStatus: 401}},
	}

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B")}, testKey())
	require.NoError(t, err)

	var navOutcomes []schemas.ExecutionOutcome
	for _, o := range outcomes {
		if o.UnitID == "nav_B" {
			navOutcomes = append(navOutcomes, o)
		}
	}
	require.Len(t, navOutcomes, 2, "exactly original + one retry, never more")
	assert.False(t, navOutcomes[0].Retry)
	assert.True(t, navOutcomes[1].Retry)
}

func TestScheduleAndRun_NoRetryWithoutInjection(t *testing.T) {
	runner := newFakeRunner()
	// No login unit, so nothing is ever injected; a 401 must not retry.
	runner.on("nav_B").results = []schemas.RunResult{
		{Status: schemas.StatusFailed, Signals: schemas.RawSignals{HTTPStatus: 401}},
	}

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{navUnit("nav_B")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Retry)
}

func TestScheduleAndRun_UnrelatedFailureNoRetry(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()
	runner.on("nav_B").results = []schemas.RunResult{
		{Status: schemas.StatusFailed, Detail: "element not found", Signals: schemas.RawSignals{HTTPStatus: 200, FinalURL: "https://app.example.com/dash"}},
	}

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 2, "non-auth failures are recorded as-is")
	assert.Equal(t, schemas.StatusFailed, outcomes[1].Status)
}

func TestScheduleAndRun_RunnerErrorRecordedAsError(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()
	runner.on("nav_B").runErrs = []error{errors.New("browser crashed")}
	runner.on("nav_B").results = []schemas.RunResult{{}}

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B"), formUnit("form_C")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 3, "a unit error never aborts the batch")

	assert.Equal(t, schemas.StatusError, outcomes[1].Status)
	assert.Contains(t, outcomes[1].Detail, "browser crashed")
	assert.Equal(t, schemas.StatusPassed, outcomes[2].Status)
}

func TestScheduleAndRun_UnitTimeoutIsNotFatal(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()
	runner.on("nav_B").block = true

	cfg := testCfg(t)
	cfg.Runner.UnitTimeoutSeconds = 1

	coord, _ := newCoordinator(t, cfg, runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B"), formUnit("form_C")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 3, "a timed-out unit never aborts the batch and never retries")

	assert.Equal(t, schemas.StatusPassed, outcomes[0].Status)
	assert.Equal(t, schemas.StatusError, outcomes[1].Status)
	assert.Contains(t, outcomes[1].Detail, "timed out after 1s")
	assert.Equal(t, schemas.StatusPassed, outcomes[2].Status, "the batch continues past the timeout")
	assert.Equal(t, schemas.SessionInjected, outcomes[2].SessionAction)
}

func TestScheduleAndRun_ContextCreationFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.newErr = errors.New("no browser available")

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{navUnit("nav_B")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, schemas.StatusError, outcomes[0].Status)
}

func TestScheduleAndRun_Cancellation(t *testing.T) {
	runner := newFakeRunner()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord, _ := newCoordinator(t, testCfg(t), runner)
	outcomes, err := coord.ScheduleAndRun(ctx,
		[]schemas.TestUnit{navUnit("nav_1"), navUnit("nav_2")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 2, "cancellation still yields a complete outcome list")

	for _, o := range outcomes {
		assert.Equal(t, schemas.StatusSkipped, o.Status)
	}
}

func TestScheduleAndRun_ForceNewSessionBypassesCache(t *testing.T) {
	cfg := testCfg(t)
	cfg.Session.ForceNew = true

	runner := newFakeRunner()
	runner.on("login_A").state = authedState()

	coord, store := newCoordinator(t, cfg, runner)

	// Seed a perfectly valid record; force_new must ignore it.
	store.Put(testKey(), &schemas.SessionRecord{
		Cookies: []schemas.Cookie{{Name: "sessionid", Value: "stale", Domain: "app.example.com", Path: "/"}},
	})

	outcomes, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B")}, testKey())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	// The login still captured fresh state, and nav_B used that capture,
	// not the pre-seeded record.
	assert.Equal(t, schemas.SessionCaptured, outcomes[0].SessionAction)
	assert.Equal(t, schemas.SessionInjected, outcomes[1].SessionAction)

	navCtxs := runner.contextsFor("nav_B")
	require.Len(t, navCtxs, 1)
	require.NotNil(t, navCtxs[0].injected)
	assert.Equal(t, "s-1", navCtxs[0].injected.Cookies[0].Value)
}

func TestScheduleAndRun_InvalidKeyFailsBeforeAnyUnit(t *testing.T) {
	runner := newFakeRunner()

	coord, _ := newCoordinator(t, testCfg(t), runner)
	_, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{navUnit("nav_B")}, schemas.SessionKey{Origin: "not-an-origin"})
	require.Error(t, err)
	assert.Empty(t, runner.contexts, "no unit may run on a precondition violation")
}

func TestScheduleAndRun_ClosesEveryContext(t *testing.T) {
	runner := newFakeRunner()
	runner.on("login_A").state = authedState()

	coord, _ := newCoordinator(t, testCfg(t), runner)
	_, err := coord.ScheduleAndRun(context.Background(),
		[]schemas.TestUnit{loginUnit("login_A"), navUnit("nav_B")}, testKey())
	require.NoError(t, err)

	for _, ec := range runner.contexts {
		assert.True(t, ec.closed, "execution contexts must not leak")
	}
}

func TestSignalDetector(t *testing.T) {
	d, err := NewSignalDetector(config.NewDefaultConfig().Runner)
	require.NoError(t, err)

	assert.True(t, d.AuthFailure(schemas.RunResult{Signals: schemas.RawSignals{Unauthenticated: true}}))
	assert.True(t, d.AuthFailure(schemas.RunResult{Signals: schemas.RawSignals{HTTPStatus: 401}}))
	assert.True(t, d.AuthFailure(schemas.RunResult{Signals: schemas.RawSignals{HTTPStatus: 403}}))
	assert.True(t, d.AuthFailure(schemas.RunResult{Signals: schemas.RawSignals{FinalURL: "https://app.example.com/login?next=/dash"}}))
	assert.True(t, d.AuthFailure(schemas.RunResult{Signals: schemas.RawSignals{FinalURL: "https://app.example.com/sign-in"}}))

	assert.False(t, d.AuthFailure(schemas.RunResult{Signals: schemas.RawSignals{HTTPStatus: 500}}))
	assert.False(t, d.AuthFailure(schemas.RunResult{Signals: schemas.RawSignals{HTTPStatus: 200, FinalURL: "https://app.example.com/dashboard"}}))
}
