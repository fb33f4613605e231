package proctor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctrl   *Controller
	env    *fakeEnv
	api    *fakeAPI
	stream *fakeStream
	cancel context.CancelFunc
	runErr chan error
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	cfg.SettleDelay = 0
	cfg.FaceSampleInterval = time.Hour
	cfg.AudioSampleInterval = time.Hour
	cfg.EnvCheckInterval = time.Hour
	cfg.SnapshotInterval = time.Hour
	cfg.MouseSampleInterval = time.Hour
	cfg.APITimeout = time.Second
	return cfg
}

func newHarness(t *testing.T, cfg Config, media MediaDevices) *harness {
	t.Helper()
	h := &harness{
		env:    newFakeEnv(),
		api:    &fakeAPI{paper: testPaper(5, 1)},
		runErr: make(chan error, 1),
	}
	if media == nil {
		h.stream = &fakeStream{}
		media = &fakeMedia{stream: h.stream}
	}
	h.ctrl = New(cfg, Deps{API: h.api, Env: h.env, Media: media}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runErr:
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.ShowInstructions())
	id, err := h.ctrl.Start(context.Background(), "test-1")
	require.NoError(t, err)
	require.Equal(t, "attempt-1", id)
}

func waitDone(t *testing.T, c *Controller) Handoff {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session was not handed off")
	}
	h, ok := c.Handoff()
	require.True(t, ok)
	return h
}

func TestControllerStartFailure(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.api.startErr = errors.New("503 service unavailable")

	_, err := h.ctrl.Start(context.Background(), "test-1")
	require.ErrorIs(t, err, ErrStartFailed)
	assert.Equal(t, StatusNotStarted, h.ctrl.Session().Status)
	assert.Contains(t, h.ctrl.Session().LastError, "503")
}

func TestControllerManualSubmit(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.start(t)

	require.NoError(t, h.ctrl.SelectOption(0, 2))
	require.NoError(t, h.ctrl.Navigate(2))
	require.NoError(t, h.ctrl.SelectOption(2, 1))
	require.NoError(t, h.ctrl.ToggleMark(4))

	summary, err := h.ctrl.RequestSubmit()
	require.NoError(t, err)
	assert.Equal(t, SubmitSummary{Answered: 2, Marked: 1, Unanswered: 3}, summary)

	require.NoError(t, h.ctrl.ConfirmSubmit(context.Background()))
	s := h.ctrl.Session()
	assert.Equal(t, StatusSubmitted, s.Status)
	assert.True(t, s.Submitting)
	select {
	case <-h.ctrl.Done():
	default:
		t.Fatal("handoff must be complete when ConfirmSubmit returns")
	}
	handoff := waitDone(t, h.ctrl)

	assert.Equal(t, "attempt-1", handoff.AttemptID)
	assert.False(t, handoff.Terminated)

	subs := h.api.submitted()
	require.Len(t, subs, 1)
	assert.False(t, subs[0].Terminated)
	require.NotNil(t, subs[0].Responses[2].SelectedOption)
	assert.Equal(t, 1, *subs[0].Responses[2].SelectedOption)

	assert.Eventually(t, func() bool { return h.api.progressCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.env.exitCount())
	assert.True(t, h.stream.isStopped())
}

func TestControllerSubmitFailureThenRetry(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.api.submitErrs = []error{errors.New("connection reset")}
	h.start(t)

	_, err := h.ctrl.RequestSubmit()
	require.NoError(t, err)

	err = h.ctrl.ConfirmSubmit(context.Background())
	require.ErrorIs(t, err, ErrSubmitFailed)
	s := h.ctrl.Session()
	assert.Equal(t, StatusConfirmingSubmit, s.Status)
	assert.False(t, s.Submitting)
	assert.Contains(t, s.LastError, "connection reset")

	require.NoError(t, h.ctrl.ConfirmSubmit(context.Background()))
	assert.Equal(t, StatusSubmitted, h.ctrl.Session().Status)
	assert.Empty(t, h.ctrl.Session().LastError)
	waitDone(t, h.ctrl)
	assert.Len(t, h.api.submitted(), 2)
}

func TestControllerMediaDeniedDegrades(t *testing.T) {
	h := newHarness(t, testConfig(), &fakeMedia{err: ErrProctoringSetup})
	h.start(t)

	require.Eventually(t, func() bool { return h.ctrl.Session().Strikes == 1 }, time.Second, 5*time.Millisecond)

	s := h.ctrl.Session()
	assert.Equal(t, StatusRunning, s.Status)
	require.Equal(t, 1, s.Ledger.Len())
	ev := s.Ledger.Events()[0]
	assert.Equal(t, msgSetupFailed, ev.Description)
	assert.Equal(t, SeverityHigh, ev.Severity)
}

func TestControllerEscapeTerminates(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.start(t)

	h.env.signals <- Signal{Kind: SignalKeyDown, Key: "Escape"}
	handoff := waitDone(t, h.ctrl)

	s := h.ctrl.Session()
	assert.Equal(t, StatusTerminated, s.Status)
	assert.Equal(t, 0, s.Strikes)
	assert.True(t, handoff.Terminated)
	assert.Equal(t, ReasonEscapePressed, handoff.Reason)

	subs := h.api.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, ReasonEscapePressed, subs[0].Reason)
	assert.True(t, subs[0].Terminated)
	assert.True(t, h.stream.isStopped())
}

func TestControllerThreeTabSwitches(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.start(t)

	for i := 0; i < 5; i++ {
		h.env.signals <- Signal{Kind: SignalVisibility, Hidden: true}
	}
	handoff := waitDone(t, h.ctrl)

	assert.Equal(t, StatusTerminated, h.ctrl.Session().Status)
	assert.Equal(t, 3, handoff.WarningCount)
	assert.Len(t, handoff.SuspiciousActivities, 3)

	subs := h.api.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, 3, subs[0].WarningCount)
	assert.Equal(t, ReasonStrikeThreshold, subs[0].Reason)
	assert.GreaterOrEqual(t, h.env.warningCount(), 3)
}

func TestControllerTimeExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 2 * time.Millisecond
	h := newHarness(t, cfg, nil)
	h.start(t)
	require.NoError(t, h.ctrl.SelectOption(0, 0))
	require.NoError(t, h.ctrl.SelectOption(3, 3))

	handoff := waitDone(t, h.ctrl)
	assert.Equal(t, ReasonTimeExpired, handoff.Reason)
	assert.Equal(t, 60, handoff.TotalTimeSpent)

	subs := h.api.submitted()
	require.Len(t, subs, 1)
	require.Len(t, subs[0].Responses, 5)
	assert.Equal(t, ReasonTimeExpired, subs[0].Reason)
}

func TestControllerForcedSubmitFailureStillTerminates(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.api.submitErrs = []error{errors.New("timeout")}
	h.start(t)

	require.NoError(t, h.ctrl.ForceSubmit("proctor ended session"))
	handoff := waitDone(t, h.ctrl)

	assert.True(t, handoff.Terminated)
	s := h.ctrl.Session()
	assert.Equal(t, StatusTerminated, s.Status)
	assert.Contains(t, s.LastError, ErrForceSubmitFailed.Error())
}

func TestControllerStopsOnCancel(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.start(t)

	h.cancel()
	select {
	case err := <-h.runErr:
		require.NoError(t, err)
		h.runErr <- err
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}

	assert.True(t, h.stream.isStopped())
	assert.ErrorIs(t, h.ctrl.SelectOption(0, 0), ErrClosed)
	assert.Empty(t, h.api.submitted(), "unmount does not submit")
}

func TestControllerCatalogInstalled(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.start(t)

	require.Eventually(t, func() bool {
		h.env.mu.Lock()
		defer h.env.mu.Unlock()
		return len(h.env.catalog.Prevent) > 0
	}, time.Second, 5*time.Millisecond)

	h.env.mu.Lock()
	catalog := h.env.catalog
	h.env.mu.Unlock()
	assert.Contains(t, catalog.Prevent, SignalPopState)
	assert.Contains(t, catalog.Observe, SignalFullscreenChange)
	assert.NotEmpty(t, catalog.Keys)
}

type resumingAPI struct {
	*fakeAPI
	carry Carryover
}

func (a *resumingAPI) Carryover(context.Context, string) (Carryover, error) { return a.carry, nil }

func TestControllerStartContinuesReopenedAttempt(t *testing.T) {
	api := &resumingAPI{
		fakeAPI: &fakeAPI{paper: testPaper(5, 1)},
		carry:   Carryover{Strikes: 2, Elapsed: 20 * time.Second},
	}
	ctrl := New(testConfig(), Deps{API: api, Env: newFakeEnv(), Media: &fakeMedia{stream: &fakeStream{}}}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	_, err := ctrl.Start(context.Background(), "test-1")
	require.NoError(t, err)
	s := ctrl.Session()
	assert.Equal(t, 2, s.Strikes)
	assert.Equal(t, 40, s.TimeRemaining)

	require.NoError(t, ctrl.Record(Violation{Description: msgTabSwitch, Severity: SeverityHigh}))
	assert.Equal(t, StatusTerminated, ctrl.Session().Status)
	assert.Equal(t, ReasonStrikeThreshold, ctrl.Session().Reason)
	h := waitDone(t, ctrl)
	assert.Equal(t, 3, h.WarningCount)
	assert.Equal(t, 20, h.TotalTimeSpent)
}
