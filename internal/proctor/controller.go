package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Deps are the collaborators a Controller drives.
type Deps struct {
	API       TestAPI
	Env       Environment
	Media     MediaDevices
	Face      FacePresenceEstimator
	Noise     NoiseLevelEstimator
	Snapshots Snapshotter
	Now       func() time.Time
}

type envelope struct {
	ev    Event
	reply chan result
}

type result struct {
	state  Session
	err    error
	submit <-chan error
}

// Controller owns one proctored session. Every mutation goes through a single loop
// goroutine started by Run; monitors and API callbacks post events into it.
type Controller struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu      sync.RWMutex
	state   Session
	handoff *Handoff

	inbox     chan envelope
	stopped   chan struct{}
	completed chan struct{}
	running   atomic.Bool
	starting  atomic.Bool
	doneOnce  sync.Once

	// Owned by the loop goroutine.
	loopCtx       context.Context
	monitorCancel context.CancelFunc
	monitors      sync.WaitGroup
	background    sync.WaitGroup
}

// New creates a controller. Run must be called before any other method returns.
func New(cfg Config, deps Deps, log zerolog.Logger) *Controller {
	cfg = cfg.withDefaults()
	if deps.Face == nil {
		deps.Face = SkinToneEstimator{Threshold: cfg.SkinRatioThreshold}
	}
	if deps.Noise == nil {
		deps.Noise = NewSpectrumEstimator()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		log:       log.With().Str("component", "proctor").Logger(),
		state:     NewSession(cfg),
		inbox:     make(chan envelope, 64),
		stopped:   make(chan struct{}),
		completed: make(chan struct{}),
		loopCtx:   context.Background(),
	}
}

// Run processes events until ctx is cancelled. Monitors are torn down on exit but a
// running session is not submitted.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	c.loopCtx = ctx
	defer func() {
		c.teardown()
		close(c.stopped)
		c.background.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-c.inbox:
			res := c.apply(env.ev)
			if env.reply != nil {
				env.reply <- res
			}
		}
	}
}

// Session returns the current state.
func (c *Controller) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns the answer snapshot at call time.
func (c *Controller) Snapshot() []Response {
	return c.Session().Snapshot()
}

// Done is closed once the session has been handed off to the results view.
func (c *Controller) Done() <-chan struct{} { return c.completed }

// Handoff returns the results view data after Done is closed.
func (c *Controller) Handoff() (Handoff, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.handoff == nil {
		return Handoff{}, false
	}
	return *c.handoff, true
}

// ShowInstructions moves a fresh session to the instructions screen.
func (c *Controller) ShowInstructions() error {
	return c.dispatch(ShowInstructions{}).err
}

// Start fetches the paper, opens an attempt and moves the session to Running.
func (c *Controller) Start(ctx context.Context, testID string) (string, error) {
	if !c.starting.CompareAndSwap(false, true) {
		return "", fmt.Errorf("start already in progress: %w", ErrInvalidTransition)
	}
	defer c.starting.Store(false)

	if s := c.Session(); s.Status != StatusNotStarted && s.Status != StatusShowingInstructions {
		return "", invalid(s, "start")
	}

	paper, err := c.deps.API.GetTest(ctx, testID)
	var attemptID string
	if err == nil {
		attemptID, err = c.deps.API.StartTest(ctx, testID)
	}
	if err != nil {
		c.dispatch(StartFailed{Err: err})
		c.log.Error().Err(err).Str("test_id", testID).Msg("Failed to start test")
		return "", fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	if paper.ID == "" {
		paper.ID = testID
	}

	var carry Carryover
	if r, ok := c.deps.API.(AttemptResumer); ok {
		if carry, err = r.Carryover(ctx, attemptID); err != nil {
			c.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Attempt carryover unavailable")
			carry = Carryover{}
		}
	}

	res := c.dispatch(StartSucceeded{TestID: testID, AttemptID: attemptID, Paper: paper, At: c.deps.Now(), Carryover: carry})
	if res.err != nil {
		return "", res.err
	}
	c.log.Info().
		Str("test_id", testID).
		Str("attempt_id", attemptID).
		Int("questions", len(paper.Questions)).
		Int("duration_seconds", res.state.DurationSeconds).
		Int("time_remaining", res.state.TimeRemaining).
		Int("strikes", res.state.Strikes).
		Msg("Session started")
	return attemptID, nil
}

// SelectOption answers question q with option opt and saves progress in the background.
func (c *Controller) SelectOption(q, opt int) error {
	return c.dispatch(SelectOption{Question: q, Option: opt}).err
}

// ToggleMark flips the review mark of question q.
func (c *Controller) ToggleMark(q int) error {
	return c.dispatch(ToggleMark{Question: q}).err
}

// Navigate makes question q current.
func (c *Controller) Navigate(q int) error {
	return c.dispatch(NavigateTo{Question: q}).err
}

// RequestSubmit opens the confirmation and returns the answer summary.
func (c *Controller) RequestSubmit() (SubmitSummary, error) {
	res := c.dispatch(RequestSubmit{})
	if res.err != nil {
		return SubmitSummary{}, res.err
	}
	return res.state.Summary(), nil
}

// CancelSubmit returns to the running session.
func (c *Controller) CancelSubmit() error {
	return c.dispatch(CancelSubmit{}).err
}

// ConfirmSubmit delivers the manual submission and waits for the outcome.
// On ErrSubmitFailed the session stays in ConfirmingSubmit and may be retried.
func (c *Controller) ConfirmSubmit(ctx context.Context) error {
	res := c.dispatch(ConfirmSubmit{})
	if res.err != nil {
		return res.err
	}
	if res.submit == nil {
		return nil
	}
	select {
	case err := <-res.submit:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceSubmit terminates a running session, including one waiting on the submit
// confirmation. It is a no-op once a submission is in flight or done.
func (c *Controller) ForceSubmit(reason string) error {
	return c.dispatch(ForceSubmit{Reason: reason}).err
}

// Record reports a violation from an external source.
func (c *Controller) Record(v Violation) error {
	return c.dispatch(Record{Violation: v, At: c.deps.Now()}).err
}

func (c *Controller) dispatch(ev Event) result {
	reply := make(chan result, 1)
	select {
	case c.inbox <- envelope{ev: ev, reply: reply}:
	case <-c.stopped:
		return result{err: ErrClosed}
	}
	select {
	case res := <-reply:
		return res
	case <-c.stopped:
		select {
		case res := <-reply:
			return res
		default:
			return result{err: ErrClosed}
		}
	}
}

// post queues ev without waiting. It gives up when ctx is done or the loop exited.
func (c *Controller) post(ctx context.Context, ev Event) bool {
	select {
	case c.inbox <- envelope{ev: ev}:
		return true
	case <-ctx.Done():
	case <-c.stopped:
	}
	return false
}

func (c *Controller) emit(ctx context.Context, v Violation) {
	c.post(ctx, Record{Violation: v, At: c.deps.Now()})
}

// apply runs on the loop goroutine only.
func (c *Controller) apply(ev Event) result {
	cur := c.state
	next, effects, err := Reduce(cur, ev)
	if err != nil {
		return result{state: cur, err: err}
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	if next.Status != cur.Status {
		c.log.Info().
			Str("attempt_id", next.AttemptID).
			Str("from", string(cur.Status)).
			Str("to", string(next.Status)).
			Int("strikes", next.Strikes).
			Str("reason", next.Reason).
			Msg("Session status changed")
	}

	res := result{}
	for _, eff := range effects {
		if ch := c.run(eff); ch != nil {
			res.submit = ch
		}
	}
	res.state = c.Session()
	return res
}

func (c *Controller) run(eff Effect) <-chan error {
	switch e := eff.(type) {
	case Activate:
		c.activate()

	case PersistProgress:
		testID := c.state.TestID
		c.goBackground(func(ctx context.Context) {
			if err := c.deps.API.SaveProgress(ctx, testID, e.Payload); err != nil {
				c.log.Warn().Err(err).Str("test_id", testID).Msg("Progress save failed")
			}
		})

	case ForwardAudit:
		c.goBackground(func(ctx context.Context) {
			if err := c.deps.API.LogActivity(ctx, e.AttemptID, e.Log); err != nil {
				c.log.Debug().Err(err).Str("attempt_id", e.AttemptID).Msg("Audit log failed")
			}
		})

	case ShowWarning:
		c.log.Warn().
			Str("attempt_id", c.state.AttemptID).
			Int("strikes", c.state.Strikes).
			Msg(e.Message)
		if err := c.deps.Env.ShowWarning(e.Message, c.cfg.WarningDuration); err != nil {
			c.log.Debug().Err(err).Msg("Warning banner failed")
		}

	case SubmitAttempt:
		return c.submit(c.state.TestID, e)

	case Teardown:
		c.teardown()

	case Complete:
		c.complete(e.Handoff)
	}
	return nil
}

func (c *Controller) submit(testID string, e SubmitAttempt) <-chan error {
	done := make(chan error, 1)
	c.goBackground(func(ctx context.Context) {
		err := c.deps.API.SubmitTest(ctx, testID, e.Payload)
		if err != nil {
			if e.Forced {
				err = fmt.Errorf("%w: %w", ErrForceSubmitFailed, err)
				c.log.Error().Err(err).Str("test_id", testID).Msg("Forced submission lost")
			} else {
				err = fmt.Errorf("%w: %w", ErrSubmitFailed, err)
				c.log.Warn().Err(err).Str("test_id", testID).Msg("Submission failed")
			}
		}
		// The outcome is reported only after the loop applied it, so callers of
		// ConfirmSubmit read the settled state.
		c.dispatch(SubmitCompleted{Forced: e.Forced, Err: err})
		done <- err
	})
	if e.Forced {
		return nil
	}
	return done
}

func (c *Controller) goBackground(fn func(ctx context.Context)) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.APITimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Controller) activate() {
	if err := c.deps.Env.RequestFullscreen(); err != nil {
		c.log.Warn().Err(err).Msg("Full-screen request denied")
		c.apply(Record{
			Violation: Violation{Description: msgFullscreenFailed, Severity: SeverityHigh},
			At:        c.deps.Now(),
		})
		if c.state.Status != StatusRunning {
			return
		}
	}

	ctx, cancel := context.WithCancel(c.loopCtx)
	c.monitorCancel = cancel
	c.spawn(ctx, c.runClock)
	c.spawn(ctx, c.runSignals)
	c.spawn(ctx, c.runBiometrics)
}

func (c *Controller) spawn(ctx context.Context, fn func(ctx context.Context)) {
	c.monitors.Add(1)
	go func() {
		defer c.monitors.Done()
		fn(ctx)
	}()
}

// teardown detaches every monitor and leaves full-screen. Safe to call twice.
func (c *Controller) teardown() {
	if c.monitorCancel == nil {
		return
	}
	c.monitorCancel()
	c.monitors.Wait()
	c.monitorCancel = nil
	if err := c.deps.Env.ExitFullscreen(); err != nil {
		c.log.Debug().Err(err).Msg("Exit full-screen failed")
	}
	c.log.Debug().Str("attempt_id", c.state.AttemptID).Msg("Monitors detached")
}

func (c *Controller) complete(h Handoff) {
	c.mu.Lock()
	c.handoff = &h
	c.mu.Unlock()
	if err := c.deps.Env.Navigate(h); err != nil {
		c.log.Warn().Err(err).Msg("Results handoff failed")
	}
	c.doneOnce.Do(func() { close(c.completed) })
	c.log.Info().
		Str("attempt_id", h.AttemptID).
		Bool("terminated", h.Terminated).
		Int("warning_count", h.WarningCount).
		Int("time_spent", h.TotalTimeSpent).
		Msg("Session handed off")
}

func (c *Controller) runClock(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.post(ctx, Tick{}) {
				return
			}
		}
	}
}
