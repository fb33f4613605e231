package replay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// Report is the outcome of a replay.
type Report struct {
	Scenario   string
	AttemptID  string
	Status     proctor.Status
	Strikes    int
	Violations []proctor.ViolationEvent
	Commands   Commands
	// StepsRun counts the steps executed before the session ended.
	StepsRun   int
	Mismatches []string
}

// Passed reports whether every expectation held.
func (r *Report) Passed() bool { return len(r.Mismatches) == 0 }

// Run plays sc against api and checks its expectations.
func Run(ctx context.Context, sc *Scenario, api proctor.TestAPI, log zerolog.Logger) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.Timeout)
	defer cancel()

	log = log.With().Str("component", "replay").Str("scenario", sc.Name).Logger()
	env := NewEnvironment(sc.Device)
	ctrl := proctor.New(sc.Policy.Config(proctor.DefaultConfig()), proctor.Deps{
		API:   api,
		Env:   env,
		Media: env,
		Face:  env,
		Noise: env,
	}, log)

	runCtx, stop := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = ctrl.Run(runCtx)
	}()
	defer func() {
		stop()
		<-stopped
	}()

	if err := ctrl.ShowInstructions(); err != nil {
		return nil, err
	}
	attemptID, err := ctrl.Start(ctx, sc.TestID)
	if err != nil {
		return nil, fmt.Errorf("start test %s: %w", sc.TestID, err)
	}
	log.Info().Str("attempt_id", attemptID).Int("steps", len(sc.Steps)).Msg("Session started")

	report := &Report{Scenario: sc.Name, AttemptID: attemptID}
	submitted := false

steps:
	for i, st := range sc.Steps {
		select {
		case <-ctrl.Done():
			log.Info().Int("step", i+1).Msg("Session ended before the remaining steps")
			break steps
		default:
		}

		kind, _ := st.kind()
		if err := apply(ctx, ctrl, env, st); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("step %d (%s): %w", i+1, kind, err)
			}
			log.Warn().Err(err).Int("step", i+1).Str("action", kind).Msg("Step rejected")
		}
		if kind == "submit" || kind == "force" {
			submitted = true
		}
		report.StepsRun++
	}

	if submitted || ctrl.Session().Status.Terminal() {
		select {
		case <-ctrl.Done():
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for submission: %w", ctx.Err())
		}
	}

	st := ctrl.Session()
	report.Status = st.Status
	report.Strikes = st.Strikes
	report.Violations = st.Ledger.Events()
	report.Commands = env.Snapshot()
	report.Mismatches = check(sc.Expect, report)

	log.Info().
		Str("status", string(report.Status)).
		Int("strikes", report.Strikes).
		Int("violations", len(report.Violations)).
		Bool("passed", report.Passed()).
		Msg("Replay finished")
	return report, nil
}

func apply(ctx context.Context, ctrl *proctor.Controller, env *Environment, st Step) error {
	switch {
	case st.Wait > 0:
		select {
		case <-time.After(st.Wait):
			return nil
		case <-ctrl.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case st.Signal != nil:
		return env.Emit(ctx, *st.Signal)
	case st.Key != "":
		return env.Emit(ctx, ParseKey(st.Key))
	case st.Hidden != nil:
		return env.Emit(ctx, proctor.Signal{Kind: proctor.SignalVisibility, Hidden: *st.Hidden})
	case st.Fullscreen != nil:
		return env.SetFullscreen(ctx, *st.Fullscreen)
	case st.Face != nil:
		env.SetFace(*st.Face)
	case st.Noise != nil:
		env.SetNoise(*st.Noise)
	case st.Devtools != nil:
		env.SetDevtools(*st.Devtools)
	case st.Select != nil:
		return ctrl.SelectOption(st.Select.Question, st.Select.Option)
	case st.Mark != nil:
		return ctrl.ToggleMark(*st.Mark)
	case st.Goto != nil:
		return ctrl.Navigate(*st.Goto)
	case st.Submit:
		if _, err := ctrl.RequestSubmit(); err != nil {
			return err
		}
		return ctrl.ConfirmSubmit(ctx)
	case st.Force != "":
		return ctrl.ForceSubmit(st.Force)
	}
	return nil
}

func check(exp Expect, r *Report) []string {
	var out []string
	if exp.Status != "" && exp.Status != r.Status {
		out = append(out, fmt.Sprintf("status: want %s, got %s", exp.Status, r.Status))
	}
	if exp.Strikes != nil && *exp.Strikes != r.Strikes {
		out = append(out, fmt.Sprintf("strikes: want %d, got %d", *exp.Strikes, r.Strikes))
	}
	if len(r.Violations) < exp.MinViolations {
		out = append(out, fmt.Sprintf("violations: want at least %d, got %d", exp.MinViolations, len(r.Violations)))
	}
	for _, want := range exp.Activities {
		found := slices.ContainsFunc(r.Violations, func(v proctor.ViolationEvent) bool {
			return v.Description == want
		})
		if !found {
			out = append(out, fmt.Sprintf("activity %q was not recorded", want))
		}
	}
	return out
}
