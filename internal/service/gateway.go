package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// Gateway serves the proctor engine's Test API in-process for one candidate.
type Gateway struct {
	tests       *TestService
	attempts    *AttemptService
	proctoring  *ProctoringService
	candidateID int
}

// NewGateway binds the services to a candidate.
func NewGateway(tests *TestService, attempts *AttemptService, proctoring *ProctoringService, candidateID int) *Gateway {
	return &Gateway{
		tests:       tests,
		attempts:    attempts,
		proctoring:  proctoring,
		candidateID: candidateID,
	}
}

var (
	_ proctor.TestAPI        = (*Gateway)(nil)
	_ proctor.AttemptResumer = (*Gateway)(nil)
)

// GetTest returns the paper in the engine's shape.
func (g *Gateway) GetTest(ctx context.Context, testID string) (proctor.TestPaper, error) {
	id, err := uuid.Parse(testID)
	if err != nil {
		return proctor.TestPaper{}, ErrTestNotFound
	}
	paper, err := g.tests.GetPaper(ctx, id)
	if err != nil {
		return proctor.TestPaper{}, err
	}
	return paper.ForSession(), nil
}

// StartTest opens the attempt and returns its id.
func (g *Gateway) StartTest(ctx context.Context, testID string) (string, error) {
	id, err := uuid.Parse(testID)
	if err != nil {
		return "", ErrTestNotFound
	}
	attempt, err := g.attempts.Start(ctx, id, g.candidateID)
	if err != nil {
		return "", err
	}
	return attempt.ID.String(), nil
}

// Carryover reports what a reopened attempt already used.
func (g *Gateway) Carryover(ctx context.Context, attemptID string) (proctor.Carryover, error) {
	id, err := uuid.Parse(attemptID)
	if err != nil {
		return proctor.Carryover{}, ErrAttemptNotFound
	}
	strikes, elapsed, err := g.attempts.Carryover(ctx, id, g.candidateID)
	if err != nil {
		return proctor.Carryover{}, err
	}
	return proctor.Carryover{Strikes: strikes, Elapsed: elapsed}, nil
}

// SaveProgress buffers a progress snapshot.
func (g *Gateway) SaveProgress(ctx context.Context, testID string, p proctor.ProgressPayload) error {
	id, err := uuid.Parse(testID)
	if err != nil {
		return ErrTestNotFound
	}
	responses, err := responseEntries(p.Responses)
	if err != nil {
		return err
	}
	return g.attempts.SaveProgress(ctx, id, g.candidateID, &model.ProgressRequest{
		Responses:            responses,
		CurrentQuestionIndex: p.CurrentQuestionIndex,
		TimeSpent:            p.TimeSpent,
	})
}

// SubmitTest grades and finalizes the attempt.
func (g *Gateway) SubmitTest(ctx context.Context, testID string, p proctor.SubmitPayload) error {
	id, err := uuid.Parse(testID)
	if err != nil {
		return ErrTestNotFound
	}
	responses, err := responseEntries(p.Responses)
	if err != nil {
		return err
	}
	activities := make([]model.ActivityEntry, len(p.SuspiciousActivities))
	for i, ev := range p.SuspiciousActivities {
		activities[i] = activityEntry(proctor.ActivityLog{
			Timestamp:     ev.Timestamp,
			Activity:      ev.Description,
			Severity:      ev.Severity,
			WarningCount:  ev.StrikeNumber,
			QuestionIndex: ev.QuestionIndex,
			TimeLeft:      ev.TimeRemaining,
		})
	}
	_, err = g.attempts.Submit(ctx, id, g.candidateID, &model.SubmitRequest{
		Responses:            responses,
		SuspiciousActivities: activities,
		WarningCount:         p.WarningCount,
		Terminated:           p.Terminated,
		Reason:               p.Reason,
	})
	return err
}

// LogActivity forwards one ledger entry to the audit trail.
func (g *Gateway) LogActivity(ctx context.Context, attemptID string, l proctor.ActivityLog) error {
	id, err := uuid.Parse(attemptID)
	if err != nil {
		return ErrAttemptNotFound
	}
	entry := activityEntry(l)
	return g.proctoring.LogActivity(ctx, id, g.candidateID, &entry)
}

func responseEntries(in []proctor.Response) ([]model.ResponseEntry, error) {
	out := make([]model.ResponseEntry, len(in))
	for i, r := range in {
		qID, err := uuid.Parse(r.QuestionID)
		if err != nil {
			return nil, fmt.Errorf("question %q: %w", r.QuestionID, err)
		}
		out[i] = model.ResponseEntry{QuestionID: qID, SelectedOption: r.SelectedOption, TimeSpent: r.TimeSpent}
	}
	return out, nil
}

func activityEntry(l proctor.ActivityLog) model.ActivityEntry {
	return model.ActivityEntry{
		Timestamp:     l.Timestamp,
		Activity:      l.Activity,
		Severity:      string(l.Severity),
		WarningCount:  l.WarningCount,
		QuestionIndex: l.QuestionIndex,
		TimeLeft:      l.TimeLeft,
	}
}
