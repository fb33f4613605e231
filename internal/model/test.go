package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// TestStatus enumerates the possible states of a test.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "DRAFT"
	TestStatusPublished TestStatus = "PUBLISHED"
	TestStatusArchived  TestStatus = "ARCHIVED"
)

// Test represents a mock test belonging to an exam catalog entry.
type Test struct {
	ID              uuid.UUID  `json:"id"`
	ExamID          string     `json:"exam_id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          TestStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TestPaper is the Redis-cached payload sent to candidates (no correct answers).
type TestPaper struct {
	ID        uuid.UUID       `json:"id"`
	ExamID    string          `json:"examId"`
	Title     string          `json:"title"`
	Duration  int             `json:"duration"`
	Questions []PaperQuestion `json:"questions"`
}

// PaperQuestion is a question without the correct answer.
type PaperQuestion struct {
	ID       uuid.UUID `json:"_id"`
	Question string    `json:"question"`
	Options  []string  `json:"options"`
}

// ForSession converts the paper into the shape a proctored session consumes.
func (p *TestPaper) ForSession() proctor.TestPaper {
	out := proctor.TestPaper{
		ID:              p.ID.String(),
		ExamID:          p.ExamID,
		Title:           p.Title,
		DurationMinutes: p.Duration,
		Questions:       make([]proctor.PaperQuestion, len(p.Questions)),
	}
	for i, q := range p.Questions {
		out.Questions[i] = proctor.PaperQuestion{ID: q.ID.String(), Prompt: q.Question, Options: q.Options}
	}
	return out
}
