package model

import (
	"github.com/google/uuid"
)

// Question represents a single multiple-choice test question.
type Question struct {
	ID            uuid.UUID `json:"id"`
	TestID        uuid.UUID `json:"test_id"`
	Prompt        string    `json:"prompt"`
	Options       []string  `json:"options"`
	CorrectOption int       `json:"correct_option"`
	OrderNum      int       `json:"order_num"`
}
