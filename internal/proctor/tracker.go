package proctor

// decorate turns the paper questions into session questions. The first one starts visited.
func decorate(paper []PaperQuestion) []Question {
	questions := make([]Question, len(paper))
	for i, pq := range paper {
		options := make([]string, len(pq.Options))
		copy(options, pq.Options)
		questions[i] = Question{
			ID:      pq.ID,
			Index:   i,
			Prompt:  pq.Prompt,
			Options: options,
		}
	}
	if len(questions) > 0 {
		questions[0].Visited = true
	}
	return questions
}

func cloneQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	copy(out, qs)
	for i := range out {
		if qs[i].SelectedOption != nil {
			v := *qs[i].SelectedOption
			out[i].SelectedOption = &v
		}
	}
	return out
}

// Snapshot returns one response per question in original order, unanswered ones with a nil option.
func (s Session) Snapshot() []Response {
	out := make([]Response, len(s.Questions))
	for i, q := range s.Questions {
		var sel *int
		if q.SelectedOption != nil {
			v := *q.SelectedOption
			sel = &v
		}
		out[i] = Response{
			QuestionID:     q.ID,
			SelectedOption: sel,
			TimeSpent:      q.TimeSpent,
		}
	}
	return out
}

// Summary counts answered, marked and unanswered questions.
func (s Session) Summary() SubmitSummary {
	var sum SubmitSummary
	for _, q := range s.Questions {
		if q.Answered() {
			sum.Answered++
		} else {
			sum.Unanswered++
		}
		if q.Marked {
			sum.Marked++
		}
	}
	return sum
}

// Elapsed is the number of seconds the session clock has run.
func (s Session) Elapsed() int {
	return s.DurationSeconds - s.TimeRemaining
}

func (s Session) progress() ProgressPayload {
	return ProgressPayload{
		Responses:            s.Snapshot(),
		CurrentQuestionIndex: s.Current,
		TimeSpent:            s.Elapsed(),
	}
}

func (s Session) validQuestion(i int) bool {
	return i >= 0 && i < len(s.Questions)
}
