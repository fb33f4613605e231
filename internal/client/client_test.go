package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, errBody map[string]string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := map[string]any{"data": data, "metadata": map[string]string{"request_id": "test"}}
	if errBody != nil {
		body["error"] = errBody
	}
	_ = json.NewEncoder(w).Encode(body)
}

func TestClientSessionCalls(t *testing.T) {
	testID := uuid.New()
	questionID := uuid.New()
	attemptID := uuid.New()

	var gotAuth atomic.Value
	var progress proctor.ProgressPayload
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"token": "tok-1", "candidate": map[string]any{"id": 3}}, nil)
	})
	mux.HandleFunc("GET /api/v1/tests/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, map[string]any{
			"id":       testID,
			"examId":   "cat",
			"title":    "Logical Reasoning Sprint",
			"duration": 15,
			"questions": []map[string]any{
				{"_id": questionID, "question": "Which comes next?", "options": []string{"1", "2", "3", "4"}},
			},
		}, nil)
	})
	mux.HandleFunc("POST /api/v1/tests/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"attemptId": attemptID}, nil)
	})
	mux.HandleFunc("PUT /api/v1/tests/{id}/progress", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&progress)
		writeEnvelope(w, http.StatusOK, map[string]string{"status": "saved"}, nil)
	})
	mux.HandleFunc("POST /api/v1/tests/{id}/submit", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, nil, map[string]string{"code": "ATTEMPT_FINISHED", "message": "This attempt has already been submitted."})
	})
	mux.HandleFunc("POST /api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]string{}, nil)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/api/v1", Timeout: 2 * time.Second, Log: zerolog.Nop()})
	ctx := context.Background()

	login, err := c.Login(ctx, "asha@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", login.Token)
	assert.Equal(t, "tok-1", c.Tokens().Token())

	paper, err := c.GetTest(ctx, testID.String())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth.Load())
	assert.Equal(t, 15, paper.DurationMinutes)
	require.Len(t, paper.Questions, 1)
	assert.Equal(t, questionID.String(), paper.Questions[0].ID)
	assert.Equal(t, "Which comes next?", paper.Questions[0].Prompt)

	id, err := c.StartTest(ctx, testID.String())
	require.NoError(t, err)
	assert.Equal(t, attemptID.String(), id)

	two := 2
	require.NoError(t, c.SaveProgress(ctx, testID.String(), proctor.ProgressPayload{
		Responses: []proctor.Response{{QuestionID: questionID.String(), SelectedOption: &two, TimeSpent: 9}},
		TimeSpent: 9,
	}))
	require.Len(t, progress.Responses, 1)
	assert.Equal(t, 2, *progress.Responses[0].SelectedOption)

	err = c.SubmitTest(ctx, testID.String(), proctor.SubmitPayload{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "ATTEMPT_FINISHED", apiErr.Code)

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.Tokens().Token())
}

func TestClientUnauthorizedClearsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, map[string]string{"code": "TOKEN_INVALID", "message": "The authentication token is invalid."})
	}))
	defer srv.Close()

	var hooked atomic.Int32
	tokens := &MemoryTokenStore{}
	tokens.SetToken("expired")
	c := New(Options{
		BaseURL:        srv.URL,
		Tokens:         tokens,
		OnUnauthorized: func() { hooked.Add(1) },
		Log:            zerolog.Nop(),
	})

	err := c.LogActivity(context.Background(), uuid.NewString(), proctor.ActivityLog{Activity: "Copy attempted"})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, tokens.Token())
	assert.EqualValues(t, 1, hooked.Load())
}
