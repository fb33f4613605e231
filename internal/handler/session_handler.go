package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const (
	statePushInterval = time.Second
	// handoffGrace lets the shell render the final state before the socket closes.
	handoffGrace = 2 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionHandler runs one proctored session per WebSocket connection.
type SessionHandler struct {
	tests      *service.TestService
	attempts   *service.AttemptService
	proctoring *service.ProctoringService
	policy     proctor.Config
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	active     atomic.Int64

	base     context.Context
	closeAll context.CancelFunc
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	tests *service.TestService,
	attempts *service.AttemptService,
	proctoring *service.ProctoringService,
	policy proctor.Config,
	log zerolog.Logger,
	allowedOrigins []string,
) *SessionHandler {
	base, closeAll := context.WithCancel(context.Background())
	return &SessionHandler{
		base:       base,
		closeAll:   closeAll,
		tests:      tests,
		attempts:   attempts,
		proctoring: proctoring,
		policy:     policy,
		log:        log.With().Str("component", "session_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// CloseSessions ends every open session. Hijacked connections are not
// closed by http.Server.Shutdown.
func (h *SessionHandler) CloseSessions() {
	h.closeAll()
}

// ActiveSessions returns the number of open session connections.
func (h *SessionHandler) ActiveSessions() int64 {
	return h.active.Load()
}

// Session godoc
// WS /ws/v1/tests/:id/session
// Upgrades to WebSocket and drives a proctored session for the candidate.
func (h *SessionHandler) Session(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	h.active.Add(1)
	defer h.active.Add(-1)

	candidateID := claims.CandidateID
	sessLog := h.log.With().
		Int("candidate_id", candidateID).
		Str("test_id", testID.String()).
		Str("conn_id", uuid.NewString()).
		Logger()

	ctx, cancel := context.WithCancel(h.base)
	defer cancel()

	bridge := ws.NewBridge(conn, func(now time.Time) (time.Time, error) {
		hbCtx, hbCancel := context.WithTimeout(ctx, 2*time.Second)
		defer hbCancel()
		return h.proctoring.SwapHeartbeat(hbCtx, testID.String(), candidateID, now)
	}, sessLog)

	ctrl := proctor.New(h.policy, proctor.Deps{
		API:       service.NewGateway(h.tests, h.attempts, h.proctoring, candidateID),
		Env:       bridge,
		Media:     bridge,
		Snapshots: h.proctoring,
	}, sessLog)

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		ctrl.Run(ctx)
	}()
	go func() {
		if err := bridge.Run(ctx); err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			sessLog.Warn().Err(err).Msg("Unexpected close")
		}
	}()

	sessLog.Info().Msg("Candidate connected")
	s := &sessionConn{ctrl: ctrl, conn: conn, testID: testID.String(), log: sessLog}
	s.serve(ctx, bridge)

	cancel()
	<-ctrlDone

	if st := ctrl.Session(); st.Status == proctor.StatusRunning || st.Status == proctor.StatusConfirmingSubmit {
		sessLog.Warn().Str("attempt_id", st.AttemptID).Msg("Connection lost during a running session, progress kept")
	} else {
		sessLog.Info().Str("status", string(st.Status)).Msg("Candidate disconnected")
	}
}

// sessionConn relays candidate controls into the controller and pushes state back.
type sessionConn struct {
	ctrl   *proctor.Controller
	conn   *ws.Conn
	testID string
	log    zerolog.Logger

	last proctor.Status
}

func (s *sessionConn) serve(ctx context.Context, bridge *ws.Bridge) {
	ticker := time.NewTicker(statePushInterval)
	defer ticker.Stop()

	s.push(true)
	for {
		select {
		case ctl, ok := <-bridge.Controls():
			if !ok {
				return
			}
			s.dispatch(ctx, ctl)
			s.push(true)

		case <-ticker.C:
			s.push(false)

		case <-s.ctrl.Done():
			s.push(true)
			select {
			case <-time.After(handoffGrace):
			case <-bridge.Closed():
			}
			return

		case <-bridge.Closed():
			return
		}
	}
}

func (s *sessionConn) dispatch(ctx context.Context, ctl ws.ControlRequest) {
	var err error
	switch ctl.Action {
	case ws.ActionShowInstructions:
		err = s.ctrl.ShowInstructions()

	case ws.ActionStart:
		var attemptID string
		attemptID, err = s.ctrl.Start(ctx, s.testID)
		if err == nil {
			s.conn.WriteTyped(ws.StartedResponse{Event: ws.EventStarted, AttemptID: attemptID})
		}

	case ws.ActionSelectOption:
		err = s.ctrl.SelectOption(ctl.Question, ctl.Option)

	case ws.ActionToggleMark:
		err = s.ctrl.ToggleMark(ctl.Question)

	case ws.ActionNavigate:
		err = s.ctrl.Navigate(ctl.Question)

	case ws.ActionRequestSubmit:
		var summary proctor.SubmitSummary
		summary, err = s.ctrl.RequestSubmit()
		if err == nil {
			s.conn.WriteTyped(ws.SubmitSummaryResponse{Event: ws.EventSubmitSummary, Summary: summary})
		}

	case ws.ActionCancelSubmit:
		err = s.ctrl.CancelSubmit()

	case ws.ActionConfirmSubmit:
		err = s.ctrl.ConfirmSubmit(ctx)
	}

	if err != nil {
		s.log.Debug().Err(err).Str("action", string(ctl.Action)).Msg("Control rejected")
		s.conn.WriteError(controlError(err))
	}
}

// push sends the session state. Without force it is only sent while the clock runs
// or when the status changed.
func (s *sessionConn) push(force bool) {
	st := s.ctrl.Session()
	if !force && st.Status == s.last && st.Status != proctor.StatusRunning && st.Status != proctor.StatusConfirmingSubmit {
		return
	}
	s.last = st.Status
	if err := s.conn.WriteTyped(ws.NewStateResponse(st)); err != nil {
		s.log.Debug().Err(err).Msg("State push failed")
	}
}

func controlError(err error) string {
	switch {
	case errors.Is(err, service.ErrTestNotFound):
		return response.GetMessage(response.ErrTestNotFound)
	case errors.Is(err, service.ErrNoQuestions):
		return response.GetMessage(response.ErrNoQuestions)
	case errors.Is(err, service.ErrAttemptFinished):
		return response.GetMessage(response.ErrAttemptFinished)
	case errors.Is(err, proctor.ErrStartFailed):
		return "Unable to start the test. Please try again."
	case errors.Is(err, proctor.ErrSubmitFailed):
		return "Submission failed. Please try again."
	default:
		return err.Error()
	}
}
