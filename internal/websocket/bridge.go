package websocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ErrBridgeClosed is returned once the browser connection is gone.
var ErrBridgeClosed = errors.New("bridge closed")

// HeartbeatFunc swaps the tab heartbeat slot and returns the previous value.
type HeartbeatFunc func(now time.Time) (time.Time, error)

// Bridge is the browser environment of one proctored session. The shell on the other
// end executes commands and reports DOM events, media and window metrics.
// Commands are fire-and-forget: a refused full-screen request comes back as a
// fullscreenerror signal.
type Bridge struct {
	conn      *Conn
	log       zerolog.Logger
	heartbeat HeartbeatFunc

	seq      atomic.Int64
	controls chan ControlRequest
	closed   chan struct{}
	once     sync.Once

	mu          sync.Mutex
	fullscreen  *bool
	metrics     *proctor.WindowMetrics
	fingerprint *proctor.Fingerprint
	fpWaiters   []chan proctor.Fingerprint
	listeners   map[int64]chan proctor.Signal
	media       *mediaStream
	mediaWait   chan error
}

// NewBridge wraps an upgraded connection. heartbeat may be nil.
func NewBridge(conn *Conn, heartbeat HeartbeatFunc, log zerolog.Logger) *Bridge {
	return &Bridge{
		conn:      conn,
		log:       log.With().Str("component", "ws_bridge").Logger(),
		heartbeat: heartbeat,
		controls:  make(chan ControlRequest, 16),
		closed:    make(chan struct{}),
		listeners: make(map[int64]chan proctor.Signal),
	}
}

// Controls streams candidate actions. It is closed when Run returns.
func (b *Bridge) Controls() <-chan ControlRequest { return b.controls }

// Closed is closed when Run returns.
func (b *Bridge) Closed() <-chan struct{} { return b.closed }

// Conn returns the underlying writer for events outside the environment contract.
func (b *Bridge) Conn() *Conn { return b.conn }

// Run reads client messages until the connection fails or ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.shutdown()

	go func() {
		select {
		case <-ctx.Done():
			b.conn.WriteClose(websocket.CloseNormalClosure, "session ended")
			b.conn.Close()
		case <-b.closed:
		}
	}()

	for {
		data, err := ReadMessage(b.conn.Conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var env RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.conn.WriteError("invalid message")
			continue
		}
		if err := b.handle(ctx, env.Action, data); err != nil {
			b.log.Debug().Err(err).Str("action", string(env.Action)).Msg("Rejected client message")
			b.conn.WriteError(err.Error())
		}
	}
}

func (b *Bridge) handle(ctx context.Context, action Action, data []byte) error {
	if action.IsControl() {
		var req ControlRequest
		if err := decode(data, &req); err != nil {
			return fmt.Errorf("invalid %s payload: %w", action, err)
		}
		select {
		case b.controls <- req:
		case <-ctx.Done():
		}
		return nil
	}

	switch action {
	case ActionSignal:
		var req SignalRequest
		if err := decode(data, &req); err != nil {
			return fmt.Errorf("invalid signal payload: %w", err)
		}
		b.deliver(req.Signal)

	case ActionFullscreen:
		var req FullscreenRequest
		if err := decode(data, &req); err != nil {
			return fmt.Errorf("invalid fullscreen payload: %w", err)
		}
		b.setFullscreen(req.Active)

	case ActionMetrics:
		var req MetricsRequest
		if err := decode(data, &req); err != nil {
			return fmt.Errorf("invalid metrics payload: %w", err)
		}
		b.mu.Lock()
		b.metrics = &req.Metrics
		b.mu.Unlock()

	case ActionFingerprint:
		var req FingerprintRequest
		if err := decode(data, &req); err != nil {
			return fmt.Errorf("invalid fingerprint payload: %w", err)
		}
		b.mu.Lock()
		b.fingerprint = &req.Fingerprint
		waiters := b.fpWaiters
		b.fpWaiters = nil
		b.mu.Unlock()
		for _, w := range waiters {
			w <- req.Fingerprint
		}

	case ActionFrame:
		var req FrameRequest
		if err := decode(data, &req); err != nil {
			return fmt.Errorf("invalid frame payload: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return errors.New("frame is not base64")
		}
		if s := b.stream(); s != nil {
			s.setFrame(raw)
		}

	case ActionAudio:
		var req AudioRequest
		if err := decode(data, &req); err != nil {
			return fmt.Errorf("invalid audio payload: %w", err)
		}
		if s := b.stream(); s != nil {
			s.setAudio(req.Samples)
		}

	case ActionMediaReady:
		b.resolveMedia(nil)

	case ActionMediaError:
		var req MediaErrorRequest
		_ = json.Unmarshal(data, &req)
		if req.Error == "" {
			req.Error = "media devices unavailable"
		}
		b.resolveMedia(errors.New(req.Error))

	case ActionPing:
		b.conn.WriteTyped(PongResponse{Event: EventPong, At: time.Now()})

	default:
		return fmt.Errorf("unknown action: %s", action)
	}
	return nil
}

// decode parses a client message and checks its binding tags.
func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.New("malformed json")
	}
	fields := validator.Struct(dst)
	if len(fields) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		msgs = append(msgs, fields[k])
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ─── proctor.Environment ────────────────────────────────────────────

// IsFullscreen returns the last reported state. Until the shell reports one, and
// while a request is pending, the viewport counts as full-screen.
func (b *Bridge) IsFullscreen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fullscreen == nil || *b.fullscreen
}

func (b *Bridge) RequestFullscreen() error {
	b.mu.Lock()
	b.fullscreen = nil
	b.mu.Unlock()
	return b.send(CommandRequestFullscreen, nil)
}

func (b *Bridge) ExitFullscreen() error {
	return b.send(CommandExitFullscreen, nil)
}

func (b *Bridge) PushHistory() error {
	return b.send(CommandPushHistory, nil)
}

// Listen installs the catalog in the shell. The returned channel is closed when ctx
// is done or the connection drops. Signals are dropped while the channel is full.
func (b *Bridge) Listen(ctx context.Context, catalog proctor.Catalog) (<-chan proctor.Signal, error) {
	id := b.seq.Add(1)
	ch := make(chan proctor.Signal, 64)

	b.mu.Lock()
	select {
	case <-b.closed:
		b.mu.Unlock()
		return nil, ErrBridgeClosed
	default:
	}
	b.listeners[id] = ch
	b.mu.Unlock()

	if err := b.send(CommandListen, catalog); err != nil {
		b.unlisten(id)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			if b.unlisten(id) {
				b.send(CommandUnlisten, nil)
			}
		case <-b.closed:
		}
	}()
	return ch, nil
}

// Fingerprint asks the shell for its runtime description and waits for the answer.
func (b *Bridge) Fingerprint(ctx context.Context) (proctor.Fingerprint, error) {
	b.mu.Lock()
	if b.fingerprint != nil {
		fp := *b.fingerprint
		b.mu.Unlock()
		return fp, nil
	}
	w := make(chan proctor.Fingerprint, 1)
	b.fpWaiters = append(b.fpWaiters, w)
	b.mu.Unlock()

	if err := b.send(CommandFingerprint, nil); err != nil {
		return proctor.Fingerprint{}, err
	}
	select {
	case fp := <-w:
		return fp, nil
	case <-ctx.Done():
		return proctor.Fingerprint{}, ctx.Err()
	case <-b.closed:
		return proctor.Fingerprint{}, ErrBridgeClosed
	}
}

func (b *Bridge) WindowMetrics() (proctor.WindowMetrics, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.metrics == nil {
		return proctor.WindowMetrics{}, false
	}
	return *b.metrics, true
}

func (b *Bridge) Heartbeat(now time.Time) (time.Time, error) {
	if b.heartbeat == nil {
		return time.Time{}, nil
	}
	return b.heartbeat(now)
}

func (b *Bridge) ShowWarning(message string, d time.Duration) error {
	return b.send(CommandShowWarning, WarningPayload{Message: message, DurationMs: d.Milliseconds()})
}

func (b *Bridge) Navigate(h proctor.Handoff) error {
	return b.send(CommandNavigate, h)
}

// ─── proctor.MediaDevices ───────────────────────────────────────────

// Open requests camera and microphone and waits for the shell to grant or refuse them.
func (b *Bridge) Open(ctx context.Context, c proctor.MediaConstraints) (proctor.MediaStream, error) {
	wait := make(chan error, 1)
	b.mu.Lock()
	if b.mediaWait != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: media request already pending", proctor.ErrProctoringSetup)
	}
	b.mediaWait = wait
	b.mu.Unlock()

	if err := b.send(CommandMediaRequest, c); err != nil {
		b.resolveMedia(err)
	}

	select {
	case err := <-wait:
		if err != nil {
			return nil, fmt.Errorf("%w: %v", proctor.ErrProctoringSetup, err)
		}
	case <-ctx.Done():
		b.resolveMedia(ctx.Err())
		return nil, ctx.Err()
	case <-b.closed:
		return nil, fmt.Errorf("%w: %v", proctor.ErrProctoringSetup, ErrBridgeClosed)
	}

	s := &mediaStream{bridge: b, now: time.Now}
	b.mu.Lock()
	b.media = s
	b.mu.Unlock()
	return s, nil
}

func (b *Bridge) resolveMedia(err error) {
	b.mu.Lock()
	wait := b.mediaWait
	b.mediaWait = nil
	b.mu.Unlock()
	if wait != nil {
		wait <- err
	}
}

func (b *Bridge) stream() *mediaStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.media
}

// ─── Internals ──────────────────────────────────────────────────────

func (b *Bridge) send(cmd Command, payload any) error {
	select {
	case <-b.closed:
		return ErrBridgeClosed
	default:
	}
	return b.conn.WriteTyped(CommandResponse{
		Event:   EventCommand,
		ID:      b.seq.Add(1),
		Command: cmd,
		Payload: payload,
	})
}

func (b *Bridge) deliver(sig proctor.Signal) {
	if sig.At.IsZero() {
		sig.At = time.Now()
	}
	switch sig.Kind {
	case proctor.SignalFullscreenChange:
		b.setFullscreen(sig.Fullscreen)
	case proctor.SignalFullscreenError:
		b.setFullscreen(false)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.listeners {
		select {
		case ch <- sig:
		default:
			b.log.Debug().Int64("listener", id).Str("kind", string(sig.Kind)).Msg("Signal dropped")
		}
	}
}

func (b *Bridge) setFullscreen(active bool) {
	b.mu.Lock()
	b.fullscreen = &active
	b.mu.Unlock()
}

func (b *Bridge) unlisten(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.listeners[id]
	if !ok {
		return false
	}
	delete(b.listeners, id)
	close(ch)
	return true
}

func (b *Bridge) shutdown() {
	b.once.Do(func() {
		b.mu.Lock()
		close(b.closed)
		for id, ch := range b.listeners {
			delete(b.listeners, id)
			close(ch)
		}
		b.mu.Unlock()
		close(b.controls)
	})
}

// audioStaleAfter is how long an audio window stays current. A shell that stops
// reporting audio reads as silence from then on.
const audioStaleAfter = 3 * time.Second

// mediaStream holds the latest frame and audio window reported by the shell.
type mediaStream struct {
	bridge *Bridge
	now    func() time.Time

	mu      sync.Mutex
	raw     []byte
	decoded image.Image
	samples []float64
	heard   time.Time
	stopped bool
}

func (s *mediaStream) setFrame(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.raw = raw
	s.decoded = nil
}

func (s *mediaStream) setAudio(samples []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.samples = samples
	s.heard = s.now()
}

// Frame decodes the latest JPEG lazily; frames arrive faster than they are sampled.
func (s *mediaStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decoded != nil {
		return s.decoded, true
	}
	if len(s.raw) == 0 {
		return nil, false
	}
	img, err := jpeg.Decode(bytes.NewReader(s.raw))
	if err != nil {
		s.bridge.log.Debug().Err(err).Msg("Undecodable frame")
		s.raw = nil
		return nil, false
	}
	s.decoded = img
	return img, true
}

func (s *mediaStream) Audio() ([]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return nil, false
	}
	if s.now().Sub(s.heard) > audioStaleAfter {
		return make([]float64, len(s.samples)), true
	}
	return s.samples, true
}

func (s *mediaStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.raw, s.decoded, s.samples = nil, nil, nil
	s.mu.Unlock()

	s.bridge.mu.Lock()
	if s.bridge.media == s {
		s.bridge.media = nil
	}
	s.bridge.mu.Unlock()
	s.bridge.send(CommandMediaStop, nil)
}
