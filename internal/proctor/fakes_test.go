package proctor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func paperQuestions(n int) []PaperQuestion {
	qs := make([]PaperQuestion, n)
	for i := range qs {
		qs[i] = PaperQuestion{
			ID:      fmt.Sprintf("q%d", i),
			Prompt:  fmt.Sprintf("Question %d", i),
			Options: []string{"A", "B", "C", "D"},
		}
	}
	return qs
}

func testPaper(n, minutes int) TestPaper {
	return TestPaper{
		ID:              "test-1",
		ExamID:          "exam-1",
		Title:           "Mock Test",
		DurationMinutes: minutes,
		Questions:       paperQuestions(n),
	}
}

// ─── Fake environment ────────────────────────────────────────────────────────

type fakeEnv struct {
	mu          sync.Mutex
	fullscreen  bool
	requestErr  error
	requests    int
	exits       int
	pushes      int
	warnings    []string
	navigated   []Handoff
	fingerprint Fingerprint
	metrics     *WindowMetrics
	lastBeat    time.Time
	beatErr     error
	catalog     Catalog
	signals     chan Signal
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		fullscreen: true,
		fingerprint: Fingerprint{
			ScreenWidth: 1920, ScreenHeight: 1080,
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
			Timezone:  "Asia/Jakarta", Locale: "id-ID",
		},
		signals: make(chan Signal, 16),
	}
}

func (e *fakeEnv) IsFullscreen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fullscreen
}

func (e *fakeEnv) RequestFullscreen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++
	if e.requestErr != nil {
		return e.requestErr
	}
	e.fullscreen = true
	return nil
}

func (e *fakeEnv) ExitFullscreen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exits++
	e.fullscreen = false
	return nil
}

func (e *fakeEnv) PushHistory() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushes++
	return nil
}

func (e *fakeEnv) Listen(ctx context.Context, catalog Catalog) (<-chan Signal, error) {
	e.mu.Lock()
	e.catalog = catalog
	e.mu.Unlock()
	out := make(chan Signal)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-e.signals:
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (e *fakeEnv) Fingerprint(context.Context) (Fingerprint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fingerprint, nil
}

func (e *fakeEnv) WindowMetrics() (WindowMetrics, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.metrics == nil {
		return WindowMetrics{}, false
	}
	return *e.metrics, true
}

func (e *fakeEnv) Heartbeat(now time.Time) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.beatErr != nil {
		return time.Time{}, e.beatErr
	}
	prev := e.lastBeat
	e.lastBeat = now
	return prev, nil
}

func (e *fakeEnv) ShowWarning(message string, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings = append(e.warnings, message)
	return nil
}

func (e *fakeEnv) Navigate(h Handoff) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.navigated = append(e.navigated, h)
	return nil
}

func (e *fakeEnv) exitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exits
}

func (e *fakeEnv) warningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.warnings)
}

// ─── Fake Test API ───────────────────────────────────────────────────────────

type fakeAPI struct {
	mu         sync.Mutex
	paper      TestPaper
	getErr     error
	startErr   error
	submitErrs []error
	submits    []SubmitPayload
	progress   []ProgressPayload
	logs       []ActivityLog
}

func (a *fakeAPI) GetTest(context.Context, string) (TestPaper, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paper, a.getErr
}

func (a *fakeAPI) StartTest(context.Context, string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return "", a.startErr
	}
	return "attempt-1", nil
}

func (a *fakeAPI) SaveProgress(_ context.Context, _ string, p ProgressPayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress = append(a.progress, p)
	return nil
}

func (a *fakeAPI) SubmitTest(_ context.Context, _ string, p SubmitPayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits = append(a.submits, p)
	if len(a.submitErrs) > 0 {
		err := a.submitErrs[0]
		a.submitErrs = a.submitErrs[1:]
		return err
	}
	return nil
}

func (a *fakeAPI) LogActivity(_ context.Context, _ string, l ActivityLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, l)
	return errors.New("audit endpoint down")
}

func (a *fakeAPI) submitted() []SubmitPayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SubmitPayload, len(a.submits))
	copy(out, a.submits)
	return out
}

func (a *fakeAPI) progressCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.progress)
}

// ─── Fake media ──────────────────────────────────────────────────────────────

type fakeMedia struct {
	err    error
	stream *fakeStream
}

func (m *fakeMedia) Open(ctx context.Context, _ MediaConstraints) (MediaStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeStream struct {
	mu      sync.Mutex
	frame   image.Image
	samples []float64
	stopped bool
}

func (s *fakeStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.frame != nil
}

func (s *fakeStream) Audio() ([]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples, s.samples != nil
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

var (
	skinColor = color.RGBA{R: 200, G: 140, B: 110, A: 255}
	wallColor = color.RGBA{R: 90, G: 90, B: 90, A: 255}
)
