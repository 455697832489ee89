package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/controller"
	"github.com/zulandar/postyard/internal/db"
	"github.com/zulandar/postyard/internal/engine"
	"github.com/zulandar/postyard/internal/events"
	"github.com/zulandar/postyard/internal/history"
	"github.com/zulandar/postyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeController records commands and returns canned errors.
type fakeController struct {
	mu       sync.Mutex
	calls    []string
	codes    []string
	startCtx context.Context
	err      error
	snap     controller.Snapshot
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) Start(ctx context.Context, _ *config.Config) error {
	f.mu.Lock()
	f.startCtx = ctx
	f.mu.Unlock()
	return f.record("start")
}
func (f *fakeController) Pause() error  { return f.record("pause") }
func (f *fakeController) Resume() error { return f.record("resume") }
func (f *fakeController) Stop() error   { return f.record("stop") }
func (f *fakeController) ResolveTwoFactor(code string) error {
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.mu.Unlock()
	return f.record("two-factor")
}
func (f *fakeController) ResolveChallenge(code string) error {
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.mu.Unlock()
	return f.record("challenge")
}
func (f *fakeController) Snapshot() controller.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestHandler(t *testing.T, fc *fakeController, store *history.Store) (http.Handler, *Broadcaster) {
	t.Helper()
	b := NewBroadcaster()
	h, err := NewHandler(context.Background(), Opts{
		Controller: fc,
		Events:     b,
		History:    store,
		LoadConfig: func() (*config.Config, error) { return &config.Config{}, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	return h, b
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Validation(t *testing.T) {
	b := NewBroadcaster()
	load := func() (*config.Config, error) { return nil, nil }
	cases := []struct {
		name string
		opts Opts
		want string
	}{
		{"no controller", Opts{Events: b, LoadConfig: load}, "controller is required"},
		{"no broadcaster", Opts{Controller: &fakeController{}, LoadConfig: load}, "broadcaster is required"},
		{"no loader", Opts{Controller: &fakeController{}, Events: b}, "config loader is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewHandler(context.Background(), tc.opts)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestIndex_Returns200(t *testing.T) {
	h, _ := newTestHandler(t, &fakeController{}, nil)
	rec := do(h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Postyard") {
		t.Error("index does not contain 'Postyard'")
	}
}

func TestStatus(t *testing.T) {
	fc := &fakeController{snap: controller.Snapshot{
		State:   controller.StatePosting,
		Status:  "Posting a.jpg",
		Current: 1,
		Total:   3,
		Result:  &engine.Result{Posted: 1},
	}}
	h, _ := newTestHandler(t, fc, nil)
	rec := do(h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got controller.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.State != controller.StatePosting || got.Current != 1 || got.Total != 3 || got.Result.Posted != 1 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestCommands(t *testing.T) {
	fc := &fakeController{}
	h, _ := newTestHandler(t, fc, nil)

	for _, path := range []string{"/api/pause", "/api/resume", "/api/stop"} {
		if rec := do(h, http.MethodPost, path, ""); rec.Code != http.StatusOK {
			t.Errorf("POST %s = %d, want 200", path, rec.Code)
		}
	}
	rec := do(h, http.MethodPost, "/api/start", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("POST /api/start = %d, want 202", rec.Code)
	}

	want := []string{"pause", "resume", "stop", "start"}
	got := fc.Calls()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if fc.startCtx == nil || fc.startCtx.Err() != nil {
		t.Error("start should use the server context, not the request context")
	}
}

func TestCommands_ErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{controller.ErrInvalidTransition, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", controller.ErrAlreadyRunning), http.StatusConflict},
		{errors.New("controller: account username is required"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		fc := &fakeController{err: tc.err}
		h, _ := newTestHandler(t, fc, nil)
		rec := do(h, http.MethodPost, "/api/start", "")
		if rec.Code != tc.want {
			t.Errorf("err %v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["error"] != tc.err.Error() {
			t.Errorf("error body = %q, want %q", body["error"], tc.err.Error())
		}
	}
}

func TestStart_ConfigLoadError(t *testing.T) {
	b := NewBroadcaster()
	h, err := NewHandler(context.Background(), Opts{
		Controller: &fakeController{},
		Events:     b,
		LoadConfig: func() (*config.Config, error) { return nil, errors.New("config: read: missing") },
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec := do(h, http.MethodPost, "/api/start", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCodes(t *testing.T) {
	fc := &fakeController{}
	h, _ := newTestHandler(t, fc, nil)

	if rec := do(h, http.MethodPost, "/api/two-factor", `{"code":"123456"}`); rec.Code != http.StatusOK {
		t.Errorf("two-factor = %d, want 200", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/challenge", `{"code":"654321"}`); rec.Code != http.StatusOK {
		t.Errorf("challenge = %d, want 200", rec.Code)
	}
	for _, body := range []string{"", "{}", `{"code":""}`, "not json"} {
		if rec := do(h, http.MethodPost, "/api/two-factor", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}

	if fmt.Sprint(fc.codes) != "[123456 654321]" {
		t.Errorf("codes = %v", fc.codes)
	}

	fc.err = controller.ErrInvalidTransition
	if rec := do(h, http.MethodPost, "/api/challenge", `{"code":"1"}`); rec.Code != http.StatusConflict {
		t.Errorf("challenge with no interrupt = %d, want 409", rec.Code)
	}
}

func TestRuns_WithoutHistory(t *testing.T) {
	h, _ := newTestHandler(t, &fakeController{}, nil)
	rec := do(h, http.MethodGet, "/api/runs", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("runs = %d %q, want 200 []", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/api/runs/abc", ""); rec.Code != http.StatusNotFound {
		t.Errorf("run detail = %d, want 404", rec.Code)
	}
}

func testStore(t *testing.T) *history.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := history.NewStore(gdb)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRuns_WithHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if _, err := store.BeginRun(ctx, "run-1", "alice", "posts.csv"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordAttempt(ctx, "run-1", engine.Attempt{Filename: "a.jpg", Outcome: engine.OutcomePosted, MediaID: "m1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun(ctx, "run-1", models.RunFinished, engine.Result{Total: 1, Posted: 1}, nil); err != nil {
		t.Fatal(err)
	}

	h, _ := newTestHandler(t, &fakeController{}, store)

	rec := do(h, http.MethodGet, "/api/runs", "")
	var runs []runView
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].Status != models.RunFinished || runs[0].Posted != 1 {
		t.Errorf("runs = %+v", runs)
	}

	rec = do(h, http.MethodGet, "/api/runs/run-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail = %d", rec.Code)
	}
	var detail struct {
		Run      runView       `json:"run"`
		Attempts []attemptView `json:"attempts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Attempts) != 1 || detail.Attempts[0].MediaID != "m1" {
		t.Errorf("attempts = %+v", detail.Attempts)
	}

	if rec := do(h, http.MethodGet, "/api/runs/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing run = %d, want 404", rec.Code)
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	b.now = func() time.Time { return time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC) }
	one, unsubOne := b.Subscribe()
	two, unsubTwo := b.Subscribe()
	defer unsubTwo()

	b.OnLog(events.LevelInfo, "hello")
	for _, ch := range []<-chan sseEvent{one, two} {
		evt := <-ch
		if evt.Event != "log" {
			t.Fatalf("event = %q, want log", evt.Event)
		}
		if l := evt.Data.(logEvent); l.Msg != "hello" || l.Time != "09:30:00" {
			t.Errorf("log = %+v", l)
		}
	}

	unsubOne()
	unsubOne()
	if b.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", b.Subscribers())
	}
	b.OnProgress(2, 5)
	if evt := <-two; evt.Event != "progress" {
		t.Errorf("event = %q, want progress", evt.Event)
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	_, unsub := b.Subscribe()
	defer unsub()
	for i := 0; i < subscriberBuffer*2; i++ {
		b.OnStatus("tick")
	}
}

func TestEvents_StreamsBroadcasts(t *testing.T) {
	fc := &fakeController{}
	h, b := newTestHandler(t, fc, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var name, data string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return name, data
			}
		}
	}

	if name, _ := readEvent(); name != "connected" {
		t.Fatalf("first event = %q, want connected", name)
	}

	b.OnAuthInterrupt(events.Interrupt{Kind: events.InterruptChallenge, Username: "alice"})
	name, data := readEvent()
	if name != "interrupt" {
		t.Fatalf("event = %q, want interrupt", name)
	}
	if !strings.Contains(data, `"kind":"challenge"`) {
		t.Errorf("data = %s", data)
	}

	b.OnStatus("Paused")
	if name, data := readEvent(); name != "status" || !strings.Contains(data, "Paused") {
		t.Errorf("event = %q %s", name, data)
	}
}

func TestWriteSSE(t *testing.T) {
	var sb strings.Builder
	writeSSE(&sb, "status", map[string]string{"status": "ok"})
	want := "event: status\ndata: {\"status\":\"ok\"}\n\n"
	if sb.String() != want {
		t.Errorf("writeSSE = %q, want %q", sb.String(), want)
	}
}
