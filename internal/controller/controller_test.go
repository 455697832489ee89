package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/db"
	"github.com/zulandar/postyard/internal/events"
	"github.com/zulandar/postyard/internal/history"
	"github.com/zulandar/postyard/internal/models"
	"github.com/zulandar/postyard/internal/pacing"
	"github.com/zulandar/postyard/internal/platform"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func noSleep(context.Context, time.Duration) {}

func testConfig(t *testing.T, rows int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	if err := os.MkdirAll(images, 0o755); err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	b.WriteString("filename,caption\n")
	for i := 1; i <= rows; i++ {
		name := fmt.Sprintf("img%d.jpg", i)
		if err := os.WriteFile(filepath.Join(images, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(&b, "%s,caption %d #tag\n", name, i)
	}
	csv := filepath.Join(dir, "posts.csv")
	if err := os.WriteFile(csv, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Account:     config.AccountConfig{Username: "alice", Password: "pw"},
		Platform:    "mock",
		SessionFile: filepath.Join(dir, "sessions", "alice.session.json"),
		Posts:       config.PostsConfig{CSVPath: csv, ImagesDir: images},
		LogDir:      filepath.Join(dir, "logs"),
	}
}

func newController(client platform.Client, sleep pacing.SleepFunc, rec events.Sink) *Controller {
	if sleep == nil {
		sleep = noSleep
	}
	return New(Opts{
		Sink:      rec,
		NewClient: func(*config.Config) (platform.Client, error) { return client, nil },
		Sleep:     sleep,
		Seed:      5,
	})
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func waitDone(t *testing.T, c *Controller) (Snapshot, error) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
	_, err := c.Wait()
	return c.Snapshot(), err
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateNotStarted, StateLoggingIn, true},
		{StateNotStarted, StatePosting, false},
		{StateLoggingIn, StateAwaitingTwoFactor, true},
		{StateAwaitingTwoFactor, StateLoggingIn, true},
		{StateAwaitingTwoFactor, StatePosting, false},
		{StatePosting, StatePaused, true},
		{StatePaused, StatePosting, true},
		{StatePaused, StateLoggingIn, true},
		{StateLoggingIn, StatePaused, true},
		{StateStopping, StatePosting, false},
		{StateStopped, StatePosting, false},
		{StateStopped, StateLoggingIn, true},
		{StateFinished, StatePaused, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCommandAllowed(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePosting, StatePaused, true},
		{StatePaused, StatePosting, true},
		{StateLoggingIn, StatePaused, false},
		{StateLoggingIn, StatePosting, false},
		{StateAwaitingTwoFactor, StatePaused, false},
		{StateLoggingIn, StateStopping, true},
		{StatePaused, StateStopping, true},
		{StateStopped, StateStopping, false},
	}
	for _, tt := range tests {
		if got := commandAllowed(tt.from, tt.to); got != tt.want {
			t.Errorf("commandAllowed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStart_RunsToFinished(t *testing.T) {
	cfg := testConfig(t, 2)
	client := platform.NewMockClient()
	rec := events.NewRecorder()
	c := newController(client, nil, rec)

	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := waitDone(t, c)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if snap.State != StateFinished {
		t.Errorf("state = %s", snap.State)
	}
	if snap.Status != "Finished: 2 posted" {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Current != 2 || snap.Total != 2 {
		t.Errorf("progress = %d/%d", snap.Current, snap.Total)
	}
	if snap.RunID == "" || snap.Result == nil || snap.Result.Posted != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(client.Uploads()) != 2 {
		t.Errorf("uploads = %d", len(client.Uploads()))
	}
	if rec.LastStatus() != "Finished: 2 posted" {
		t.Errorf("front end status = %q", rec.LastStatus())
	}
	if _, err := os.Stat(snap.LogFile); err != nil {
		t.Errorf("run log file: %v", err)
	}
	if _, err := os.Stat(cfg.SessionFile); err != nil {
		t.Errorf("session file not saved: %v", err)
	}
}

func TestStart_Validation(t *testing.T) {
	c := newController(platform.NewMockClient(), nil, nil)
	if err := c.Start(context.Background(), nil); err == nil {
		t.Error("expected error for nil config")
	}

	cfg := testConfig(t, 1)
	cfg.Posts.CSVPath = filepath.Join(t.TempDir(), "missing.csv")
	if err := c.Start(context.Background(), cfg); err == nil {
		t.Error("expected error for missing input file")
	}

	cfg = testConfig(t, 1)
	cfg.Account.Password = ""
	if err := c.Start(context.Background(), cfg); err == nil {
		t.Error("expected error for missing password")
	}
	if c.State() != StateNotStarted {
		t.Errorf("state = %s, want not_started", c.State())
	}
}

func TestStart_CreatesImagesDir(t *testing.T) {
	cfg := testConfig(t, 0)
	cfg.Posts.ImagesDir = filepath.Join(t.TempDir(), "new", "images")
	c := newController(platform.NewMockClient(), nil, nil)
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(cfg.Posts.ImagesDir); err != nil || !info.IsDir() {
		t.Errorf("images dir not created: %v", err)
	}
	snap, _ := waitDone(t, c)
	if snap.Status != "Nothing to do" {
		t.Errorf("status = %q", snap.Status)
	}
}

func TestCommands_NotRunning(t *testing.T) {
	c := newController(platform.NewMockClient(), nil, nil)
	for name, fn := range map[string]func() error{
		"pause":  c.Pause,
		"resume": c.Resume,
		"stop":   c.Stop,
		"2fa":    func() error { return c.ResolveTwoFactor("1") },
	} {
		if err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s = %v, want ErrInvalidTransition", name, err)
		}
	}
}

func TestTwoFactorFlow(t *testing.T) {
	cfg := testConfig(t, 1)
	client := platform.NewMockClient()
	client.SetLoginError(&platform.Error{Kind: platform.KindTwoFactorRequired, Op: "login"})
	rec := events.NewRecorder()
	c := newController(client, nil, rec)

	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	waitForState(t, c, StateAwaitingTwoFactor)
	if snap := c.Snapshot(); snap.Interrupt != events.InterruptTwoFactor {
		t.Errorf("interrupt = %q", snap.Interrupt)
	}
	if err := c.Start(context.Background(), cfg); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if err := c.ResolveChallenge("1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ResolveChallenge = %v, want ErrInvalidTransition", err)
	}
	if err := c.ResolveTwoFactor(""); err == nil {
		t.Error("empty code should be rejected")
	}
	if err := c.ResolveTwoFactor("424242"); err != nil {
		t.Fatalf("ResolveTwoFactor: %v", err)
	}

	snap, err := waitDone(t, c)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if snap.State != StateFinished || snap.Interrupt != "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if codes := client.Codes(); len(codes) != 1 || codes[0] != "424242" {
		t.Errorf("codes = %v", codes)
	}
	if got := rec.Interrupts(); len(got) != 1 || got[0].Username != "alice" {
		t.Errorf("front end interrupts = %+v", got)
	}
}

func TestStopWhileAwaitingChallenge(t *testing.T) {
	cfg := testConfig(t, 1)
	client := platform.NewMockClient()
	client.SetLoginError(&platform.Error{Kind: platform.KindChallengeRequired, Op: "login"})
	c := newController(client, nil, nil)

	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	waitForState(t, c, StateAwaitingChallenge)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap, err := waitDone(t, c)
	if err != nil {
		t.Errorf("stopped run should not report an error: %v", err)
	}
	if snap.State != StateStopped {
		t.Errorf("state = %s, want stopped", snap.State)
	}
	if len(client.Uploads()) != 0 {
		t.Error("no uploads expected")
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume after stop = %v, want ErrInvalidTransition", err)
	}
}

func TestFatalLogin(t *testing.T) {
	cfg := testConfig(t, 1)
	client := platform.NewMockClient()
	client.SetLoginError(platform.Errorf(platform.KindFatal, "login", "bad password"))
	c := newController(client, nil, nil)

	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	snap, err := waitDone(t, c)
	if err == nil {
		t.Fatal("expected run error")
	}
	if snap.State != StateFinished || !strings.HasPrefix(snap.Status, "Error:") || snap.Error == "" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStopMidRun(t *testing.T) {
	cfg := testConfig(t, 3)
	client := platform.NewMockClient()
	c := newController(client, nil, nil)
	client.SetUploadHook(func(string, string) {
		if err := c.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})

	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	snap, err := waitDone(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateStopped || snap.Status != "Stopped" {
		t.Errorf("snapshot = %+v", snap)
	}
	if n := len(client.Uploads()); n != 1 {
		t.Errorf("uploads = %d, want 1", n)
	}
}

func TestPauseResumeMidRun(t *testing.T) {
	cfg := testConfig(t, 2)
	cfg.Delays.PostMin, cfg.Delays.PostMax = 1, 1
	client := platform.NewMockClient()

	var mu sync.Mutex
	pausedTicks := 0
	uploadsWhilePaused := 0
	var c *Controller
	sleep := func(ctx context.Context, d time.Duration) {
		if d != pacing.DefaultTick || c.State() != StatePaused {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		pausedTicks++
		if len(client.Uploads()) != 1 {
			uploadsWhilePaused++
		}
		if pausedTicks == 5 {
			if err := c.Resume(); err != nil {
				t.Errorf("Resume: %v", err)
			}
		}
	}
	c = newController(client, sleep, nil)
	client.SetUploadHook(func(string, string) {
		if len(client.Uploads()) == 1 {
			if err := c.Pause(); err != nil {
				t.Errorf("Pause: %v", err)
			}
		}
	})

	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	snap, err := waitDone(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != StateFinished || snap.Result.Posted != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if pausedTicks != 5 {
		t.Errorf("paused ticks = %d, want 5", pausedTicks)
	}
	if uploadsWhilePaused != 0 {
		t.Errorf("uploads while paused = %d", uploadsWhilePaused)
	}
}

// expiringClient pauses the run and invalidates the session during its
// first upload, which then fails, so the re-login happens under a pause.
type expiringClient struct {
	*platform.MockClient
	once   sync.Once
	expire func()
}

func (e *expiringClient) UploadImage(ctx context.Context, path, caption string) (string, error) {
	first := false
	e.once.Do(func() { first = true })
	if first {
		e.expire()
		return "", platform.Errorf(platform.KindFatal, "upload", "media rejected")
	}
	return e.MockClient.UploadImage(ctx, path, caption)
}

func TestPauseThenReloginWithTwoFactor(t *testing.T) {
	cfg := testConfig(t, 2)
	mock := platform.NewMockClient()
	client := &expiringClient{MockClient: mock}
	c := newController(client, nil, nil)
	client.expire = func() {
		if err := c.Pause(); err != nil {
			t.Errorf("Pause: %v", err)
		}
		mock.SetLoggedIn(false)
		mock.SetLoginError(&platform.Error{Kind: platform.KindTwoFactorRequired, Op: "login"})
	}

	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	waitForState(t, c, StateAwaitingTwoFactor)
	if snap := c.Snapshot(); snap.Interrupt != events.InterruptTwoFactor {
		t.Errorf("interrupt = %q", snap.Interrupt)
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume while awaiting code = %v, want ErrInvalidTransition", err)
	}
	if err := c.ResolveTwoFactor("777777"); err != nil {
		t.Fatalf("ResolveTwoFactor: %v", err)
	}

	waitForState(t, c, StatePaused)
	if n := len(mock.Uploads()); n != 0 {
		t.Errorf("uploads while paused = %d, want 0", n)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	snap, err := waitDone(t, c)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if snap.State != StateFinished || snap.Result.Posted != 1 || snap.Result.Failed != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if codes := mock.Codes(); len(codes) != 1 || codes[0] != "777777" {
		t.Errorf("codes = %v", codes)
	}
	if n := mock.CallCount("Login"); n != 2 {
		t.Errorf("logins = %d, want 2", n)
	}
}

func TestRestartAfterFinish(t *testing.T) {
	cfg := testConfig(t, 1)
	client := platform.NewMockClient()
	c := newController(client, nil, nil)

	for i := 0; i < 2; i++ {
		if err := c.Start(context.Background(), cfg); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if _, err := waitDone(t, c); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if snap := c.Snapshot(); snap.Status != "Nothing to do" {
		t.Errorf("second run status = %q", snap.Status)
	}
	if client.CallCount("RestoreSession") != 1 {
		t.Errorf("second run should restore the saved session, restores = %d", client.CallCount("RestoreSession"))
	}
}

func TestHistoryRecorded(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	// Each connection to :memory: is its own database.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatal(err)
	}
	store, err := history.NewStore(gdb)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, 2)
	client := platform.NewMockClient()
	c := New(Opts{
		History:   store,
		NewClient: func(*config.Config) (platform.Client, error) { return client, nil },
		Sleep:     noSleep,
	})
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	snap, err := waitDone(t, c)
	if err != nil {
		t.Fatal(err)
	}

	run, err := store.GetRun(context.Background(), snap.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != models.RunFinished || run.Posted != 2 || run.Username != "alice" {
		t.Errorf("run = %+v", run)
	}
	attempts, err := store.Attempts(context.Background(), snap.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(attempts))
	}
}

func TestProxyAppliedAtStart(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.Proxies = []string{"http://p1:8080", "http://p2:8080"}
	client := platform.NewMockClient()
	c := newController(client, nil, nil)
	if err := c.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := waitDone(t, c); err != nil {
		t.Fatal(err)
	}
	if got := client.Proxies(); len(got) == 0 || got[0] != "http://p1:8080" {
		t.Errorf("proxies = %v", got)
	}
}
