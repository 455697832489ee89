// Package controller runs one posting job at a time on a background
// goroutine and exposes start, pause, resume, stop and verification-code
// resolution to whichever front end is attached.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/engine"
	"github.com/zulandar/postyard/internal/events"
	"github.com/zulandar/postyard/internal/history"
	"github.com/zulandar/postyard/internal/models"
	"github.com/zulandar/postyard/internal/pacing"
	"github.com/zulandar/postyard/internal/platform"
	"github.com/zulandar/postyard/internal/session"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("controller: a run is already active")
	// ErrInvalidTransition is returned when a command does not apply to
	// the current state.
	ErrInvalidTransition = errors.New("controller: invalid state transition")
)

// Opts holds parameters for creating a Controller.
type Opts struct {
	// Sink receives every run event after the controller has tracked it.
	Sink events.Sink
	// History is optional; nil disables the run ledger.
	History *history.Store
	// NewClient builds the platform client for a run. Defaults to the
	// registered factory named by cfg.Platform.
	NewClient func(cfg *config.Config) (platform.Client, error)
	// Echo receives a copy of the run log. Nil keeps it to the log file.
	Echo  io.Writer
	Sleep pacing.SleepFunc
	Seed  uint64
	Now   func() time.Time
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	RunID          string               `json:"run_id,omitempty"`
	State          State                `json:"state"`
	Status         string               `json:"status"`
	Current        int                  `json:"current"`
	Total          int                  `json:"total"`
	PreviewImage   string               `json:"preview_image,omitempty"`
	PreviewCaption string               `json:"preview_caption,omitempty"`
	Interrupt      events.InterruptKind `json:"interrupt,omitempty"`
	Username       string               `json:"username,omitempty"`
	LogFile        string               `json:"log_file,omitempty"`
	Result         *engine.Result       `json:"result,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Controller owns the state machine for successive runs.
type Controller struct {
	opts Opts

	mu   sync.Mutex
	snap Snapshot
	job  *job
}

type job struct {
	id      string
	cfg     *config.Config
	ctl     *pacing.Control
	pacer   *pacing.Pacer
	client  platform.Client
	mgr     *session.Manager
	sink    events.Sink
	logFile *events.FileLogger
	cancel  context.CancelFunc
	done    chan struct{}

	result engine.Result
	err    error
}

// New creates a Controller.
func New(opts Opts) *Controller {
	if opts.Sink == nil {
		opts.Sink = events.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewClient == nil {
		out := opts.Echo
		if out == nil {
			out = io.Discard
		}
		opts.NewClient = func(cfg *config.Config) (platform.Client, error) {
			return platform.New(cfg.Platform, platform.FactoryOpts{Out: out})
		}
	}
	return &Controller{opts: opts, snap: Snapshot{State: StateNotStarted, Status: "Idle"}}
}

// Start validates cfg and launches a run in the background. The run is
// cancelled outright when ctx ends; Stop is the cooperative alternative.
func (c *Controller) Start(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("controller: config is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap.State.Active() {
		return ErrAlreadyRunning
	}

	j, err := c.prepare(cfg)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	c.job = j
	c.snap = Snapshot{
		RunID:    j.id,
		State:    StateLoggingIn,
		Status:   "Starting",
		Username: cfg.Account.Username,
		LogFile:  j.logFile.Path(),
	}
	go c.work(runCtx, j)
	return nil
}

// prepare performs start validation and builds the run's collaborators.
func (c *Controller) prepare(cfg *config.Config) (*job, error) {
	if cfg.Account.Username == "" || cfg.Account.Password == "" {
		return nil, fmt.Errorf("controller: username and password are required")
	}
	if _, err := os.Stat(cfg.Posts.CSVPath); err != nil {
		return nil, fmt.Errorf("controller: input file: %w", err)
	}
	if err := os.MkdirAll(cfg.Posts.ImagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("controller: create images directory: %w", err)
	}

	logFile, err := events.NewFileLogger(cfg.LogDir, c.opts.Echo, c.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	client, err := c.opts.NewClient(cfg)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("controller: %w", err)
	}

	j := &job{
		id:      history.NewRunID(),
		cfg:     cfg,
		ctl:     pacing.NewControl(),
		pacer:   pacing.NewPacer(pacing.PacerOpts{Seed: c.opts.Seed, Sleep: c.opts.Sleep}),
		logFile: logFile,
		done:    make(chan struct{}),
	}
	apiMin := time.Duration(cfg.Delays.APIMin) * time.Second
	apiMax := time.Duration(cfg.Delays.APIMax) * time.Second
	j.client = platform.NewPaced(client, func(ctx context.Context) {
		j.pacer.Jitter(ctx, apiMin, apiMax)
	})
	j.sink = events.Multi(&tracker{c: c, j: j}, logFile, c.opts.Sink)

	j.mgr, err = session.NewManager(session.ManagerOpts{
		Client:   j.client,
		Store:    session.NewStore(cfg.SessionFile),
		Sink:     j.sink,
		Pacer:    j.pacer,
		Control:  j.ctl,
		Username: cfg.Account.Username,
		Password: cfg.Account.Password,
		Now:      c.opts.Now,
	})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("controller: %w", err)
	}
	return j, nil
}

func (c *Controller) work(ctx context.Context, j *job) {
	defer close(j.done)
	defer j.cancel()

	cfg := j.cfg
	if len(cfg.Proxies) > 0 {
		if setter, ok := j.client.(platform.ProxySetter); ok {
			if err := setter.SetProxy(cfg.Proxies[0]); err != nil {
				j.sink.OnLog(events.LevelWarning, fmt.Sprintf("Could not apply proxy: %v", err))
			}
		}
	}

	var attempts engine.AttemptRecorder
	if c.opts.History != nil {
		if _, err := c.opts.History.BeginRun(ctx, j.id, cfg.Account.Username, cfg.Posts.CSVPath); err != nil {
			log.Printf("controller: history begin run: %v", err)
		} else {
			attempts = c.opts.History.ForRun(j.id)
		}
	}

	j.sink.OnStatus("Logging in")
	var res engine.Result
	_, err := j.mgr.Establish(ctx)
	if err == nil {
		if c.transition(j, StatePosting) {
			j.sink.OnStatus("Posting")
		}
		res, err = engine.Run(ctx, engine.Opts{
			Client:            j.client,
			Sink:              j.sink,
			Control:           j.ctl,
			Pacer:             j.pacer,
			Relogin:           c.relogin(j),
			Attempts:          attempts,
			Proxies:           cfg.Proxies,
			CSVPath:           cfg.Posts.CSVPath,
			ImagesDir:         cfg.Posts.ImagesDir,
			PostMin:           cfg.Delays.PostMin,
			PostMax:           cfg.Delays.PostMax,
			Unit:              cfg.PostUnitDuration(),
			HashtagsInComment: cfg.Posts.HashtagsInComment,
			RepostExisting:    cfg.Posts.RepostExisting,
			SettleDelay:       cfg.SettleDelay(),
			Now:               c.opts.Now,
		})
	}
	c.finish(ctx, j, res, err, attempts != nil)
}

// relogin recovers an invalidated session from inside the posting loop.
func (c *Controller) relogin(j *job) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		c.transition(j, StateLoggingIn)
		if _, err := j.mgr.Login(ctx); err != nil {
			return err
		}
		// A pause accepted before the failure still holds at the next
		// check point.
		to := StatePosting
		if j.ctl.Paused() {
			to = StatePaused
		}
		c.transition(j, to)
		return nil
	}
}

func (c *Controller) finish(ctx context.Context, j *job, res engine.Result, err error, recordHistory bool) {
	state := StateFinished
	var status, runStatus string
	switch {
	case j.ctl.Stopped() && (err == nil || errors.Is(err, session.ErrStopped) || errors.Is(err, context.Canceled)):
		state, status, runStatus = StateStopped, "Stopped", models.RunStopped
		err = nil
	case err != nil:
		status, runStatus = fmt.Sprintf("Error: %v", err), models.RunFailed
		j.sink.OnLog(events.LevelError, fmt.Sprintf("Run failed: %v", err))
	case res.NothingToDo:
		status, runStatus = "Nothing to do", models.RunNothingToDo
	default:
		status, runStatus = fmt.Sprintf("Finished: %d posted", res.Posted), models.RunFinished
	}

	if recordHistory {
		if herr := c.opts.History.FinishRun(context.WithoutCancel(ctx), j.id, runStatus, res, err); herr != nil {
			log.Printf("controller: history finish run: %v", herr)
		}
	}

	j.sink.OnStatus(status)
	if cerr := j.logFile.Close(); cerr != nil {
		log.Printf("controller: %v", cerr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	j.result, j.err = res, err
	if c.job != j {
		return
	}
	c.snap.State = state
	c.snap.Interrupt = ""
	c.snap.Result = &res
	if err != nil {
		c.snap.Error = err.Error()
	}
}

// transition moves j's run to state to when allowed. Stale jobs and
// disallowed moves are ignored.
func (c *Controller) transition(j *job, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job != j || !CanTransition(c.snap.State, to) {
		return false
	}
	c.snap.State = to
	if to != StateAwaitingTwoFactor && to != StateAwaitingChallenge {
		c.snap.Interrupt = ""
	}
	return true
}

// command applies a front-end command under the lock and emits the
// resulting status afterwards.
func (c *Controller) command(to State, noop State, apply func(j *job), status string) error {
	c.mu.Lock()
	j := c.job
	if c.snap.State == noop {
		c.mu.Unlock()
		return nil
	}
	if j == nil || !commandAllowed(c.snap.State, to) {
		from := c.snap.State
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	apply(j)
	c.snap.State = to
	c.mu.Unlock()

	j.sink.OnStatus(status)
	return nil
}

// commandAllowed narrows CanTransition for front-end commands: pause and
// resume only toggle between posting and paused. The other moves into and
// out of those states belong to the worker.
func commandAllowed(from, to State) bool {
	switch to {
	case StatePaused:
		return from == StatePosting
	case StatePosting:
		return from == StatePaused
	}
	return CanTransition(from, to)
}

// Pause holds the run at its next check point.
func (c *Controller) Pause() error {
	return c.command(StatePaused, StatePaused, func(j *job) { j.ctl.Pause() }, "Paused")
}

// Resume continues a paused run.
func (c *Controller) Resume() error {
	return c.command(StatePosting, StatePosting, func(j *job) { j.ctl.Resume() }, "Posting")
}

// Stop ends the run at its next check point. A stopped run cannot be
// resumed.
func (c *Controller) Stop() error {
	return c.command(StateStopping, StateStopping, func(j *job) { j.ctl.Stop() }, "Stopping")
}

// ResolveTwoFactor supplies the code for a pending two-factor prompt.
func (c *Controller) ResolveTwoFactor(code string) error {
	return c.resolve(StateAwaitingTwoFactor, events.InterruptTwoFactor, code)
}

// ResolveChallenge supplies the code for a pending challenge prompt.
func (c *Controller) ResolveChallenge(code string) error {
	return c.resolve(StateAwaitingChallenge, events.InterruptChallenge, code)
}

func (c *Controller) resolve(want State, kind events.InterruptKind, code string) error {
	if code == "" {
		return fmt.Errorf("controller: code is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil || c.snap.State != want {
		return fmt.Errorf("%w: no %s pending", ErrInvalidTransition, kind)
	}
	if err := c.job.mgr.Resolve(kind, code); err != nil {
		return err
	}
	c.snap.State = StateLoggingIn
	c.snap.Interrupt = ""
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.State
}

// Snapshot returns a copy of the current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

// Done returns a channel closed when the current run ends. With no run it
// is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.job.done
}

// Wait blocks until the current run ends and returns its outcome.
func (c *Controller) Wait() (engine.Result, error) {
	c.mu.Lock()
	j := c.job
	c.mu.Unlock()
	if j == nil {
		return engine.Result{}, nil
	}
	<-j.done
	return j.result, j.err
}

// tracker folds run events into the controller snapshot.
type tracker struct {
	c *Controller
	j *job
}

func (t *tracker) update(fn func(s *Snapshot)) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.job == t.j {
		fn(&t.c.snap)
	}
}

func (t *tracker) OnLog(events.Level, string) {}

func (t *tracker) OnStatus(status string) {
	t.update(func(s *Snapshot) { s.Status = status })
}

func (t *tracker) OnProgress(current, total int) {
	t.update(func(s *Snapshot) { s.Current, s.Total = current, total })
}

func (t *tracker) OnPreview(imagePath, caption string) {
	t.update(func(s *Snapshot) { s.PreviewImage, s.PreviewCaption = imagePath, caption })
}

func (t *tracker) OnAuthInterrupt(i events.Interrupt) {
	to := StateAwaitingTwoFactor
	if i.Kind == events.InterruptChallenge {
		to = StateAwaitingChallenge
	}
	t.update(func(s *Snapshot) {
		if CanTransition(s.State, to) {
			s.State = to
			s.Interrupt = i.Kind
		}
	})
}
