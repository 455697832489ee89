// Package engine implements the posting loop: it walks the pending rows of
// the input file in random order, waits a randomized interval between
// uploads, and persists each success back to the file before moving on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/postyard/internal/events"
	"github.com/zulandar/postyard/internal/pacing"
	"github.com/zulandar/postyard/internal/platform"
	"github.com/zulandar/postyard/internal/postfile"
)

// Defaults for the resilience and cadence policy.
const (
	DefaultMaxErrors    = 5
	DefaultRotateEvery  = 5
	DefaultStoriesEvery = 3
	DefaultMaxStories   = 5
)

// ErrTooManyErrors aborts a run once the failure ceiling is reached.
var ErrTooManyErrors = errors.New("engine: too many errors, run aborted")

// Outcome classifies one row attempt.
type Outcome string

const (
	OutcomePosted            Outcome = "posted"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeNetworkError      Outcome = "network_error"
	OutcomeFailed            Outcome = "failed"
	OutcomeMissingImage      Outcome = "missing_image"
	OutcomeUnsupportedFormat Outcome = "unsupported_format"
)

// Attempt is one row outcome handed to the AttemptRecorder.
type Attempt struct {
	Filename string
	Outcome  Outcome
	Detail   string
	MediaID  string
}

// AttemptRecorder receives every row outcome. Recording is best-effort.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// Opts holds parameters for a posting run.
type Opts struct {
	Client  platform.Client
	Sink    events.Sink
	Control *pacing.Control
	Pacer   *pacing.Pacer
	// Relogin re-runs the credential login when the session is found
	// invalid after a failure.
	Relogin  func(ctx context.Context) error
	Attempts AttemptRecorder
	// Proxies is the rotation list; Proxies[0] is assumed to be active.
	Proxies []string

	CSVPath   string
	ImagesDir string

	// PostMin and PostMax bound the inter-post wait in units of Unit.
	PostMin int
	PostMax int
	Unit    time.Duration // defaults to time.Second

	HashtagsInComment bool
	RepostExisting    bool
	SettleDelay       time.Duration

	MaxErrors    int // 0 means DefaultMaxErrors
	RotateEvery  int // 0 means DefaultRotateEvery
	StoriesEvery int // 0 means DefaultStoriesEvery
	MaxStories   int // 0 means DefaultMaxStories

	Now func() time.Time
}

// Result summarizes a finished run.
type Result struct {
	Total       int  `json:"total"`
	Posted      int  `json:"posted"`
	Failed      int  `json:"failed"`
	Skipped     int  `json:"skipped"`
	NothingToDo bool `json:"nothing_to_do"`
	Stopped     bool `json:"stopped"`
}

type runner struct {
	opts     Opts
	sink     events.Sink
	ctl      *pacing.Control
	pacer    *pacing.Pacer
	proxyIdx int
}

// Run processes the input file until every pending row is handled, the run
// is stopped, or a fatal error occurs.
func Run(ctx context.Context, opts Opts) (Result, error) {
	if opts.Client == nil {
		return Result{}, fmt.Errorf("engine: client is required")
	}
	if opts.CSVPath == "" {
		return Result{}, fmt.Errorf("engine: csv path is required")
	}
	if opts.PostMin < 0 || opts.PostMax < opts.PostMin {
		return Result{}, fmt.Errorf("engine: invalid post delay range [%d, %d]", opts.PostMin, opts.PostMax)
	}
	r := &runner{opts: opts, sink: opts.Sink, ctl: opts.Control, pacer: opts.Pacer}
	if r.sink == nil {
		r.sink = events.Discard{}
	}
	if r.ctl == nil {
		r.ctl = pacing.NewControl()
	}
	if r.pacer == nil {
		r.pacer = pacing.NewPacer(pacing.PacerOpts{})
	}
	if r.opts.Unit <= 0 {
		r.opts.Unit = time.Second
	}
	if r.opts.MaxErrors <= 0 {
		r.opts.MaxErrors = DefaultMaxErrors
	}
	if r.opts.RotateEvery <= 0 {
		r.opts.RotateEvery = DefaultRotateEvery
	}
	if r.opts.StoriesEvery <= 0 {
		r.opts.StoriesEvery = DefaultStoriesEvery
	}
	if r.opts.MaxStories <= 0 {
		r.opts.MaxStories = DefaultMaxStories
	}
	if r.opts.Now == nil {
		r.opts.Now = time.Now
	}
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) (Result, error) {
	var res Result

	if r.opts.SettleDelay > 0 {
		r.sink.OnLog(events.LevelInfo, fmt.Sprintf("Waiting %s before posting", r.opts.SettleDelay))
		switch r.pacer.Wait(ctx, r.ctl, r.ticks(r.opts.SettleDelay)) {
		case pacing.WaitStopped:
			res.Stopped = true
			return res, nil
		case pacing.WaitCancelled:
			return res, ctx.Err()
		}
	}

	file, err := postfile.Load(r.opts.CSVPath)
	if err != nil {
		r.sink.OnLog(events.LevelError, fmt.Sprintf("Error loading posts: %v", err))
		return res, fmt.Errorf("engine: load posts: %w", err)
	}

	pending := file.Pending(r.opts.RepostExisting)
	res.Total = len(pending)
	if len(pending) == 0 {
		r.sink.OnLog(events.LevelInfo, "No pending posts found")
		r.sink.OnStatus("Nothing to do")
		res.NothingToDo = true
		return res, nil
	}
	r.pacer.Shuffle(len(pending), func(i, j int) { pending[i], pending[j] = pending[j], pending[i] })
	r.sink.OnLog(events.LevelInfo, fmt.Sprintf("Found %d posts to process", len(pending)))
	r.sink.OnProgress(0, res.Total)

	attempted := 0
	for _, i := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !r.checkpoint(ctx) {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Stopped = true
			break
		}

		row := file.Rows[i]
		if row.Posted && !r.opts.RepostExisting {
			continue
		}

		path := filepath.Join(r.opts.ImagesDir, row.Filename)
		if outcome, msg := checkImage(path); outcome != "" {
			r.sink.OnLog(events.LevelError, msg)
			r.record(ctx, Attempt{Filename: row.Filename, Outcome: outcome, Detail: msg})
			res.Skipped++
			continue
		}
		r.sink.OnPreview(path, row.Caption)

		if attempted > 0 {
			n := r.pacer.IntBetween(r.opts.PostMin, r.opts.PostMax)
			d := time.Duration(n) * r.opts.Unit
			r.sink.OnLog(events.LevelInfo, fmt.Sprintf("Waiting %s before next post", d))
			if stop, err := r.wait(ctx, d); stop {
				res.Stopped = err == nil
				return res, err
			}
			// A pause requested during the last tick must hold before the upload.
			if !r.checkpoint(ctx) {
				if err := ctx.Err(); err != nil {
					return res, err
				}
				res.Stopped = true
				break
			}
		}
		attempted++

		r.sink.OnStatus(fmt.Sprintf("Posting %s", row.Filename))
		mediaID, err := r.post(ctx, path, row.Caption)
		if err == nil {
			file.MarkPosted(i, r.opts.Now())
			if err := file.Save(); err != nil {
				r.sink.OnLog(events.LevelError, fmt.Sprintf("Error saving progress: %v", err))
				return res, fmt.Errorf("engine: save progress: %w", err)
			}
			res.Posted++
			r.sink.OnProgress(res.Posted, res.Total)
			r.sink.OnLog(events.LevelInfo, fmt.Sprintf("Successfully posted %s", row.Filename))
			r.record(ctx, Attempt{Filename: row.Filename, Outcome: OutcomePosted, MediaID: mediaID})
			r.cadence(ctx, res.Posted)
			continue
		}

		switch platform.KindOf(err) {
		case platform.KindRateLimited:
			n := r.pacer.IntBetween(r.opts.PostMax, 2*r.opts.PostMax)
			d := time.Duration(n) * r.opts.Unit
			r.sink.OnLog(events.LevelWarning, fmt.Sprintf("Rate limited, backing off for %s", d))
			r.record(ctx, Attempt{Filename: row.Filename, Outcome: OutcomeRateLimited, Detail: err.Error()})
			if stop, err := r.wait(ctx, d); stop {
				res.Stopped = err == nil
				return res, err
			}
		case platform.KindConnection:
			r.sink.OnLog(events.LevelError, fmt.Sprintf("Network error posting %s: %v", row.Filename, err))
			r.record(ctx, Attempt{Filename: row.Filename, Outcome: OutcomeNetworkError, Detail: err.Error()})
		default:
			res.Failed++
			r.sink.OnLog(events.LevelError, fmt.Sprintf("Error posting %s: %v", row.Filename, err))
			r.record(ctx, Attempt{Filename: row.Filename, Outcome: OutcomeFailed, Detail: err.Error()})
			if res.Failed >= r.opts.MaxErrors {
				r.sink.OnLog(events.LevelError, fmt.Sprintf("Too many errors (%d), stopping", res.Failed))
				return res, ErrTooManyErrors
			}
			if err := r.checkSession(ctx); err != nil {
				if r.ctl.Stopped() {
					res.Stopped = true
					return res, nil
				}
				return res, err
			}
		}
	}

	r.sink.OnLog(events.LevelInfo, fmt.Sprintf("Run complete: %d posted, %d failed, %d skipped", res.Posted, res.Failed, res.Skipped))
	return res, nil
}

// checkpoint is the cooperative check between rows. It reports false when
// the run must end.
func (r *runner) checkpoint(ctx context.Context) bool {
	if r.ctl.Stopped() || ctx.Err() != nil {
		return false
	}
	if r.ctl.Paused() {
		r.sink.OnLog(events.LevelInfo, "Paused")
		if !r.pacer.HoldWhilePaused(ctx, r.ctl) {
			return false
		}
		r.sink.OnLog(events.LevelInfo, "Resumed")
	}
	return true
}

// wait performs an interruptible wait. stop is true when the run must end;
// err is non-nil only for context cancellation.
func (r *runner) wait(ctx context.Context, d time.Duration) (stop bool, err error) {
	switch r.pacer.Wait(ctx, r.ctl, r.ticks(d)) {
	case pacing.WaitStopped:
		r.sink.OnLog(events.LevelInfo, "Stop requested during wait")
		return true, nil
	case pacing.WaitCancelled:
		return true, ctx.Err()
	}
	return false, nil
}

func (r *runner) ticks(d time.Duration) int {
	return int(d / r.pacer.Tick())
}

// post uploads one image, relocating hashtags into a comment when enabled.
func (r *runner) post(ctx context.Context, path, caption string) (string, error) {
	body, tags := splitCaption(caption, r.opts.HashtagsInComment)
	mediaID, err := r.opts.Client.UploadImage(ctx, path, body)
	if err != nil {
		return "", err
	}
	if tags != "" {
		if err := r.opts.Client.AddComment(ctx, mediaID, tags); err != nil {
			r.sink.OnLog(events.LevelWarning, fmt.Sprintf("Posted but adding hashtag comment failed: %v", err))
		}
	}
	return mediaID, nil
}

// splitCaption splits at the first '#' when relocation is on. The returned
// tags keep their leading '#'; an empty tags value means no comment.
func splitCaption(caption string, relocate bool) (body, tags string) {
	if !relocate {
		return caption, ""
	}
	idx := strings.Index(caption, "#")
	if idx < 0 {
		return caption, ""
	}
	return strings.TrimSpace(caption[:idx]), "#" + strings.TrimSpace(caption[idx+1:])
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// checkImage returns a non-empty outcome and message when the row must be
// skipped.
func checkImage(path string) (Outcome, string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return OutcomeMissingImage, fmt.Sprintf("Image not found: %s", path)
	}
	if !imageExts[strings.ToLower(filepath.Ext(path))] {
		return OutcomeUnsupportedFormat, fmt.Sprintf("Unsupported image format: %s", path)
	}
	return "", ""
}

// checkSession probes the session after a failure and logs in again when it
// has been invalidated.
func (r *runner) checkSession(ctx context.Context) error {
	err := r.opts.Client.ProbeSession(ctx)
	if err == nil {
		return nil
	}
	if platform.KindOf(err) != platform.KindAuthRequired {
		r.sink.OnLog(events.LevelWarning, fmt.Sprintf("Session check failed: %v", err))
		return nil
	}
	r.sink.OnLog(events.LevelWarning, "Session invalid, logging in again")
	if r.opts.Relogin == nil {
		return fmt.Errorf("engine: session invalid: %w", err)
	}
	if err := r.opts.Relogin(ctx); err != nil {
		r.sink.OnLog(events.LevelError, fmt.Sprintf("Re-login failed: %v", err))
		return fmt.Errorf("engine: relogin: %w", err)
	}
	return nil
}

func (r *runner) record(ctx context.Context, a Attempt) {
	if r.opts.Attempts == nil {
		return
	}
	if err := r.opts.Attempts.RecordAttempt(ctx, a); err != nil {
		log.Printf("engine: record attempt for %s: %v", a.Filename, err)
	}
}
