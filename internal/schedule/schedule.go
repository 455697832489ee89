// Package schedule runs a job on a standard 5-field cron expression.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom,
// month, dow) plus descriptors such as @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether expr is a usable schedule.
func Validate(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("schedule: parse %q: %w", expr, err)
	}
	return nil
}

// Next returns the first fire time of expr strictly after from.
func Next(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: parse %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// nextCronDuration returns the duration from now until the next fire time.
// Returns 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	next, err := Next(expr, now)
	if err != nil {
		return 0
	}
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Opts holds parameters for Loop.
type Opts struct {
	Expr string
	Job  func(ctx context.Context) error
	// Now and After are replaced in tests.
	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time
}

// Loop fires Job at every tick of Expr until ctx is cancelled. Job errors
// are logged and do not stop the loop. Ticks that pass while Job is still
// running are skipped.
func Loop(ctx context.Context, opts Opts) error {
	if opts.Job == nil {
		return fmt.Errorf("schedule: job is required")
	}
	if err := Validate(opts.Expr); err != nil {
		return err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	after := opts.After
	if after == nil {
		after = time.After
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := nextCronDuration(opts.Expr, now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-after(wait):
		}
		if err := opts.Job(ctx); err != nil {
			log.Printf("schedule: job: %v", err)
		}
	}
}
