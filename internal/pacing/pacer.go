package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultTick is the granularity at which interruptible waits re-check the
// run controls.
const DefaultTick = time.Second

// SleepFunc sleeps for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration)

// WaitResult reports how an interruptible wait ended.
type WaitResult int

const (
	WaitCompleted WaitResult = iota
	WaitStopped
	WaitCancelled
)

// Pacer draws random delays and performs waits. Tests replace the sleep
// function to count waits without spending wall-clock time.
type Pacer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep SleepFunc
	tick  time.Duration
}

// PacerOpts holds parameters for creating a Pacer.
type PacerOpts struct {
	Seed  uint64        // 0 seeds from the runtime source
	Sleep SleepFunc     // defaults to a context-aware time.After sleep
	Tick  time.Duration // defaults to DefaultTick
}

// NewPacer creates a Pacer.
func NewPacer(opts PacerOpts) *Pacer {
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Pacer{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		sleep: sleep,
		tick:  tick,
	}
}

// sleepWithContext sleeps for the given duration but returns early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Tick returns the interruptible wait granularity.
func (p *Pacer) Tick() time.Duration { return p.tick }

// Between returns a uniformly random duration in [min, max].
func (p *Pacer) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int64N(int64(max-min)+1))
}

// IntBetween returns a uniformly random integer in [min, max].
func (p *Pacer) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + p.rng.IntN(max-min+1)
}

// Shuffle randomizes the order of n elements using swap.
func (p *Pacer) Shuffle(n int, swap func(i, j int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rng.Shuffle(n, swap)
}

// Sleep pauses for d. Only ctx interrupts it; human-mimicry pauses around
// network calls are short and run to completion.
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) {
	p.sleep(ctx, d)
}

// Jitter sleeps a random duration in [min, max].
func (p *Pacer) Jitter(ctx context.Context, min, max time.Duration) {
	p.sleep(ctx, p.Between(min, max))
}

// Wait sleeps for ticks intervals of Tick, checking ctl before each one.
// While the run is paused the remaining ticks are held, not consumed, so a
// resumed wait continues where it left off. Stop ends the wait immediately.
func (p *Pacer) Wait(ctx context.Context, ctl *Control, ticks int) WaitResult {
	for remaining := ticks; remaining > 0; {
		if ctx.Err() != nil {
			return WaitCancelled
		}
		if ctl.Stopped() {
			return WaitStopped
		}
		if !ctl.Paused() {
			remaining--
		}
		p.sleep(ctx, p.tick)
	}
	if ctx.Err() != nil {
		return WaitCancelled
	}
	if ctl.Stopped() {
		return WaitStopped
	}
	return WaitCompleted
}

// HoldWhilePaused blocks, polling at Tick granularity, until ctl is resumed
// or stopped. It returns false when the run was stopped or ctx ended.
func (p *Pacer) HoldWhilePaused(ctx context.Context, ctl *Control) bool {
	for ctl.Paused() {
		if ctl.Stopped() || ctx.Err() != nil {
			return false
		}
		p.sleep(ctx, p.tick)
	}
	return !ctl.Stopped() && ctx.Err() == nil
}
