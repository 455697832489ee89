package pacing

import (
	"context"
	"sync"
	"testing"
	"time"
)

// countingSleeper records requested sleeps without sleeping.
type countingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	onTick func(n int)
}

func (s *countingSleeper) sleep(ctx context.Context, d time.Duration) {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	n := len(s.sleeps)
	hook := s.onTick
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (s *countingSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleeps)
}

func newTestPacer(s *countingSleeper) *Pacer {
	return NewPacer(PacerOpts{Seed: 7, Sleep: s.sleep})
}

func TestControl_Flags(t *testing.T) {
	c := NewControl()
	if c.Paused() || c.Stopped() {
		t.Fatal("new control should be running")
	}
	c.Pause()
	if !c.Paused() {
		t.Error("Pause did not set paused")
	}
	c.Resume()
	if c.Paused() {
		t.Error("Resume did not clear paused")
	}
	c.Stop()
	c.Stop()
	if !c.Stopped() {
		t.Error("Stop did not set stopped")
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done should be closed after Stop")
	}
}

func TestPacer_BetweenBounds(t *testing.T) {
	p := NewPacer(PacerOpts{Seed: 1})
	for i := 0; i < 200; i++ {
		d := p.Between(2*time.Second, 4*time.Second)
		if d < 2*time.Second || d > 4*time.Second {
			t.Fatalf("Between out of range: %v", d)
		}
		n := p.IntBetween(3, 6)
		if n < 3 || n > 6 {
			t.Fatalf("IntBetween out of range: %d", n)
		}
	}
}

func TestPacer_DegenerateRange(t *testing.T) {
	p := NewPacer(PacerOpts{Seed: 1})
	if got := p.IntBetween(2, 2); got != 2 {
		t.Errorf("IntBetween(2,2) = %d, want 2", got)
	}
	if got := p.Between(time.Second, time.Second); got != time.Second {
		t.Errorf("Between(1s,1s) = %v, want 1s", got)
	}
}

func TestPacer_ShuffleIsPermutation(t *testing.T) {
	p := NewPacer(PacerOpts{Seed: 3})
	xs := []int{0, 1, 2, 3, 4, 5, 6, 7}
	p.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })
	seen := make(map[int]bool)
	for _, x := range xs {
		seen[x] = true
	}
	if len(seen) != 8 {
		t.Errorf("shuffle lost elements: %v", xs)
	}
}

func TestPacer_WaitExactTicks(t *testing.T) {
	s := &countingSleeper{}
	p := newTestPacer(s)
	res := p.Wait(context.Background(), NewControl(), 2)
	if res != WaitCompleted {
		t.Fatalf("Wait = %v, want completed", res)
	}
	if s.count() != 2 {
		t.Errorf("sleeps = %d, want 2", s.count())
	}
	for _, d := range s.sleeps {
		if d != DefaultTick {
			t.Errorf("sleep = %v, want %v", d, DefaultTick)
		}
	}
}

func TestPacer_WaitZeroTicks(t *testing.T) {
	s := &countingSleeper{}
	p := newTestPacer(s)
	if res := p.Wait(context.Background(), NewControl(), 0); res != WaitCompleted {
		t.Fatalf("Wait = %v, want completed", res)
	}
	if s.count() != 0 {
		t.Errorf("sleeps = %d, want 0", s.count())
	}
}

func TestPacer_WaitStopsWithinOneTick(t *testing.T) {
	ctl := NewControl()
	s := &countingSleeper{}
	s.onTick = func(n int) {
		if n == 3 {
			ctl.Stop()
		}
	}
	p := newTestPacer(s)
	res := p.Wait(context.Background(), ctl, 100)
	if res != WaitStopped {
		t.Fatalf("Wait = %v, want stopped", res)
	}
	if s.count() != 3 {
		t.Errorf("sleeps = %d, want 3 (stop observed on the next tick)", s.count())
	}
}

func TestPacer_WaitHoldsWhilePaused(t *testing.T) {
	ctl := NewControl()
	s := &countingSleeper{}
	s.onTick = func(n int) {
		switch n {
		case 1:
			ctl.Pause()
		case 4:
			ctl.Resume()
		}
	}
	p := newTestPacer(s)
	if res := p.Wait(context.Background(), ctl, 2); res != WaitCompleted {
		t.Fatalf("Wait = %v, want completed", res)
	}
	// 1 counted tick, 3 held while paused, 1 more counted tick.
	if s.count() != 5 {
		t.Errorf("sleeps = %d, want 5", s.count())
	}
}

func TestPacer_WaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTestPacer(&countingSleeper{})
	if res := p.Wait(ctx, NewControl(), 5); res != WaitCancelled {
		t.Errorf("Wait = %v, want cancelled", res)
	}
}

func TestPacer_HoldWhilePaused(t *testing.T) {
	ctl := NewControl()
	ctl.Pause()
	s := &countingSleeper{}
	s.onTick = func(n int) {
		if n == 2 {
			ctl.Resume()
		}
	}
	p := newTestPacer(s)
	if !p.HoldWhilePaused(context.Background(), ctl) {
		t.Fatal("HoldWhilePaused = false, want true after resume")
	}
	if s.count() != 2 {
		t.Errorf("sleeps = %d, want 2", s.count())
	}

	ctl.Pause()
	s.onTick = func(int) { ctl.Stop() }
	if p.HoldWhilePaused(context.Background(), ctl) {
		t.Error("HoldWhilePaused = true, want false after stop")
	}
}

func TestSleepWithContext_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	sleepWithContext(ctx, time.Hour)
	if time.Since(start) > time.Second {
		t.Error("sleepWithContext ignored cancellation")
	}
}
