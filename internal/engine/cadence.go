package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/postyard/internal/events"
	"github.com/zulandar/postyard/internal/platform"
)

// cadence runs the periodic side actions after the posted-th success. Both
// actions are best-effort.
func (r *runner) cadence(ctx context.Context, posted int) {
	if posted%r.opts.RotateEvery == 0 {
		r.rotateProxy()
	}
	if posted%r.opts.StoriesEvery == 0 {
		r.viewStories(ctx)
	}
}

// rotateProxy switches to the next proxy in the list, round robin.
func (r *runner) rotateProxy() {
	if len(r.opts.Proxies) < 2 {
		return
	}
	setter, ok := r.opts.Client.(platform.ProxySetter)
	if !ok {
		return
	}
	next := (r.proxyIdx + 1) % len(r.opts.Proxies)
	if err := setter.SetProxy(r.opts.Proxies[next]); err != nil {
		if !errors.Is(err, platform.ErrProxyUnsupported) {
			r.sink.OnLog(events.LevelWarning, fmt.Sprintf("Proxy rotation failed: %v", err))
		}
		return
	}
	r.proxyIdx = next
	r.sink.OnLog(events.LevelInfo, fmt.Sprintf("Rotated to proxy %d of %d", next+1, len(r.opts.Proxies)))
}

// viewStories views up to MaxStories of the account's own stories with a
// short random pause between views.
func (r *runner) viewStories(ctx context.Context) {
	ids, err := r.opts.Client.ListOwnStories(ctx)
	if err != nil {
		r.sink.OnLog(events.LevelWarning, fmt.Sprintf("Error viewing stories: %v", err))
		return
	}
	if len(ids) > r.opts.MaxStories {
		ids = ids[:r.opts.MaxStories]
	}
	viewed := 0
	for _, id := range ids {
		if r.ctl.Stopped() || ctx.Err() != nil {
			break
		}
		if err := r.opts.Client.ViewStory(ctx, id); err != nil {
			r.sink.OnLog(events.LevelWarning, fmt.Sprintf("Error viewing story %s: %v", id, err))
			continue
		}
		viewed++
		r.pacer.Jitter(ctx, 2*time.Second, 5*time.Second)
	}
	if viewed > 0 {
		r.sink.OnLog(events.LevelDebug, fmt.Sprintf("Viewed %d stories", viewed))
	}
}
