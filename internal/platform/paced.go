package platform

import (
	"context"
	"errors"
)

// ErrProxyUnsupported is returned by SetProxy when the wrapped client cannot
// switch proxies.
var ErrProxyUnsupported = errors.New("platform: client does not support proxies")

// Paced wraps a Client so that every remote call is preceded by wait.
// wait typically sleeps a random interval from the configured API delay
// range.
type Paced struct {
	inner Client
	wait  func(ctx context.Context)
}

// NewPaced returns a Paced client. A nil wait disables pacing.
func NewPaced(inner Client, wait func(ctx context.Context)) *Paced {
	if wait == nil {
		wait = func(context.Context) {}
	}
	return &Paced{inner: inner, wait: wait}
}

// Unwrap returns the wrapped client.
func (p *Paced) Unwrap() Client { return p.inner }

func (p *Paced) RestoreSession(ctx context.Context, blob []byte) error {
	// Restore is local deserialization, no round trip.
	return p.inner.RestoreSession(ctx, blob)
}

func (p *Paced) ProbeSession(ctx context.Context) error {
	p.wait(ctx)
	return p.inner.ProbeSession(ctx)
}

func (p *Paced) Login(ctx context.Context, username, password string) error {
	p.wait(ctx)
	return p.inner.Login(ctx, username, password)
}

func (p *Paced) SubmitTwoFactor(ctx context.Context, code string) error {
	p.wait(ctx)
	return p.inner.SubmitTwoFactor(ctx, code)
}

func (p *Paced) SubmitChallenge(ctx context.Context, code string) error {
	p.wait(ctx)
	return p.inner.SubmitChallenge(ctx, code)
}

func (p *Paced) DumpSession(ctx context.Context) ([]byte, error) {
	return p.inner.DumpSession(ctx)
}

func (p *Paced) UploadImage(ctx context.Context, path, caption string) (string, error) {
	p.wait(ctx)
	return p.inner.UploadImage(ctx, path, caption)
}

func (p *Paced) AddComment(ctx context.Context, mediaID, text string) error {
	p.wait(ctx)
	return p.inner.AddComment(ctx, mediaID, text)
}

func (p *Paced) ListOwnStories(ctx context.Context) ([]string, error) {
	p.wait(ctx)
	return p.inner.ListOwnStories(ctx)
}

func (p *Paced) ViewStory(ctx context.Context, storyID string) error {
	p.wait(ctx)
	return p.inner.ViewStory(ctx, storyID)
}

func (p *Paced) AccountInfo(ctx context.Context) (Account, error) {
	p.wait(ctx)
	return p.inner.AccountInfo(ctx)
}

// SetProxy forwards to the wrapped client when it implements ProxySetter.
func (p *Paced) SetProxy(proxyURL string) error {
	ps, ok := p.inner.(ProxySetter)
	if !ok {
		return ErrProxyUnsupported
	}
	return ps.SetProxy(proxyURL)
}
