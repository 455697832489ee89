package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// DryRun is a Client that performs no network traffic. It authenticates
// any credentials and prints what it would have posted to out.
type DryRun struct {
	mu       sync.Mutex
	out      io.Writer
	username string
	loggedIn bool
	counter  int
	proxy    string
}

type dryRunSession struct {
	Username string `json:"username"`
	Proxy    string `json:"proxy,omitempty"`
}

// NewDryRun creates a DryRun client writing to out (stdout when nil).
func NewDryRun(out io.Writer) *DryRun {
	if out == nil {
		out = os.Stdout
	}
	return &DryRun{out: out}
}

func (d *DryRun) RestoreSession(ctx context.Context, blob []byte) error {
	var s dryRunSession
	if err := json.Unmarshal(blob, &s); err != nil || s.Username == "" {
		return Errorf(KindAuthRequired, "restore session", "unreadable dry-run session")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.username = s.Username
	d.proxy = s.Proxy
	d.loggedIn = true
	return nil
}

func (d *DryRun) ProbeSession(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loggedIn {
		return &Error{Kind: KindAuthRequired, Op: "probe"}
	}
	return nil
}

func (d *DryRun) Login(ctx context.Context, username, password string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.username = username
	d.loggedIn = true
	return nil
}

func (d *DryRun) SubmitTwoFactor(ctx context.Context, code string) error { return nil }

func (d *DryRun) SubmitChallenge(ctx context.Context, code string) error { return nil }

func (d *DryRun) DumpSession(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(dryRunSession{Username: d.username, Proxy: d.proxy})
}

func (d *DryRun) UploadImage(ctx context.Context, path, caption string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counter++
	id := fmt.Sprintf("dry-%d", d.counter)
	fmt.Fprintf(d.out, "[dryrun] upload %s as %s (caption %d chars)\n", path, id, len(caption))
	return id, nil
}

func (d *DryRun) AddComment(ctx context.Context, mediaID, text string) error {
	fmt.Fprintf(d.out, "[dryrun] comment on %s: %s\n", mediaID, text)
	return nil
}

func (d *DryRun) ListOwnStories(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (d *DryRun) ViewStory(ctx context.Context, storyID string) error { return nil }

func (d *DryRun) AccountInfo(ctx context.Context) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loggedIn {
		return Account{}, &Error{Kind: KindAuthRequired, Op: "account info"}
	}
	return Account{Username: d.username, FullName: d.username}, nil
}

// SetProxy implements ProxySetter.
func (d *DryRun) SetProxy(proxyURL string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.proxy = proxyURL
	fmt.Fprintf(d.out, "[dryrun] proxy set to %s\n", proxyURL)
	return nil
}
