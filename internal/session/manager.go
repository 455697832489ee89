// Package session establishes the authenticated platform session for a run:
// it restores a saved session when one is still valid, otherwise logs in
// with credentials, and suspends on two-factor or challenge verification
// until a code is supplied from outside the worker.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/postyard/internal/events"
	"github.com/zulandar/postyard/internal/pacing"
	"github.com/zulandar/postyard/internal/platform"
)

var (
	// ErrNoInterrupt is returned by Resolve when no verification of the
	// given kind is pending.
	ErrNoInterrupt = errors.New("session: no verification pending")
	// ErrStopped is returned when the run is stopped while waiting for a
	// verification code.
	ErrStopped = errors.New("session: stopped while awaiting verification")
)

// Handle describes an established session. The session itself lives in the
// platform client.
type Handle struct {
	Username string
	FullName string
	Restored bool
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Client   platform.Client
	Store    *Store
	Sink     events.Sink
	Pacer    *pacing.Pacer
	Control  *pacing.Control
	Username string
	Password string
	Now      func() time.Time
}

// Manager owns the login lifecycle for one account.
type Manager struct {
	client   platform.Client
	store    *Store
	sink     events.Sink
	pacer    *pacing.Pacer
	ctl      *pacing.Control
	username string
	password string
	now      func() time.Time

	mu      sync.Mutex
	pending *interrupt
}

// interrupt is a one-shot slot for a verification code.
type interrupt struct {
	kind  events.InterruptKind
	codes chan string
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("session: client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if opts.Username == "" {
		return nil, fmt.Errorf("session: username is required")
	}
	m := &Manager{
		client:   opts.Client,
		store:    opts.Store,
		sink:     opts.Sink,
		pacer:    opts.Pacer,
		ctl:      opts.Control,
		username: opts.Username,
		password: opts.Password,
		now:      opts.Now,
	}
	if m.sink == nil {
		m.sink = events.Discard{}
	}
	if m.pacer == nil {
		m.pacer = pacing.NewPacer(pacing.PacerOpts{})
	}
	if m.ctl == nil {
		m.ctl = pacing.NewControl()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Establish returns an authenticated session, preferring the saved one.
func (m *Manager) Establish(ctx context.Context) (Handle, error) {
	if blob, ok := m.store.Load(m.username); ok {
		h, err := m.restore(ctx, blob)
		if err == nil {
			return h, nil
		}
		if ctx.Err() != nil {
			return Handle{}, ctx.Err()
		}
		m.sink.OnLog(events.LevelWarning, fmt.Sprintf("Session error: %v", err))
		m.sink.OnLog(events.LevelInfo, "Attempting fresh login")
	}
	return m.Login(ctx)
}

func (m *Manager) restore(ctx context.Context, blob []byte) (Handle, error) {
	m.sink.OnLog(events.LevelInfo, "Loading saved session")
	if err := m.client.RestoreSession(ctx, blob); err != nil {
		return Handle{}, err
	}
	m.pacer.Jitter(ctx, 1500*time.Millisecond, 3*time.Second)
	if err := m.client.ProbeSession(ctx); err != nil {
		return Handle{}, err
	}
	m.pacer.Jitter(ctx, time.Second, 2*time.Second)
	acct, err := m.client.AccountInfo(ctx)
	if err != nil {
		return Handle{}, err
	}
	m.sink.OnLog(events.LevelInfo, fmt.Sprintf("Logged in as %s using saved session", displayName(acct)))
	return Handle{Username: acct.Username, FullName: acct.FullName, Restored: true}, nil
}

// Login performs a credential login, suspending on two-factor or challenge
// verification. The engine also calls it to recover an invalidated session.
func (m *Manager) Login(ctx context.Context) (Handle, error) {
	m.sink.OnLog(events.LevelInfo, fmt.Sprintf("Logging in as %s", m.username))
	m.pacer.Jitter(ctx, 2*time.Second, 4*time.Second)
	err := m.client.Login(ctx, m.username, m.password)
	m.pacer.Jitter(ctx, time.Second, 2500*time.Millisecond)

	switch {
	case err == nil:
	case platform.KindOf(err) == platform.KindTwoFactorRequired:
		if err := m.verify(ctx, events.InterruptTwoFactor, m.client.SubmitTwoFactor); err != nil {
			return Handle{}, err
		}
	case platform.KindOf(err) == platform.KindChallengeRequired:
		if err := m.verify(ctx, events.InterruptChallenge, m.client.SubmitChallenge); err != nil {
			return Handle{}, err
		}
	default:
		m.sink.OnLog(events.LevelError, fmt.Sprintf("Login failed: %v", err))
		return Handle{}, fmt.Errorf("session: login: %w", err)
	}

	m.persist(ctx)
	acct, err := m.client.AccountInfo(ctx)
	if err != nil {
		return Handle{}, fmt.Errorf("session: account info: %w", err)
	}
	m.sink.OnLog(events.LevelInfo, fmt.Sprintf("Logged in as %s", displayName(acct)))
	return Handle{Username: acct.Username, FullName: acct.FullName}, nil
}

// verify emits the interrupt, blocks until Resolve supplies a code, and
// submits it exactly once.
func (m *Manager) verify(ctx context.Context, kind events.InterruptKind, submit func(context.Context, string) error) error {
	slot := &interrupt{kind: kind, codes: make(chan string, 1)}
	m.mu.Lock()
	m.pending = slot
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.pending == slot {
			m.pending = nil
		}
		m.mu.Unlock()
	}()

	label := kindLabel(kind)
	m.sink.OnLog(events.LevelWarning, fmt.Sprintf("%s required for %s", label, m.username))
	m.sink.OnAuthInterrupt(events.Interrupt{Kind: kind, Username: m.username})

	var code string
	select {
	case code = <-slot.codes:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctl.Done():
		return ErrStopped
	}

	err := submit(ctx, code)
	m.pacer.Jitter(ctx, time.Second, 2500*time.Millisecond)
	if err != nil {
		m.sink.OnLog(events.LevelError, fmt.Sprintf("%s failed: %v", label, err))
		return fmt.Errorf("session: %s: %w", kind, err)
	}
	m.sink.OnLog(events.LevelInfo, fmt.Sprintf("%s accepted", label))
	return nil
}

// persist saves the current session. Failure costs only a future
// interactive login, so it is logged and not returned.
func (m *Manager) persist(ctx context.Context) {
	blob, err := m.client.DumpSession(ctx)
	if err == nil {
		err = m.store.Save(m.username, blob, m.now())
	}
	if err != nil {
		m.sink.OnLog(events.LevelWarning, fmt.Sprintf("Could not save session: %v", err))
		return
	}
	m.sink.OnLog(events.LevelInfo, "Session saved")
}

// Resolve delivers a verification code to a pending interrupt of the given
// kind. Each interrupt accepts one code.
func (m *Manager) Resolve(kind events.InterruptKind, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil || m.pending.kind != kind {
		return ErrNoInterrupt
	}
	m.pending.codes <- code
	m.pending = nil
	return nil
}

// Pending reports the kind of verification currently awaited, if any.
func (m *Manager) Pending() (events.InterruptKind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return "", false
	}
	return m.pending.kind, true
}

func kindLabel(kind events.InterruptKind) string {
	if kind == events.InterruptChallenge {
		return "Challenge verification"
	}
	return "Two-factor authentication"
}

func displayName(a platform.Account) string {
	if a.FullName == "" {
		return a.Username
	}
	return fmt.Sprintf("%s (%s)", a.Username, a.FullName)
}
