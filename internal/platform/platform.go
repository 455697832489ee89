// Package platform defines the narrow capability interface Postyard uses to
// talk to the remote social-media platform, and the closed set of outcomes
// every remote call can report.
package platform

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies the outcome of a remote call. A nil error is success.
type Kind int

const (
	// KindFatal is any failure not covered by a more specific kind.
	KindFatal Kind = iota
	KindConnection
	KindRateLimited
	KindAuthRequired
	// KindTwoFactorRequired and KindChallengeRequired are only returned by Login.
	KindTwoFactorRequired
	KindChallengeRequired
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection_error"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthRequired:
		return "auth_required"
	case KindTwoFactorRequired:
		return "two_factor_required"
	case KindChallengeRequired:
		return "challenge_required"
	default:
		return "fatal"
	}
}

// Error is the error type returned by Client implementations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("platform: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("platform: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind carried by err. Errors that are not *Error are
// KindFatal; callers must check err != nil first.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}

// Account is the identity behind an authenticated session.
type Account struct {
	UserID   string
	Username string
	FullName string
}

// Client is the set of remote capabilities the session manager and posting
// engine consume. Implementations hold the authenticated session internally.
// Every method returns nil or an *Error.
type Client interface {
	// RestoreSession loads a previously dumped session blob.
	RestoreSession(ctx context.Context, blob []byte) error
	// ProbeSession performs a lightweight read-only call to validate the
	// current session; it returns KindAuthRequired when a login is needed.
	ProbeSession(ctx context.Context) error
	// Login authenticates with credentials. It may return
	// KindTwoFactorRequired or KindChallengeRequired.
	Login(ctx context.Context, username, password string) error
	SubmitTwoFactor(ctx context.Context, code string) error
	SubmitChallenge(ctx context.Context, code string) error
	// DumpSession serializes the current session for later restore.
	DumpSession(ctx context.Context) ([]byte, error)
	// UploadImage posts the image with a caption and returns the media ID.
	UploadImage(ctx context.Context, path, caption string) (string, error)
	AddComment(ctx context.Context, mediaID, text string) error
	ListOwnStories(ctx context.Context) ([]string, error)
	ViewStory(ctx context.Context, storyID string) error
	AccountInfo(ctx context.Context) (Account, error)
}

// ProxySetter is an optional interface for clients that can switch their
// network egress. The posting engine uses it for periodic proxy rotation.
type ProxySetter interface {
	SetProxy(proxyURL string) error
}
