package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Upload records one successful UploadImage call on a MockClient.
type Upload struct {
	Path    string
	Caption string
	MediaID string
}

// Comment records one AddComment call on a MockClient.
type Comment struct {
	MediaID string
	Text    string
}

// MockClient implements Client and ProxySetter for testing. It records every
// call and lets tests script failures per capability.
type MockClient struct {
	mu sync.Mutex

	loggedIn     bool
	username     string
	restoreErr   error
	probeErr     error
	loginErr     error
	twoFactorErr error
	challengeErr error
	accountErr   error
	commentErr   error
	storiesErr   error
	uploadErrs   []error
	uploadHook   func(path, caption string)
	stories      []string
	mediaCounter int

	calls      []string
	uploads    []Upload
	comments   []Comment
	viewed     []string
	proxies    []string
	codes      []string
	restoredAs []byte
}

// NewMockClient creates a MockClient with no scripted failures.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) record(call string) {
	m.calls = append(m.calls, call)
}

// RestoreSession accepts any blob unless a restore error is scripted.
func (m *MockClient) RestoreSession(ctx context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RestoreSession")
	if m.restoreErr != nil {
		return m.restoreErr
	}
	m.restoredAs = append([]byte(nil), blob...)
	m.username = strings.TrimPrefix(string(blob), "mock-session:")
	m.loggedIn = true
	return nil
}

// ProbeSession fails with KindAuthRequired until a login or restore succeeds.
func (m *MockClient) ProbeSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ProbeSession")
	if m.probeErr != nil {
		return m.probeErr
	}
	if !m.loggedIn {
		return &Error{Kind: KindAuthRequired, Op: "probe"}
	}
	return nil
}

// Login returns the scripted login error, if any, and otherwise logs in.
func (m *MockClient) Login(ctx context.Context, username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Login")
	m.username = username
	if m.loginErr != nil {
		return m.loginErr
	}
	m.loggedIn = true
	return nil
}

// SubmitTwoFactor records the code and completes login unless scripted to fail.
func (m *MockClient) SubmitTwoFactor(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SubmitTwoFactor")
	m.codes = append(m.codes, code)
	if m.twoFactorErr != nil {
		return m.twoFactorErr
	}
	m.loggedIn = true
	return nil
}

// SubmitChallenge records the code and completes login unless scripted to fail.
func (m *MockClient) SubmitChallenge(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SubmitChallenge")
	m.codes = append(m.codes, code)
	if m.challengeErr != nil {
		return m.challengeErr
	}
	m.loggedIn = true
	return nil
}

// DumpSession returns a blob naming the logged-in user.
func (m *MockClient) DumpSession(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DumpSession")
	if !m.loggedIn {
		return nil, &Error{Kind: KindAuthRequired, Op: "dump session"}
	}
	return []byte("mock-session:" + m.username), nil
}

// UploadImage consumes the next scripted upload error; a nil entry or an
// empty queue succeeds.
func (m *MockClient) UploadImage(ctx context.Context, path, caption string) (string, error) {
	m.mu.Lock()
	m.record("UploadImage")
	if len(m.uploadErrs) > 0 {
		err := m.uploadErrs[0]
		m.uploadErrs = m.uploadErrs[1:]
		if err != nil {
			m.mu.Unlock()
			return "", err
		}
	}
	m.mediaCounter++
	id := fmt.Sprintf("media-%d", m.mediaCounter)
	m.uploads = append(m.uploads, Upload{Path: path, Caption: caption, MediaID: id})
	hook := m.uploadHook
	m.mu.Unlock()

	if hook != nil {
		hook(path, caption)
	}
	return id, nil
}

// AddComment records the comment unless scripted to fail.
func (m *MockClient) AddComment(ctx context.Context, mediaID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AddComment")
	if m.commentErr != nil {
		return m.commentErr
	}
	m.comments = append(m.comments, Comment{MediaID: mediaID, Text: text})
	return nil
}

// ListOwnStories returns the configured story IDs.
func (m *MockClient) ListOwnStories(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListOwnStories")
	if m.storiesErr != nil {
		return nil, m.storiesErr
	}
	return append([]string(nil), m.stories...), nil
}

// ViewStory records the viewed story.
func (m *MockClient) ViewStory(ctx context.Context, storyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ViewStory")
	m.viewed = append(m.viewed, storyID)
	return nil
}

// AccountInfo returns the account, the scripted account error, or
// KindAuthRequired when not logged in.
func (m *MockClient) AccountInfo(ctx context.Context) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AccountInfo")
	if m.accountErr != nil {
		return Account{}, m.accountErr
	}
	if !m.loggedIn {
		return Account{}, &Error{Kind: KindAuthRequired, Op: "account info"}
	}
	return Account{UserID: "42", Username: m.username, FullName: "Mock " + m.username}, nil
}

// SetProxy implements ProxySetter.
func (m *MockClient) SetProxy(proxyURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetProxy")
	m.proxies = append(m.proxies, proxyURL)
	return nil
}

// --- Test helpers ---

// SetRestoreError scripts RestoreSession failures.
func (m *MockClient) SetRestoreError(err error) { m.set(func() { m.restoreErr = err }) }

// SetProbeError scripts ProbeSession failures.
func (m *MockClient) SetProbeError(err error) { m.set(func() { m.probeErr = err }) }

// SetLoginError scripts the Login outcome.
func (m *MockClient) SetLoginError(err error) { m.set(func() { m.loginErr = err }) }

// SetTwoFactorError scripts SubmitTwoFactor failures.
func (m *MockClient) SetTwoFactorError(err error) { m.set(func() { m.twoFactorErr = err }) }

// SetChallengeError scripts SubmitChallenge failures.
func (m *MockClient) SetChallengeError(err error) { m.set(func() { m.challengeErr = err }) }

// SetAccountError scripts AccountInfo failures.
func (m *MockClient) SetAccountError(err error) { m.set(func() { m.accountErr = err }) }

// SetCommentError scripts AddComment failures.
func (m *MockClient) SetCommentError(err error) { m.set(func() { m.commentErr = err }) }

// SetStories configures the IDs ListOwnStories returns.
func (m *MockClient) SetStories(ids ...string) { m.set(func() { m.stories = ids }) }

// SetStoriesError scripts ListOwnStories failures.
func (m *MockClient) SetStoriesError(err error) { m.set(func() { m.storiesErr = err }) }

// QueueUploadErrors appends outcomes consumed by successive UploadImage calls.
func (m *MockClient) QueueUploadErrors(errs ...error) {
	m.set(func() { m.uploadErrs = append(m.uploadErrs, errs...) })
}

// SetUploadHook registers a function run after each successful upload.
func (m *MockClient) SetUploadHook(fn func(path, caption string)) { m.set(func() { m.uploadHook = fn }) }

// SetLoggedIn forces the logged-in flag.
func (m *MockClient) SetLoggedIn(v bool) { m.set(func() { m.loggedIn = v }) }

func (m *MockClient) set(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// Uploads returns a copy of all successful uploads.
func (m *MockClient) Uploads() []Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Upload(nil), m.uploads...)
}

// Comments returns a copy of all recorded comments.
func (m *MockClient) Comments() []Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Comment(nil), m.comments...)
}

// Viewed returns the viewed story IDs.
func (m *MockClient) Viewed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.viewed...)
}

// Proxies returns every proxy passed to SetProxy.
func (m *MockClient) Proxies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.proxies...)
}

// Codes returns every submitted 2FA/challenge code.
func (m *MockClient) Codes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.codes...)
}

// RestoredBlob returns the last blob passed to RestoreSession.
func (m *MockClient) RestoredBlob() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.restoredAs...)
}

// Calls returns the names of all calls in order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many times the named method was called.
func (m *MockClient) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}
