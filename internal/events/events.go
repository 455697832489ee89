// Package events defines the sink through which a posting run reports
// progress to whatever front end is attached: terminal, dashboard, chat
// notifications or a test recorder.
package events

import (
	"strings"
	"sync"
)

// Level is the severity of a log event.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// InterruptKind distinguishes the two authentication interrupts.
type InterruptKind string

const (
	InterruptTwoFactor InterruptKind = "two_factor"
	InterruptChallenge InterruptKind = "challenge"
)

// Interrupt asks the front end to obtain a verification code from the human.
type Interrupt struct {
	Kind     InterruptKind
	Username string
}

// Sink receives run events. Implementations must be safe for use from the
// worker goroutine while the front end reads their state.
type Sink interface {
	OnLog(level Level, msg string)
	OnStatus(status string)
	OnProgress(current, total int)
	OnPreview(imagePath, caption string)
	OnAuthInterrupt(i Interrupt)
}

// Discard is a Sink that drops every event.
type Discard struct{}

func (Discard) OnLog(Level, string)       {}
func (Discard) OnStatus(string)           {}
func (Discard) OnProgress(int, int)       {}
func (Discard) OnPreview(string, string)  {}
func (Discard) OnAuthInterrupt(Interrupt) {}

// Multi fans every event out to each sink in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) OnLog(level Level, msg string) {
	for _, s := range m {
		s.OnLog(level, msg)
	}
}

func (m multi) OnStatus(status string) {
	for _, s := range m {
		s.OnStatus(status)
	}
}

func (m multi) OnProgress(current, total int) {
	for _, s := range m {
		s.OnProgress(current, total)
	}
}

func (m multi) OnPreview(imagePath, caption string) {
	for _, s := range m {
		s.OnPreview(imagePath, caption)
	}
}

func (m multi) OnAuthInterrupt(i Interrupt) {
	for _, s := range m {
		s.OnAuthInterrupt(i)
	}
}

// LogEntry is one recorded log event.
type LogEntry struct {
	Level Level
	Msg   string
}

// Progress is one recorded progress event.
type Progress struct {
	Current int
	Total   int
}

// Preview is one recorded preview event.
type Preview struct {
	ImagePath string
	Caption   string
}

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu         sync.Mutex
	logs       []LogEntry
	statuses   []string
	progress   []Progress
	previews   []Preview
	interrupts []Interrupt
	onEvent    func()
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnEvent registers fn to run after every recorded event, outside the lock.
func (r *Recorder) OnEvent(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = fn
}

func (r *Recorder) add(fn func()) {
	r.mu.Lock()
	fn()
	hook := r.onEvent
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (r *Recorder) OnLog(level Level, msg string) {
	r.add(func() { r.logs = append(r.logs, LogEntry{Level: level, Msg: msg}) })
}

func (r *Recorder) OnStatus(status string) {
	r.add(func() { r.statuses = append(r.statuses, status) })
}

func (r *Recorder) OnProgress(current, total int) {
	r.add(func() { r.progress = append(r.progress, Progress{Current: current, Total: total}) })
}

func (r *Recorder) OnPreview(imagePath, caption string) {
	r.add(func() { r.previews = append(r.previews, Preview{ImagePath: imagePath, Caption: caption}) })
}

func (r *Recorder) OnAuthInterrupt(i Interrupt) {
	r.add(func() { r.interrupts = append(r.interrupts, i) })
}

// Logs returns a copy of all log entries.
func (r *Recorder) Logs() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.logs...)
}

// Statuses returns a copy of all status changes.
func (r *Recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

// Progress returns a copy of all progress events.
func (r *Recorder) Progress() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.progress...)
}

// Previews returns a copy of all preview events.
func (r *Recorder) Previews() []Preview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Preview(nil), r.previews...)
}

// Interrupts returns a copy of all auth interrupts.
func (r *Recorder) Interrupts() []Interrupt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Interrupt(nil), r.interrupts...)
}

// HasLog reports whether any log entry at level contains substr.
func (r *Recorder) HasLog(level Level, substr string) bool {
	for _, e := range r.Logs() {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

// LastStatus returns the most recent status, or "" if none.
func (r *Recorder) LastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}
