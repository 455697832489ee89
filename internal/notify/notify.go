// Package notify forwards run events to chat channels so an operator can
// follow a long run, and answer a verification prompt, away from the
// terminal.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/postyard/internal/events"
)

// DefaultQueueSize bounds the number of undelivered messages.
const DefaultQueueSize = 64

// sendTimeout caps a single delivery attempt.
const sendTimeout = 15 * time.Second

// Sender delivers one text message to a chat channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	Senders   []Sender
	Account   string   // prefixed to every message
	Levels    []string // log levels forwarded; empty forwards none
	QueueSize int
}

// Notifier is an events.Sink that delivers selected events to every
// sender from a background goroutine. Events arriving while the queue is
// full are dropped so the posting worker never blocks on a chat API.
type Notifier struct {
	senders []Sender
	account string
	levels  map[events.Level]bool
	queue   chan string

	mu         sync.Mutex
	lastStatus string
	dropped    int
	closed     bool

	done chan struct{}
}

// New creates a Notifier and starts its delivery goroutine.
func New(opts Opts) (*Notifier, error) {
	if len(opts.Senders) == 0 {
		return nil, fmt.Errorf("notify: at least one sender is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	n := &Notifier{
		senders: opts.Senders,
		account: opts.Account,
		levels:  make(map[events.Level]bool),
		queue:   make(chan string, size),
		done:    make(chan struct{}),
	}
	for _, l := range opts.Levels {
		n.levels[events.Level(strings.ToLower(strings.TrimSpace(l)))] = true
	}
	go n.deliver()
	return n, nil
}

func (n *Notifier) OnLog(level events.Level, msg string) {
	if !n.levels[level] {
		return
	}
	n.enqueue(fmt.Sprintf("%s: %s", strings.ToUpper(string(level)), msg))
}

// OnStatus forwards status changes; a repeat of the previous status is
// suppressed.
func (n *Notifier) OnStatus(status string) {
	n.mu.Lock()
	if status == n.lastStatus {
		n.mu.Unlock()
		return
	}
	n.lastStatus = status
	n.mu.Unlock()
	n.enqueue(status)
}

func (n *Notifier) OnProgress(int, int)      {}
func (n *Notifier) OnPreview(string, string) {}

func (n *Notifier) OnAuthInterrupt(i events.Interrupt) {
	switch i.Kind {
	case events.InterruptTwoFactor:
		n.enqueue(fmt.Sprintf("Two-factor code required for %s", i.Username))
	case events.InterruptChallenge:
		n.enqueue(fmt.Sprintf("Challenge code required for %s", i.Username))
	}
}

// Dropped returns how many messages were discarded because the queue was
// full or the notifier was closed.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close stops accepting events and waits for queued messages to be sent.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) enqueue(text string) {
	if n.account != "" {
		text = "[" + n.account + "] " + text
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.dropped++
		return
	}
	select {
	case n.queue <- text:
	default:
		n.dropped++
	}
}

func (n *Notifier) deliver() {
	defer close(n.done)
	for text := range n.queue {
		for _, s := range n.senders {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := s.Send(ctx, text); err != nil {
				log.Printf("notify: %s: %v", s.Name(), err)
			}
			cancel()
		}
	}
}
