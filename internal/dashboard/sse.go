package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/postyard/internal/events"
)

// subscriberBuffer is how many events a slow SSE client may lag behind
// before further events are dropped for it.
const subscriberBuffer = 64

// heartbeatInterval keeps idle SSE connections alive through proxies.
var heartbeatInterval = 15 * time.Second

// sseEvent represents an SSE event to send to the client.
type sseEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type logEvent struct {
	Level events.Level `json:"level"`
	Msg   string       `json:"msg"`
	Time  string       `json:"time"`
}

type progressEvent struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type previewEvent struct {
	Image   string `json:"image"`
	Caption string `json:"caption"`
}

type interruptEvent struct {
	Kind     events.InterruptKind `json:"kind"`
	Username string               `json:"username"`
}

// Broadcaster is an events.Sink that fans run events out to every
// connected SSE client.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan sseEvent]struct{}
	now  func() time.Time
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan sseEvent]struct{}), now: time.Now}
}

// Subscribe registers a new listener. The returned func unregisters it.
func (b *Broadcaster) Subscribe() (<-chan sseEvent, func()) {
	ch := make(chan sseEvent, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of connected listeners.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) publish(evt sseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Broadcaster) OnLog(level events.Level, msg string) {
	b.publish(sseEvent{Event: "log", Data: logEvent{Level: level, Msg: msg, Time: b.now().Format("15:04:05")}})
}

func (b *Broadcaster) OnStatus(status string) {
	b.publish(sseEvent{Event: "status", Data: map[string]string{"status": status}})
}

func (b *Broadcaster) OnProgress(current, total int) {
	b.publish(sseEvent{Event: "progress", Data: progressEvent{Current: current, Total: total}})
}

func (b *Broadcaster) OnPreview(imagePath, caption string) {
	b.publish(sseEvent{Event: "preview", Data: previewEvent{Image: imagePath, Caption: caption}})
}

func (b *Broadcaster) OnAuthInterrupt(i events.Interrupt) {
	b.publish(sseEvent{Event: "interrupt", Data: interruptEvent{Kind: i.Kind, Username: i.Username}})
}

// handleEvents streams broadcaster events to the client until it
// disconnects.
func handleEvents(b *Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		ch, unsubscribe := b.Subscribe()
		defer unsubscribe()

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case evt := <-ch:
				writeSSE(c.Writer, evt.Event, evt.Data)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
