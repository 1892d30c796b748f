package ws

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventMigrationQueued    = "migration.queued"
	EventMigrationStarted   = "migration.started"
	EventMigrationCompleted = "migration.completed"
	EventDailyCheck         = "scheduler.daily_check"
)

type Event struct {
	Type    string `json:"type"`
	Ts      string `json:"ts"`
	Seq     int64  `json:"seq"`
	TaskID  string `json:"taskId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type Message struct {
	Seq  int64
	Type string
	Data []byte
}

type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	seq     int64
	buffer  []Message
	now     func() time.Time
}

type Client struct {
	send chan Message
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		now:     time.Now,
	}
}

func (h *Hub) Subscribe() *Client {
	c, _ := h.SubscribeFrom(0)
	return c
}

// SubscribeFrom registers a client and returns buffered messages newer than afterSeq.
func (h *Hub) SubscribeFrom(afterSeq int64) (client *Client, backlog []Message) {
	c := &Client{send: make(chan Message, 128)}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}

	if afterSeq > 0 && len(h.buffer) > 0 {
		out := make([]Message, 0, len(h.buffer))
		for _, msg := range h.buffer {
			if msg.Seq > afterSeq {
				out = append(out, msg)
			}
		}
		backlog = out
	}
	return c, backlog
}

func (c *Client) Messages() <-chan Message {
	return c.send
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
}

// Publish fans an event out to every subscriber. Slow clients drop messages rather than block.
// A nil Hub discards events.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	evt.Seq = h.seq
	evt.Ts = h.now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	msg := Message{Seq: evt.Seq, Type: evt.Type, Data: data}

	const maxBuffered = 512
	h.buffer = append(h.buffer, msg)
	if len(h.buffer) > maxBuffered {
		h.buffer = h.buffer[len(h.buffer)-maxBuffered:]
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
