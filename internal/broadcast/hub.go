package broadcast

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType represents the type of a realtime message
type MessageType string

const (
	MessageTypeEventCreated   MessageType = "event-created"
	MessageTypeAlertTriggered MessageType = "alert-triggered"
	MessageTypeSourceStatus   MessageType = "source-status-changed"
	MessageTypeProcessing     MessageType = "processing-status"
	MessageTypeDoorbellRing   MessageType = "doorbell-ring"
	MessageTypeJobProgress    MessageType = "long-running-job-progress"
)

// Message is a typed realtime message fanned out to subscribers
type Message struct {
	Type      MessageType `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// subscriber holds one listener's bounded outbox. A slow subscriber
// loses its oldest queued messages instead of blocking publishers.
type subscriber struct {
	outbox chan Message
}

// Hub fans out typed messages to all subscribed listeners. Delivery is
// best-effort: publishing never blocks.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	outboxSize  int
	closed      bool
	upgrader    websocket.Upgrader
}

// NewHub creates a hub with the given per-subscriber outbox size
func NewHub(outboxSize int) *Hub {
	if outboxSize < 1 {
		outboxSize = 32
	}
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		outboxSize:  outboxSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // client auth is the outer layer's concern
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Publish fans a message out to every subscriber. When a subscriber's
// outbox is full the oldest queued message is dropped.
func (h *Hub) Publish(messageType MessageType, payload interface{}) {
	msg := Message{
		Type:      messageType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for sub := range h.subscribers {
		select {
		case sub.outbox <- msg:
		default:
			// Outbox full: drop the oldest, then retry once
			select {
			case <-sub.outbox:
			default:
			}
			select {
			case sub.outbox <- msg:
			default:
			}
		}
	}
}

// Subscribe registers an in-process listener. The returned cancel
// function must be called to release the subscription.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	sub := &subscriber{outbox: make(chan Message, h.outboxSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		closed := make(chan Message)
		close(closed)
		return closed, func() {}
	}
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	return sub.outbox, func() { h.unsubscribe(sub) }
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.outbox)
	}
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close drops all subscribers and rejects further publishes
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.outbox)
	}
}

// HandleWebSocket upgrades an HTTP request to a websocket subscriber.
// Clients implement their own reconnect/backoff.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return
	}

	log.Printf("Realtime subscriber connected from %s", r.RemoteAddr)

	messages, cancel := h.Subscribe()

	// Writer: drain the outbox onto the wire
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	// Reader: we only care about detecting the client going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	conn.Close()
	<-done
	log.Printf("Realtime subscriber disconnected")
}
