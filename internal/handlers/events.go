package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is one progress or lifecycle message pushed to connected clients.
type Event struct {
	Type       string `json:"type"` // "progress", "update_finished", "rollback_finished"
	TargetID   uint   `json:"target_id,omitempty"`
	TargetName string `json:"target_name,omitempty"`
	Step       int    `json:"step,omitempty"`
	Total      int    `json:"total,omitempty"`
	Message    string `json:"message,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// EventBroker fans events out to websocket subscribers. Slow subscribers are
// skipped rather than blocking the publisher.
type EventBroker struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewEventBroker() *EventBroker {
	return &EventBroker{subs: make(map[chan []byte]struct{})}
}

func (b *EventBroker) subscribe() chan []byte {
	ch := make(chan []byte, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *EventBroker) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber. Best effort: a subscriber
// with a full buffer misses the event.
func (b *EventBroker) Publish(ev Event) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// EventsWS upgrades the request to a websocket and streams broker events
// until the client disconnects.
func EventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[events] websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := Events.subscribe()
	defer Events.unsubscribe(sub)

	ctx := r.Context()

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// required to notice disconnects and answer pings.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case payload := <-sub:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
