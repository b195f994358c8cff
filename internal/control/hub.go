package control

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventPhase            = "phase"
	EventThroughputRecord = "throughput_record"
	EventLatencySample    = "latency_sample"
	EventSummary          = "summary"
)

// Event is one JSON message on the status stream.
type Event struct {
	SchemaVersion int    `json:"schema_version"`
	Type          string `json:"type"`
	RunID         string `json:"run_id,omitempty"`
	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	Data      any   `json:"data,omitempty"`
}

// StatusHub fans run events out to websocket clients. Slow clients miss
// events rather than blocking the run.
type StatusHub struct {
	mu        sync.Mutex
	clients   map[*statusClient]struct{}
	broadcast chan []byte
	ctxDone   <-chan struct{}

	// replayed to clients that join mid-run
	lastPhase   []byte
	lastSummary []byte
}

type statusClient struct {
	send      chan []byte
	closeOnce sync.Once
}

func NewStatusHub(ctxDone <-chan struct{}) *StatusHub {
	h := &StatusHub{
		clients:   make(map[*statusClient]struct{}),
		broadcast: make(chan []byte, 256),
		ctxDone:   ctxDone,
	}
	go h.run()
	return h
}

func (h *StatusHub) run() {
	for {
		select {
		case <-h.ctxDone:
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*statusClient]struct{})
			h.mu.Unlock()
			return
		case data := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish stamps and queues an event. It never blocks.
func (h *StatusHub) Publish(ev Event) {
	if h == nil {
		return
	}
	ev.SchemaVersion = 1
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	switch ev.Type {
	case EventPhase:
		h.lastPhase = data
	case EventSummary:
		h.lastSummary = data
	}
	h.mu.Unlock()
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *StatusHub) Register(client *statusClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	for _, data := range [][]byte{h.lastPhase, h.lastSummary} {
		if data == nil {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}

func (h *StatusHub) Unregister(client *statusClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (h *StatusHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (c *statusClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
