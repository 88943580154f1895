package server

import (
	"context"
	"log"

	"MarketScreener/internal/model"
)

// Event types pushed to WebSocket clients.
const (
	EventSnapshot = "snapshot"
	EventMatch    = "match"
	EventProgress = "progress"
	EventStatus   = "status"
)

// Event is one message on the /ws stream.
type Event struct {
	Type      string                 `json:"type"`
	Match     *model.ScreeningResult `json:"match,omitempty"`
	Completed int                    `json:"completed,omitempty"`
	Total     int                    `json:"total,omitempty"`
	Percent   float64                `json:"percent,omitempty"`
	Status    model.RunStatus        `json:"status,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Run       *model.RunSnapshot     `json:"run,omitempty"`
}

// Hub fans run events out to WebSocket clients. It is a run listener:
// events are queued and never block the screening run. Clients that fall
// behind are dropped.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// snapshot is sent to every client on connect
	snapshot func() model.RunSnapshot
}

// NewHub creates a Hub. snapshot supplies the current run for late joiners.
func NewHub(snapshot func() model.RunSnapshot) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		snapshot:   snapshot,
	}
}

// Run is the hub loop. It returns when ctx is cancelled, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			if h.snapshot != nil {
				run := h.snapshot()
				client.send <- Event{Type: EventSnapshot, Run: &run}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case ev := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- ev:
				default:
					log.Println("[WARN] websocket client too slow, disconnecting")
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// attach registers c, reporting false once the hub has stopped.
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) publish(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		log.Printf("[WARN] websocket queue full, dropping %s event", ev.Type)
	}
}

func (h *Hub) OnMatch(r model.ScreeningResult) {
	h.publish(Event{Type: EventMatch, Match: &r})
}

func (h *Hub) OnProgress(completed, total int) {
	h.publish(Event{Type: EventProgress, Completed: completed, Total: total, Percent: model.ProgressPercent(completed, total)})
}

func (h *Hub) OnStatusChange(status model.RunStatus, errMsg string) {
	h.publish(Event{Type: EventStatus, Status: status, Error: errMsg})
}
