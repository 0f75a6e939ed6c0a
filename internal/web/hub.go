// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/family_locator/internal/location"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard pages are served from other origins
	},
}

// Event is one message on the /ws/fixes stream.
type Event struct {
	Type      string           `json:"type"` // "fix", "denied", "error", "auto_enabled", "permission_required"
	Fix       *location.Fix    `json:"fix,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	Stage     location.StageID `json:"stage,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type wsClient struct {
	send chan Event
}

// Hub is a location.Sink that remembers the last fix and streams every
// event to connected websocket clients. A client that falls behind loses
// events rather than slowing the cascade down.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	lastFix *location.Fix
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		now:     time.Now,
	}
}

// LastFix returns the most recent fix seen, if any.
func (h *Hub) LastFix() (location.Fix, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastFix == nil {
		return location.Fix{}, false
	}
	return *h.lastFix, true
}

func (h *Hub) OnFix(fix location.Fix) {
	h.mu.Lock()
	h.lastFix = &fix
	h.mu.Unlock()
	h.broadcast(Event{Type: "fix", Fix: &fix})
}

func (h *Hub) OnError(kind location.ErrorKind, stage location.StageID) {
	h.broadcast(Event{Type: "error", Kind: kind.String(), Stage: stage})
}

func (h *Hub) OnDenied(reason string) {
	h.broadcast(Event{Type: "denied", Reason: reason})
}

func (h *Hub) OnAutoEnabled(stage location.StageID) {
	h.broadcast(Event{Type: "auto_enabled", Stage: stage})
}

func (h *Hub) OnPermissionRequired() {
	h.broadcast(Event{Type: "permission_required"})
}

func (h *Hub) broadcast(ev Event) {
	ev.Timestamp = h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			log.Printf("web: websocket client too slow, dropping %s event", ev.Type)
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastFix != nil {
		fix := *h.lastFix
		c.send <- Event{Type: "fix", Fix: &fix, Timestamp: h.now()}
	}
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every websocket client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS streams events to one websocket client until it disconnects.
// Anything the client sends is ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	c := &wsClient{send: make(chan Event, clientBuffer)}
	h.add(c)
	go writeLoop(conn, c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket error: %v", err)
			}
			break
		}
	}
	h.remove(c)
}

func writeLoop(conn *websocket.Conn, c *wsClient) {
	defer conn.Close()
	for ev := range c.send {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("web: websocket write error: %v", err)
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}
