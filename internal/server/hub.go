package server

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub relays broker events to every connected websocket client. New
// clients first receive the broker's recent events.
type Hub struct {
	broker     *journal.Broker
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
}

func NewHub(broker *journal.Broker) *Hub {
	return &Hub{
		broker:     broker,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	return int(h.count.Load())
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.count.Add(-1)
	}
}

// Run is the hub loop. It owns the client set and exits with ctx.
func (h *Hub) Run(ctx context.Context) {
	events := h.broker.Subscribe(256)
	defer func() {
		h.broker.Unsubscribe(events)
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			for _, e := range h.broker.Recent() {
				select {
				case c.send <- e:
				default:
				}
			}

		case c := <-h.unregister:
			h.drop(c)

		case e, ok := <-events:
			if !ok {
				return
			}
			for c := range h.clients {
				select {
				case c.send <- e:
				default:
					// too slow, disconnect
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warnf("Hub | failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan journal.Event, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
