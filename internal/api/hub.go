package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/ledger"
	"github.com/personachat/personachat/internal/logging"
)

const (
	monitorWriteWait  = 10 * time.Second
	monitorPongWait   = 60 * time.Second
	monitorPingPeriod = (monitorPongWait * 9) / 10
	monitorBuffer     = 64
)

// MonitorHub streams ledger entries to researcher dashboards over WebSocket.
type MonitorHub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*monitorClient]struct{}
	wg      sync.WaitGroup
}

type monitorClient struct {
	hub         *MonitorHub
	conn        *websocket.Conn
	send        chan []byte
	participant core.ParticipantID // Empty follows every participant
}

// NewMonitorHub creates an empty hub.
func NewMonitorHub() *MonitorHub {
	return &MonitorHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // The researcher token is checked before the upgrade
			},
		},
		clients: make(map[*monitorClient]struct{}),
	}
}

// ClientCount returns the number of connected monitors.
func (h *MonitorHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish fans an entry out to every interested monitor. Slow monitors miss
// entries rather than stall the ledger.
func (h *MonitorHub) Publish(e *ledger.Entry) {
	msg, err := json.Marshal(e)
	if err != nil {
		logging.Warn("monitor: failed to encode entry %s: %v", e.ID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.participant != "" && c.participant != e.ParticipantID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			logging.Debug("monitor: dropping entry %s for slow client", e.ID)
		}
	}
}

// Run blocks until ctx is cancelled, then disconnects every monitor and waits
// for their goroutines.
func (h *MonitorHub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// ServeWS upgrades the request and follows the ledger.
// ?participant= limits the stream to one participant.
func (h *MonitorHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		logging.Debug("monitor: upgrade failed: %v", err)
		return
	}

	c := &monitorClient{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, monitorBuffer),
		participant: core.ParticipantID(r.URL.Query().Get("participant")),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.wg.Add(2)
	go c.writePump()
	go c.readPump()
}

// remove drops c if it is still registered.
func (h *MonitorHub) remove(c *monitorClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client messages and notices disconnects.
func (c *monitorClient) readPump() {
	defer c.hub.wg.Done()
	defer c.hub.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *monitorClient) writePump() {
	ticker := time.NewTicker(monitorPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
