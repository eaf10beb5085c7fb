package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chillingspace/CSD2161-A4/internal/metrics"
)

const (
	spectatorWriteWait  = 5 * time.Second
	spectatorPongWait   = 60 * time.Second
	spectatorPingPeriod = (spectatorPongWait * 9) / 10
	spectatorReadLimit  = 512
	spectatorSendBuffer = 16
)

// ErrSpectatorsFull is returned when the hub is at max_spectators
var ErrSpectatorsFull = errors.New("spectator limit reached")

// SpectatorHub fans each tick's ALL_ENTITIES datagram out to websocket
// watchers as binary frames
type SpectatorHub struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	max      int

	mu      sync.Mutex
	clients map[*spectator]struct{}
	closed  bool
}

type spectator struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
	once   sync.Once
}

func (s *spectator) close() {
	s.once.Do(func() { close(s.send) })
}

// NewSpectatorHub creates a hub that accepts up to max watchers
func NewSpectatorHub(logger *slog.Logger, m *metrics.Metrics, max int) *SpectatorHub {
	return &SpectatorHub{
		logger:  logger,
		metrics: m,
		max:     max,
		clients: make(map[*spectator]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades the request and streams frames until the peer goes away
func (h *SpectatorHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.hasRoom() {
		http.Error(w, ErrSpectatorsFull.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Spectator upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	client := &spectator{
		conn:   conn,
		send:   make(chan []byte, spectatorSendBuffer),
		remote: r.RemoteAddr,
	}
	if err := h.register(client); err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(spectatorWriteWait))
		conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

func (h *SpectatorHub) hasRoom() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed && len(h.clients) < h.max
}

func (h *SpectatorHub) register(c *spectator) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || len(h.clients) >= h.max {
		return ErrSpectatorsFull
	}
	h.clients[c] = struct{}{}
	h.metrics.SetSpectators(len(h.clients))

	h.logger.Info("Spectator connected",
		slog.String("remote_addr", c.remote),
		slog.Int("spectators", len(h.clients)),
	)
	return nil
}

func (h *SpectatorHub) unregister(c *spectator) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	h.metrics.SetSpectators(len(h.clients))

	h.logger.Info("Spectator disconnected",
		slog.String("remote_addr", c.remote),
		slog.Int("spectators", len(h.clients)),
	)
}

// readPump discards anything the spectator sends and keeps the read deadline
// moving on pongs
func (h *SpectatorHub) readPump(c *spectator) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(spectatorReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(spectatorPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(spectatorPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Spectator read error",
					slog.String("remote_addr", c.remote),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

func (h *SpectatorHub) writePump(c *spectator) {
	ticker := time.NewTicker(spectatorPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(spectatorWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(spectatorWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues frame for every spectator. Slow spectators miss frames.
func (h *SpectatorHub) Broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
}

// Count returns the number of connected spectators
func (h *SpectatorHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every spectator and refuses new ones
func (h *SpectatorHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.metrics.SetSpectators(0)
}
