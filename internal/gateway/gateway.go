// Package gateway streams duel notifications to a local UI over WebSocket.
// Screens render from this feed; they never talk to the relay directly.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"puzzleduel/internal/duel"
)

// Config holds WebSocket connection settings.
type Config struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Event is the frame sent to UI clients.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Payload   duel.Notification `json:"payload"`
}

// Gateway fans duel notifications out to every connected UI client.
type Gateway struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]bool

	broadcastCh chan Event
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// New creates a gateway. Start must be called before Notify is useful.
func New(cfg Config) *Gateway {
	return &Gateway{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true }, // local UI only
		},
		conns:       make(map[*conn]bool),
		broadcastCh: make(chan Event, 256),
	}
}

// Notify queues a duel notification for broadcast. Slow or full queues drop;
// the UI re-reads state on reconnect.
func (g *Gateway) Notify(n duel.Notification) {
	select {
	case g.broadcastCh <- Event{Timestamp: time.Now(), Payload: n}:
	default:
		log.Debug().Str("type", string(n.Type)).Msg("gateway broadcast queue full, dropping")
	}
}

// Start runs the broadcast loop until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			g.closeAll()
			return
		case ev := <-g.broadcastCh:
			raw, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("marshal gateway event")
				continue
			}
			g.mu.Lock()
			for c := range g.conns {
				select {
				case c.send <- raw:
				default:
					// Slow client: drop the connection, not the loop.
					delete(g.conns, c)
					close(c.send)
				}
			}
			g.mu.Unlock()
		}
	}
}

// Handler returns the HTTP handler serving the /ws endpoint, CORS-wrapped for
// the local dev UI.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	return cors.AllowAll().Handler(mux)
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, 64)}
	g.mu.Lock()
	g.conns[c] = true
	g.mu.Unlock()
	log.Info().Str("remote", r.RemoteAddr).Msg("ui client connected")

	go g.writePump(c)
	go g.readPump(c)
}

func (g *Gateway) writePump(c *conn) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames. The UI stream is one-way; anything the
// client sends is discarded, but the read loop is what notices a closed
// connection.
func (g *Gateway) readPump(c *conn) {
	defer g.drop(c)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) drop(c *conn) {
	g.mu.Lock()
	if g.conns[c] {
		delete(g.conns, c)
		close(c.send)
	}
	g.mu.Unlock()
	c.ws.Close()
}

func (g *Gateway) closeAll() {
	g.mu.Lock()
	for c := range g.conns {
		delete(g.conns, c)
		close(c.send)
	}
	g.mu.Unlock()
}
