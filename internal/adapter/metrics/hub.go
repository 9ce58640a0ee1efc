package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/tidwall/gjson"

	"github.com/switchboard-dev/switchboard/internal/logger"
)

// HubConfig bounds the dashboard socket set.
type HubConfig struct {
	MaxConnections int
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	BearerToken    string // optional; when set, clients must auth before receiving broadcasts
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxConnections: 50,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBuffer:     8,
	}
}

// Hub manages the dashboard WebSocket set: accept with a connection cap,
// per-client send queues, ping/pong liveness, and typed inbound messages.
type Hub struct {
	logger *logger.StyledLogger
	cfg    HubConfig

	upgrader websocket.Upgrader
	clients  *xsync.Map[string, *wsClient]
	seq      atomic.Uint64
	count    atomic.Int64

	// snapshotFunc supplies an immediate full snapshot for request_update.
	snapshotFunc func() []byte
}

type wsClient struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	lastPong atomic.Int64
	authed   atomic.Bool
	once     sync.Once
}

func NewHub(cfg HubConfig, log *logger.StyledLogger) *Hub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 50
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 8
	}
	return &Hub{
		logger: log,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true }, // dashboard is same-trust
		},
		clients: xsync.NewMap[string, *wsClient](),
	}
}

// SetSnapshotFunc wires the immediate-update supplier; called once at startup.
func (h *Hub) SetSnapshotFunc(fn func() []byte) { h.snapshotFunc = fn }

// Handle upgrades the request and runs the client until disconnect. Excess
// connections are refused before the upgrade.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	if int(h.count.Load()) >= h.cfg.MaxConnections {
		http.Error(w, "too many dashboard connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:   "ws_" + strconv.FormatUint(h.seq.Add(1), 10),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	client.lastPong.Store(time.Now().UnixNano())
	if h.cfg.BearerToken == "" {
		client.authed.Store(true)
	}

	h.clients.Store(client.id, client)
	h.count.Add(1)
	h.logger.Debug("Dashboard client connected", "client_id", client.id, "clients", h.count.Load())

	go h.writePump(client)
	h.readPump(client)
}

// Broadcast queues data to every authenticated client. Clients whose send
// queue is full miss this frame rather than blocking the broadcaster.
func (h *Hub) Broadcast(data []byte) int {
	delivered := 0
	h.clients.Range(func(_ string, client *wsClient) bool {
		if !client.authed.Load() {
			return true
		}
		select {
		case client.send <- data:
			delivered++
		default:
		}
		return true
	})
	return delivered
}

// SweepStale closes clients that missed their pong window. Called by the
// broadcast worker each cycle.
func (h *Hub) SweepStale() int {
	cutoff := time.Now().Add(-h.cfg.PongTimeout).UnixNano()
	swept := 0
	h.clients.Range(func(_ string, client *wsClient) bool {
		if client.lastPong.Load() < cutoff {
			h.drop(client, "pong timeout")
			swept++
		}
		return true
	})
	return swept
}

// Count reports the live connection count.
func (h *Hub) Count() int { return int(h.count.Load()) }

// Shutdown closes every client.
func (h *Hub) Shutdown() {
	h.clients.Range(func(_ string, client *wsClient) bool {
		h.drop(client, "shutting down")
		return true
	})
}

func (h *Hub) readPump(client *wsClient) {
	defer h.drop(client, "read loop exit")

	client.conn.SetReadLimit(4096)
	_ = client.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.lastPong.Store(time.Now().UnixNano())
		return client.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		client.lastPong.Store(time.Now().UnixNano())
		h.handleMessage(client, data)
	}
}

// handleMessage dispatches a typed inbound frame.
func (h *Hub) handleMessage(client *wsClient, data []byte) {
	switch gjson.GetBytes(data, "type").String() {
	case "ping":
		h.trySend(client, []byte(`{"type":"pong"}`))
	case "request_update":
		if !client.authed.Load() || h.snapshotFunc == nil {
			return
		}
		if snapshot := h.snapshotFunc(); snapshot != nil {
			h.trySend(client, snapshot)
		}
	case "auth":
		token := gjson.GetBytes(data, "token").String()
		if h.cfg.BearerToken != "" && token == h.cfg.BearerToken {
			client.authed.Store(true)
			h.trySend(client, []byte(`{"type":"auth","ok":true}`))
		} else {
			h.trySend(client, []byte(`{"type":"auth","ok":false}`))
		}
	}
}

func (h *Hub) trySend(client *wsClient, data []byte) {
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) writePump(client *wsClient) {
	pingInterval := h.cfg.PongTimeout / 2
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(client, "write failed")
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(client, "ping failed")
				return
			}
		}
	}
}

func (h *Hub) drop(client *wsClient, reason string) {
	client.once.Do(func() {
		h.clients.Delete(client.id)
		h.count.Add(-1)
		close(client.send)
		_ = client.conn.Close()
		h.logger.Debug("Dashboard client disconnected",
			"client_id", client.id, "reason", reason, "clients", h.count.Load())
	})
}
