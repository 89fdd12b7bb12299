package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/gamestate"
	"tick-replay/internal/replay"
)

const (
	// MaxWSConnectionsTotal caps concurrent websocket connections.
	MaxWSConnectionsTotal = 200
	// MaxWSConnectionsPerIP caps concurrent websocket connections per IP.
	MaxWSConnectionsPerIP = 10

	writeWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no origin.
		if origin == "" || IsAllowedOrigin(origin) {
			return true
		}
		RecordConnectionRejected("origin")
		return false
	},
}

type wsClient struct {
	conn *websocket.Conn
	ip   string
}

// Message is the envelope of every websocket frame.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WebSocketHub fans playback notifications out to websocket clients.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	wsLimiter *WebSocketRateLimiter
	log       logrus.FieldLogger
}

// NewWebSocketHub creates a hub. Run must be started before clients connect.
func NewWebSocketHub(log logrus.FieldLogger) *WebSocketHub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		log:        log,
	}
}

// Run serves registrations and broadcasts until Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("ip", client.ip).Infof("📱 Client connected (%d total)", count)
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.drop(conn)

		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(conn)
			}
			IncrementWSMessages()

		case <-h.stop:
			h.mu.Lock()
			for conn, client := range h.clients {
				h.wsLimiter.Release(client.ip)
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return
		}
	}
}

func (h *WebSocketHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	client, ok := h.clients[conn]
	if ok {
		h.wsLimiter.Release(client.ip)
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.log.Infof("📱 Client disconnected (%d remaining)", count)
		UpdateWSConnections(count)
	}
}

// Stop closes every connection and ends Run.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast queues event for every client. It never blocks; messages are
// dropped when the queue is full.
func (h *WebSocketHub) Broadcast(event string, data any) {
	raw, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("failed to encode websocket message")
		return
	}
	select {
	case h.broadcast <- raw:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// eventPayload is the websocket form of a playback notification.
type eventPayload struct {
	Index    int               `json:"index"`
	Tick     uint32            `json:"tick"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Forward subscribes to n and broadcasts its notifications as
// "replay:<kind>" events. Per-tick apply notifications are not forwarded.
func (h *WebSocketHub) Forward(n Notifier) func() {
	return n.Subscribe(func(ev replay.Event) {
		if ev.Kind == replay.EventBeforeApplyState {
			return
		}
		p := eventPayload{Index: ev.Index, Tick: uint32(ev.Tick), Metadata: ev.Metadata}
		if ev.Err != nil {
			p.Error = ev.Err.Error()
		}
		h.Broadcast("replay:"+ev.Kind.String(), p)
	})
}

// genericEventPayload is the websocket form of a replayed generic event.
type genericEventPayload struct {
	Kind    string          `json:"kind"`
	Entity  int32           `json:"entity,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventHandler returns a replay event handler that broadcasts generic events
// as "replay:event". Events replayed while skipping effects are not sent, and
// the default dispatch always runs.
func (h *WebSocketHub) EventHandler() replay.EventHandler {
	return func(ev gamestate.GenericEvent, skipEffects bool) bool {
		if !skipEffects && h.ClientCount() > 0 {
			h.Broadcast("replay:event", genericEventPayload{Kind: ev.Type, Entity: int32(ev.Entity), Payload: ev.Payload})
		}
		return false
	}
}

// StartStatusLoop broadcasts "replay:status" every interval while clients
// are connected.
func (h *WebSocketHub) StartStatusLoop(v Viewer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if h.ClientCount() == 0 {
					continue
				}
				h.Broadcast("replay:status", v.Status())
			case <-h.stop:
				return
			}
		}
	}()
}

// HandleWebSocket upgrades the request and registers the client.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		h.log.Warn("⚠️ WebSocket connection rejected: total limit reached")
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.wsLimiter.Allow(ip) {
		h.log.WithField("ip", ip).Warn("⚠️ WebSocket connection rejected: per-IP limit reached")
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		h.wsLimiter.Release(ip)
		return
	}

	select {
	case h.register <- &wsClient{conn: conn, ip: ip}:
	case <-h.stop:
		h.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	// Clients only listen; reading detects disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.stop:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
