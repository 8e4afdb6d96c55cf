package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// Message types pushed to viewers.
const (
	MessageTick  = "tick"
	MessageEvent = "event"
	MessageLog   = "log"
	MessagePing  = "ping"
)

// EventSubscriber is the part of the event bus the hub listens on.
type EventSubscriber interface {
	SubscribeMany(types []domain.EventType, handler func(domain.Event))
}

// newWebSocketUpgrader returns an upgrader with origin validation
// based on the configured CORS origin list
func newWebSocketUpgrader(corsOrigins string) websocket.Upgrader {
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" && corsOrigins != "*" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// If CORS is set to "*", allow all origins
			if corsOrigins == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			// If no CORS origins configured, only allow same-origin
			if corsOrigins == "" {
				if origin == "" {
					return true // No origin header = same-origin request
				}
				return strings.Contains(origin, r.Host)
			}
			return allowedOrigins[origin]
		},
	}
}

// broadcastBuffer bounds queued messages; ticks are dropped when it is full.
const broadcastBuffer = 256

type WebSocketHub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan interface{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
	upgrader   websocket.Upgrader

	// OnClientCount, when set, is called whenever a client connects or leaves.
	OnClientCount func(int)

	logCh    chan logger.LogEntry
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWebSocketHub starts a hub that relays every viewer-facing event and every log line.
func NewWebSocketHub(eventBus EventSubscriber, corsOrigins string) *WebSocketHub {
	h := &WebSocketHub{
		broadcast:  make(chan interface{}, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]string),
		upgrader:   newWebSocketUpgrader(corsOrigins),
		stopChan:   make(chan struct{}),
	}

	if eventBus != nil {
		eventBus.SubscribeMany(domain.AllEventTypes, func(e domain.Event) {
			h.send(map[string]interface{}{
				"type": MessageEvent,
				"data": e,
			})
		})
	}

	// Subscribe to logs
	h.logCh = logger.Subscribe()
	go func() {
		for entry := range h.logCh {
			h.send(map[string]interface{}{
				"type": MessageLog,
				"data": entry,
			})
		}
	}()

	go h.run()
	return h
}

// send queues a message, giving up once the hub is stopped.
func (h *WebSocketHub) send(msg interface{}) {
	select {
	case h.broadcast <- msg:
	case <-h.stopChan:
	}
}

// BroadcastTick pushes the readings of one poll. Ticks are dropped rather than
// queued behind a slow client; the next poll supersedes them.
func (h *WebSocketHub) BroadcastTick(views []domain.TimerView) {
	msg := map[string]interface{}{
		"type":      MessageTick,
		"data":      views,
		"timestamp": time.Now(),
	}
	select {
	case h.broadcast <- msg:
	default:
		logger.Debugf("WebSocket broadcast queue full, dropping tick")
	}
}

// Stop ends the hub loop and closes all clients.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		logger.Unsubscribe(h.logCh)
	})
}

func (h *WebSocketHub) run() {
	for {
		select {
		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = uuid.New().String()
			n := len(h.clients)
			logger.Debugf("WebSocket client %s connected (Total: %d)", h.clients[client], n)
			h.mu.Unlock()
			h.notifyCount(n)

		case client := <-h.unregister:
			h.mu.Lock()
			id, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				if err := client.Close(); err != nil {
					logger.Debugf("WebSocket close error: %v", err)
				}
				logger.Debugf("WebSocket client %s disconnected", id)
			}
			n := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.notifyCount(n)
			}

		case message := <-h.broadcast:
			h.mu.Lock()
			dropped := false
			for client, id := range h.clients {
				if err := client.WriteJSON(message); err != nil {
					logger.Debugf("WebSocket write to %s failed: %v", id, err)
					if closeErr := client.Close(); closeErr != nil {
						logger.Debugf("WebSocket close error during broadcast: %v", closeErr)
					}
					delete(h.clients, client)
					dropped = true
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			if dropped {
				h.notifyCount(n)
			}
		}
	}
}

func (h *WebSocketHub) notifyCount(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

func (h *WebSocketHub) HandleConnection(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	select {
	case h.register <- ws:
	case <-h.stopChan:
		_ = ws.Close()
		return
	}

	// Send initial ping to verify connection (safe before ping goroutine starts)
	h.mu.Lock()
	if err := ws.WriteJSON(gin.H{"type": MessagePing, "timestamp": time.Now()}); err != nil {
		logger.Debugf("Failed to send initial ping: %v", err)
	}
	h.mu.Unlock()

	// Set up ping/pong to keep connection alive
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Debugf("Failed to set initial read deadline: %v", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			h.mu.Lock()
			_, exists := h.clients[ws]
			if !exists {
				h.mu.Unlock()
				return // Client disconnected, stop sending pings
			}
			// Write ping while holding mutex to prevent concurrent writes with broadcast
			err := ws.WriteMessage(websocket.PingMessage, nil)
			h.mu.Unlock()
			if err != nil {
				logger.Debugf("WebSocket ping error: %v", err)
				h.leave(ws)
				return
			}
		}
	}()

	defer func() {
		h.leave(ws)
		logger.Debugf("WebSocket client handler exited")
	}()

	// Reads only drive the pong handler and detect the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *WebSocketHub) leave(ws *websocket.Conn) {
	select {
	case h.unregister <- ws:
	case <-h.stopChan:
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
