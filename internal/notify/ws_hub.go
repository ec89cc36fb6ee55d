package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/models"
)

var ErrNoNativeSubscribers = errors.New("no dashboard granted native notifications")

const writeWait = 5 * time.Second

// Message kinds pushed to dashboards.
const (
	KindNotification      = "notification"
	KindNative            = "native"
	KindPermissionRequest = "permission_request"
)

type WSMessage struct {
	Kind         string               `json:"kind"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// clientMessage is what dashboards send back, e.g. {"permission":"granted"}.
type clientMessage struct {
	Permission Permission `json:"permission"`
}

// Connection wraps websocket.Conn with its owner and notification permission.
type Connection struct {
	Conn       *websocket.Conn
	LastSeen   time.Time
	principal  string
	permission Permission
	writeMu    sync.Mutex
}

func (c *Connection) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

// Hub keeps the connected dashboards. It is the PlatformNotifier used in
// production: native notifications go to the owning merchant's dashboards
// that granted permission. Nothing is ever sent across principals.
type Hub struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS upgrades the request for principalID and blocks until the dashboard
// disconnects. ?native=granted opts the connection into native notifications.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, principalID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	perm := PermissionDefault
	switch Permission(r.URL.Query().Get("native")) {
	case PermissionGranted:
		perm = PermissionGranted
	case PermissionDenied:
		perm = PermissionDenied
	}
	c := h.add(conn, principalID, perm)
	defer h.remove(c)

	conn.SetPongHandler(func(string) error {
		h.touch(c)
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		h.touch(c)
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Permission != "" {
			h.mu.Lock()
			c.permission = msg.Permission
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(conn *websocket.Conn, principalID string, perm Permission) *Connection {
	c := &Connection{Conn: conn, LastSeen: time.Now(), principal: principalID, permission: perm}
	h.mu.Lock()
	h.connections[c] = struct{}{}
	total := len(h.connections)
	h.mu.Unlock()
	h.logger.Info("WS connected",
		zap.String("principal", principalID),
		zap.Int("total", total),
		zap.String("permission", string(perm)),
	)
	return c
}

func (h *Hub) remove(c *Connection) {
	h.mu.Lock()
	_, ok := h.connections[c]
	delete(h.connections, c)
	h.mu.Unlock()
	if ok {
		_ = c.Conn.Close()
		h.logger.Info("WS disconnected")
	}
}

func (h *Hub) touch(c *Connection) {
	h.mu.Lock()
	c.LastSeen = time.Now()
	h.mu.Unlock()
}

// Count returns the number of connected dashboards.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Permission is granted as soon as one of the principal's dashboards granted it.
func (h *Hub) Permission(principalID string) Permission {
	h.mu.RLock()
	defer h.mu.RUnlock()
	perm := PermissionDefault
	for c := range h.connections {
		if c.principal != principalID {
			continue
		}
		switch c.permission {
		case PermissionGranted:
			return PermissionGranted
		case PermissionDenied:
			perm = PermissionDenied
		}
	}
	return perm
}

// RequestPermission asks the principal's undecided dashboards for permission.
// Answers arrive asynchronously; the current state is returned.
func (h *Hub) RequestPermission(principalID string) Permission {
	for _, c := range h.snapshot(func(c *Connection) bool {
		return c.principal == principalID && c.permission == PermissionDefault
	}) {
		if err := c.writeJSON(WSMessage{Kind: KindPermissionRequest}); err != nil {
			h.logger.Warn("failed WS permission request", zap.Error(err))
			go h.remove(c)
		}
	}
	return h.Permission(principalID)
}

// Notify sends a native notification to the owner's dashboards that granted permission.
func (h *Hub) Notify(ctx context.Context, n models.Notification) error {
	targets := h.snapshot(func(c *Connection) bool {
		return c.principal == n.PrincipalID && c.permission == PermissionGranted
	})
	if len(targets) == 0 {
		return ErrNoNativeSubscribers
	}
	var errs []error
	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.writeJSON(WSMessage{Kind: KindNative, Notification: &n}); err != nil {
			errs = append(errs, err)
			go h.remove(c)
		}
	}
	return errors.Join(errs...)
}

// Broadcast pushes a new in-app notification to every dashboard of its owner.
func (h *Hub) Broadcast(n models.Notification) {
	for _, c := range h.snapshot(func(c *Connection) bool { return c.principal == n.PrincipalID }) {
		if err := c.writeJSON(WSMessage{Kind: KindNotification, Notification: &n}); err != nil {
			h.logger.Warn("failed WS broadcast", zap.Error(err))
			go h.remove(c)
		}
	}
}

// Heartbeat pings all connections until ctx is done and drops stale ones.
func (h *Hub) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, c := range h.snapshot(nil) {
			h.mu.RLock()
			stale := time.Since(c.LastSeen) > 2*interval
			h.mu.RUnlock()
			if stale {
				h.remove(c)
				continue
			}
			c.writeMu.Lock()
			err := c.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			c.writeMu.Unlock()
			if err != nil {
				h.remove(c)
			}
		}
	}
}

// Close disconnects every dashboard.
func (h *Hub) Close() {
	for _, c := range h.snapshot(nil) {
		h.remove(c)
	}
}

func (h *Hub) snapshot(filter func(c *Connection) bool) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	return out
}
