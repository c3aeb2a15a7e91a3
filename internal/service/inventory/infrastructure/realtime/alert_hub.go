// Package realtime 通过 WebSocket 把低库存通知推送给门店看板。
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"quickstock/internal/pkg/logger"
	"quickstock/internal/service/inventory/application"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AlertHub 维护所有看板连接。它同时是一个 AlertSink。
type AlertHub struct {
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	broadcast  chan application.LowStockAlert
	done       chan struct{}
	lock       sync.RWMutex
}

func NewAlertHub() *AlertHub {
	return &AlertHub{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan application.LowStockAlert, 256),
		done:       make(chan struct{}),
	}
}

// client 是一个看板连接；storeID 为 0 时接收所有门店的通知。
type client struct {
	id      string
	storeID int64
	hub     *AlertHub
	conn    *websocket.Conn
	send    chan []byte
}

// Run 处理注册、注销与广播，直到 ctx 结束。
func (h *AlertHub) Run(ctx context.Context) error {
	for {
		select {
		case c := <-h.register:
			h.lock.Lock()
			h.clients[c.id] = c
			h.lock.Unlock()
			logger.Ctx(ctx).Debug().Str("client", c.id).Int64("storeId", c.storeID).Msg("alert subscriber registered")
		case c := <-h.unregister:
			h.remove(c)
		case alert := <-h.broadcast:
			h.fanOut(ctx, alert)
		case <-ctx.Done():
			close(h.done)
			h.lock.Lock()
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			h.lock.Unlock()
			return nil
		}
	}
}

func (h *AlertHub) remove(c *client) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *AlertHub) fanOut(ctx context.Context, alert application.LowStockAlert) {
	body, err := json.Marshal(alert)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("marshal alert for websocket")
		return
	}
	h.lock.RLock()
	defer h.lock.RUnlock()
	for _, c := range h.clients {
		if c.storeID != 0 && c.storeID != alert.StoreID {
			continue
		}
		select {
		case c.send <- body:
		default:
			// 慢消费者直接丢弃本条
			logger.Ctx(ctx).Warn().Str("client", c.id).Msg("alert subscriber is slow, dropping alert")
		}
	}
}

// Subscribers 返回当前连接数。
func (h *AlertHub) Subscribers() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// PublishLowStock 把通知交给 Run 循环广播；队列满时阻塞到 ctx 超时。
func (h *AlertHub) PublishLowStock(ctx context.Context, alert application.LowStockAlert) error {
	select {
	case h.broadcast <- alert:
		return nil
	case <-h.done:
		return errors.New("alert hub stopped")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "enqueue websocket alert")
	}
}

// ServeWS 处理 GET /ws/alerts?storeId=，storeId 可选。
func (h *AlertHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var storeID int64
	if raw := r.URL.Query().Get("storeId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "storeId must be an integer", http.StatusBadRequest)
			return
		}
		storeID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{id: uuid.NewString(), storeID: storeID, hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump 只负责心跳和感知断开。
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
