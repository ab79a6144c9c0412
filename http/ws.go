package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"winequality/service"
)

// MessageType 消息类型
type MessageType string

const (
	MessageCorrelation MessageType = "correlation"
	MessagePredict     MessageType = "predict"
	MessagePing        MessageType = "ping"
	MessageStatus      MessageType = "status"
	MessageError       MessageType = "error"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
	maxWSMessage = 1 << 16
)

// ClientMessage is a request sent over the socket.
type ClientMessage struct {
	ID       string          `json:"id"`
	Type     MessageType     `json:"type"`
	X        string          `json:"x,omitempty"`
	Y        string          `json:"y,omitempty"`
	Features json.RawMessage `json:"features,omitempty"`
}

// ServerMessage answers a ClientMessage by id, or is pushed unprompted.
type ServerMessage struct {
	ID    string      `json:"id,omitempty"`
	Type  MessageType `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// wsClient WebSocket客户端
type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

type outbound struct {
	client  *wsClient
	message []byte
}

// Hub WebSocket中心. Only the run loop touches the client set and the send
// channels.
type Hub struct {
	api *api

	clients    map[*wsClient]struct{}
	register   chan *wsClient
	unregister chan *wsClient
	direct     chan outbound
	broadcast  chan []byte
	connected  atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub 创建WebSocket中心
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		direct:     make(chan outbound, sendBuffer),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(allowedOrigins, origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("ws"),
	}
}

// Run 启动WebSocket中心. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.connected.Store(int64(len(h.clients)))
			h.logger.Debug("client connected", zap.String("client_id", client.clientID), zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			h.drop(client)

		case out := <-h.direct:
			if _, ok := h.clients[out.client]; ok {
				h.deliver(out.client, out.message)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}

		case <-h.done:
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

func (h *Hub) deliver(client *wsClient, message []byte) {
	select {
	case client.send <- message:
	default:
		h.logger.Warn("client too slow, disconnecting", zap.String("client_id", client.clientID))
		h.drop(client)
	}
}

func (h *Hub) drop(client *wsClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.connected.Store(int64(len(h.clients)))
	h.logger.Debug("client disconnected", zap.String("client_id", client.clientID), zap.Int("total", len(h.clients)))
}

// Stop 停止WebSocket中心 and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Connected returns the number of open connections.
func (h *Hub) Connected() int {
	return int(h.connected.Load())
}

// Broadcast pushes a message to every client; it is dropped when the queue is full.
func (h *Hub) Broadcast(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode broadcast", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn("broadcast queue is full, dropping message", zap.String("type", string(msg.Type)))
	}
}

// HandleWebSocket 处理WebSocket连接
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		clientID: uuid.NewString(),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

// writePump WebSocket写入泵
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump WebSocket读取泵
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxWSMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		reply, err := json.Marshal(h.handleClientMessage(c, data))
		if err != nil {
			h.logger.Error("encode reply", zap.Error(err))
			continue
		}
		select {
		case h.direct <- outbound{client: c, message: reply}:
		case <-h.done:
			return
		}
	}
}

// handleClientMessage 处理客户端消息
func (h *Hub) handleClientMessage(c *wsClient, data []byte) ServerMessage {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{Type: MessageError, Error: "message is not valid JSON"}
	}
	reply := ServerMessage{ID: msg.ID, Type: msg.Type}

	switch msg.Type {
	case MessagePing:
		reply.Data = map[string]interface{}{"state": h.api.svc.State(), "time": time.Now().UTC()}
	case MessageCorrelation:
		projection, err := h.api.svc.Correlation(msg.X, msg.Y)
		if err != nil {
			reply.Error = err.Error()
			break
		}
		reply.Data = projection
	case MessagePredict:
		ctx := service.WithRequestID(context.Background(), c.clientID+"/"+msg.ID)
		prediction, err := h.api.predict(ctx, msg.Features)
		if err != nil {
			reply.Error = err.Error()
			break
		}
		reply.Data = prediction
	default:
		reply.Type = MessageError
		reply.Error = "unknown message type " + string(msg.Type)
	}
	return reply
}
