package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/storage/redis"
)

const (
	pingInterval = 54 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

// Resolver 校验订阅的地址，RegistryService 实现了该接口
type Resolver interface {
	Resolve(ctx context.Context, address string) (*domain.Address, error)
}

// Relay 跨实例转发新邮件通知，redis.Cache 实现了该接口
type Relay interface {
	PublishNewMail(ctx context.Context, address string, payload []byte) error
	SubscribeNewMail(ctx context.Context) *goredis.PubSub
}

// Recorder 在线客户端数指标
type Recorder interface {
	UpdateWebSocketClients(n int)
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail     MessageType = "new_mail"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMailData 新邮件通知数据
type NewMailData struct {
	MessageID  string    `json:"messageId"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Preview    string    `json:"preview"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	addresses map[string]bool // 订阅的地址，只由 Hub.Run 修改
	log       *zap.Logger

	mu     sync.Mutex
	closed bool
}

// trySend 非阻塞发送，连接已关闭或缓冲区已满时返回 false
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

type subscription struct {
	client    *Client
	address   string
	subscribe bool
}

type broadcastMessage struct {
	address string
	payload []byte
}

// Hub 管理所有WebSocket连接，按地址分组
type Hub struct {
	clients        map[string]*Client
	addresses      map[string]map[string]*Client // address -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	subscriptions  chan subscription
	broadcast      chan broadcastMessage
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	resolver       Resolver
	relay          Relay
	recorder       Recorder
	now            func() time.Time
}

// NewHub 创建WebSocket Hub
func NewHub(allowedOrigins []string, resolver Resolver, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		clients:        make(map[string]*Client),
		addresses:      make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		subscriptions:  make(chan subscription, 16),
		broadcast:      make(chan broadcastMessage, 256),
		done:           make(chan struct{}),
		log:            log.Named("websocket"),
		allowedOrigins: allowedOrigins,
		resolver:       resolver,
		now:            time.Now,
	}
}

// SetRelay 设置跨实例转发，设置后本地通知也经由 Relay 回流
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// SetRecorder 设置指标记录器
func (h *Hub) SetRecorder(rec Recorder) {
	h.recorder = rec
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers 订阅某个地址的连接数
func (h *Hub) Subscribers(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.addresses[domain.NormalizeAddress(address)])
}

// Run 启动Hub，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	if h.relay != nil {
		go h.listenRelay(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			for address := range client.addresses {
				h.join(client, address)
			}
			h.mu.Unlock()
			h.updateGauge()
			h.log.Debug("client registered", zap.String("id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for address := range client.addresses {
					h.leave(client, address)
				}
				delete(h.clients, client.ID)
				client.close()
			}
			h.mu.Unlock()
			h.updateGauge()
			h.log.Debug("client unregistered", zap.String("id", client.ID))

		case sub := <-h.subscriptions:
			h.mu.Lock()
			if _, ok := h.clients[sub.client.ID]; ok {
				if sub.subscribe {
					sub.client.addresses[sub.address] = true
					h.join(sub.client, sub.address)
				} else {
					delete(sub.client.addresses, sub.address)
					h.leave(sub.client, sub.address)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) subscribe(sub subscription) {
	select {
	case h.subscriptions <- sub:
	case <-h.done:
	}
}

// join 和 leave 需要持有写锁
func (h *Hub) join(client *Client, address string) {
	if h.addresses[address] == nil {
		h.addresses[address] = make(map[string]*Client)
	}
	h.addresses[address][client.ID] = client
}

func (h *Hub) leave(client *Client, address string) {
	if clients, ok := h.addresses[address]; ok {
		delete(clients, client.ID)
		if len(clients) == 0 {
			delete(h.addresses, address)
		}
	}
}

func (h *Hub) updateGauge() {
	if h.recorder != nil {
		h.recorder.UpdateWebSocketClients(h.ClientCount())
	}
}

// NotifyNewMail 推送新邮件通知，可注册为 MailboxService 的回调
func (h *Hub) NotifyNewMail(msg domain.Message) {
	address := domain.NormalizeAddress(msg.EmailAddress)
	data, err := json.Marshal(NewMailData{
		MessageID:  msg.MessageID,
		From:       msg.From,
		Subject:    msg.Subject,
		Preview:    msg.Preview(),
		ReceivedAt: msg.ReceivedAt,
	})
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}
	payload, err := json.Marshal(Message{
		Type:      MessageTypeNewMail,
		Address:   address,
		Data:      data,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	if h.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		err := h.relay.PublishNewMail(ctx, address, payload)
		if err == nil {
			return
		}
		h.log.Warn("relay publish failed, delivering locally", zap.Error(err))
	}
	h.enqueue(address, payload)
}

func (h *Hub) enqueue(address string, payload []byte) {
	select {
	case h.broadcast <- broadcastMessage{address: address, payload: payload}:
	default:
		h.log.Warn("broadcast queue full, notification dropped", zap.String("address", address))
	}
}

// listenRelay 接收其他实例（包括本实例）发布的通知
func (h *Hub) listenRelay(ctx context.Context) {
	pubsub := h.relay.SubscribeNewMail(ctx)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			h.enqueue(redis.AddressFromChannel(m.Channel), []byte(m.Payload))
		}
	}
}

// deliver 向订阅该地址的客户端发送，阻塞的客户端直接跳过
func (h *Hub) deliver(msg broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.addresses[msg.address] {
		if !client.trySend(msg.payload) {
			h.log.Warn("client channel blocked, skipping", zap.String("client_id", client.ID))
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for _, client := range h.clients {
		client.close()
	}
	h.clients = make(map[string]*Client)
	h.addresses = make(map[string]map[string]*Client)
	h.mu.Unlock()
	h.updateGauge()
}

// resolve 校验地址存在且未过期
func (h *Hub) resolve(ctx context.Context, address string) (string, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return "", domain.Malformed("address", "is required")
	}
	addr, err := h.resolver.Resolve(ctx, address)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

// HandleWebSocket 处理 /v1/ws?address= 连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		address, err := hub.resolve(c.Request.Context(), c.Query("address"))
		if err != nil {
			status := http.StatusNotFound
			switch {
			case errors.Is(err, domain.ErrMalformedPayload):
				status = http.StatusBadRequest
			case errors.Is(err, domain.ErrRecipientExpired):
				status = http.StatusGone
			case errors.Is(err, domain.ErrStoreUnavailable):
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"code": status, "msg": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			conn:      conn,
			send:      make(chan []byte, sendBuffer),
			hub:       hub,
			addresses: map[string]bool{address: true},
			log:       hub.log,
		}
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		address, err := c.hub.resolve(ctx, msg.Address)
		cancel()
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.hub.subscribe(subscription{client: c, address: address, subscribe: true})
		c.sendMessage(&Message{Type: MessageTypeSubscribed, Address: address, Timestamp: time.Now().UTC()})
	case MessageTypeUnsubscribe:
		c.hub.subscribe(subscription{client: c, address: domain.NormalizeAddress(msg.Address)})
	case MessageTypePing:
		c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	default:
		c.sendError("unknown message type: " + strings.TrimSpace(string(msg.Type)))
	}
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{Type: MessageTypeError, Error: errMsg, Timestamp: time.Now().UTC()})
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}
	if !c.trySend(data) {
		c.log.Warn("client channel blocked", zap.String("client_id", c.ID))
	}
}
