// Package events 将领域事件发布到 RabbitMQ topic 交换机。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/domain"
	"burnbox/backend/internal/scheduler"
)

// 路由键
const (
	AddressCreated   = "address.created"
	MessageReceived  = "message.received"
	ReclaimCompleted = "reclaim.completed"
)

const publishTimeout = 5 * time.Second

// ErrClosed 连接已关闭
var ErrClosed = errors.New("event publisher closed")

// channel amqp091.Channel 中用到的部分
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Envelope 事件消息体
type Envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// Publisher 领域事件发布器。
// 未配置 AMQP 地址时所有方法都是空操作。
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	log      *zap.Logger
	now      func() time.Time
}

// NewPublisher 连接 RabbitMQ 并声明 topic 交换机
func NewPublisher(cfg config.EventsConfig, log *zap.Logger) (*Publisher, error) {
	p := &Publisher{exchange: cfg.Exchange, log: log.Named("events"), now: time.Now}
	if cfg.AMQPURL == "" {
		return p, nil
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return p, nil
}

// Enabled 是否连接了 broker
func (p *Publisher) Enabled() bool {
	return p.ch != nil
}

// Health 检查连接状态
func (p *Publisher) Health() error {
	if !p.Enabled() {
		return nil
	}
	if p.conn != nil && p.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Publish 以持久化消息发布一个事件
func (p *Publisher) Publish(ctx context.Context, routingKey string, data any) error {
	if !p.Enabled() {
		return nil
	}
	body, err := json.Marshal(Envelope{Type: routingKey, OccurredAt: p.now().UTC(), Data: data})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
	})
}

// Close 关闭通道和连接
func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *Publisher) publish(routingKey string, data any) {
	if err := p.Publish(context.Background(), routingKey, data); err != nil {
		p.log.Warn("Failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

// AddressCreatedPayload address.created 事件内容
type AddressCreatedPayload struct {
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MessageReceivedPayload message.received 事件内容
type MessageReceivedPayload struct {
	Address     string               `json:"address"`
	MessageID   string               `json:"messageId"`
	From        string               `json:"from"`
	Subject     string               `json:"subject"`
	Source      domain.MessageSource `json:"source"`
	Size        int64                `json:"size"`
	Attachments int                  `json:"attachments"`
}

// ReclaimCompletedPayload reclaim.completed 事件内容
type ReclaimCompletedPayload struct {
	Result    string                 `json:"result"`
	Duration  time.Duration          `json:"duration"`
	Steps     []scheduler.StepResult `json:"steps"`
	Reclaimed int                    `json:"reclaimedAddresses"`
}

// OnAddressCreated 可注册为 RegistryService 的回调
func (p *Publisher) OnAddressCreated(addr domain.Address) {
	p.publish(AddressCreated, AddressCreatedPayload{Address: addr.Address, ExpiresAt: addr.ExpiresAt})
}

// OnMessageReceived 可注册为 MailboxService 的回调
func (p *Publisher) OnMessageReceived(msg domain.Message) {
	p.publish(MessageReceived, MessageReceivedPayload{
		Address:     msg.EmailAddress,
		MessageID:   msg.MessageID,
		From:        msg.From,
		Subject:     msg.Subject,
		Source:      msg.Source,
		Size:        msg.Size,
		Attachments: len(msg.Attachments),
	})
}

// OnReclaimCompleted 可注册为 Reclaimer 的回调
func (p *Publisher) OnReclaimCompleted(report scheduler.CycleReport) {
	p.publish(ReclaimCompleted, ReclaimCompletedPayload{
		Result:    report.Result,
		Duration:  report.FinishedAt.Sub(report.StartedAt),
		Steps:     report.Steps,
		Reclaimed: len(report.Reclaimed),
	})
}
