// Package event はドメインイベントの発行を提供する。
// 商品の作成・更新・削除とチェックアウトをトピックエクスチェンジへ通知する。
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ルーティングキー
const (
	KeyProductCreated  = "product.created"
	KeyProductUpdated  = "product.updated"
	KeyProductDeleted  = "product.deleted"
	KeyCartCheckedOut  = "cart.checked_out"
	defaultPublishWait = 2 * time.Second
)

// Publisher はドメインイベントの発行インターフェース。
type Publisher interface {
	// Publish はpayloadをJSONとしてroutingKeyで発行する。
	Publish(ctx context.Context, routingKey string, payload any) error
	// Close は接続を閉じる。
	Close() error
}

// AMQPPublisher はRabbitMQのトピックエクスチェンジへ発行するPublisher。
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher はRabbitMQに接続し、durableなトピックエクスチェンジを宣言する。
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish はpayloadをJSONとして発行する。
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

// Close はチャネルと接続を閉じる。
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// LogPublisher はブローカー未設定時に使用するPublisher。イベントをdebugログに出すだけ。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher はLogPublisherを生成する。
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish はイベントをログに記録する。
func (p *LogPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	p.logger.DebugContext(ctx, "domain event",
		slog.String("routing_key", routingKey),
		slog.Any("payload", payload),
	)
	return nil
}

// Close は何もしない。
func (p *LogPublisher) Close() error { return nil }

// Emit はイベントを発行し、失敗した場合はwarnログを出すだけで呼び出し元には返さない。
// 呼び出し元のコンテキストがキャンセル済みでも発行できるよう、独立したタイムアウトを使う。
func Emit(ctx context.Context, p Publisher, routingKey string, payload any) {
	if p == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishWait)
	defer cancel()

	if err := p.Publish(pubCtx, routingKey, payload); err != nil {
		slog.Warn("failed to publish domain event",
			slog.String("routing_key", routingKey),
			slog.String("error", err.Error()),
		)
	}
}

// ProductEvent は商品イベントのペイロード。
type ProductEvent struct {
	ProductID  string    `json:"productId"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	ActorID    string    `json:"actorId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// CheckoutEvent はチェックアウトイベントのペイロード。
type CheckoutEvent struct {
	OrderID    string    `json:"orderId"`
	UserID     string    `json:"userId"`
	ItemCount  int       `json:"itemCount"`
	Total      string    `json:"total"`
	OccurredAt time.Time `json:"occurredAt"`
}

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
