package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQJournalConfig 描述 RabbitMQ 日志的连接参数。
type RabbitMQJournalConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// RabbitMQJournal 把事件投递到 RabbitMQ 队列，供下游审计系统消费。
type RabbitMQJournal struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQJournal 创建 RabbitMQ 日志实例。
func NewRabbitMQJournal(cfg RabbitMQJournalConfig) (*RabbitMQJournal, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "treasury.journal"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	_, err = ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &RabbitMQJournal{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 将事件投递到 RabbitMQ。
func (j *RabbitMQJournal) Publish(ctx context.Context, event Event) error {
	if j == nil || j.ch == nil {
		return errors.New("RabbitMQ 日志未初始化")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化审计事件失败: %w", err)
	}
	return j.ch.PublishWithContext(ctx, "", j.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Close 关闭 RabbitMQ 连接。
func (j *RabbitMQJournal) Close() error {
	if j == nil {
		return nil
	}
	if j.ch != nil {
		_ = j.ch.Close()
	}
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}
