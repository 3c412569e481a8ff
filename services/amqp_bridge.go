package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"pss-service/config"
	"pss-service/logger"
	"pss-service/models"
	"pss-service/pkg/metrics"
)

const bridgeBufferSize = 256

// AMQPBridge 最终化事件的AMQP发布桥（可选）
// 把每条事件以JSON发布到交换机，routing key为 pss.event.<kind>
// 发布绝不阻塞管道：有界缓冲，满了丢最旧的并计数
type AMQPBridge struct {
	cfg     config.AMQPConfig
	metrics *metrics.Manager

	conn    *amqp.Connection
	channel *amqp.Channel

	buf  chan *models.DomainEvent
	done chan struct{}
}

// NewAMQPBridge 创建事件桥
func NewAMQPBridge(cfg config.AMQPConfig, m *metrics.Manager) *AMQPBridge {
	return &AMQPBridge{
		cfg:     cfg,
		metrics: m,
		buf:     make(chan *models.DomainEvent, bridgeBufferSize),
		done:    make(chan struct{}),
	}
}

// Start 启动发布循环，连接失败在循环内退避重连
func (b *AMQPBridge) Start() {
	go b.publishLoop()
}

// Stop 停止发布并关闭连接
func (b *AMQPBridge) Stop() {
	close(b.done)
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}

// Publish 入队一条事件，满了丢最旧的
func (b *AMQPBridge) Publish(ev *models.DomainEvent) {
	select {
	case b.buf <- ev:
		return
	default:
	}

	select {
	case <-b.buf:
		if b.metrics != nil {
			b.metrics.BridgeDropped.Inc()
		}
	default:
	}

	select {
	case b.buf <- ev:
	default:
		if b.metrics != nil {
			b.metrics.BridgeDropped.Inc()
		}
	}
}

func (b *AMQPBridge) connect() error {
	conn, err := amqp.DialConfig(b.cfg.URL, amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		b.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	b.conn = conn
	b.channel = channel
	logger.Printf("[Bridge] Connected to AMQP, exchange %s declared", b.cfg.Exchange)
	return nil
}

func (b *AMQPBridge) publishLoop() {
	backoff := time.Second

	for {
		select {
		case <-b.done:
			return
		default:
		}

		if b.conn == nil || b.conn.IsClosed() {
			if err := b.connect(); err != nil {
				logger.Errorf("[Bridge] %v, retrying in %v", err, backoff)
				select {
				case <-b.done:
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
		}

		select {
		case <-b.done:
			return
		case ev := <-b.buf:
			if err := b.publishEvent(ev); err != nil {
				logger.Errorf("[Bridge] Publish failed: %v", err)
				// 连接可能已坏，重新入队并走重连路径
				b.Publish(ev)
				if b.channel != nil {
					b.channel.Close()
				}
				if b.conn != nil {
					b.conn.Close()
				}
				b.conn = nil
			} else if b.metrics != nil {
				b.metrics.BridgePublished.Inc()
			}
		}
	}
}

func (b *AMQPBridge) publishEvent(ev *models.DomainEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := "pss.event." + string(ev.Kind)
	return b.channel.Publish(
		b.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   ev.OccurredAt,
			Body:        body,
		})
}
