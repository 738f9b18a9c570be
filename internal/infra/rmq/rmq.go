// Пакет rmq — тонкая обёртка над RabbitMQ: ленивое подключение, durable-очереди,
// персистентная публикация и потребительский цикл с автопереподключением.
// Соединение устанавливается при первом обращении, а не на старте процесса:
// брокер может подняться позже воркера.
package rmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"feedfusion/internal/infra/errs"
	"feedfusion/internal/infra/logger"
)

// Параметры переподключения потребителя. Интервал растёт экспоненциально
// до maxReconnectDelay и сбрасывается после успешного подключения.
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Delivery — входящее сообщение. Потребитель обязан явно подтвердить его
// одним из Ack/Nack/Reject ровно один раз.
type Delivery = amqp.Delivery

// Table — произвольные заголовки сообщения (x-retries, x-error-reason и т.п.).
type Table = amqp.Table

// Client держит одно соединение и один канал к брокеру. Потокобезопасен:
// публикации из разных горутин сериализуются мьютексом.
type Client struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]struct{}
}

// New создаёт клиента без установления соединения.
func New(url string) *Client {
	return &Client{
		url:      url,
		declared: make(map[string]struct{}),
	}
}

// ensureChannelLocked гарантирует живой канал; вызывается под c.mu.
func (c *Client) ensureChannelLocked() (*amqp.Channel, error) {
	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}

	// Канал умер — пересоздаём вместе с соединением, если и оно закрыто.
	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		c.conn = conn
		logger.Debug("RMQ: connection established")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c.ch = ch
	// Объявления очередей привязаны к каналу — после пересоздания повторяем.
	c.declared = make(map[string]struct{})
	return ch, nil
}

// declareLocked объявляет durable-очередь один раз на канал; вызывается под c.mu.
func (c *Client) declareLocked(ch *amqp.Channel, queue string) error {
	if _, ok := c.declared[queue]; ok {
		return nil
	}
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	c.declared[queue] = struct{}{}
	return nil
}

// Publish отправляет персистентное сообщение в очередь через default exchange.
// Любой сбой транспорта транслируется в ErrBrokerUnavailable, чтобы вызывающий
// мог отличить недоступность брокера от доменных ошибок.
func (c *Client) Publish(ctx context.Context, queue string, body []byte, headers Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.ensureChannelLocked()
	if err != nil {
		c.resetLocked()
		return fmt.Errorf("%w: %s", errs.ErrBrokerUnavailable, err)
	}
	if err := c.declareLocked(ch, queue); err != nil {
		c.resetLocked()
		return fmt.Errorf("%w: %s", errs.ErrBrokerUnavailable, err)
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		c.resetLocked()
		return fmt.Errorf("%w: publish to %s: %s", errs.ErrBrokerUnavailable, queue, err)
	}
	return nil
}

// Consume запускает блокирующий потребительский цикл: объявляет очередь,
// выставляет prefetch и передаёт доставки обработчику. При обрыве канала
// переподключается с экспоненциальной задержкой; возвращается только по
// отмене контекста.
func (c *Client) Consume(ctx context.Context, queue string, prefetch int, handle func(context.Context, Delivery)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialReconnectDelay
	policy.MaxInterval = maxReconnectDelay
	policy.MaxElapsedTime = 0 // переподключаемся бесконечно

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.consumeOnce(ctx, queue, prefetch, handle)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		delay := policy.NextBackOff()
		logger.Warnf("RMQ: consumer on %s failed (%v), reconnect in %s", queue, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consumeOnce обслуживает одну сессию потребления до обрыва канала или отмены ctx.
func (c *Client) consumeOnce(ctx context.Context, queue string, prefetch int, handle func(context.Context, Delivery)) error {
	c.mu.Lock()
	ch, err := c.ensureChannelLocked()
	if err == nil {
		err = c.declareLocked(ch, queue)
	}
	if err != nil {
		c.resetLocked()
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume on %s: %w", queue, err)
	}

	logger.Infof("RMQ: consuming %s (prefetch=%d)", queue, prefetch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel on %s closed", queue)
			}
			handle(ctx, d)
		}
	}
}

// HeaderInt читает целочисленный заголовок сообщения. AMQP-клиенты пишут
// числа разными типами, поэтому перебираются распространённые варианты;
// отсутствие и нечисловое значение дают 0.
func HeaderInt(headers Table, key string) int {
	switch v := headers[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// resetLocked сбрасывает канал и соединение; вызывается под c.mu после сбоя.
func (c *Client) resetLocked() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.declared = make(map[string]struct{})
}

// Close закрывает канал и соединение.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return nil
}
