// Потребитель очереди доставки: prefetch=1, ручное подтверждение, ретраи
// через переиздание с инкрементом x-retries и дед-леттер по исчерпании
// бюджета. NACK-с-возвратом не используется: явное переиздание делает
// счётчик попыток видимым и ограниченным.
package delivery

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"feedfusion/internal/domain/fanout"
	"feedfusion/internal/infra/logger"
	"feedfusion/internal/infra/rmq"
	"feedfusion/internal/infra/texts"
)

// Заголовки и причины отказа в очереди доставки.
const (
	retriesHeader     = "x-retries"
	errorReasonHeader = "x-error-reason"

	reasonInvalidJSON    = "invalid_json"
	reasonSendFailed     = "telegram_send_failed"
	reasonProcessingFail = "processing_error"
)

// maxProcessingRetries — бюджет переизданий одного сообщения; после его
// исчерпания сообщение уходит в дед-леттер.
const maxProcessingRetries = 5

// Границы джиттера после успешной отправки (гигиена rate-limit).
const (
	jitterMin = 500 * time.Millisecond
	jitterMax = 1500 * time.Millisecond
)

// Transport — отправка сообщения в чат. Обе операции могут падать транзиентно.
type Transport interface {
	SendText(ctx context.Context, chatID, html string) error
	SendPhoto(ctx context.Context, chatID, imageURL, captionHTML string) error
}

// broker — публикация (ретраи, дед-леттер) и потребление очереди доставки.
type broker interface {
	Publish(ctx context.Context, queue string, body []byte, headers rmq.Table) error
	Consume(ctx context.Context, queue string, prefetch int, handle func(context.Context, rmq.Delivery)) error
}

// Consumer обслуживает очередь доставки.
type Consumer struct {
	broker      broker
	queue       string
	deadQueue   string
	transport   Transport
	sendTimeout time.Duration

	// sleep и randJitter внедряются в тестах.
	sleep      func(time.Duration)
	randJitter func() time.Duration
}

// New создаёт потребителя очереди доставки.
func New(b broker, queue, deadQueue string, transport Transport, sendTimeout time.Duration) *Consumer {
	return &Consumer{
		broker:      b,
		queue:       queue,
		deadQueue:   deadQueue,
		transport:   transport,
		sendTimeout: sendTimeout,
		sleep:       time.Sleep,
		randJitter: func() time.Duration {
			return jitterMin + time.Duration(rand.Int63n(int64(jitterMax-jitterMin)))
		},
	}
}

// Run блокирующе потребляет очередь до отмены контекста.
func (c *Consumer) Run(ctx context.Context) error {
	return c.broker.Consume(ctx, c.queue, 1, c.Handle)
}

// Handle обрабатывает одно сообщение. Любой исход заканчивается ack оригинала:
// «повтор» — это переиздание копии с обновлёнными заголовками, а не возврат
// сообщения брокеру.
func (c *Consumer) Handle(ctx context.Context, d rmq.Delivery) {
	var msg fanout.DeliveryMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		logger.Errorf("Delivery: invalid message body, dead-lettering: %v", err)
		c.finish(d, c.deadLetter(ctx, d, rmq.HeaderInt(d.Headers, retriesHeader), reasonInvalidJSON))
		return
	}

	if msg.TelegramID == "" {
		// Повтор без адресата бессмыслен — это не транзиентный сбой.
		logger.Errorf("Delivery: news %d has no recipient, dead-lettering", msg.News.ID)
		c.finish(d, c.deadLetter(ctx, d, rmq.HeaderInt(d.Headers, retriesHeader), reasonProcessingFail))
		return
	}

	if err := c.send(ctx, msg); err != nil {
		retries := rmq.HeaderInt(d.Headers, retriesHeader)
		logger.Warnf("Delivery: news %d to %s failed (attempt %d): %v",
			msg.News.ID, msg.TelegramID, retries+1, err)
		if retries < maxProcessingRetries {
			c.finish(d, c.republish(ctx, d, retries+1, reasonSendFailed))
		} else {
			c.finish(d, c.deadLetter(ctx, d, retries, reasonSendFailed))
		}
		return
	}

	logger.Debugf("Delivery: news %d sent to %s", msg.News.ID, msg.TelegramID)
	_ = d.Ack(false)
	c.sleep(c.randJitter())
}

// send отправляет одну новость с жёстким таймаутом: фото с подписью при
// наличии картинки, иначе текст.
func (c *Consumer) send(ctx context.Context, msg fanout.DeliveryMessage) error {
	html := texts.FormatNewsMessage(msg.News.Title, msg.News.Summary, msg.News.Link, msg.News.Source)

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	if msg.News.Image != nil && *msg.News.Image != "" {
		return c.transport.SendPhoto(sendCtx, msg.TelegramID, *msg.News.Image, html)
	}
	return c.transport.SendText(sendCtx, msg.TelegramID, html)
}

// finish завершает обработку: после успешного переиздания оригинал
// подтверждается; если переиздание не удалось, оригинал возвращается брокеру,
// чтобы сообщение не потерялось.
func (c *Consumer) finish(d rmq.Delivery, republishErr error) {
	if republishErr != nil {
		logger.Errorf("Delivery: republish failed, requeueing original: %v", republishErr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// republish переиздаёт тело сообщения в основную очередь с инкрементом счётчика.
func (c *Consumer) republish(ctx context.Context, d rmq.Delivery, retries int, reason string) error {
	headers := rmq.Table{
		retriesHeader:     int32(retries),
		errorReasonHeader: reason,
	}
	return c.broker.Publish(ctx, c.queue, d.Body, headers)
}

// deadLetter отправляет сообщение в дед-леттер с накопленными заголовками.
func (c *Consumer) deadLetter(ctx context.Context, d rmq.Delivery, retries int, reason string) error {
	err := c.broker.Publish(ctx, c.deadQueue, d.Body, rmq.Table{
		retriesHeader:     int32(retries),
		errorReasonHeader: reason,
	})
	if err == nil {
		logger.Errorf("Delivery: message dead-lettered (retries=%d reason=%s)", retries, reason)
	}
	return err
}
