package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"feedfusion/internal/infra/logger"
	"feedfusion/internal/infra/rmq"
)

// Параметры ретраев задач: при сбое обработчика задача возвращается в очередь
// с увеличенным счётчиком x-retries и экспоненциальной задержкой 60×2^attempt.
const (
	maxTaskRetries = 3
	retryBaseDelay = 60 * time.Second
)

// retriesHeader хранит число уже выполненных попыток.
const retriesHeader = "x-retries"

// Handler обрабатывает payload одной задачи. Ошибка означает «повторить позже».
type Handler func(ctx context.Context, payload json.RawMessage) error

// consumer — контракт брокера для потребительской стороны воркера.
type consumer interface {
	Publish(ctx context.Context, queue string, body []byte, headers rmq.Table) error
	Consume(ctx context.Context, queue string, prefetch int, handle func(context.Context, rmq.Delivery)) error
}

// Worker — однопоточный потребитель очереди задач: prefetch=1, поздний ack.
// Горизонтальное масштабирование — запуск дополнительных процессов.
type Worker struct {
	broker   consumer
	queue    string
	handlers map[string]Handler

	// wg дожидается отложенных републикаций при остановке.
	wg sync.WaitGroup
}

// NewWorker создаёт воркер без зарегистрированных обработчиков.
func NewWorker(broker consumer, queue string) *Worker {
	return &Worker{
		broker:   broker,
		queue:    queue,
		handlers: make(map[string]Handler),
	}
}

// Register привязывает обработчик к имени задачи. Повторная регистрация
// перекрывает предыдущую; вызывать до Run.
func (w *Worker) Register(task string, h Handler) {
	w.handlers[task] = h
}

// Run блокирующе потребляет очередь до отмены контекста.
func (w *Worker) Run(ctx context.Context) error {
	err := w.broker.Consume(ctx, w.queue, 1, w.handle)
	w.wg.Wait()
	return err
}

// handle разбирает конверт и выполняет обработчик. Нечитаемый конверт и
// незнакомая задача подтверждаются и отбрасываются: повтор им не поможет.
func (w *Worker) handle(ctx context.Context, d rmq.Delivery) {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		logger.Errorf("Worker: malformed envelope, dropping: %v", err)
		_ = d.Ack(false)
		return
	}

	h, ok := w.handlers[env.Task]
	if !ok {
		logger.Errorf("Worker: no handler for task %q, dropping", env.Task)
		_ = d.Ack(false)
		return
	}

	start := time.Now()
	err := h(ctx, env.Payload)
	if err == nil {
		logger.Debugf("Worker: %s done in %s", env.Task, time.Since(start))
		_ = d.Ack(false)
		return
	}

	if ctx.Err() != nil {
		// Процесс останавливается: вернём задачу брокеру без инкремента попыток.
		logger.Warnf("Worker: %s interrupted by shutdown, requeue", env.Task)
		_ = d.Nack(false, true)
		return
	}

	attempt := rmq.HeaderInt(d.Headers, retriesHeader)
	if attempt >= maxTaskRetries {
		logger.Errorf("Worker: %s failed after %d attempt(s), giving up: %v", env.Task, attempt+1, err)
		_ = d.Ack(false)
		return
	}

	delay := retryBaseDelay * time.Duration(1<<attempt)
	logger.Warnf("Worker: %s failed (attempt %d): %v; retry in %s", env.Task, attempt+1, err, delay)
	w.scheduleRetry(ctx, d.Body, attempt+1, delay)
	_ = d.Ack(false)
}

// scheduleRetry републикует тело задачи с задержкой в отдельной горутине,
// чтобы не блокировать потребление (prefetch=1). Оригинал уже подтверждён,
// так что горутина держит единственную копию задачи: при остановке процесса
// задержка не выдерживается — задача возвращается брокеру немедленно, иначе
// она пропала бы вместе с горутиной.
func (w *Worker) scheduleRetry(ctx context.Context, body []byte, retries int, delay time.Duration) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-ctx.Done():
			logger.Warnf("Worker: shutdown during retry delay, republishing immediately")
		case <-time.After(delay):
		}
		headers := rmq.Table{retriesHeader: int32(retries)}
		if err := w.broker.Publish(context.WithoutCancel(ctx), w.queue, body, headers); err != nil {
			logger.Errorf("Worker: retry republish failed: %v", err)
		}
	}()
}
