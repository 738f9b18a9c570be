package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"feedfusion/internal/infra/logger"
	"feedfusion/internal/infra/rmq"
)

// publisher — минимальный контракт брокера для постановки задач.
type publisher interface {
	Publish(ctx context.Context, queue string, body []byte, headers rmq.Table) error
}

// Enqueuer ставит задачи в общую очередь воркеров.
type Enqueuer struct {
	broker publisher
	queue  string
}

// NewEnqueuer создаёт постановщик для указанной очереди задач.
func NewEnqueuer(broker publisher, queue string) *Enqueuer {
	return &Enqueuer{broker: broker, queue: queue}
}

// Enqueue сериализует payload и публикует конверт задачи. Недоступность
// брокера (ErrBrokerUnavailable) пробрасывается вызывающему: постановка
// задачи — часть его бизнес-операции, и решение об откате принимает он.
func (e *Enqueuer) Enqueue(ctx context.Context, task string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", task, err)
		}
		raw = data
	}

	body, err := json.Marshal(Envelope{Task: task, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", task, err)
	}

	if err := e.broker.Publish(ctx, e.queue, body, nil); err != nil {
		return err
	}
	logger.Debugf("Tasks: %s enqueued", task)
	return nil
}
