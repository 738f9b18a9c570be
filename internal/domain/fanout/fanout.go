// Фан-аут подписок: по тику check_subs планировщик обходит подписки,
// выбирает непросмотренные новости каждого канала и публикует по одному
// сообщению доставки на новость. Водяной знак подписки продвигается и
// коммитится после публикации всего батча, поэтому падение посреди обхода
// теряет максимум батч текущей подписки — и он будет переиздан на
// следующем тике (дубли в чате допустимы, дубли в БД — нет).
package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/logger"
	"feedfusion/internal/infra/rmq"
	"feedfusion/internal/repos"
)

// DeliveryMessage — тело сообщения в очереди доставки.
type DeliveryMessage struct {
	SubscriptionID int64      `json:"subscription_id"`
	TelegramID     string     `json:"telegram_id"`
	ChannelID      int64      `json:"channel_id"`
	News           repos.News `json:"news"`
}

// publisher — публикация в очередь доставки; одно соединение держится
// открытым на весь тик.
type publisher interface {
	Publish(ctx context.Context, queue string, body []byte, headers rmq.Table) error
}

// Planner публикует непросмотренные новости в очередь доставки.
type Planner struct {
	db      *db.DB
	broker  publisher
	queue   string
	enabled bool
}

// New создаёт планировщик фан-аута. enabled=false превращает тик в no-op.
func New(database *db.DB, broker publisher, queue string, enabled bool) *Planner {
	return &Planner{db: database, broker: broker, queue: queue, enabled: enabled}
}

// HandleCheckSubs — обработчик задачи check_subs.
func (p *Planner) HandleCheckSubs(ctx context.Context, _ json.RawMessage) error {
	if !p.enabled {
		logger.Debug("Fanout: subs check disabled, skipping")
		return nil
	}

	session, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	// Замыкание, а не session.Close(): переменная переприсваивается после
	// каждого коммита, закрыть нужно последнюю открытую сессию.
	defer func() { session.Close() }()
	store := repos.New(session.Tx())

	subs, err := store.Subs.GetAllWithUser(ctx)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	published := 0
	for _, sub := range subs {
		n, serr := p.dispatchSubscription(ctx, store, sub)
		switch {
		case serr != nil:
			// Потеряли максимум батч этой подписки; остальные продолжаем.
			// Транзакция после ошибки Postgres непригодна — откатываем и
			// открываем новую.
			logger.Errorf("Fanout: subscription %d: %v", sub.ID, serr)
			session.Close()
			if session, err = p.db.Begin(ctx); err != nil {
				return err
			}
			store = repos.New(session.Tx())
		case n > 0:
			published += n
			// Коммит по подписке: водяной знак фиксируется сразу после её батча.
			if err := session.Commit(); err != nil {
				return fmt.Errorf("commit watermark for subscription %d: %w", sub.ID, err)
			}
			if session, err = p.db.Begin(ctx); err != nil {
				return err
			}
			store = repos.New(session.Tx())
		}
	}

	logger.Infof("Fanout: %d message(s) published for %d subscription(s)", published, len(subs))
	return nil
}

// dispatchSubscription публикует все новые новости одной подписки (в порядке
// возрастания id) и продвигает её водяной знак. Возвращает число публикаций.
func (p *Planner) dispatchSubscription(ctx context.Context, store *repos.Store, sub repos.SubscriptionWithUser) (int, error) {
	if sub.TelegramID == nil || *sub.TelegramID == "" {
		return 0, nil
	}

	news, err := store.News.GetNewerThan(ctx, sub.ChannelID, sub.LastNewsID)
	if err != nil {
		return 0, fmt.Errorf("select unseen news: %w", err)
	}
	if len(news) == 0 {
		return 0, nil
	}

	for _, item := range news {
		msg := DeliveryMessage{
			SubscriptionID: sub.ID,
			TelegramID:     *sub.TelegramID,
			ChannelID:      sub.ChannelID,
			News:           item,
		}
		body, merr := json.Marshal(msg)
		if merr != nil {
			return 0, fmt.Errorf("marshal delivery message: %w", merr)
		}
		if perr := p.broker.Publish(ctx, p.queue, body, nil); perr != nil {
			return 0, fmt.Errorf("publish news %d: %w", item.ID, perr)
		}
	}

	// Выборка отсортирована по id asc: последний элемент — новый водяной знак.
	watermark := news[len(news)-1].ID
	if err := store.Subs.EditLastNews(ctx, sub.ID, watermark); err != nil {
		return 0, fmt.Errorf("advance watermark: %w", err)
	}
	logger.Debugf("Fanout: subscription %d advanced to %d (%d message(s))", sub.ID, watermark, len(news))
	return len(news), nil
}
