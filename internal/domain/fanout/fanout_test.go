package fanout_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"feedfusion/internal/domain/fanout"
	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/rmq"
)

// capturePublisher запоминает публикации; failOn позволяет сымитировать
// отказ брокера на конкретном сообщении.
type capturePublisher struct {
	queues []string
	bodies [][]byte
	failOn int // 1-based номер публикации, 0 — без отказов
}

func (c *capturePublisher) Publish(_ context.Context, queue string, body []byte, _ rmq.Table) error {
	if c.failOn > 0 && len(c.bodies)+1 == c.failOn {
		return errors.New("broker gone")
	}
	c.queues = append(c.queues, queue)
	c.bodies = append(c.bodies, body)
	return nil
}

var subsColumns = []string{
	"id", "user_id", "channel_id", "last_news_id", "created_at", "updated_at", "telegram_id",
}

var newsColumns = []string{
	"id", "channel_id", "link", "title", "summary", "source",
	"image", "published", "content_hash", "category", "created_at", "updated_at",
}

func addNewsRow(rows *sqlmock.Rows, id, channelID int64) *sqlmock.Rows {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return rows.AddRow(id, channelID, "https://example.com/n", "t", "s", "src", nil, now, "hash", nil, now, now)
}

func TestHandleCheckSubsAdvancesWatermark(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT s\.\*, u\.telegram_id`).
		WillReturnRows(sqlmock.NewRows(subsColumns).
			// Подписка с двумя новыми новостями.
			AddRow(1, 10, 100, 5, now, now, "777").
			// Подписка пользователя без telegram_id — пропускается без запросов.
			AddRow(2, 11, 100, 0, now, now, nil))
	mock.ExpectQuery(`SELECT \* FROM news`).
		WithArgs(int64(100), int64(5)).
		WillReturnRows(addNewsRow(addNewsRow(sqlmock.NewRows(newsColumns), 6, 100), 9, 100))
	mock.ExpectExec(`UPDATE subscriptions`).
		WithArgs(int64(1), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// После коммита открывается свежая сессия; она откатывается в конце тика.
	mock.ExpectBegin()
	mock.ExpectRollback()

	pub := &capturePublisher{}
	planner := fanout.New(db.NewWithDB(sqlDB), pub, "telegram_news", true)

	if err := planner.HandleCheckSubs(context.Background(), nil); err != nil {
		t.Fatalf("HandleCheckSubs() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	if len(pub.bodies) != 2 {
		t.Fatalf("published = %d, want 2", len(pub.bodies))
	}
	var msg fanout.DeliveryMessage
	if err := json.Unmarshal(pub.bodies[0], &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.SubscriptionID != 1 || msg.TelegramID != "777" || msg.ChannelID != 100 || msg.News.ID != 6 {
		t.Fatalf("message = %#v", msg)
	}
	if pub.queues[0] != "telegram_news" {
		t.Fatalf("queue = %q", pub.queues[0])
	}
}

func TestHandleCheckSubsBrokerFailureKeepsWatermark(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT s\.\*, u\.telegram_id`).
		WillReturnRows(sqlmock.NewRows(subsColumns).
			AddRow(1, 10, 100, 5, now, now, "777"))
	mock.ExpectQuery(`SELECT \* FROM news`).
		WithArgs(int64(100), int64(5)).
		WillReturnRows(addNewsRow(sqlmock.NewRows(newsColumns), 6, 100))
	// Публикация падает: водяной знак не трогаем, транзакция откатывается,
	// открывается новая для следующих подписок.
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()

	pub := &capturePublisher{failOn: 1}
	planner := fanout.New(db.NewWithDB(sqlDB), pub, "telegram_news", true)

	if err := planner.HandleCheckSubs(context.Background(), nil); err != nil {
		t.Fatalf("HandleCheckSubs() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if len(pub.bodies) != 0 {
		t.Fatalf("published = %d, want 0", len(pub.bodies))
	}
}

func TestHandleCheckSubsDisabled(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close()

	planner := fanout.New(db.NewWithDB(sqlDB), &capturePublisher{}, "telegram_news", false)
	if err := planner.HandleCheckSubs(context.Background(), nil); err != nil {
		t.Fatalf("HandleCheckSubs() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database access: %v", err)
	}
}
