package classifier

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"feedfusion/internal/domain/tasks"
	"feedfusion/internal/infra/db"
	"feedfusion/internal/repos"
)

// captureEnqueuer запоминает поставленные задачи.
type captureEnqueuer struct {
	tasks      []string
	payloads   []any
	enqueueErr error
}

func (c *captureEnqueuer) Enqueue(_ context.Context, task string, payload any) error {
	if c.enqueueErr != nil {
		return c.enqueueErr
	}
	c.tasks = append(c.tasks, task)
	c.payloads = append(c.payloads, payload)
	return nil
}

// fakePredictor возвращает заранее заданные предсказания.
type fakePredictor struct {
	predictions []Prediction
	inputs      []PredictionInput
	err         error
}

func (p *fakePredictor) PredictMany(_ context.Context, inputs []PredictionInput) ([]Prediction, error) {
	p.inputs = inputs
	if p.err != nil {
		return nil, p.err
	}
	return p.predictions, nil
}

var newsTestColumns = []string{
	"id", "channel_id", "link", "title", "summary", "source",
	"image", "published", "content_hash", "category", "created_at", "updated_at",
}

func addUncategorizedRow(rows *sqlmock.Rows, id int64, title string) *sqlmock.Rows {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return rows.AddRow(id, 1, "https://example.com/n", title, "s", "src", nil, now, "hash", nil, now, now)
}

func newMockDB(t *testing.T) (*db.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db.NewWithDB(sqlDB), mock
}

func TestHandleCheckUncategorized(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		database, mock := newMockDB(t)
		loop := NewLoop(database, &captureEnqueuer{}, fullModelFS(), nil, false)
		if err := loop.HandleCheckUncategorized(context.Background(), nil); err != nil {
			t.Fatalf("HandleCheckUncategorized() error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unexpected database access: %v", err)
		}
	})

	t.Run("modelMissing", func(t *testing.T) {
		t.Parallel()

		database, mock := newMockDB(t)
		enq := &captureEnqueuer{}
		loop := NewLoop(database, enq, mapFS{}, nil, true)
		if err := loop.HandleCheckUncategorized(context.Background(), nil); err != nil {
			t.Fatalf("HandleCheckUncategorized() error: %v", err)
		}
		if len(enq.tasks) != 0 {
			t.Fatalf("tasks = %v, want none", enq.tasks)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unexpected database access: %v", err)
		}
	})

	t.Run("enqueuesSnapshot", func(t *testing.T) {
		t.Parallel()

		database, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM news WHERE category IS NULL`).
			WillReturnRows(addUncategorizedRow(addUncategorizedRow(sqlmock.NewRows(newsTestColumns), 1, "a"), 2, "b"))
		mock.ExpectRollback()

		enq := &captureEnqueuer{}
		loop := NewLoop(database, enq, fullModelFS(), nil, true)
		if err := loop.HandleCheckUncategorized(context.Background(), nil); err != nil {
			t.Fatalf("HandleCheckUncategorized() error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}

		if len(enq.tasks) != 1 || enq.tasks[0] != tasks.TaskCategorizeNews {
			t.Fatalf("tasks = %v, want categorize task", enq.tasks)
		}
		news := enq.payloads[0].([]repos.News)
		if len(news) != 2 {
			t.Fatalf("snapshot = %d item(s), want 2", len(news))
		}
	})
}

func TestHandleCategorize(t *testing.T) {
	t.Parallel()

	database, mock := newMockDB(t)

	news := []repos.News{
		{ID: 1, Title: "a", Summary: "sa"},
		{ID: 2, Title: "b", Summary: "sb"},
		{ID: 3, Title: "c", Summary: "sc"},
	}
	payload, _ := json.Marshal(news)

	predictor := &fakePredictor{predictions: []Prediction{
		{Category: "Спорт", Confidence: 0.9},
		{Category: "Мода", Confidence: 0.8}, // неизвестная метка — пропускается
		{Category: "", Confidence: 0.1},     // предиктор воздержался
	}}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE news SET category`).
		WithArgs(int64(1), "Спорт").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	loop := NewLoop(database, &captureEnqueuer{}, fullModelFS(), predictor, true)
	if err := loop.HandleCategorize(context.Background(), payload); err != nil {
		t.Fatalf("HandleCategorize() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	if len(predictor.inputs) != 3 || predictor.inputs[2].NewsID != 3 {
		t.Fatalf("predictor inputs = %#v", predictor.inputs)
	}
}

func TestHandleCategorizeLengthMismatch(t *testing.T) {
	t.Parallel()

	database, _ := newMockDB(t)
	payload, _ := json.Marshal([]repos.News{{ID: 1}, {ID: 2}})

	predictor := &fakePredictor{predictions: []Prediction{{Category: "Спорт"}}}
	loop := NewLoop(database, &captureEnqueuer{}, fullModelFS(), predictor, true)

	if err := loop.HandleCategorize(context.Background(), payload); err == nil {
		t.Fatal("HandleCategorize() expected error on result length mismatch")
	}
}

func TestHandleCategorizeMalformed(t *testing.T) {
	t.Parallel()

	database, mock := newMockDB(t)
	loop := NewLoop(database, &captureEnqueuer{}, fullModelFS(), &fakePredictor{}, true)

	if err := loop.HandleCategorize(context.Background(), json.RawMessage(`{oops`)); err != nil {
		t.Fatalf("HandleCategorize() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database access: %v", err)
	}
}
