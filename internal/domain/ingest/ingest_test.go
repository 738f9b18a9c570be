package ingest_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"feedfusion/internal/domain/ingest"
	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/hashing"
	"feedfusion/internal/infra/timeutil"
	"feedfusion/internal/repos"
)

// captureIndex запоминает документы, отданные на индексацию.
type captureIndex struct {
	docs []repos.News
	errs []error
}

func (c *captureIndex) BulkAdd(_ context.Context, docs []repos.News) []error {
	c.docs = append(c.docs, docs...)
	if c.errs != nil {
		return c.errs
	}
	return make([]error, len(docs))
}

func newsRow(id int64, link string) *sqlmock.Rows {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "channel_id", "link", "title", "summary", "source",
		"image", "published", "content_hash", "category", "created_at", "updated_at",
	}).AddRow(id, 1, link, "t", "s", "src", nil, now, hashing.ContentHash(link), nil, now, now)
}

func TestHandleProcessNewsItemDedup(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close()
	database := db.NewWithDB(sqlDB)

	published := timeutil.Naive(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	drafts := []repos.NewsDraft{
		{ChannelID: 1, Link: "https://example.com/a", Title: "A", Summary: "s", Source: "src", Published: published},
		// Дубликат внутри батча.
		{ChannelID: 1, Link: "https://example.com/a", Title: "A copy", Summary: "s", Source: "src", Published: published},
		// Уже есть в БД.
		{ChannelID: 1, Link: "https://example.com/c", Title: "C", Summary: "s", Source: "src", Published: published},
	}
	hashA := hashing.ContentHash("https://example.com/a")
	hashC := hashing.ContentHash("https://example.com/c")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT content_hash FROM news WHERE content_hash IN`).
		WithArgs(hashA, hashA, hashC).
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}).AddRow(hashC))
	mock.ExpectQuery(`INSERT INTO news`).
		WillReturnRows(newsRow(10, "https://example.com/a"))
	mock.ExpectCommit()

	index := &captureIndex{}
	payload, _ := json.Marshal(drafts)

	w := ingest.New(database, index)
	if err := w.HandleProcessNewsItem(context.Background(), payload); err != nil {
		t.Fatalf("HandleProcessNewsItem() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	if len(index.docs) != 1 || index.docs[0].ID != 10 {
		t.Fatalf("indexed docs = %#v, want single news id=10", index.docs)
	}
}

func TestHandleProcessNewsItemAllKnown(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close()
	database := db.NewWithDB(sqlDB)

	hashA := hashing.ContentHash("https://example.com/a")
	drafts := []repos.NewsDraft{
		{ChannelID: 1, Link: "https://example.com/a", Title: "A", Summary: "s", Source: "src", Published: timeutil.NaiveNow()},
	}

	// Все хэши уже известны: вставки и коммита не будет, транзакция откатится.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT content_hash FROM news WHERE content_hash IN`).
		WithArgs(hashA).
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}).AddRow(hashA))
	mock.ExpectRollback()

	index := &captureIndex{}
	payload, _ := json.Marshal(drafts)

	w := ingest.New(database, index)
	if err := w.HandleProcessNewsItem(context.Background(), payload); err != nil {
		t.Fatalf("HandleProcessNewsItem() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if len(index.docs) != 0 {
		t.Fatalf("indexed docs = %d, want 0", len(index.docs))
	}
}

func TestHandleProcessNewsItemMalformed(t *testing.T) {
	t.Parallel()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close()

	// Нечитаемый батч подтверждается без обращения к БД.
	w := ingest.New(db.NewWithDB(sqlDB), nil)
	if err := w.HandleProcessNewsItem(context.Background(), json.RawMessage(`{not json`)); err != nil {
		t.Fatalf("HandleProcessNewsItem() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database access: %v", err)
	}
}
