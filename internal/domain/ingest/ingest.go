// Инжест новостей: приём нормализованных батчей от поллера, дедупликация
// по content_hash и bulk-upsert. Повторная доставка батча безвредна:
// уже записанные строки отфильтруются или упрутся в conflict-ignore.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/hashing"
	"feedfusion/internal/infra/logger"
	"feedfusion/internal/repos"
)

// SearchIndex — контракт поискового индекса. Ошибки индексации логируются
// поэлементно и не валят задачу: индекс — вторичное хранилище.
type SearchIndex interface {
	BulkAdd(ctx context.Context, docs []repos.News) []error
}

// Writer пишет батчи новостей в БД и, опционально, в поисковый индекс.
type Writer struct {
	db    *db.DB
	index SearchIndex // nil, если индексация выключена
}

// New создаёт инжест-воркер. index может быть nil.
func New(database *db.DB, index SearchIndex) *Writer {
	return &Writer{db: database, index: index}
}

// HandleProcessNewsItem — обработчик задачи process_news_item. Ошибка БД
// возвращается как есть: воркер задач повторит весь батч с бэкоффом.
func (w *Writer) HandleProcessNewsItem(ctx context.Context, payload json.RawMessage) error {
	var drafts []repos.NewsDraft
	if err := json.Unmarshal(payload, &drafts); err != nil {
		// Повтор нечитаемому батчу не поможет — логируем и подтверждаем.
		logger.Errorf("Ingest: malformed batch, dropping: %v", err)
		return nil
	}
	if len(drafts) == 0 {
		return nil
	}

	inserted, err := w.writeBatch(ctx, drafts)
	if err != nil {
		return err
	}
	logger.Infof("Ingest: %d/%d item(s) inserted", len(inserted), len(drafts))

	if w.index != nil && len(inserted) > 0 {
		for i, ierr := range w.index.BulkAdd(ctx, inserted) {
			if ierr != nil {
				logger.Errorf("Ingest: index news %d: %v", inserted[i].ID, ierr)
			}
		}
	}
	return nil
}

// writeBatch выполняет дедупликацию и вставку в одной транзакции.
func (w *Writer) writeBatch(ctx context.Context, drafts []repos.NewsDraft) ([]repos.News, error) {
	for i := range drafts {
		drafts[i].ContentHash = hashing.ContentHash(drafts[i].Link)
	}

	session, err := w.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	store := repos.New(session.Tx())

	hashes := make([]string, len(drafts))
	for i, d := range drafts {
		hashes[i] = d.ContentHash
	}
	existing, err := store.News.ExistingHashes(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("query existing hashes: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, h := range existing {
		known[h] = struct{}{}
	}

	fresh := make([]repos.NewsDraft, 0, len(drafts))
	seen := make(map[string]struct{}, len(drafts))
	for _, d := range drafts {
		if _, ok := known[d.ContentHash]; ok {
			continue
		}
		// Дубликаты внутри самого батча тоже схлопываем.
		if _, ok := seen[d.ContentHash]; ok {
			continue
		}
		seen[d.ContentHash] = struct{}{}
		fresh = append(fresh, d)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	inserted, err := store.News.AddBulkUpsert(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("bulk upsert: %w", err)
	}
	if err := session.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return inserted, nil
}
