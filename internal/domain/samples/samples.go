// Импорт обучающего датасета из CSV. Синхронная часть валидирует заголовки
// и создаёт запись статуса; тяжёлая построчная валидация и запись в БД
// выполняются фоновой задачей upload_training_dataset.
package samples

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"feedfusion/internal/domain/classifier"
	"feedfusion/internal/domain/tasks"
	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/errs"
	"feedfusion/internal/infra/logger"
	"feedfusion/internal/repos"
)

// requiredHeaders — обязательные колонки CSV-датасета.
var requiredHeaders = []string{"title", "summary", "category"}

// uploadPayload — полезная нагрузка задачи upload_training_dataset.
type uploadPayload struct {
	FileText string `json:"file_text"`
	UploadID int64  `json:"upload_id"`
}

// enqueuer — постановка фоновой задачи импорта.
type enqueuer interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// Service — синхронная сторона импорта датасета.
type Service struct {
	db       *db.DB
	enqueuer enqueuer
}

// NewService создаёт сервис импорта.
func NewService(database *db.DB, enq enqueuer) *Service {
	return &Service{db: database, enqueuer: enq}
}

// UploadDataset валидирует заголовки CSV, создаёт запись DatasetUpload и
// ставит фоновую задачу импорта. Нечитаемый CSV — ErrCSVDecode; отсутствие
// обязательных колонок — ErrMissingCSVHeaders, и в обоих случаях запись
// статуса не создаётся.
func (s *Service) UploadDataset(ctx context.Context, fileText string) (*repos.DatasetUpload, error) {
	if err := validateHeaders(fileText); err != nil {
		return nil, err
	}

	session, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	store := repos.New(session.Tx())

	upload, err := store.Uploads.Add(ctx)
	if err != nil {
		return nil, err
	}
	if err := session.Commit(); err != nil {
		return nil, fmt.Errorf("commit upload row: %w", err)
	}

	payload := uploadPayload{FileText: fileText, UploadID: upload.ID}
	if err := s.enqueuer.Enqueue(ctx, tasks.TaskUploadTrainingDataset, payload); err != nil {
		s.compensateEnqueue(ctx, upload.ID)
		return nil, err
	}
	return upload, nil
}

// compensateEnqueue закрывает запись импорта, чью фоновую задачу не удалось
// поставить, чтобы клиент не опрашивал вечный is_completed=false.
func (s *Service) compensateEnqueue(ctx context.Context, uploadID int64) {
	session, err := s.db.Begin(ctx)
	if err != nil {
		logger.Errorf("Samples: compensation for upload %d failed: %v", uploadID, err)
		return
	}
	defer session.Close()
	completed := true
	errCount := 1
	err = repos.New(session.Tx()).Uploads.Edit(ctx, uploadID, repos.UploadPatch{
		Errors:      &errCount,
		IsCompleted: &completed,
		Details:     repos.StringList{"Failed to enqueue import task"},
	})
	if err == nil {
		err = session.Commit()
	}
	if err != nil {
		logger.Errorf("Samples: compensation for upload %d failed: %v", uploadID, err)
	}
}

// CorrectNewsCategory выставляет новости категорию вручную и добавляет пару
// (title, summary, category) в обучающую выборку. Повторное назначение той же
// категории — ErrObjectExists: дубликат примера бесполезен для обучения.
func (s *Service) CorrectNewsCategory(ctx context.Context, newsID int64, category string) (*repos.Sample, error) {
	if !classifier.IsValidCategory(category) {
		return nil, errs.OutOfRangef("unknown category %q", category)
	}

	session, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	store := repos.New(session.Tx())

	news, err := store.News.GetOne(ctx, newsID)
	if err != nil {
		return nil, err
	}
	if news.Category != nil && *news.Category == category {
		return nil, errs.Existsf("news %d already has category %q", newsID, category)
	}

	if err := store.News.EditCategory(ctx, newsID, category); err != nil {
		return nil, err
	}
	summary := news.Summary
	sample, err := store.Samples.Add(ctx, repos.SampleDraft{
		Title:    news.Title,
		Summary:  &summary,
		Category: category,
	})
	if err != nil {
		return nil, err
	}
	if err := session.Commit(); err != nil {
		return nil, fmt.Errorf("commit category correction: %w", err)
	}
	return sample, nil
}

// validateHeaders читает первую строку CSV и сверяет набор колонок.
func validateHeaders(fileText string) error {
	reader := csv.NewReader(strings.NewReader(fileText))
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrCSVDecode, err)
	}

	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = struct{}{}
	}
	var missing []string
	for _, h := range requiredHeaders {
		if _, ok := present[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return errs.MissingHeaders(missing)
	}
	return nil
}

// Importer — фоновая сторона импорта: построчная валидация и bulk-вставка.
type Importer struct {
	db *db.DB
}

// NewImporter создаёт воркер импорта.
func NewImporter(database *db.DB) *Importer {
	return &Importer{db: database}
}

// HandleUploadDataset — обработчик задачи upload_training_dataset. Каждая
// строка валидируется отдельно: плохие строки копятся в details и не мешают
// хорошим. Запись статуса закрывается в любом случае.
func (i *Importer) HandleUploadDataset(ctx context.Context, raw json.RawMessage) error {
	var payload uploadPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		logger.Errorf("Samples: malformed upload payload, dropping: %v", err)
		return nil
	}

	drafts, rowErrors := parseRows(payload.FileText)
	logger.Infof("Samples: upload %d: %d valid row(s), %d error(s)",
		payload.UploadID, len(drafts), len(rowErrors))

	session, err := i.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	store := repos.New(session.Tx())

	if len(drafts) > 0 {
		if _, err := store.Samples.AddBulk(ctx, drafts); err != nil {
			logger.Errorf("Samples: upload %d: bulk insert failed: %v", payload.UploadID, err)
			rowErrors = append(rowErrors, fmt.Sprintf("bulk insert failed: %v", err))
			drafts = nil
		}
	}

	completed := true
	uploads := len(drafts)
	errCount := len(rowErrors)
	err = store.Uploads.Edit(ctx, payload.UploadID, repos.UploadPatch{
		Uploads:     &uploads,
		Errors:      &errCount,
		IsCompleted: &completed,
		Details:     repos.StringList(rowErrors),
	})
	if err != nil {
		return fmt.Errorf("finalize upload %d: %w", payload.UploadID, err)
	}
	return session.Commit()
}

// parseRows разбирает CSV в черновики примеров. Возвращает валидные строки
// и список ошибок по плохим.
func parseRows(fileText string) ([]repos.SampleDraft, []string) {
	reader := csv.NewReader(strings.NewReader(fileText))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, []string{fmt.Sprintf("read header: %v", err)}
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}

	var (
		drafts   []repos.SampleDraft
		rowErrs  []string
		rowIndex int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowIndex++
		if err != nil {
			rowErrs = append(rowErrs, fmt.Sprintf("row %d: %v", rowIndex, err))
			continue
		}

		title := field(record, index, "title")
		category := field(record, index, "category")
		summary := field(record, index, "summary")

		switch {
		case title == "":
			rowErrs = append(rowErrs, fmt.Sprintf("row %d: empty title", rowIndex))
			continue
		case !classifier.IsValidCategory(category):
			rowErrs = append(rowErrs, fmt.Sprintf("row %d: unknown category %q", rowIndex, category))
			continue
		}

		draft := repos.SampleDraft{Title: title, Category: category}
		if summary != "" {
			draft.Summary = &summary
		}
		drafts = append(drafts, draft)
	}
	return drafts, rowErrs
}

// field безопасно извлекает значение колонки из строки CSV.
func field(record []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
