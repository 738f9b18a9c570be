package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"feedfusion/internal/domain/tasks"
	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/logger"
	"feedfusion/internal/repos"
)

// PredictionInput — вход батч-предиктора для одной новости.
type PredictionInput struct {
	NewsID  int64  `json:"news_id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Prediction — предсказанная категория. Пустая строка — предиктор воздержался.
type Prediction struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Predictor — батч-классификация. Результат позиционно соответствует входу.
type Predictor interface {
	PredictMany(ctx context.Context, inputs []PredictionInput) ([]Prediction, error)
}

// enqueuer — постановка задачи категоризации.
type enqueuer interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// Loop — периодическая автокатегоризация неразмеченных новостей.
type Loop struct {
	db        *db.DB
	enqueuer  enqueuer
	artifacts ArtifactFS
	predictor Predictor
	enabled   bool
}

// NewLoop создаёт цикл автокатегоризации. enabled=false превращает тики в no-op.
func NewLoop(database *db.DB, enq enqueuer, artifacts ArtifactFS, predictor Predictor, enabled bool) *Loop {
	return &Loop{
		db:        database,
		enqueuer:  enq,
		artifacts: artifacts,
		predictor: predictor,
		enabled:   enabled,
	}
}

// HandleCheckUncategorized — обработчик тика check_for_uncategorized_news.
// Снимает слепок неразмеченных новостей и ставит задачу категоризации:
// загрузка модели остаётся на воркере, планировщик не блокируется.
func (l *Loop) HandleCheckUncategorized(ctx context.Context, _ json.RawMessage) error {
	if !l.enabled {
		logger.Debug("Classifier: autocategorization disabled, skipping")
		return nil
	}
	if !ModelPresent(l.artifacts) {
		logger.Info("Classifier: model artifacts missing, skipping")
		return nil
	}

	session, err := l.db.Begin(ctx)
	if err != nil {
		return err
	}
	news, err := repos.New(session.Tx()).News.GetUncategorized(ctx)
	session.Close()
	if err != nil {
		return fmt.Errorf("load uncategorized news: %w", err)
	}
	if len(news) == 0 {
		logger.Debug("Classifier: no uncategorized news")
		return nil
	}

	logger.Infof("Classifier: %d uncategorized news item(s) found", len(news))
	return l.enqueuer.Enqueue(ctx, tasks.TaskCategorizeNews, news)
}

// HandleCategorize — обработчик задачи categorize_uncategorized_news:
// батч-предсказание и запись валидных меток в одной транзакции.
// Перезапуск идемпотентен: уже размеченные строки в слепок больше не попадут.
func (l *Loop) HandleCategorize(ctx context.Context, payload json.RawMessage) error {
	var news []repos.News
	if err := json.Unmarshal(payload, &news); err != nil {
		logger.Errorf("Classifier: malformed categorize payload, dropping: %v", err)
		return nil
	}
	if len(news) == 0 {
		return nil
	}
	if l.predictor == nil {
		logger.Warn("Classifier: predictor unavailable, skipping batch")
		return nil
	}

	inputs := make([]PredictionInput, len(news))
	for i, n := range news {
		inputs[i] = PredictionInput{NewsID: n.ID, Title: n.Title, Summary: n.Summary}
	}
	predictions, err := l.predictor.PredictMany(ctx, inputs)
	if err != nil {
		return fmt.Errorf("predict batch: %w", err)
	}
	if len(predictions) != len(news) {
		return fmt.Errorf("predictor returned %d result(s) for %d input(s)", len(predictions), len(news))
	}

	session, err := l.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	store := repos.New(session.Tx())

	updated := 0
	for i, n := range news {
		label := predictions[i].Category
		if label == "" {
			continue
		}
		if !IsValidCategory(label) {
			logger.Warnf("Classifier: unknown category %q for news %d", label, n.ID)
			continue
		}
		if err := store.News.EditCategory(ctx, n.ID, label); err != nil {
			return fmt.Errorf("assign category to news %d: %w", n.ID, err)
		}
		updated++
	}
	if err := session.Commit(); err != nil {
		return fmt.Errorf("commit categories: %w", err)
	}

	logger.Infof("Classifier: assigned categories to %d of %d news item(s)", updated, len(news))
	return nil
}
