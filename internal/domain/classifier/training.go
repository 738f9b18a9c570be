package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"feedfusion/internal/domain/tasks"
	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/errs"
	"feedfusion/internal/infra/logger"
	"feedfusion/internal/infra/storage"
	"feedfusion/internal/repos"
)

// TrainingSample — обучающий пример в терминах тренера.
type TrainingSample struct {
	Title    string  `json:"title"`
	Summary  *string `json:"summary,omitempty"`
	Category string  `json:"category"`
}

// TrainingResult — выход обучения: метрики для записи в TrainingJob.
type TrainingResult struct {
	Metrics repos.JSONMap
}

// Trainer — интерфейс обучения. resume=true дообучает существующую модель,
// false обучает с нуля. Артефакты тренер пишет в свой каталог сам.
type Trainer interface {
	Train(ctx context.Context, samples []TrainingSample, config repos.JSONMap, resume bool) (TrainingResult, error)
}

// retrainPayload — полезная нагрузка задачи retrain_model. Пустая — тик
// планировщика; TrainingID задан, когда строка TrainingJob уже создана
// админ-вызовом.
type retrainPayload struct {
	Config     repos.JSONMap `json:"config,omitempty"`
	TrainingID *int64        `json:"training_id,omitempty"`
}

// TrainingService — админ-сторона запуска обучения: гейт, создание записи
// и постановка фоновой задачи с компенсацией при недоступном брокере.
type TrainingService struct {
	db       *db.DB
	enqueuer enqueuer
	modelDir string
	device   string
}

// NewTrainingService создаёт сервис запуска обучения.
func NewTrainingService(database *db.DB, enq enqueuer, modelDir, device string) *TrainingService {
	return &TrainingService{db: database, enqueuer: enq, modelDir: modelDir, device: device}
}

// StartTraining проверяет гейт «одно обучение на каталог», создаёт запись
// TrainingJob и ставит фоновую задачу. Запись коммитится до постановки,
// чтобы воркер не увидел незакоммиченного состояния; при сбое постановки
// запись компенсируется (in_progress=false) и возвращается BrokerUnavailable.
func (s *TrainingService) StartTraining(ctx context.Context, config repos.JSONMap) (*repos.Training, error) {
	session, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	store := repos.New(session.Tx())

	active, err := store.Trainings.ActiveTraining(ctx, s.modelDir)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errs.ErrModelAlreadyTraining
	}

	training, err := store.Trainings.Add(ctx, config, s.modelDir, s.device)
	if err != nil {
		// Конкурентный старт упёрся в частичный уникальный индекс.
		if isExists(err) {
			return nil, errs.ErrModelAlreadyTraining
		}
		return nil, err
	}
	if err := session.Commit(); err != nil {
		return nil, fmt.Errorf("commit training row: %w", err)
	}

	payload := retrainPayload{Config: config, TrainingID: &training.ID}
	if err := s.enqueuer.Enqueue(ctx, tasks.TaskRetrainModel, payload); err != nil {
		s.compensateEnqueue(ctx, training.ID)
		return nil, err
	}
	return training, nil
}

// compensateEnqueue снимает in_progress с записи, чью фоновую задачу не
// удалось поставить. Сбой компенсации только логируется: гейт в худшем
// случае разблокирует оператор вручную.
func (s *TrainingService) compensateEnqueue(ctx context.Context, trainingID int64) {
	details := "Failed to enqueue training task"
	if err := editTraining(ctx, s.db, trainingID, repos.TrainingPatch{
		InProgress: boolPtr(false),
		Details:    &details,
	}); err != nil {
		logger.Errorf("Training: compensation for training %d failed: %v", trainingID, err)
	}
}

// RetrainWorker — воркер-сторона обучения: выбор батча, вызов тренера и
// атомарная фиксация результата.
type RetrainWorker struct {
	db        *db.DB
	artifacts ArtifactFS
	trainer   Trainer

	modelDir      string
	device        string
	minNewSamples int
	replayRatio   float64
	maxReplay     int
	defaultConfig repos.JSONMap
	enabled       bool
}

// RetrainOptions — параметры воркера обучения.
type RetrainOptions struct {
	DB        *db.DB
	Artifacts ArtifactFS
	Trainer   Trainer

	ModelDir      string
	Device        string
	MinNewSamples int
	ReplayRatio   float64
	MaxReplay     int
	DefaultConfig repos.JSONMap
	// Enabled гейтирует только тики планировщика; явные админ-запуски
	// (с training_id в payload) выполняются всегда.
	Enabled bool
}

// NewRetrainWorker создаёт воркер обучения.
func NewRetrainWorker(opts RetrainOptions) *RetrainWorker {
	return &RetrainWorker{
		db:            opts.DB,
		artifacts:     opts.Artifacts,
		trainer:       opts.Trainer,
		modelDir:      opts.ModelDir,
		device:        opts.Device,
		minNewSamples: opts.MinNewSamples,
		replayRatio:   opts.ReplayRatio,
		maxReplay:     opts.MaxReplay,
		defaultConfig: opts.DefaultConfig,
		enabled:       opts.Enabled,
	}
}

// HandleRetrainModel — обработчик задачи retrain_model.
func (w *RetrainWorker) HandleRetrainModel(ctx context.Context, raw json.RawMessage) error {
	var payload retrainPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			logger.Errorf("Training: malformed retrain payload, dropping: %v", err)
			return nil
		}
	}
	if payload.TrainingID == nil && !w.enabled {
		logger.Debug("Training: autotrain disabled, skipping scheduled run")
		return nil
	}

	config := payload.Config
	if config == nil {
		config = w.defaultConfig
	}

	trainingID, ok, err := w.acquireTraining(ctx, payload.TrainingID, config)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if w.trainer == nil {
		return w.failTraining(ctx, trainingID, "Trainer unavailable", nil)
	}

	newSamples, err := w.loadNewSamples(ctx)
	if err != nil {
		return w.failTraining(ctx, trainingID, "Failed to load new samples", err)
	}
	if len(newSamples) < w.minNewSamples {
		details := fmt.Sprintf("Not enough new samples to train the model: %d < %d",
			len(newSamples), w.minNewSamples)
		return w.finishTraining(ctx, trainingID, details, nil)
	}
	logger.Infof("Training: loaded %d new sample(s)", len(newSamples))

	batch, resume, mode, err := w.selectBatch(ctx, newSamples)
	if err != nil {
		return w.failTraining(ctx, trainingID, "Failed to select training batch", err)
	}
	logger.Infof("Training: mode %s, batch size %d", mode, len(batch))

	result, err := w.trainer.Train(ctx, toTrainingSamples(batch), config, resume)
	if err != nil {
		return w.failTraining(ctx, trainingID, "Model training failed", err)
	}
	w.persistMetrics(result.Metrics)

	// Пометка использованных примеров и закрытие TrainingJob — одна
	// транзакция: либо весь новый набор помечен, либо никакой.
	session, err := w.db.Begin(ctx)
	if err != nil {
		return w.failTraining(ctx, trainingID, "Failed to open finalize session", err)
	}
	defer session.Close()
	store := repos.New(session.Tx())

	ids := make([]int64, len(newSamples))
	for i, s := range newSamples {
		ids[i] = s.ID
	}
	marked, err := store.Samples.MarkUsedInTraining(ctx, ids)
	if err != nil {
		return w.failTraining(ctx, trainingID, "Failed to mark samples as used", err)
	}
	if err := store.Trainings.Edit(ctx, trainingID, repos.TrainingPatch{
		Metrics:    result.Metrics,
		InProgress: boolPtr(false),
		Details:    &mode,
	}); err != nil {
		return w.failTraining(ctx, trainingID, "Failed to finalize training", err)
	}
	if err := session.Commit(); err != nil {
		return w.failTraining(ctx, trainingID, "Failed to commit training result", err)
	}

	logger.Infof("Training %d finished: %s, %d sample(s) marked used", trainingID, mode, marked)
	return nil
}

// acquireTraining проверяет гейт и возвращает id записи, с которой работать.
// ok=false — запуск легально пропущен (другое обучение уже идёт).
func (w *RetrainWorker) acquireTraining(ctx context.Context, requested *int64, config repos.JSONMap) (int64, bool, error) {
	session, err := w.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer session.Close()
	store := repos.New(session.Tx())

	active, err := store.Trainings.ActiveTraining(ctx, w.modelDir)
	if err != nil {
		return 0, false, err
	}

	switch {
	case requested == nil && active != nil:
		logger.Warn("Training: model is already training, skipping")
		return 0, false, nil
	case requested != nil && active != nil && active.ID != *requested:
		logger.Warnf("Training: another training is active (id=%d), skipping requested id=%d",
			active.ID, *requested)
		return 0, false, nil
	case requested != nil && active != nil:
		return *requested, true, nil
	}

	// Записи ещё нет (тик планировщика или осиротевший админ-запуск) — создаём.
	training, err := store.Trainings.Add(ctx, config, w.modelDir, w.device)
	if err != nil {
		if isExists(err) {
			logger.Warn("Training: lost the race for the training gate, skipping")
			return 0, false, nil
		}
		return 0, false, err
	}
	if err := session.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit training row: %w", err)
	}
	return training.ID, true, nil
}

// loadNewSamples возвращает примеры, ещё не участвовавшие в обучении.
func (w *RetrainWorker) loadNewSamples(ctx context.Context) ([]repos.Sample, error) {
	session, err := w.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	used := false
	return repos.New(session.Tx()).Samples.GetAllFiltered(ctx, &used)
}

// selectBatch выбирает обучающий батч и режим:
//   - модели нет → полное обучение на новых примерах;
//   - среди новых есть незнакомые метки → полный ретрейн на всех примерах;
//   - иначе инкрементально, с replay-подмешиванием случайных использованных
//     примеров размером min(новые × ratio, maxReplay).
func (w *RetrainWorker) selectBatch(ctx context.Context, newSamples []repos.Sample) ([]repos.Sample, bool, string, error) {
	if !ModelPresent(w.artifacts) {
		return newSamples, false, "initial_full_training_on_new_samples", nil
	}

	known := KnownLabels(w.artifacts)
	var unseen []string
	seen := make(map[string]struct{})
	for _, s := range newSamples {
		if _, ok := known[s.Category]; ok {
			continue
		}
		if _, dup := seen[s.Category]; dup {
			continue
		}
		seen[s.Category] = struct{}{}
		unseen = append(unseen, s.Category)
	}

	session, err := w.db.Begin(ctx)
	if err != nil {
		return nil, false, "", err
	}
	defer session.Close()
	store := repos.New(session.Tx())

	if len(unseen) > 0 {
		all, err := store.Samples.GetAllFiltered(ctx, nil)
		if err != nil {
			return nil, false, "", err
		}
		sort.Strings(unseen)
		return all, false, "full_retrain_due_to_new_labels=" + strings.Join(unseen, ","), nil
	}

	replaySize := int(float64(len(newSamples)) * w.replayRatio)
	replaySize = min(replaySize, w.maxReplay)
	if replaySize <= 0 {
		return newSamples, true, "incremental_without_replay", nil
	}

	replay, err := store.Samples.RandomUsedSamples(ctx, replaySize)
	if err != nil {
		return nil, false, "", err
	}

	merged := make([]repos.Sample, 0, len(newSamples)+len(replay))
	byID := make(map[int64]struct{}, len(newSamples))
	for _, s := range newSamples {
		byID[s.ID] = struct{}{}
		merged = append(merged, s)
	}
	for _, s := range replay {
		if _, ok := byID[s.ID]; ok {
			continue
		}
		merged = append(merged, s)
	}
	return merged, true, fmt.Sprintf("incremental_with_replay=%d", len(replay)), nil
}

// persistMetrics сохраняет metrics.json рядом с артефактами модели.
// Сбой записи не критичен: метрики уже уходят в TrainingJob.
func (w *RetrainWorker) persistMetrics(metrics repos.JSONMap) {
	if metrics == nil {
		return
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		logger.Warnf("Training: marshal metrics: %v", err)
		return
	}
	if err := storage.AtomicWriteFile(filepath.Join(w.modelDir, artifactMetrics), data); err != nil {
		logger.Warnf("Training: write %s: %v", artifactMetrics, err)
	}
}

// finishTraining закрывает TrainingJob с деталями и метриками.
func (w *RetrainWorker) finishTraining(ctx context.Context, trainingID int64, details string, metrics repos.JSONMap) error {
	logger.Infof("Training %d: %s", trainingID, details)
	return editTraining(ctx, w.db, trainingID, repos.TrainingPatch{
		Metrics:    metrics,
		InProgress: boolPtr(false),
		Details:    &details,
	})
}

// failTraining закрывает TrainingJob с описанием сбоя. Ошибка обучения не
// возвращается воркеру задач: повтор всей задачи породил бы второй запуск.
func (w *RetrainWorker) failTraining(ctx context.Context, trainingID int64, message string, cause error) error {
	details := message
	if cause != nil {
		details = fmt.Sprintf("%s: %v", message, cause)
	}
	logger.Errorf("Training %d failed: %s", trainingID, details)
	return editTraining(ctx, w.db, trainingID, repos.TrainingPatch{
		InProgress: boolPtr(false),
		Details:    &details,
	})
}

// editTraining применяет patch к записи обучения в отдельной транзакции.
func editTraining(ctx context.Context, database *db.DB, trainingID int64, patch repos.TrainingPatch) error {
	session, err := database.Begin(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	if err := repos.New(session.Tx()).Trainings.Edit(ctx, trainingID, patch); err != nil {
		return err
	}
	return session.Commit()
}

// toTrainingSamples конвертирует строки БД во вход тренера.
func toTrainingSamples(rows []repos.Sample) []TrainingSample {
	out := make([]TrainingSample, len(rows))
	for i, r := range rows {
		out[i] = TrainingSample{Title: r.Title, Summary: r.Summary, Category: r.Category}
	}
	return out
}

func isExists(err error) bool {
	return errors.Is(err, errs.ErrObjectExists)
}

func boolPtr(v bool) *bool { return &v }
