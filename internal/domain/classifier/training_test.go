package classifier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"feedfusion/internal/domain/tasks"
	"feedfusion/internal/infra/errs"
	"feedfusion/internal/repos"
)

// fakeTrainer записывает параметры вызова и возвращает заданный результат.
type fakeTrainer struct {
	samples []TrainingSample
	resume  *bool
	result  TrainingResult
	err     error
}

func (f *fakeTrainer) Train(_ context.Context, samples []TrainingSample, _ repos.JSONMap, resume bool) (TrainingResult, error) {
	f.samples = samples
	f.resume = &resume
	if f.err != nil {
		return TrainingResult{}, f.err
	}
	return f.result, nil
}

var trainingColumns = []string{
	"id", "config", "metrics", "model_dir", "device", "in_progress", "details", "created_at", "updated_at",
}

func trainingRow(id int64, modelDir string) *sqlmock.Rows {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(trainingColumns).
		AddRow(id, []byte(`{}`), nil, modelDir, "cpu", true, nil, now, now)
}

var sampleColumns = []string{
	"id", "title", "summary", "category", "used_in_training", "created_at", "updated_at",
}

func addSampleRow(rows *sqlmock.Rows, id int64, category string, used bool) *sqlmock.Rows {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return rows.AddRow(id, "t", "s", category, used, now, now)
}

func TestStartTrainingGate(t *testing.T) {
	t.Parallel()

	database, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM trainings`).
		WithArgs("artifacts").
		WillReturnRows(trainingRow(3, "artifacts"))
	mock.ExpectRollback()

	svc := NewTrainingService(database, &captureEnqueuer{}, "artifacts", "cpu")
	_, err := svc.StartTraining(context.Background(), nil)
	if !errors.Is(err, errs.ErrModelAlreadyTraining) {
		t.Fatalf("StartTraining() error = %v, want ErrModelAlreadyTraining", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStartTrainingEnqueues(t *testing.T) {
	t.Parallel()

	database, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM trainings`).
		WithArgs("artifacts").
		WillReturnRows(sqlmock.NewRows(trainingColumns))
	mock.ExpectQuery(`INSERT INTO trainings`).
		WillReturnRows(trainingRow(7, "artifacts"))
	mock.ExpectCommit()

	enq := &captureEnqueuer{}
	svc := NewTrainingService(database, enq, "artifacts", "cpu")

	training, err := svc.StartTraining(context.Background(), repos.JSONMap{"epochs": 3})
	if err != nil {
		t.Fatalf("StartTraining() error: %v", err)
	}
	if training.ID != 7 {
		t.Fatalf("training.ID = %d, want 7", training.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	if len(enq.tasks) != 1 || enq.tasks[0] != tasks.TaskRetrainModel {
		t.Fatalf("tasks = %v, want retrain task", enq.tasks)
	}
	payload := enq.payloads[0].(retrainPayload)
	if payload.TrainingID == nil || *payload.TrainingID != 7 {
		t.Fatalf("payload = %#v, want training_id=7", payload)
	}
}

func TestStartTrainingCompensatesFailedEnqueue(t *testing.T) {
	t.Parallel()

	database, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM trainings`).
		WillReturnRows(sqlmock.NewRows(trainingColumns))
	mock.ExpectQuery(`INSERT INTO trainings`).
		WillReturnRows(trainingRow(7, "artifacts"))
	mock.ExpectCommit()
	// Компенсация: запись разблокируется отдельной транзакцией.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE trainings SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enq := &captureEnqueuer{enqueueErr: errs.ErrBrokerUnavailable}
	svc := NewTrainingService(database, enq, "artifacts", "cpu")

	_, err := svc.StartTraining(context.Background(), nil)
	if !errors.Is(err, errs.ErrBrokerUnavailable) {
		t.Fatalf("StartTraining() error = %v, want ErrBrokerUnavailable", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandleRetrainModelScheduledDisabled(t *testing.T) {
	t.Parallel()

	database, mock := newMockDB(t)
	w := NewRetrainWorker(RetrainOptions{DB: database, Artifacts: mapFS{}, Enabled: false})

	if err := w.HandleRetrainModel(context.Background(), nil); err != nil {
		t.Fatalf("HandleRetrainModel() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database access: %v", err)
	}
}

func TestHandleRetrainModelNotEnoughSamples(t *testing.T) {
	t.Parallel()

	database, mock := newMockDB(t)

	// Гейт: активного обучения нет, создаётся новая запись.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM trainings`).
		WillReturnRows(sqlmock.NewRows(trainingColumns))
	mock.ExpectQuery(`INSERT INTO trainings`).
		WillReturnRows(trainingRow(5, "artifacts"))
	mock.ExpectCommit()
	// Новых примеров мало.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM samples`).
		WillReturnRows(addSampleRow(sqlmock.NewRows(sampleColumns), 1, "Спорт", false))
	mock.ExpectRollback()
	// Запись закрывается с пояснением.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE trainings SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	trainer := &fakeTrainer{}
	w := NewRetrainWorker(RetrainOptions{
		DB:            database,
		Artifacts:     mapFS{},
		Trainer:       trainer,
		ModelDir:      "artifacts",
		Device:        "cpu",
		MinNewSamples: 50,
		Enabled:       true,
	})

	if err := w.HandleRetrainModel(context.Background(), nil); err != nil {
		t.Fatalf("HandleRetrainModel() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if trainer.resume != nil {
		t.Fatal("trainer must not be called when samples are below the threshold")
	}
}

func TestHandleRetrainModelInitialTraining(t *testing.T) {
	t.Parallel()

	database, mock := newMockDB(t)
	modelDir := t.TempDir()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM trainings`).
		WillReturnRows(sqlmock.NewRows(trainingColumns))
	mock.ExpectQuery(`INSERT INTO trainings`).
		WillReturnRows(trainingRow(5, modelDir))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM samples`).
		WillReturnRows(addSampleRow(addSampleRow(sqlmock.NewRows(sampleColumns), 1, "Спорт", false), 2, "Экономика", false))
	mock.ExpectRollback()
	// Финализация: пометка примеров и закрытие записи в одной транзакции.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE samples`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE trainings SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	trainer := &fakeTrainer{result: TrainingResult{Metrics: repos.JSONMap{"accuracy": 0.91}}}
	w := NewRetrainWorker(RetrainOptions{
		DB:            database,
		Artifacts:     mapFS{}, // модели ещё нет
		Trainer:       trainer,
		ModelDir:      modelDir,
		Device:        "cpu",
		MinNewSamples: 1,
		ReplayRatio:   0.5,
		MaxReplay:     1000,
		Enabled:       true,
	})

	if err := w.HandleRetrainModel(context.Background(), nil); err != nil {
		t.Fatalf("HandleRetrainModel() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	if trainer.resume == nil || *trainer.resume {
		t.Fatal("initial training must run with resume=false")
	}
	if len(trainer.samples) != 2 {
		t.Fatalf("trainer got %d sample(s), want 2", len(trainer.samples))
	}

	// Метрики продублированы в metrics.json рядом с артефактами.
	data, err := os.ReadFile(filepath.Join(modelDir, artifactMetrics))
	if err != nil {
		t.Fatalf("read metrics.json: %v", err)
	}
	if !strings.Contains(string(data), "accuracy") {
		t.Fatalf("metrics.json = %s", data)
	}
}

func TestSelectBatch(t *testing.T) {
	t.Parallel()

	newSamples := []repos.Sample{
		{ID: 1, Title: "a", Category: "Спорт"},
		{ID: 2, Title: "b", Category: "Экономика"},
	}

	t.Run("noModelFullTraining", func(t *testing.T) {
		t.Parallel()

		database, _ := newMockDB(t)
		w := NewRetrainWorker(RetrainOptions{DB: database, Artifacts: mapFS{}})

		batch, resume, mode, err := w.selectBatch(context.Background(), newSamples)
		if err != nil {
			t.Fatalf("selectBatch() error: %v", err)
		}
		if resume || mode != "initial_full_training_on_new_samples" {
			t.Fatalf("resume=%v mode=%q", resume, mode)
		}
		if len(batch) != 2 {
			t.Fatalf("batch = %d, want 2", len(batch))
		}
	})

	t.Run("unseenLabelsFullRetrain", func(t *testing.T) {
		t.Parallel()

		database, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM samples`).
			WillReturnRows(addSampleRow(addSampleRow(addSampleRow(sqlmock.NewRows(sampleColumns),
				1, "Спорт", false), 2, "Экономика", false), 3, "Спорт", true))
		mock.ExpectRollback()

		// Модель знает только «Спорт»: «Экономика» — незнакомая метка.
		fs := fullModelFS()
		fs[artifactLabels] = []byte(`["Спорт"]`)
		w := NewRetrainWorker(RetrainOptions{DB: database, Artifacts: fs})

		batch, resume, mode, err := w.selectBatch(context.Background(), newSamples)
		if err != nil {
			t.Fatalf("selectBatch() error: %v", err)
		}
		if resume {
			t.Fatal("full retrain must run with resume=false")
		}
		if mode != "full_retrain_due_to_new_labels=Экономика" {
			t.Fatalf("mode = %q", mode)
		}
		if len(batch) != 3 {
			t.Fatalf("batch = %d, want all samples", len(batch))
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})

	t.Run("incrementalWithReplay", func(t *testing.T) {
		t.Parallel()

		database, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM samples`).
			WithArgs(1).
			WillReturnRows(addSampleRow(sqlmock.NewRows(sampleColumns), 10, "Спорт", true))
		mock.ExpectRollback()

		w := NewRetrainWorker(RetrainOptions{
			DB: database, Artifacts: fullModelFS(), ReplayRatio: 0.5, MaxReplay: 1000,
		})

		batch, resume, mode, err := w.selectBatch(context.Background(), newSamples)
		if err != nil {
			t.Fatalf("selectBatch() error: %v", err)
		}
		if !resume {
			t.Fatal("incremental training must run with resume=true")
		}
		if mode != "incremental_with_replay=1" {
			t.Fatalf("mode = %q", mode)
		}
		if len(batch) != 3 {
			t.Fatalf("batch = %d, want new + replay", len(batch))
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})

	t.Run("incrementalWithoutReplay", func(t *testing.T) {
		t.Parallel()

		database, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		w := NewRetrainWorker(RetrainOptions{DB: database, Artifacts: fullModelFS(), ReplayRatio: 0})

		batch, resume, mode, err := w.selectBatch(context.Background(), newSamples)
		if err != nil {
			t.Fatalf("selectBatch() error: %v", err)
		}
		if !resume || mode != "incremental_without_replay" {
			t.Fatalf("resume=%v mode=%q", resume, mode)
		}
		if len(batch) != 2 {
			t.Fatalf("batch = %d, want 2", len(batch))
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})
}
