// Репозиторий запусков обучения. ActiveTraining реализует гейт
// «одно обучение на model_dir»: пока запись с in_progress=true существует,
// новое обучение не стартует.
package repos

import (
	"context"

	"feedfusion/internal/infra/errs"
)

// TrainingPatch — изменяемые поля запуска обучения; nil означает «не трогать».
type TrainingPatch struct {
	Config     JSONMap
	Metrics    JSONMap
	InProgress *bool
	Details    *string
}

type TrainingsRepo struct {
	q Queryer
}

// Add создаёт запись о запуске обучения в состоянии in_progress=true.
// Конкурентный старт на том же model_dir упирается в частичный уникальный
// индекс и транслируется в ErrObjectExists.
func (r *TrainingsRepo) Add(ctx context.Context, config JSONMap, modelDir, device string) (*Training, error) {
	var t Training
	err := r.q.GetContext(ctx, &t, `
		INSERT INTO trainings (config, model_dir, device, in_progress)
		VALUES ($1, $2, $3, true)
		RETURNING *`,
		config, modelDir, device)
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// GetOne возвращает запуск по id; отсутствие — ErrNotFound.
func (r *TrainingsRepo) GetOne(ctx context.Context, id int64) (*Training, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var t Training
	err := r.q.GetContext(ctx, &t, `SELECT * FROM trainings WHERE id = $1`, id)
	if err != nil {
		return nil, noRowsAs(err, errs.NotFoundf("training %d", id))
	}
	return &t, nil
}

// GetAll возвращает все запуски, свежие первыми.
func (r *TrainingsRepo) GetAll(ctx context.Context) ([]Training, error) {
	var trainings []Training
	err := r.q.SelectContext(ctx, &trainings, `SELECT * FROM trainings ORDER BY id DESC`)
	if err != nil {
		return nil, translate(err)
	}
	return trainings, nil
}

// ActiveTraining возвращает незавершённый запуск для каталога модели
// или nil, если такого нет (get-one-or-none).
func (r *TrainingsRepo) ActiveTraining(ctx context.Context, modelDir string) (*Training, error) {
	var trainings []Training
	err := r.q.SelectContext(ctx, &trainings, `
		SELECT * FROM trainings
		WHERE model_dir = $1 AND in_progress = true
		LIMIT 1`,
		modelDir)
	if err != nil {
		return nil, translate(err)
	}
	if len(trainings) == 0 {
		return nil, nil
	}
	return &trainings[0], nil
}

// Edit применяет patch к запуску. Отсутствие строки — ErrNotFound.
func (r *TrainingsRepo) Edit(ctx context.Context, id int64, patch TrainingPatch) error {
	if err := checkID(id); err != nil {
		return err
	}
	var config, metrics any
	if patch.Config != nil {
		config = patch.Config
	}
	if patch.Metrics != nil {
		metrics = patch.Metrics
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE trainings SET
			config      = COALESCE($2, config),
			metrics     = COALESCE($3, metrics),
			in_progress = COALESCE($4, in_progress),
			details     = COALESCE($5, details),
			updated_at  = now()
		WHERE id = $1`,
		id, config, metrics, patch.InProgress, patch.Details)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("training %d", id)
	}
	return nil
}
