// Репозиторий обучающих примеров. Выборки заточены под цикл обучения:
// непомеченные примеры идут в новую эпоху, случайные помеченные — в replay.
package repos

import (
	"context"
	"fmt"
	"strings"

	"feedfusion/internal/infra/errs"
)

type SamplesRepo struct {
	q Queryer
}

// Add создаёт одиночный пример (ручная коррекция категории).
func (r *SamplesRepo) Add(ctx context.Context, d SampleDraft) (*Sample, error) {
	var s Sample
	err := r.q.GetContext(ctx, &s, `
		INSERT INTO samples (title, summary, category)
		VALUES ($1, $2, $3)
		RETURNING *`,
		d.Title, d.Summary, d.Category)
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// AddBulk вставляет пачку примеров одним запросом (CSV-импорт).
func (r *SamplesRepo) AddBulk(ctx context.Context, drafts []SampleDraft) ([]Sample, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	const fieldsPerRow = 3
	placeholders := make([]string, 0, len(drafts))
	args := make([]any, 0, len(drafts)*fieldsPerRow)
	for i, d := range drafts {
		base := i * fieldsPerRow
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, d.Title, d.Summary, d.Category)
	}

	query := fmt.Sprintf(`
		INSERT INTO samples (title, summary, category)
		VALUES %s
		RETURNING *`,
		strings.Join(placeholders, ", "))

	var inserted []Sample
	if err := r.q.SelectContext(ctx, &inserted, query, args...); err != nil {
		return nil, translate(err)
	}
	return inserted, nil
}

// GetOne возвращает пример по id; отсутствие — ErrNotFound.
func (r *SamplesRepo) GetOne(ctx context.Context, id int64) (*Sample, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var s Sample
	err := r.q.GetContext(ctx, &s, `SELECT * FROM samples WHERE id = $1`, id)
	if err != nil {
		return nil, noRowsAs(err, errs.NotFoundf("sample %d", id))
	}
	return &s, nil
}

// GetAllFiltered возвращает примеры по признаку участия в обучении;
// nil — без фильтра.
func (r *SamplesRepo) GetAllFiltered(ctx context.Context, usedInTraining *bool) ([]Sample, error) {
	var samples []Sample
	err := r.q.SelectContext(ctx, &samples, `
		SELECT * FROM samples
		WHERE ($1::boolean IS NULL OR used_in_training = $1)
		ORDER BY id`,
		usedInTraining)
	if err != nil {
		return nil, translate(err)
	}
	return samples, nil
}

// CountNew возвращает число примеров, ещё не участвовавших в обучении.
func (r *SamplesRepo) CountNew(ctx context.Context) (int64, error) {
	var n int64
	err := r.q.GetContext(ctx, &n,
		`SELECT count(*) FROM samples WHERE used_in_training = false`)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// RandomUsedSamples возвращает случайную выборку уже использованных примеров
// для replay-буфера. ORDER BY random() приемлем на объёмах датасета.
func (r *SamplesRepo) RandomUsedSamples(ctx context.Context, limit int) ([]Sample, error) {
	if limit <= 0 {
		return nil, nil
	}
	var samples []Sample
	err := r.q.SelectContext(ctx, &samples, `
		SELECT * FROM samples
		WHERE used_in_training = true
		ORDER BY random()
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, translate(err)
	}
	return samples, nil
}

// MarkUsedInTraining помечает примеры как использованные и возвращает число
// обновлённых строк. Вызывается в одной транзакции с завершением обучения:
// либо помечаются все, либо (при откате) ни один.
func (r *SamplesRepo) MarkUsedInTraining(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	for _, id := range ids {
		if err := checkID(id); err != nil {
			return 0, err
		}
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE samples
		SET used_in_training = true, updated_at = now()
		WHERE id = ANY($1)`,
		int64Array(ids))
	if err != nil {
		return 0, translate(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Delete удаляет пример.
func (r *SamplesRepo) Delete(ctx context.Context, id int64, ensureExistence bool) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM samples WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if ensureExistence {
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFoundf("sample %d", id)
		}
	}
	return nil
}
