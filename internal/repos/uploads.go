// Репозиторий статусов импорта датасетов. Запись создаётся до постановки
// фоновой задачи и дополняется по её завершении, поэтому клиент может
// опрашивать прогресс по id.
package repos

import (
	"context"

	"feedfusion/internal/infra/errs"
)

// UploadPatch — изменяемые поля статуса импорта; nil означает «не трогать».
type UploadPatch struct {
	Uploads     *int
	Errors      *int
	IsCompleted *bool
	Details     StringList
}

type UploadsRepo struct {
	q Queryer
}

// Add создаёт пустую запись о начатом импорте.
func (r *UploadsRepo) Add(ctx context.Context) (*DatasetUpload, error) {
	var u DatasetUpload
	err := r.q.GetContext(ctx, &u, `
		INSERT INTO dataset_uploads (uploads, errors, is_completed, details)
		VALUES (0, 0, false, '[]'::jsonb)
		RETURNING *`)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetOne возвращает статус импорта по id; отсутствие — ErrNotFound.
func (r *UploadsRepo) GetOne(ctx context.Context, id int64) (*DatasetUpload, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var u DatasetUpload
	err := r.q.GetContext(ctx, &u, `SELECT * FROM dataset_uploads WHERE id = $1`, id)
	if err != nil {
		return nil, noRowsAs(err, errs.NotFoundf("dataset upload %d", id))
	}
	return &u, nil
}

// GetAll возвращает все записи об импортах, свежие первыми.
func (r *UploadsRepo) GetAll(ctx context.Context) ([]DatasetUpload, error) {
	var uploads []DatasetUpload
	err := r.q.SelectContext(ctx, &uploads, `SELECT * FROM dataset_uploads ORDER BY id DESC`)
	if err != nil {
		return nil, translate(err)
	}
	return uploads, nil
}

// Edit применяет patch к записи импорта. Details заменяются целиком:
// воркер накапливает их в памяти и пишет один раз при завершении.
func (r *UploadsRepo) Edit(ctx context.Context, id int64, patch UploadPatch) error {
	if err := checkID(id); err != nil {
		return err
	}
	var details any
	if patch.Details != nil {
		details = patch.Details
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE dataset_uploads SET
			uploads      = COALESCE($2, uploads),
			errors       = COALESCE($3, errors),
			is_completed = COALESCE($4, is_completed),
			details      = COALESCE($5, details),
			updated_at   = now()
		WHERE id = $1`,
		id, patch.Uploads, patch.Errors, patch.IsCompleted, details)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("dataset upload %d", id)
	}
	return nil
}
