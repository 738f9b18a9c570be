// Репозиторий каналов (источников лент).
package repos

import (
	"context"

	"feedfusion/internal/infra/errs"
)

// ChannelPatch — изменяемые поля канала; nil означает «не трогать».
type ChannelPatch struct {
	Title       *string
	Link        *string
	Description *string
}

type ChannelsRepo struct {
	q Queryer
}

// Add создаёт канал. Дубликат link транслируется в ErrObjectExists.
func (r *ChannelsRepo) Add(ctx context.Context, title, link string, description *string) (*Channel, error) {
	var ch Channel
	err := r.q.GetContext(ctx, &ch, `
		INSERT INTO channels (title, link, description)
		VALUES ($1, $2, $3)
		RETURNING *`,
		title, link, description)
	if err != nil {
		return nil, translate(err)
	}
	return &ch, nil
}

// GetOne возвращает канал по id; отсутствие — ErrNotFound.
func (r *ChannelsRepo) GetOne(ctx context.Context, id int64) (*Channel, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var ch Channel
	err := r.q.GetContext(ctx, &ch, `SELECT * FROM channels WHERE id = $1`, id)
	if err != nil {
		return nil, noRowsAs(err, errs.NotFoundf("channel %d", id))
	}
	return &ch, nil
}

// GetAll возвращает все каналы в порядке создания.
func (r *ChannelsRepo) GetAll(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := r.q.SelectContext(ctx, &channels, `SELECT * FROM channels ORDER BY id`); err != nil {
		return nil, translate(err)
	}
	return channels, nil
}

// Edit применяет patch к каналу. При ensureExistence=true отсутствие строки — ErrNotFound.
func (r *ChannelsRepo) Edit(ctx context.Context, id int64, patch ChannelPatch, ensureExistence bool) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE channels SET
			title       = COALESCE($2, title),
			link        = COALESCE($3, link),
			description = COALESCE($4, description),
			updated_at  = now()
		WHERE id = $1`,
		id, patch.Title, patch.Link, patch.Description)
	if err != nil {
		return translate(err)
	}
	if ensureExistence {
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFoundf("channel %d", id)
		}
	}
	return nil
}

// Delete удаляет канал; каскад снимает связанные новости (FK ON DELETE CASCADE).
func (r *ChannelsRepo) Delete(ctx context.Context, id int64, ensureExistence bool) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if ensureExistence {
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFoundf("channel %d", id)
		}
	}
	return nil
}

// Count возвращает число каналов.
func (r *ChannelsRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.GetContext(ctx, &n, `SELECT count(*) FROM channels`); err != nil {
		return 0, translate(err)
	}
	return n, nil
}
