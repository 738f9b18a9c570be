// Репозиторий пользователей: пайплайну нужен минимум — telegram_id для доставки.
package repos

import (
	"context"

	"feedfusion/internal/infra/errs"
)

type UsersRepo struct {
	q Queryer
}

// Add создаёт пользователя. Дубликат username — ErrObjectExists.
func (r *UsersRepo) Add(ctx context.Context, username string, telegramID *string) (*User, error) {
	var u User
	err := r.q.GetContext(ctx, &u, `
		INSERT INTO users (username, telegram_id)
		VALUES ($1, $2)
		RETURNING id, username, telegram_id`,
		username, telegramID)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetOne возвращает пользователя по id; отсутствие — ErrNotFound.
func (r *UsersRepo) GetOne(ctx context.Context, id int64) (*User, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var u User
	err := r.q.GetContext(ctx, &u, `SELECT id, username, telegram_id FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, noRowsAs(err, errs.NotFoundf("user %d", id))
	}
	return &u, nil
}

// EditTelegramID привязывает (или отвязывает, nil) telegram-аккаунт.
func (r *UsersRepo) EditTelegramID(ctx context.Context, id int64, telegramID *string) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE users SET telegram_id = $2 WHERE id = $1`, id, telegramID)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("user %d", id)
	}
	return nil
}
