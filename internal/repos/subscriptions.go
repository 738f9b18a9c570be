// Репозиторий подписок. Ключевая операция фан-аута — GetAllWithUser:
// подписки вместе с telegram_id, чтобы воркер не ходил за каждым
// пользователем отдельно.
package repos

import (
	"context"

	"feedfusion/internal/infra/errs"
)

// SubsFilter — необязательные фильтры выборки подписок.
type SubsFilter struct {
	UserID    *int64
	ChannelID *int64
}

type SubsRepo struct {
	q Queryer
}

// Add создаёт подписку с нулевым водяным знаком. Повторная подписка
// на тот же канал — ErrObjectExists (уникальный индекс user_id+channel_id).
func (r *SubsRepo) Add(ctx context.Context, userID, channelID int64) (*Subscription, error) {
	if err := checkID(userID); err != nil {
		return nil, err
	}
	if err := checkID(channelID); err != nil {
		return nil, err
	}
	var s Subscription
	err := r.q.GetContext(ctx, &s, `
		INSERT INTO subscriptions (user_id, channel_id, last_news_id)
		VALUES ($1, $2, 0)
		RETURNING *`,
		userID, channelID)
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// GetOne возвращает подписку по id; отсутствие — ErrNotFound.
func (r *SubsRepo) GetOne(ctx context.Context, id int64) (*Subscription, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var s Subscription
	err := r.q.GetContext(ctx, &s, `SELECT * FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return nil, noRowsAs(err, errs.NotFoundf("subscription %d", id))
	}
	return &s, nil
}

// GetAllFiltered возвращает подписки, опционально сужая по пользователю и каналу.
func (r *SubsRepo) GetAllFiltered(ctx context.Context, f SubsFilter) ([]Subscription, error) {
	var subs []Subscription
	err := r.q.SelectContext(ctx, &subs, `
		SELECT * FROM subscriptions
		WHERE ($1::bigint IS NULL OR user_id = $1)
		  AND ($2::bigint IS NULL OR channel_id = $2)
		ORDER BY id`,
		f.UserID, f.ChannelID)
	if err != nil {
		return nil, translate(err)
	}
	return subs, nil
}

// GetAllWithUser возвращает все подписки вместе с telegram_id владельца.
// Подписки пользователей без telegram_id тоже попадают в выборку —
// фан-аут сам решает, пропускать их или нет.
func (r *SubsRepo) GetAllWithUser(ctx context.Context) ([]SubscriptionWithUser, error) {
	var subs []SubscriptionWithUser
	err := r.q.SelectContext(ctx, &subs, `
		SELECT s.*, u.telegram_id
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		ORDER BY s.id`)
	if err != nil {
		return nil, translate(err)
	}
	return subs, nil
}

// EditLastNews продвигает водяной знак подписки. Вызывается фан-аутом
// после публикации всех новостей пачки; значение только растёт.
func (r *SubsRepo) EditLastNews(ctx context.Context, id, lastNewsID int64) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := checkID(lastNewsID); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE subscriptions
		SET last_news_id = $2, updated_at = now()
		WHERE id = $1`,
		id, lastNewsID)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("subscription %d", id)
	}
	return nil
}

// Delete удаляет подписку.
func (r *SubsRepo) Delete(ctx context.Context, id int64, ensureExistence bool) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if ensureExistence {
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFoundf("subscription %d", id)
		}
	}
	return nil
}
