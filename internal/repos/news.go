// Репозиторий новостей: выборки для фан-аута и классификатора,
// дедупликация по content_hash и поиск с пагинацией.
package repos

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"feedfusion/internal/infra/errs"
)

// newsColumns — порядок колонок при bulk-вставке.
const newsColumns = "channel_id, link, title, summary, source, image, published, content_hash"

// SearchParams — параметры поиска с пагинацией. Пустой Query отключает
// текстовый фильтр; пустые срезы — соответствующие set-фильтры.
type SearchParams struct {
	Limit       int
	Offset      int
	Query       string
	Categories  []string
	ChannelIDs  []int64
	RecentFirst bool
}

type NewsRepo struct {
	q Queryer
}

// GetOne возвращает новость по id; отсутствие — ErrNotFound.
func (r *NewsRepo) GetOne(ctx context.Context, id int64) (*News, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var n News
	err := r.q.GetContext(ctx, &n, `SELECT * FROM news WHERE id = $1`, id)
	if err != nil {
		return nil, noRowsAs(err, errs.NotFoundf("news %d", id))
	}
	return &n, nil
}

// GetNewerThan возвращает новости канала с id > gt в порядке возрастания id.
// Монотонный порядок важен для водяного знака подписки: последний элемент
// результата и есть новое значение last_news_id.
func (r *NewsRepo) GetNewerThan(ctx context.Context, channelID, gt int64) ([]News, error) {
	if err := checkID(channelID); err != nil {
		return nil, err
	}
	if err := checkID(gt); err != nil {
		return nil, err
	}
	var news []News
	err := r.q.SelectContext(ctx, &news, `
		SELECT * FROM news
		WHERE channel_id = $1 AND id > $2
		ORDER BY id ASC`,
		channelID, gt)
	if err != nil {
		return nil, translate(err)
	}
	return news, nil
}

// GetRecent возвращает свежие новости канала по дате публикации (desc).
func (r *NewsRepo) GetRecent(ctx context.Context, channelID int64, limit, offset int) ([]News, error) {
	if err := checkID(channelID); err != nil {
		return nil, err
	}
	var news []News
	err := r.q.SelectContext(ctx, &news, `
		SELECT * FROM news
		WHERE channel_id = $1
		ORDER BY published DESC
		LIMIT $2 OFFSET $3`,
		channelID, limit, offset)
	if err != nil {
		return nil, translate(err)
	}
	return news, nil
}

// ExistingHashes возвращает подмножество переданных хэшей, уже имеющихся в БД.
func (r *NewsRepo) ExistingHashes(ctx context.Context, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT content_hash FROM news WHERE content_hash IN (?)`, hashes)
	if err != nil {
		return nil, fmt.Errorf("build hashes query: %w", err)
	}
	query = r.q.Rebind(query)
	var existing []string
	if err := r.q.SelectContext(ctx, &existing, query, args...); err != nil {
		return nil, translate(err)
	}
	return existing, nil
}

// AddBulkUpsert вставляет пачку новостей с ON CONFLICT (content_hash) DO NOTHING
// и возвращает фактически вставленные строки. Конкурентные писатели не
// затирают друг друга: конфликтующие строки просто пропускаются.
func (r *NewsRepo) AddBulkUpsert(ctx context.Context, drafts []NewsDraft) ([]News, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	const fieldsPerRow = 8
	placeholders := make([]string, 0, len(drafts))
	args := make([]any, 0, len(drafts)*fieldsPerRow)
	for i, d := range drafts {
		base := i * fieldsPerRow
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		args = append(args, d.ChannelID, d.Link, d.Title, d.Summary, d.Source, d.Image, d.Published, d.ContentHash)
	}

	query := fmt.Sprintf(`
		INSERT INTO news (%s)
		VALUES %s
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING *`,
		newsColumns, strings.Join(placeholders, ", "))

	var inserted []News
	if err := r.q.SelectContext(ctx, &inserted, query, args...); err != nil {
		return nil, translate(err)
	}
	return inserted, nil
}

// GetUncategorized возвращает все новости без категории.
func (r *NewsRepo) GetUncategorized(ctx context.Context) ([]News, error) {
	var news []News
	err := r.q.SelectContext(ctx, &news, `SELECT * FROM news WHERE category IS NULL ORDER BY id`)
	if err != nil {
		return nil, translate(err)
	}
	return news, nil
}

// EditCategory выставляет категорию новости. Отсутствие строки — ErrNotFound.
func (r *NewsRepo) EditCategory(ctx context.Context, id int64, category string) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE news SET category = $2, updated_at = now() WHERE id = $1`, id, category)
	if err != nil {
		return translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("news %d", id)
	}
	return nil
}

// Delete удаляет новость.
func (r *NewsRepo) Delete(ctx context.Context, id int64, ensureExistence bool) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM news WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if ensureExistence {
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.NotFoundf("news %d", id)
		}
	}
	return nil
}

// SearchWithPagination выполняет поиск: регистронезависимое вхождение query
// в title/summary/source плюс set-фильтры по категориям и каналам.
// Возвращает общее число подходящих строк и страницу результата.
func (r *NewsRepo) SearchWithPagination(ctx context.Context, p SearchParams) (int64, []News, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if q := strings.TrimSpace(p.Query); q != "" {
		args = append(args, "%"+q+"%")
		ph := fmt.Sprintf("$%d", len(args))
		where = append(where, fmt.Sprintf(
			"(title ILIKE %s OR summary ILIKE %s OR source ILIKE %s)", ph, ph, ph))
	}
	if len(p.Categories) > 0 {
		inQuery, inArgs, err := sqlx.In(`category IN (?)`, p.Categories)
		if err != nil {
			return 0, nil, fmt.Errorf("build categories filter: %w", err)
		}
		where = append(where, renumberPlaceholders(inQuery, len(args)))
		args = append(args, inArgs...)
	}
	if len(p.ChannelIDs) > 0 {
		for _, id := range p.ChannelIDs {
			if err := checkID(id); err != nil {
				return 0, nil, err
			}
		}
		inQuery, inArgs, err := sqlx.In(`channel_id IN (?)`, p.ChannelIDs)
		if err != nil {
			return 0, nil, fmt.Errorf("build channels filter: %w", err)
		}
		where = append(where, renumberPlaceholders(inQuery, len(args)))
		args = append(args, inArgs...)
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	order := "ASC"
	if p.RecentFirst {
		order = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT *, count(*) OVER () AS total_count
		FROM news %s
		ORDER BY published %s
		LIMIT $%d OFFSET $%d`,
		clause, order, len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset)

	var rows []struct {
		News
		TotalCount int64 `db:"total_count"`
	}
	if err := r.q.SelectContext(ctx, &rows, query, args...); err != nil {
		return 0, nil, translate(err)
	}
	if len(rows) == 0 {
		return 0, nil, nil
	}

	news := make([]News, len(rows))
	for i, row := range rows {
		news[i] = row.News
	}
	return rows[0].TotalCount, news, nil
}

// renumberPlaceholders переводит "?"-плейсхолдеры sqlx.In в нумерованные
// $N-плейсхолдеры Postgres, продолжая нумерацию с offset+1.
func renumberPlaceholders(query string, offset int) string {
	var b strings.Builder
	n := offset
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
