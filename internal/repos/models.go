// Пакет repos — репозитории поверх Postgres с единым контрактом:
// Add/AddBulk/GetOne/GetOneOrNone/GetAllFiltered/Edit/Delete/Count.
// Вместо рефлексивных мапперов — явные структуры с тегами db/json;
// все операции выполняются внутри переданной транзакции (см. infra/db).
//
// В этом файле — доменные сущности и вспомогательные JSONB-типы.
package repos

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"feedfusion/internal/infra/timeutil"
)

// Channel — источник синдикации (лента). link уникален.
type Channel struct {
	ID          int64          `db:"id" json:"id"`
	Title       string         `db:"title" json:"title"`
	Link        string         `db:"link" json:"link"`
	Description *string        `db:"description" json:"description,omitempty"`
	CreatedAt   timeutil.Naive `db:"created_at" json:"created_at"`
	UpdatedAt   timeutil.Naive `db:"updated_at" json:"updated_at"`
}

// News — одна принятая новость. content_hash уникален; published хранится
// как naive UTC; category назначается классификатором или администратором.
type News struct {
	ID          int64          `db:"id" json:"id"`
	ChannelID   int64          `db:"channel_id" json:"channel_id"`
	Link        string         `db:"link" json:"link"`
	Title       string         `db:"title" json:"title"`
	Summary     string         `db:"summary" json:"summary"`
	Source      string         `db:"source" json:"source"`
	Image       *string        `db:"image" json:"image,omitempty"`
	Published   timeutil.Naive `db:"published" json:"published"`
	ContentHash string         `db:"content_hash" json:"content_hash"`
	Category    *string        `db:"category" json:"category,omitempty"`
	CreatedAt   timeutil.Naive `db:"created_at" json:"created_at"`
	UpdatedAt   timeutil.Naive `db:"updated_at" json:"updated_at"`
}

// NewsDraft — новость до записи в БД: результат нормализации записи ленты.
// ContentHash заполняется инжест-воркером перед upsert.
type NewsDraft struct {
	ChannelID   int64          `db:"channel_id" json:"channel_id"`
	Link        string         `db:"link" json:"link"`
	Title       string         `db:"title" json:"title"`
	Summary     string         `db:"summary" json:"summary"`
	Source      string         `db:"source" json:"source"`
	Image       *string        `db:"image" json:"image,omitempty"`
	Published   timeutil.Naive `db:"published" json:"published"`
	ContentHash string         `db:"content_hash" json:"content_hash"`
}

// User — минимальный срез пользователя, нужный пайплайну (telegram_id для доставки).
type User struct {
	ID         int64   `db:"id" json:"id"`
	Username   string  `db:"username" json:"username"`
	TelegramID *string `db:"telegram_id" json:"telegram_id,omitempty"`
}

// Subscription связывает пользователя с каналом. last_news_id — водяной знак
// доставки: наибольший id новости, уже отправленной в очередь; монотонно растёт.
type Subscription struct {
	ID         int64          `db:"id" json:"id"`
	UserID     int64          `db:"user_id" json:"user_id"`
	ChannelID  int64          `db:"channel_id" json:"channel_id"`
	LastNewsID int64          `db:"last_news_id" json:"last_news_id"`
	CreatedAt  timeutil.Naive `db:"created_at" json:"created_at"`
	UpdatedAt  timeutil.Naive `db:"updated_at" json:"updated_at"`
}

// SubscriptionWithUser — подписка вместе с telegram_id пользователя
// (join для фан-аута; telegram_id может быть NULL).
type SubscriptionWithUser struct {
	Subscription
	TelegramID *string `db:"telegram_id" json:"telegram_id,omitempty"`
}

// Sample — денормализованный обучающий пример (title, summary?, category).
// used_in_training выставляется после успешной эпохи обучения.
type Sample struct {
	ID             int64          `db:"id" json:"id"`
	Title          string         `db:"title" json:"title"`
	Summary        *string        `db:"summary" json:"summary,omitempty"`
	Category       string         `db:"category" json:"category"`
	UsedInTraining bool           `db:"used_in_training" json:"used_in_training"`
	CreatedAt      timeutil.Naive `db:"created_at" json:"created_at"`
	UpdatedAt      timeutil.Naive `db:"updated_at" json:"updated_at"`
}

// SampleDraft — обучающий пример до записи (CSV-импорт или коррекция админом).
type SampleDraft struct {
	Title    string  `db:"title" json:"title"`
	Summary  *string `db:"summary" json:"summary,omitempty"`
	Category string  `db:"category" json:"category"`
}

// DatasetUpload — статус фонового импорта CSV-датасета.
type DatasetUpload struct {
	ID          int64          `db:"id" json:"id"`
	Uploads     int            `db:"uploads" json:"uploads"`
	Errors      int            `db:"errors" json:"errors"`
	IsCompleted bool           `db:"is_completed" json:"is_completed"`
	Details     StringList     `db:"details" json:"details"`
	CreatedAt   timeutil.Naive `db:"created_at" json:"created_at"`
	UpdatedAt   timeutil.Naive `db:"updated_at" json:"updated_at"`
}

// Training — один запуск обучения классификатора. Частичный уникальный индекс
// по model_dir при in_progress=true гарантирует сериализацию обучений.
type Training struct {
	ID         int64          `db:"id" json:"id"`
	Config     JSONMap        `db:"config" json:"config"`
	Metrics    JSONMap        `db:"metrics" json:"metrics,omitempty"`
	ModelDir   string         `db:"model_dir" json:"model_dir"`
	Device     string         `db:"device" json:"device"`
	InProgress bool           `db:"in_progress" json:"in_progress"`
	Details    *string        `db:"details" json:"details,omitempty"`
	CreatedAt  timeutil.Naive `db:"created_at" json:"created_at"`
	UpdatedAt  timeutil.Naive `db:"updated_at" json:"updated_at"`
}

// JSONMap — map, хранимый в колонке jsonb. nil сериализуется как NULL.
type JSONMap map[string]any

// Value реализует driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan реализует sql.Scanner для jsonb.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		if s, isStr := src.(string); isStr {
			data = []byte(s)
		} else {
			return fmt.Errorf("repos: cannot scan %T into JSONMap", src)
		}
	}
	return json.Unmarshal(data, m)
}

// StringList — срез строк, хранимый в колонке jsonb.
type StringList []string

// Value реализует driver.Valuer. nil пишется как пустой массив,
// чтобы details всегда читались как список.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(l))
}

// Scan реализует sql.Scanner для jsonb.
func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		if s, isStr := src.(string); isStr {
			data = []byte(s)
		} else {
			return fmt.Errorf("repos: cannot scan %T into StringList", src)
		}
	}
	return json.Unmarshal(data, (*[]string)(l))
}
