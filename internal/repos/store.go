// Store — агрегат репозиториев, привязанных к одной транзакции.
// Аналог «одна сессия — один набор репозиториев»: задача открывает
// db.Session, оборачивает его Tx() в Store и работает с сущностями.
package repos

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"feedfusion/internal/infra/errs"
)

// Queryer — минимальный контракт исполнителя запросов: ему удовлетворяют
// и *sqlx.Tx, и *sqlx.DB (последнее удобно в тестах).
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Store — точка доступа ко всем репозиториям в рамках одной транзакции.
type Store struct {
	Channels  *ChannelsRepo
	News      *NewsRepo
	Users     *UsersRepo
	Subs      *SubsRepo
	Samples   *SamplesRepo
	Uploads   *UploadsRepo
	Trainings *TrainingsRepo
}

// New собирает Store поверх исполнителя запросов.
func New(q Queryer) *Store {
	return &Store{
		Channels:  &ChannelsRepo{q: q},
		News:      &NewsRepo{q: q},
		Users:     &UsersRepo{q: q},
		Subs:      &SubsRepo{q: q},
		Samples:   &SamplesRepo{q: q},
		Uploads:   &UploadsRepo{q: q},
		Trainings: &TrainingsRepo{q: q},
	}
}

// checkID проверяет, что идентификатор представим 32-битным знаковым числом
// (тип serial в схеме). Выход за диапазон — ErrValueOutOfRange, а не ошибка
// драйвера: иначе Postgres вернул бы непрозрачный numeric_value_out_of_range.
func checkID(id int64) error {
	if id > math.MaxInt32 || id < math.MinInt32 {
		return errs.OutOfRangef("id %d is outside int32 range", id)
	}
	return nil
}

// translate приводит ошибки драйвера к таксономии errs:
// 23505 (unique_violation) → ErrObjectExists, 22003 → ErrValueOutOfRange.
// Остальные ошибки возвращаются как есть.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errs.Existsf("constraint %s", pgErr.ConstraintName)
		case "22003":
			return errs.OutOfRangef("%s", pgErr.Message)
		}
	}
	return err
}

// noRowsAs заменяет sql.ErrNoRows на доменную NotFound с контекстом.
func noRowsAs(err error, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return translate(err)
}
