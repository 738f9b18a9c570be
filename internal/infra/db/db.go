// Пакет db — подключение к Postgres и scoped-транзакции (unit of work).
// Каждая фоновая задача открывает Session, выполняет запросы через репозитории
// и явно коммитит; Close по defer гарантирует откат и возврат соединения в пул
// на любом пути выхода, включая панику и отмену контекста.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // регистрация драйвера pgx
)

// Параметры пула соединений. Воркеры обрабатывают по одной задаче, поэтому
// пул небольшой; idle-таймаут освобождает соединения между тиками.
const (
	maxOpenConns    = 8
	maxIdleConns    = 4
	connMaxIdleTime = 5 * time.Minute
)

// DB оборачивает пул sqlx и порождает транзакционные сессии.
type DB struct {
	conn *sqlx.DB
}

// Open устанавливает соединение с Postgres по DSN и проверяет его ping-ом.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxIdleTime(connMaxIdleTime)
	return &DB{conn: conn}, nil
}

// NewWithDB оборачивает готовое *sql.DB (используется в тестах с sqlmock).
func NewWithDB(sqlDB *sql.DB) *DB {
	return &DB{conn: sqlx.NewDb(sqlDB, "pgx")}
}

// Close закрывает пул соединений.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Session — одна транзакция-единица работы. Запись не автокоммитится:
// вызывающий обязан Commit; Close по defer откатывает незакоммиченное.
type Session struct {
	tx   *sqlx.Tx
	done bool
}

// Begin открывает транзакцию. Соединение удерживается до Commit/Rollback/Close.
func (d *DB) Begin(ctx context.Context) (*Session, error) {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Session{tx: tx}, nil
}

// Tx возвращает транзакцию для привязки репозиториев.
func (s *Session) Tx() *sqlx.Tx { return s.tx }

// Commit фиксирует транзакцию. Повторный вызов после завершения — ошибка.
func (s *Session) Commit() error {
	if s.done {
		return errors.New("session already finished")
	}
	s.done = true
	return s.tx.Commit()
}

// Rollback откатывает транзакцию. Безопасен после Commit (no-op).
func (s *Session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback()
}

// Close гарантирует освобождение соединения: откатывает, если транзакция
// не была завершена. Предназначен для defer сразу после Begin.
func (s *Session) Close() {
	if !s.done {
		s.done = true
		_ = s.tx.Rollback()
	}
}
