// Пакет errs определяет таксономию ошибок приложения. Внутреннее ядро
// оперирует только этими видами; трансляция в HTTP-статусы или политику
// ретраев выполняется на границах. Проверка вида — через errors.Is,
// дополнительный контекст — через обёртки Wrap*/fmt.Errorf c %w.
package errs

import (
	"errors"
	"fmt"
)

// Сентинелы видов ошибок. Сравнивать через errors.Is.
var (
	// ErrNotFound — запрошенный объект отсутствует в хранилище.
	ErrNotFound = errors.New("object not found")
	// ErrObjectExists — нарушение естественного ключа (дубликат).
	ErrObjectExists = errors.New("object already exists")
	// ErrValueOutOfRange — значение вне представимого диапазона (например, id за пределами int32).
	ErrValueOutOfRange = errors.New("value out of range")
	// ErrBrokerUnavailable — брокер задач недоступен на момент постановки.
	ErrBrokerUnavailable = errors.New("message broker is unavailable")
	// ErrCSVDecode — загруженный файл не удаётся разобрать как CSV.
	ErrCSVDecode = errors.New("cannot decode provided CSV file")
	// ErrMissingCSVHeaders — в CSV отсутствуют обязательные колонки.
	ErrMissingCSVHeaders = errors.New("missing CSV headers")
	// ErrModelAlreadyTraining — для данного model_dir уже идёт обучение.
	ErrModelAlreadyTraining = errors.New("model is currently training")
	// ErrEmptyChannel — у канала ещё нет ни одной новости.
	ErrEmptyChannel = errors.New("channel is empty")
	// ErrMissingTelegram — у пользователя не указан telegram id.
	ErrMissingTelegram = errors.New("missing telegram id")
)

// NotFoundf оборачивает ErrNotFound с контекстом (сущность, ключи).
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Existsf оборачивает ErrObjectExists с контекстом.
func Existsf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrObjectExists)...)
}

// OutOfRangef оборачивает ErrValueOutOfRange с контекстом.
func OutOfRangef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValueOutOfRange)...)
}

// MissingHeaders формирует ErrMissingCSVHeaders с перечнем отсутствующих колонок.
func MissingHeaders(headers []string) error {
	return fmt.Errorf("%w: %v", ErrMissingCSVHeaders, headers)
}
