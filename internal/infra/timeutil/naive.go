// Naive — тип времени «UTC без смещения» для колонок БД и JSON-сообщений
// очереди. Сериализуется в ISO-8601 без зоны; при разборе принимает все
// форматы ParseFlexible, а нечитаемые значения заменяет текущим временем
// (контракт потребителя доставки: сообщение не бракуется из-за даты).
package timeutil

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Naive оборачивает time.Time; нулевое значение — обычный zero time.Time.
type Naive time.Time

// NaiveNow возвращает текущее время, приведённое к naive UTC.
func NaiveNow() Naive {
	return Naive(ToNaiveUTC(time.Now()))
}

// Time возвращает нижележащее time.Time.
func (n Naive) Time() time.Time { return time.Time(n) }

// IsZero сообщает, задано ли значение.
func (n Naive) IsZero() bool { return time.Time(n).IsZero() }

// MarshalJSON сериализует время в формат FormatNaive (в кавычках).
func (n Naive) MarshalJSON() ([]byte, error) {
	return []byte(`"` + FormatNaive(time.Time(n)) + `"`), nil
}

// UnmarshalJSON разбирает строку всеми известными форматами. Пустая строка и
// null дают zero; нераспознанное значение заменяется текущим временем.
func (n *Naive) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = Naive(time.Time{})
		return nil
	}
	if t, ok := ParseFlexible(s); ok {
		*n = Naive(t)
		return nil
	}
	*n = NaiveNow()
	return nil
}

// Value реализует driver.Valuer для записи в БД.
func (n Naive) Value() (driver.Value, error) {
	return time.Time(n), nil
}

// Scan реализует sql.Scanner: принимает time.Time и приводит к naive UTC.
func (n *Naive) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*n = Naive(ToNaiveUTC(v))
		return nil
	case nil:
		*n = Naive(time.Time{})
		return nil
	default:
		return fmt.Errorf("timeutil: cannot scan %T into Naive", src)
	}
}
