// Пакет timeutil содержит служебные функции для работы со временем:
// терпимый разбор дат из лент и сообщений очереди и приведение к UTC
// без смещения (в БД published хранится как naive UTC).
package timeutil

import (
	"strings"
	"time"
)

// flexibleLayouts — форматы, принимаемые ParseFlexible, в порядке убывания
// строгости. Первые четыре — варианты ISO-8601 без зоны (так сериализует
// published паблишер доставки), дальше формы с зоной и типичные форматы
// RSS-лент (RFC822/RFC1123).
var flexibleLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02",
}

// ParseFlexible разбирает строковое представление времени в одном из известных
// форматов и возвращает результат, приведённый к UTC без смещения (см. ToNaiveUTC).
// ok=false означает, что ни один формат не подошёл.
func ParseFlexible(value string) (time.Time, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range flexibleLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return ToNaiveUTC(t), true
		}
	}
	return time.Time{}, false
}

// ToNaiveUTC приводит момент времени к UTC и «забывает» зону: результат
// несёт те же компоненты даты/времени, что и t в UTC, но в time.UTC.
// Такое представление соответствует колонке published без смещения.
func ToNaiveUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}

// FormatNaive сериализует время в ISO-8601 без зоны с микросекундами —
// формат, который принимают и ParseFlexible, и потребитель очереди доставки.
func FormatNaive(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}
