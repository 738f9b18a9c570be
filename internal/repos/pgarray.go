package repos

import (
	"database/sql/driver"
	"strconv"
	"strings"
)

// int64Array сериализует срез идентификаторов в литерал Postgres-массива.
// Нужен, потому что database/sql поверх pgx не принимает []int64 напрямую.
type int64Array []int64

// Value реализует driver.Valuer: {1,2,3}.
func (a int64Array) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte('}')
	return b.String(), nil
}
