// Пакет hashing отвечает за вычисление контент-отпечатков новостей.
// Отпечаток — sha256 от ссылки; используется как ключ дедупликации
// (уникальный индекс news.content_hash).
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash возвращает hex-представление sha256 от ссылки новости.
func ContentHash(link string) string {
	sum := sha256.Sum256([]byte(link))
	return hex.EncodeToString(sum[:])
}
