// Кэш валидаторов HTTP для условных запросов к лентам: ETag и Last-Modified
// по URL ленты переживают рестарты в bbolt-файле, чтобы повторный опрос
// не перекачивал неизменившийся фид.
package poller

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"feedfusion/internal/infra/logger"
)

var cacheBucket = []byte("feed_validators")

// Validators — пара валидаторов последнего успешного ответа ленты.
type Validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// FeedCache — персистентный кэш валидаторов поверх bbolt.
type FeedCache struct {
	db *bolt.DB
}

// OpenFeedCache открывает (или создаёт) файл кэша и служебный bucket.
func OpenFeedCache(path string) (*FeedCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open feed cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists(cacheBucket)
		return berr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init feed cache bucket: %w", err)
	}
	return &FeedCache{db: db}, nil
}

// Get возвращает валидаторы для URL ленты; пустая пара — кэш-промах.
func (c *FeedCache) Get(feedURL string) Validators {
	var v Validators
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cacheBucket).Get([]byte(feedURL))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &v)
	})
	if err != nil {
		logger.Warnf("FeedCache: read %s: %v", feedURL, err)
		return Validators{}
	}
	return v
}

// Put сохраняет валидаторы ответа. Ошибка записи не критична для опроса
// и только логируется.
func (c *FeedCache) Put(feedURL string, v Validators) {
	if v.ETag == "" && v.LastModified == "" {
		return
	}
	err := c.db.Update(func(tx *bolt.Tx) error {
		raw, merr := json.Marshal(v)
		if merr != nil {
			return merr
		}
		return tx.Bucket(cacheBucket).Put([]byte(feedURL), raw)
	})
	if err != nil {
		logger.Warnf("FeedCache: write %s: %v", feedURL, err)
	}
}

// Close закрывает файл кэша.
func (c *FeedCache) Close() error {
	return c.db.Close()
}
