// Пакет tasks — фоновые задачи пайплайна: конверт сообщения, постановка
// в очередь, воркер с ретраями и cron-планировщик. Все задачи идут через
// одну durable-очередь; маршрутизация — по имени задачи в конверте.
package tasks

import "encoding/json"

// Имена задач. Имя в конверте — единственный механизм маршрутизации,
// менять значения нельзя без миграции очереди.
const (
	TaskParseRSS              = "parse_rss"
	TaskProcessNewsItem       = "process_news_item"
	TaskCheckSubs             = "check_subs"
	TaskCheckUncategorized    = "check_for_uncategorized_news"
	TaskCategorizeNews        = "categorize_uncategorized_news"
	TaskRetrainModel          = "retrain_model"
	TaskUploadTrainingDataset = "upload_training_dataset"
)

// Envelope — конверт задачи в очереди: имя и произвольный JSON-payload.
type Envelope struct {
	Task    string          `json:"task"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
