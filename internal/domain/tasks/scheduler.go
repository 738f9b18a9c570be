package tasks

import (
	"context"

	"github.com/robfig/cron/v3"

	"feedfusion/internal/infra/logger"
)

// Расписание периодических задач. Флаги ENABLE_* проверяются в обработчиках,
// а не здесь: запись в cron остаётся всегда, и включение фичи не требует
// перезапуска планировщика.
const (
	scheduleParseRSS           = "*/10 * * * *" // опрос лент
	scheduleCheckSubs          = "*/3 * * * *"  // фан-аут подписок
	scheduleCheckUncategorized = "* * * * *"    // поиск новостей без категории
	scheduleRetrainModel       = "0 0 * * *"    // ночное дообучение
)

// Scheduler переводит тики cron в постановку задач в общую очередь.
type Scheduler struct {
	cron     *cron.Cron
	enqueuer *Enqueuer
}

// NewScheduler регистрирует все периодические задачи.
func NewScheduler(enqueuer *Enqueuer) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		enqueuer: enqueuer,
	}

	entries := []struct {
		spec string
		task string
	}{
		{scheduleParseRSS, TaskParseRSS},
		{scheduleCheckSubs, TaskCheckSubs},
		{scheduleCheckUncategorized, TaskCheckUncategorized},
		{scheduleRetrainModel, TaskRetrainModel},
	}
	for _, e := range entries {
		task := e.task
		if _, err := s.cron.AddFunc(e.spec, func() { s.fire(task) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// fire ставит задачу по тику расписания. Ошибка постановки только логируется:
// следующий тик повторит попытку, терять процесс из-за брокера не нужно.
func (s *Scheduler) fire(task string) {
	if err := s.enqueuer.Enqueue(context.Background(), task, nil); err != nil {
		logger.Errorf("Scheduler: enqueue %s failed: %v", task, err)
	}
}

// Start запускает планировщик в фоне.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("Scheduler: started")
}

// Stop останавливает планировщик и дожидается текущих постановок.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Scheduler: stopped")
}
