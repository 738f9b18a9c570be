// Package app собирает приложение из инфраструктуры и доменных компонентов:
// подключения к Postgres/RabbitMQ/Elasticsearch, регистрация обработчиков
// задач, планировщик и потребитель очереди доставки. Файл отвечает за
// правильный порядок запуска и корректный graceful shutdown: сначала
// останавливается приём новой работы (cron, consume), затем закрываются
// соединения.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"feedfusion/internal/adapters/mlservice"
	"feedfusion/internal/adapters/search"
	"feedfusion/internal/adapters/telegram"
	"feedfusion/internal/domain/classifier"
	"feedfusion/internal/domain/delivery"
	"feedfusion/internal/domain/fanout"
	"feedfusion/internal/domain/ingest"
	"feedfusion/internal/domain/poller"
	"feedfusion/internal/domain/samples"
	"feedfusion/internal/domain/tasks"
	"feedfusion/internal/infra/config"
	"feedfusion/internal/infra/db"
	"feedfusion/internal/infra/logger"
	"feedfusion/internal/infra/rmq"
	"feedfusion/internal/infra/storage"
	"feedfusion/internal/repos"
)

// tasksQueue — общая durable-очередь фоновых задач пайплайна.
const tasksQueue = "feedfusion.tasks"

// defaultTrainConfig — конфигурация обучения для тиков планировщика,
// когда админ не передал свою.
var defaultTrainConfig = repos.JSONMap{
	"seed":       42,
	"epochs":     10,
	"batch_size": 64,
	"lr":         1e-3,
	"embed_dim":  128,
	"dropout":    0.2,
	"min_freq":   2,
	"max_vocab":  50000,
}

// App — собранное приложение. Какие подсистемы реально запускаются,
// решают RunWorker/RunConsumer.
type App struct {
	cfg config.EnvConfig

	database *db.DB
	broker   *rmq.Client
	cache    *poller.FeedCache
	searcher *search.Manager

	enqueuer  *tasks.Enqueuer
	worker    *tasks.Worker
	scheduler *tasks.Scheduler
	consumer  *delivery.Consumer
}

// New создаёт пустое приложение; сборка выполняется в Init.
func New() *App {
	return &App{}
}

// Init устанавливает соединения и собирает граф компонентов.
func (a *App) Init(ctx context.Context) error {
	a.cfg = config.Env()

	database, err := db.Open(ctx, a.cfg.DatabaseDSN())
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	a.database = database

	a.broker = rmq.New(a.cfg.RabbitURL())
	a.enqueuer = tasks.NewEnqueuer(a.broker, tasksQueue)

	if err := storage.EnsureDir(a.cfg.FeedCacheFile); err != nil {
		return errors.Wrap(err, "prepare feed cache dir")
	}
	cache, err := poller.OpenFeedCache(a.cfg.FeedCacheFile)
	if err != nil {
		return errors.Wrap(err, "open feed cache")
	}
	a.cache = cache

	// Поисковый индекс вторичен: недоступный Elasticsearch не должен
	// блокировать пайплайн, инжест просто работает без индексации.
	var index ingest.SearchIndex
	if a.cfg.UseElasticsearch {
		searcher, serr := search.New(a.cfg.ElasticsearchURL(), a.cfg.ESIndexName)
		if serr != nil {
			logger.Errorf("App: elasticsearch unavailable, indexing disabled: %v", serr)
		} else if serr = searcher.EnsureIndex(ctx); serr != nil {
			logger.Errorf("App: ensure index failed, indexing disabled: %v", serr)
		} else {
			a.searcher = searcher
			index = searcher
		}
	}

	feedPoller := poller.New(poller.Options{
		DB:           a.database,
		Enqueuer:     a.enqueuer,
		Cache:        a.cache,
		EmptyText:    a.cfg.EmptyText,
		MaxAge:       time.Duration(a.cfg.PreferredHoursPeriod) * time.Hour,
		MaxEntries:   a.cfg.ParserMaxEntriesPerFeed,
		FetchTimeout: time.Duration(a.cfg.ParserFeedTimeoutSec) * time.Second,
		ProcessTask:  tasks.TaskProcessNewsItem,
	})
	writer := ingest.New(a.database, index)
	planner := fanout.New(a.database, a.broker, a.cfg.TelegramNewsQueue, a.cfg.EnableSubsCheck)

	artifacts := classifier.DirArtifacts{Dir: a.cfg.ModelDir}
	mlClient := mlservice.New(a.cfg.MLServiceURL, a.cfg.Device)
	loop := classifier.NewLoop(a.database, a.enqueuer, artifacts, mlClient, a.cfg.EnableMLAutocategorization)
	retrainer := classifier.NewRetrainWorker(classifier.RetrainOptions{
		DB:            a.database,
		Artifacts:     artifacts,
		Trainer:       mlClient,
		ModelDir:      a.cfg.ModelDir,
		Device:        a.cfg.Device,
		MinNewSamples: a.cfg.MLMinNewSamplesForTrain,
		ReplayRatio:   a.cfg.MLReplayRatio,
		MaxReplay:     a.cfg.MLMaxReplaySamples,
		DefaultConfig: defaultTrainConfig,
		Enabled:       a.cfg.EnableMLAutotrain,
	})
	importer := samples.NewImporter(a.database)

	a.worker = tasks.NewWorker(a.broker, tasksQueue)
	a.worker.Register(tasks.TaskParseRSS, feedPoller.HandleParseRSS)
	a.worker.Register(tasks.TaskProcessNewsItem, writer.HandleProcessNewsItem)
	a.worker.Register(tasks.TaskCheckSubs, planner.HandleCheckSubs)
	a.worker.Register(tasks.TaskCheckUncategorized, loop.HandleCheckUncategorized)
	a.worker.Register(tasks.TaskCategorizeNews, loop.HandleCategorize)
	a.worker.Register(tasks.TaskRetrainModel, retrainer.HandleRetrainModel)
	a.worker.Register(tasks.TaskUploadTrainingDataset, importer.HandleUploadDataset)

	scheduler, err := tasks.NewScheduler(a.enqueuer)
	if err != nil {
		return errors.Wrap(err, "build scheduler")
	}
	a.scheduler = scheduler

	sender := telegram.NewBotSender(a.cfg.TelegramBotToken, a.cfg.TelegramRPS)
	a.consumer = delivery.New(
		a.broker,
		a.cfg.TelegramNewsQueue,
		a.cfg.DeadLetterQueue(),
		sender,
		time.Duration(a.cfg.TelegramSendTimeoutSec)*time.Second,
	)

	logger.Info("App: components initialized")
	return nil
}

// RunWorker запускает планировщик и воркер фоновых задач; блокируется
// до отмены контекста.
func (a *App) RunWorker(ctx context.Context) error {
	a.scheduler.Start()
	defer a.scheduler.Stop()

	logger.Info("App: task worker started")
	if err := a.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "task worker")
	}
	return nil
}

// RunConsumer запускает потребителя очереди доставки; блокируется
// до отмены контекста.
func (a *App) RunConsumer(ctx context.Context) error {
	logger.Info("App: delivery consumer started")
	if err := a.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "delivery consumer")
	}
	return nil
}

// Close освобождает соединения. Безопасен при частичной инициализации.
func (a *App) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			logger.Errorf("App: close broker: %v", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Errorf("App: close feed cache: %v", err)
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			logger.Errorf("App: close database: %v", err)
		}
	}
}
