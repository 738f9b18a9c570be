// Бинарь feedfusion — планировщик и воркер фоновых задач пайплайна:
// опрос лент, инжест, фан-аут подписок, автокатегоризация и дообучение.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"feedfusion/internal/app"
	"feedfusion/internal/infra/config"
	"feedfusion/internal/infra/logger"
)

func main() {
	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Init(config.Env().LogLevel)
	if logFile := config.Env().LogFile; logFile != "" {
		logger.EnableFile(logger.FileOptions{
			Path:       logFile,
			Level:      config.Env().LogFileLevel,
			MaxSizeMB:  config.Env().LogFileMaxSize,
			MaxBackups: config.Env().LogFileMaxBackups,
			MaxAgeDays: config.Env().LogFileMaxAge,
			Compress:   config.Env().LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		stop()
		logger.Fatal("app init failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.RunWorker(ctx); err != nil {
		stop()
		logger.Fatal("worker run failed", zap.Error(err))
	}
	logger.Info("Graceful shutdown complete")
}
