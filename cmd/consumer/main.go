// Бинарь consumer — потребитель очереди доставки: забирает сообщения
// фан-аута и отправляет новости подписчикам через Telegram Bot API.
// Выделен в отдельный процесс, чтобы доставку можно было масштабировать
// независимо от планировщика и воркеров.
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
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Init(config.Env().LogLevel)
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New()
	if err := a.Init(ctx); err != nil {
		stop()
		logger.Fatal("app init failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.RunConsumer(ctx); err != nil {
		stop()
		logger.Fatal("consumer run failed", zap.Error(err))
	}
	logger.Info("Graceful shutdown complete")
}
