package config

import (
	"strings"
	"testing"
)

// setRequiredEnv выставляет минимальный набор обязательных переменных.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "feed")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "feedfusion")
	t.Setenv("RABBIT_HOST", "localhost")
	t.Setenv("RABBIT_USER", "guest")
	t.Setenv("RABBIT_PASSWORD", "guest")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
}

func TestLoadConfigRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_PASSWORD", "")

	_, err := loadConfig("")
	if err == nil {
		t.Fatal("loadConfig() expected error for missing DB_PASSWORD")
	}
	if !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("loadConfig() error = %q, want mention of DB_PASSWORD", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	env := cfg.Env

	if env.DBPort != defaultDBPort {
		t.Fatalf("DBPort = %d, want %d", env.DBPort, defaultDBPort)
	}
	if env.TelegramNewsQueue != defaultNewsQueue {
		t.Fatalf("TelegramNewsQueue = %q, want %q", env.TelegramNewsQueue, defaultNewsQueue)
	}
	if env.PreferredHoursPeriod != defaultPreferredHoursPeriod {
		t.Fatalf("PreferredHoursPeriod = %d, want %d", env.PreferredHoursPeriod, defaultPreferredHoursPeriod)
	}
	if env.MLReplayRatio != defaultReplayRatio {
		t.Fatalf("MLReplayRatio = %g, want %g", env.MLReplayRatio, defaultReplayRatio)
	}
	if env.UseElasticsearch || env.EnableSubsCheck || env.EnableMLAutocategorization || env.EnableMLAutotrain {
		t.Fatal("feature flags must default to false")
	}
	if len(cfg.warnings) == 0 {
		t.Fatal("expected warnings about substituted defaults")
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("TELEGRAM_RPS", "-5")
	t.Setenv("ENABLE_SUBS_CHECK", "definitely")
	t.Setenv("ML_REPLAY_RATIO", "-0.3")
	t.Setenv("LOG_LEVEL", "verbose")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	env := cfg.Env

	if env.DBPort != defaultDBPort {
		t.Fatalf("DBPort = %d, want default %d", env.DBPort, defaultDBPort)
	}
	if env.TelegramRPS != defaultTelegramRPS {
		t.Fatalf("TelegramRPS = %d, want default %d", env.TelegramRPS, defaultTelegramRPS)
	}
	if env.EnableSubsCheck {
		t.Fatal("EnableSubsCheck must fall back to false")
	}
	if env.MLReplayRatio != defaultReplayRatio {
		t.Fatalf("MLReplayRatio = %g, want default %g", env.MLReplayRatio, defaultReplayRatio)
	}
	if env.LogLevel != defaultLogLevel {
		t.Fatalf("LogLevel = %q, want default %q", env.LogLevel, defaultLogLevel)
	}

	for _, name := range []string{"DB_PORT", "TELEGRAM_RPS", "ENABLE_SUBS_CHECK", "ML_REPLAY_RATIO", "LOG_LEVEL"} {
		found := false
		for _, w := range cfg.warnings {
			if strings.Contains(w, name) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("no warning about %s; warnings: %v", name, cfg.warnings)
		}
	}
}

func TestLoadConfigFlagsAndOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("USE_ELASTICSEARCH", "true")
	t.Setenv("ENABLE_ML_AUTOTRAIN", "1")
	t.Setenv("TELEGRAM_NEWS_QUEUE", "news_out")
	t.Setenv("DB_PORT", "6543")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	env := cfg.Env

	if !env.UseElasticsearch || !env.EnableMLAutotrain {
		t.Fatal("explicitly enabled flags must be true")
	}
	if env.TelegramNewsQueue != "news_out" {
		t.Fatalf("TelegramNewsQueue = %q, want %q", env.TelegramNewsQueue, "news_out")
	}
	if env.DBPort != 6543 {
		t.Fatalf("DBPort = %d, want 6543", env.DBPort)
	}
}

func TestDSNBuilders(t *testing.T) {
	t.Parallel()

	env := EnvConfig{
		DBHost: "db", DBPort: 5432, DBUser: "u", DBPassword: "p", DBName: "n",
		RabbitHost: "mq", RabbitPort: 5672, RabbitUser: "ru", RabbitPassword: "rp",
		ESHost: "es", ESPort: 9200,
		TelegramNewsQueue: "telegram_news",
	}

	if got, want := env.DatabaseDSN(), "postgres://u:p@db:5432/n?sslmode=disable"; got != want {
		t.Fatalf("DatabaseDSN() = %q, want %q", got, want)
	}
	if got, want := env.RabbitURL(), "amqp://ru:rp@mq:5672/"; got != want {
		t.Fatalf("RabbitURL() = %q, want %q", got, want)
	}
	if got, want := env.ElasticsearchURL(), "http://es:9200"; got != want {
		t.Fatalf("ElasticsearchURL() = %q, want %q", got, want)
	}
	if got, want := env.DeadLetterQueue(), "telegram_news.dead"; got != want {
		t.Fatalf("DeadLetterQueue() = %q, want %q", got, want)
	}
}
