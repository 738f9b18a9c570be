// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (агрегатор новостных лент). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. собирает DSN для Postgres, RabbitMQ и Elasticsearch,
//  4. предоставляет доступ к результату через singleton.
//
// Бизнес-контекст: конфигурация управляет подключениями к внешним системам
// (БД, брокер, поисковый индекс, Telegram Bot API), границами парсера лент,
// флагами включения фоновых задач и параметрами ML-дообучения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это
// «операционные» настройки запуска: учетные данные внешних систем, лог-уровень,
// границы парсера, флаги фоновых задач и параметры обучения классификатора.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	LogLevel  string
	EmptyText string

	// Postgres
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// RabbitMQ
	RabbitHost     string
	RabbitPort     int
	RabbitUser     string
	RabbitPassword string

	// Elasticsearch
	ESHost      string
	ESPort      int
	ESIndexName string

	// Telegram
	TelegramBotToken      string
	TelegramNewsQueue     string
	TelegramSendTimeoutSec int
	TelegramRPS           int

	// Парсер лент
	PreferredHoursPeriod   int
	ParserMaxEntriesPerFeed int
	ParserFeedTimeoutSec   int
	FeedCacheFile          string

	// Флаги фоновых задач
	UseElasticsearch          bool
	EnableSubsCheck           bool
	EnableMLAutocategorization bool
	EnableMLAutotrain         bool

	// ML
	ModelDir               string
	Device                 string
	MLServiceURL           string
	MLMinNewSamplesForTrain int
	MLReplayRatio          float64
	MLMaxReplaySamples     int

	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды и накопленные при загрузке предупреждения.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию для параметров окружения.
const (
	defaultLogLevel  = "info"
	defaultEmptyText = "Отсутствует"

	defaultDBPort     = 5432
	defaultRabbitPort = 5672
	defaultESPort     = 9200
	defaultESIndex    = "news"

	defaultNewsQueue       = "telegram_news"
	defaultSendTimeoutSec  = 20
	defaultTelegramRPS     = 1

	defaultPreferredHoursPeriod = 24
	defaultMaxEntriesPerFeed    = 50
	defaultFeedTimeoutSec       = 30
	defaultFeedCacheFile        = "data/feed_cache.bbolt"

	defaultModelDir            = "artifacts"
	defaultDevice              = "cpu"
	defaultMLServiceURL        = "http://localhost:8500"
	defaultMinSamplesForTrain  = 50
	defaultReplayRatio         = 0.5
	defaultMaxReplaySamples    = 1000

	// Файловое логирование (LOG_FILE не имеет дефолта — должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат
// в singleton cfgInstance. Повторный вызов запрещён (возвращается ошибка),
// чтобы избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	var warnings []string

	dbHost, err := requiredString("DB_HOST")
	if err != nil {
		return nil, err
	}
	dbUser, err := requiredString("DB_USER")
	if err != nil {
		return nil, err
	}
	dbPassword, err := requiredString("DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	dbName, err := requiredString("DB_NAME")
	if err != nil {
		return nil, err
	}
	rabbitHost, err := requiredString("RABBIT_HOST")
	if err != nil {
		return nil, err
	}
	rabbitUser, err := requiredString("RABBIT_USER")
	if err != nil {
		return nil, err
	}
	rabbitPassword, err := requiredString("RABBIT_PASSWORD")
	if err != nil {
		return nil, err
	}
	botToken, err := requiredString("TELEGRAM_BOT_TOKEN")
	if err != nil {
		return nil, err
	}

	env := EnvConfig{
		LogLevel:  sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings),
		EmptyText: sanitizeString("EMPTY_TEXT", os.Getenv("EMPTY_TEXT"), defaultEmptyText, &warnings),

		DBHost:     dbHost,
		DBPort:     parseIntDefault("DB_PORT", defaultDBPort, greaterThanZero, &warnings),
		DBUser:     dbUser,
		DBPassword: dbPassword,
		DBName:     dbName,

		RabbitHost:     rabbitHost,
		RabbitPort:     parseIntDefault("RABBIT_PORT", defaultRabbitPort, greaterThanZero, &warnings),
		RabbitUser:     rabbitUser,
		RabbitPassword: rabbitPassword,

		ESHost:      strings.TrimSpace(os.Getenv("ES_HOST")),
		ESPort:      parseIntDefault("ES_PORT", defaultESPort, greaterThanZero, &warnings),
		ESIndexName: sanitizeString("ES_INDEX_NAME", os.Getenv("ES_INDEX_NAME"), defaultESIndex, &warnings),

		TelegramBotToken:       botToken,
		TelegramNewsQueue:      sanitizeString("TELEGRAM_NEWS_QUEUE", os.Getenv("TELEGRAM_NEWS_QUEUE"), defaultNewsQueue, &warnings),
		TelegramSendTimeoutSec: parseIntDefault("TELEGRAM_SEND_TIMEOUT_SEC", defaultSendTimeoutSec, greaterThanZero, &warnings),
		TelegramRPS:            parseIntDefault("TELEGRAM_RPS", defaultTelegramRPS, greaterThanZero, &warnings),

		PreferredHoursPeriod:    parseIntDefault("PREFERRED_HOURS_PERIOD", defaultPreferredHoursPeriod, greaterThanZero, &warnings),
		ParserMaxEntriesPerFeed: parseIntDefault("PARSER_MAX_ENTRIES_PER_FEED", defaultMaxEntriesPerFeed, greaterThanZero, &warnings),
		ParserFeedTimeoutSec:    parseIntDefault("PARSER_FEED_TIMEOUT_SEC", defaultFeedTimeoutSec, greaterThanZero, &warnings),
		FeedCacheFile:           sanitizeString("FEED_CACHE_FILE", os.Getenv("FEED_CACHE_FILE"), defaultFeedCacheFile, &warnings),

		UseElasticsearch:           parseBoolDefault("USE_ELASTICSEARCH", false, &warnings),
		EnableSubsCheck:            parseBoolDefault("ENABLE_SUBS_CHECK", false, &warnings),
		EnableMLAutocategorization: parseBoolDefault("ENABLE_ML_AUTOCATEGORIZATION", false, &warnings),
		EnableMLAutotrain:          parseBoolDefault("ENABLE_ML_AUTOTRAIN", false, &warnings),

		ModelDir:                sanitizeString("MODEL_DIR", os.Getenv("MODEL_DIR"), defaultModelDir, &warnings),
		Device:                  sanitizeString("DEVICE", os.Getenv("DEVICE"), defaultDevice, &warnings),
		MLServiceURL:            sanitizeString("ML_SERVICE_URL", os.Getenv("ML_SERVICE_URL"), defaultMLServiceURL, &warnings),
		MLMinNewSamplesForTrain: parseIntDefault("ML_MIN_NEW_SAMPLES_FOR_TRAIN", defaultMinSamplesForTrain, greaterThanZero, &warnings),
		MLReplayRatio:           parseFloatDefault("ML_REPLAY_RATIO", defaultReplayRatio, &warnings),
		MLMaxReplaySamples:      parseIntDefault("ML_MAX_REPLAY_SAMPLES", defaultMaxReplaySamples, nonNegative, &warnings),

		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogFileLevel:      sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings),
		LogFileMaxSize:    parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings),
		LogFileMaxBackups: parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings),
		LogFileMaxAge:     parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings),
		LogFileCompress:   parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings),
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// DatabaseDSN собирает строку подключения к Postgres для драйвера pgx.
func (e EnvConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		e.DBUser, e.DBPassword, e.DBHost, e.DBPort, e.DBName,
	)
}

// RabbitURL собирает AMQP-URL брокера.
func (e EnvConfig) RabbitURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", e.RabbitUser, e.RabbitPassword, e.RabbitHost, e.RabbitPort)
}

// ElasticsearchURL собирает адрес поискового индекса.
func (e EnvConfig) ElasticsearchURL() string {
	return fmt.Sprintf("http://%s:%d", e.ESHost, e.ESPort)
}

// DeadLetterQueue возвращает имя dead-letter очереди: основное имя + ".dead".
func (e EnvConfig) DeadLetterQueue() string {
	return e.TelegramNewsQueue + ".dead"
}

// requiredString читает обязательную строковую переменную окружения name.
// Если переменная не задана — возвращает ошибку: без неё приложение не стартует.
func requiredString(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("env %s must be set", name)
	}
	return value, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseFloatDefault читает name как неотрицательный float64 с дефолтом и предупреждением.
func parseFloatDefault(name string, defaultVal float64, warnings *[]string) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %g", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v < 0 {
		appendWarningf(warnings, "env %s value %q is not a valid ratio; using default %g", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeString возвращает значение переменной либо fallback с предупреждением.
func sanitizeString(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}
