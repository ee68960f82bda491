// Пакет config — загрузка и валидация конфигурации DataCenter Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации DataCenter Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL дата-центра (tenant, схема dc_management) ---

	// Хост PostgreSQL дата-центра
	DBHost string
	// Порт PostgreSQL дата-центра
	DBPort int
	// Имя базы данных дата-центра
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- PostgreSQL внешнего реестра (ATLAS/WebAPI, read-only) ---

	// Хост PostgreSQL реестра
	RegistryDBHost string
	// Порт PostgreSQL реестра
	RegistryDBPort int
	// Имя базы данных реестра
	RegistryDBName string
	// Имя пользователя реестра
	RegistryDBUser string
	// Пароль пользователя реестра
	RegistryDBPassword string
	// Режим SSL реестра
	RegistryDBSSLMode string
	// Схема CDM-данных в реестре (источник bridge-копий)
	RegistryCDMSchema string
	// Схема результатов когорт в реестре (членство субъектов)
	RegistryResultsSchema string

	// --- JWT ---

	// URL JWKS endpoint для проверки подписи токенов
	JWTJWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string
	// Путь к CA-сертификату для TLS-соединения с JWKS endpoint
	JWTCACert string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration

	// --- Документы ---

	// Корневая директория хранения комплаенс-документов
	DocsDir string

	// --- Синхронизация и фоновые задачи ---

	// Интервал фоновой синхронизации заявок с реестром
	SyncInterval time.Duration
	// Интервал сборки мусора хранилища документов
	GCInterval time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Группа topologymetrics
	DephealthGroup string

	// --- Provisioning ---

	// Хост, публикуемый исследователю в реквизитах подключения
	ProvisionHost string
	// Порт, публикуемый исследователю
	ProvisionPort int
	// Statement timeout для DDL provisioning (копии таблиц могут идти долго)
	ProvisionStatementTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DC_PORT — порт HTTP-сервера (по умолчанию 8010)
	cfg.Port, err = getEnvInt("DC_PORT", 8010)
	if err != nil {
		return nil, fmt.Errorf("DC_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DC_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// DC_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DC_LOG_LEVEL: %w", err)
	}

	// DC_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL дата-центра ---

	// DC_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("DC_DB_HOST")
	if err != nil {
		return nil, err
	}

	// DC_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("DC_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DC_DB_PORT: %w", err)
	}

	// DC_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("DC_DB_NAME")
	if err != nil {
		return nil, err
	}

	// DC_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("DC_DB_USER")
	if err != nil {
		return nil, err
	}

	// DC_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("DC_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// DC_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode, err = getEnvSSLMode("DC_DB_SSL_MODE")
	if err != nil {
		return nil, err
	}

	// --- PostgreSQL реестра ---

	// DC_REGISTRY_DB_HOST — обязательный
	cfg.RegistryDBHost, err = getEnvRequired("DC_REGISTRY_DB_HOST")
	if err != nil {
		return nil, err
	}

	// DC_REGISTRY_DB_PORT — порт PostgreSQL реестра (по умолчанию 5432)
	cfg.RegistryDBPort, err = getEnvInt("DC_REGISTRY_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DC_REGISTRY_DB_PORT: %w", err)
	}

	// DC_REGISTRY_DB_NAME — обязательный
	cfg.RegistryDBName, err = getEnvRequired("DC_REGISTRY_DB_NAME")
	if err != nil {
		return nil, err
	}

	// DC_REGISTRY_DB_USER — обязательный
	cfg.RegistryDBUser, err = getEnvRequired("DC_REGISTRY_DB_USER")
	if err != nil {
		return nil, err
	}

	// DC_REGISTRY_DB_PASSWORD — обязательный
	cfg.RegistryDBPassword, err = getEnvRequired("DC_REGISTRY_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// DC_REGISTRY_DB_SSL_MODE — режим SSL реестра (по умолчанию disable)
	cfg.RegistryDBSSLMode, err = getEnvSSLMode("DC_REGISTRY_DB_SSL_MODE")
	if err != nil {
		return nil, err
	}

	// DC_REGISTRY_CDM_SCHEMA — схема CDM в реестре (по умолчанию demo_cdm)
	cfg.RegistryCDMSchema = getEnvDefault("DC_REGISTRY_CDM_SCHEMA", "demo_cdm")

	// DC_REGISTRY_RESULTS_SCHEMA — схема результатов когорт (по умолчанию demo_cdm_results)
	cfg.RegistryResultsSchema = getEnvDefault("DC_REGISTRY_RESULTS_SCHEMA", "demo_cdm_results")

	// --- JWT ---

	// DC_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("DC_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// DC_JWT_ISSUER — опциональный (пустой — issuer не проверяется)
	cfg.JWTIssuer = getEnvDefault("DC_JWT_ISSUER", "")

	// DC_JWT_CA_CERT — опциональный CA-сертификат для JWKS
	cfg.JWTCACert = getEnvDefault("DC_JWT_CA_CERT", "")

	// DC_JWT_LEEWAY — допуск по времени (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("DC_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DC_JWT_LEEWAY: %w", err)
	}

	// DC_JWKS_REFRESH_INTERVAL — интервал обновления ключей (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("DC_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DC_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- Документы ---

	// DC_DOCS_DIR — директория документов (по умолчанию ./documents)
	cfg.DocsDir = getEnvDefault("DC_DOCS_DIR", "documents")

	// --- Синхронизация и фоновые задачи ---

	// DC_SYNC_INTERVAL — интервал синхронизации с реестром (по умолчанию 15m)
	cfg.SyncInterval, err = getEnvDuration("DC_SYNC_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DC_SYNC_INTERVAL: %w", err)
	}

	// DC_GC_INTERVAL — интервал GC документов (по умолчанию 1h)
	cfg.GCInterval, err = getEnvDuration("DC_GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DC_GC_INTERVAL: %w", err)
	}

	// DC_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("DC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DC_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// DC_DEPHEALTH_GROUP — группа topologymetrics (по умолчанию datacenter)
	cfg.DephealthGroup = getEnvDefault("DC_DEPHEALTH_GROUP", "datacenter")

	// --- Provisioning ---

	// DC_PROVISION_HOST — публикуемый хост (по умолчанию хост БД дата-центра)
	cfg.ProvisionHost = getEnvDefault("DC_PROVISION_HOST", cfg.DBHost)

	// DC_PROVISION_PORT — публикуемый порт (по умолчанию порт БД дата-центра)
	cfg.ProvisionPort, err = getEnvInt("DC_PROVISION_PORT", cfg.DBPort)
	if err != nil {
		return nil, fmt.Errorf("DC_PROVISION_PORT: %w", err)
	}

	// DC_PROVISION_STATEMENT_TIMEOUT — statement timeout DDL (по умолчанию 10m)
	cfg.ProvisionStatementTimeout, err = getEnvDuration("DC_PROVISION_STATEMENT_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DC_PROVISION_STATEMENT_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// DC_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DC_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DC_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL дата-центра.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// RegistryDSN возвращает строку подключения к PostgreSQL реестра.
func (c *Config) RegistryDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.RegistryDBHost, c.RegistryDBPort, c.RegistryDBName,
		c.RegistryDBUser, c.RegistryDBPassword, c.RegistryDBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к БД дата-центра (для метрик topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RegistryURL возвращает URL подключения к БД реестра (для метрик topologymetrics).
func (c *Config) RegistryURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.RegistryDBUser, c.RegistryDBPassword, c.RegistryDBHost,
		c.RegistryDBPort, c.RegistryDBName, c.RegistryDBSSLMode)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvSSLMode возвращает режим SSL из переменной окружения с валидацией.
func getEnvSSLMode(key string) (string, error) {
	mode := getEnvDefault(key, "disable")
	switch mode {
	case "disable", "require", "verify-ca", "verify-full":
		return mode, nil
	default:
		return "", fmt.Errorf("%s: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", key, mode)
	}
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
