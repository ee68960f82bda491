package config

import (
	"log/slog"
	"testing"
	"time"
)

// setRequiredEnv задаёт минимальный набор обязательных переменных окружения.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DC_DB_HOST", "localhost")
	t.Setenv("DC_DB_NAME", "datacenter")
	t.Setenv("DC_DB_USER", "dc")
	t.Setenv("DC_DB_PASSWORD", "secret")
	t.Setenv("DC_REGISTRY_DB_HOST", "atlas-db")
	t.Setenv("DC_REGISTRY_DB_NAME", "webapi")
	t.Setenv("DC_REGISTRY_DB_USER", "reader")
	t.Setenv("DC_REGISTRY_DB_PASSWORD", "reader-secret")
	t.Setenv("DC_JWT_JWKS_URL", "http://keycloak/realms/dc/protocol/openid-connect/certs")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8010 {
		t.Errorf("Port = %d, ожидалось 8010", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидалось info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидалось json", cfg.LogFormat)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("SyncInterval = %v, ожидалось 15m", cfg.SyncInterval)
	}
	if cfg.GCInterval != time.Hour {
		t.Errorf("GCInterval = %v, ожидался 1h", cfg.GCInterval)
	}
	if cfg.RegistryCDMSchema != "demo_cdm" {
		t.Errorf("RegistryCDMSchema = %q, ожидалось demo_cdm", cfg.RegistryCDMSchema)
	}
	if cfg.RegistryResultsSchema != "demo_cdm_results" {
		t.Errorf("RegistryResultsSchema = %q, ожидалось demo_cdm_results", cfg.RegistryResultsSchema)
	}
	// Provisioning по умолчанию публикует хост и порт БД дата-центра
	if cfg.ProvisionHost != "localhost" {
		t.Errorf("ProvisionHost = %q, ожидался хост БД localhost", cfg.ProvisionHost)
	}
	if cfg.ProvisionPort != 5432 {
		t.Errorf("ProvisionPort = %d, ожидался 5432", cfg.ProvisionPort)
	}
	if cfg.ProvisionStatementTimeout != 10*time.Minute {
		t.Errorf("ProvisionStatementTimeout = %v, ожидалось 10m", cfg.ProvisionStatementTimeout)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DC_DB_HOST", "")

	if _, err := Load(); err == nil {
		t.Error("Load() без DC_DB_HOST должен вернуть ошибку")
	}
}

func TestLoadInvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DC_PORT", "99999")

	if _, err := Load(); err == nil {
		t.Error("Load() с DC_PORT=99999 должен вернуть ошибку")
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DC_LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Error("Load() с недопустимым DC_LOG_LEVEL должен вернуть ошибку")
	}
}

func TestLoadInvalidSSLMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DC_DB_SSL_MODE", "prefer")

	if _, err := Load(); err == nil {
		t.Error("Load() с недопустимым DC_DB_SSL_MODE должен вернуть ошибку")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DC_SYNC_INTERVAL", "пятнадцать минут")

	if _, err := Load(); err == nil {
		t.Error("Load() с некорректным DC_SYNC_INTERVAL должен вернуть ошибку")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DC_PORT", "9000")
	t.Setenv("DC_LOG_LEVEL", "debug")
	t.Setenv("DC_LOG_FORMAT", "text")
	t.Setenv("DC_SYNC_INTERVAL", "1m")
	t.Setenv("DC_PROVISION_HOST", "dc-public.example.org")
	t.Setenv("DC_PROVISION_PORT", "6432")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, ожидалось 9000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидался debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидался text", cfg.LogFormat)
	}
	if cfg.SyncInterval != time.Minute {
		t.Errorf("SyncInterval = %v, ожидалась 1m", cfg.SyncInterval)
	}
	if cfg.ProvisionHost != "dc-public.example.org" {
		t.Errorf("ProvisionHost = %q", cfg.ProvisionHost)
	}
	if cfg.ProvisionPort != 6432 {
		t.Errorf("ProvisionPort = %d, ожидался 6432", cfg.ProvisionPort)
	}
}

func TestDSN(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	want := "host=localhost port=5432 dbname=datacenter user=dc password=secret sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, ожидалось %q", got, want)
	}

	wantReg := "host=atlas-db port=5432 dbname=webapi user=reader password=reader-secret sslmode=disable"
	if got := cfg.RegistryDSN(); got != wantReg {
		t.Errorf("RegistryDSN() = %q, ожидалось %q", got, wantReg)
	}
}
