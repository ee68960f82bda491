// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Datacenter Module мониторит три зависимости:
//   - PostgreSQL дата-центра — SQL checker через существующий pgxpool (critical)
//   - PostgreSQL реестра когорт — SQL checker через read-only pgxpool (critical)
//   - Провайдер идентификации — HTTP checker к JWKS endpoint (critical)
//
// Connection pool mode предпочтителен, т.к. отражает реальную способность
// сервиса работать с зависимостью и может обнаружить исчерпание пула
// соединений.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для JWKS
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (e.g. "datacenter-module")
//   - group — имя группы в метриках (DC_DEPHEALTH_GROUP)
//   - db, registryDB — *sql.DB, полученные из pgxpool через stdlib.OpenDBFromPool()
//   - dbURL, registryURL — URL подключений (для метрик/лейблов, не для подключения)
//   - jwksURL — URL JWKS endpoint провайдера идентификации
//   - checkInterval — интервал проверки зависимостей (DC_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	db, registryDB *sql.DB,
	dbURL, registryURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, db, registryDB, dbURL, registryURL, jwksURL, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	db, registryDB *sql.DB,
	dbURL, registryURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, db, registryDB, dbURL, registryURL, jwksURL, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	db, registryDB *sql.DB,
	dbURL, registryURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	// По умолчанию dephealth проверяет /health, но у провайдера
	// идентификации этот endpoint может жить на management порту.
	// Используем path самого JWKS URL — это подтверждает доступность
	// realm и OIDC endpoints.
	jwksHealthPath := "/health"
	if parsed, parseErr := url.Parse(jwksURL); parseErr == nil && parsed.Path != "" {
		jwksHealthPath = parsed.Path
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// Обе базы проверяются через *sql.DB (адаптер pgxpool):
		// pgcheck.New + AddDependency напрямую, чтобы не тянуть
		// contrib/sqldb с транзитивной зависимостью на MySQL.
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)),
			dephealth.FromURL(dbURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		),
		dephealth.AddDependency("cohort-registry", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(registryDB)),
			dephealth.FromURL(registryURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("identity-jwks",
			dephealth.FromURL(jwksURL),
			dephealth.WithHTTPHealthPath(jwksHealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(true), // Dev-среда: self-signed сертификаты
		),
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL x2 + JWKS)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
