// Точка входа Datacenter Module — модуль доступа к клиническим данным.
// Загружает конфигурацию, подключается к PostgreSQL дата-центра и реестру когорт,
// применяет миграции, создаёт репозитории и сервисный слой, запускает фоновые
// задачи (синхронизация заявок, GC документов, topologymetrics),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/godatacenter/internal/api/handlers"
	"github.com/bigkaa/godatacenter/internal/api/middleware"
	"github.com/bigkaa/godatacenter/internal/bridge"
	"github.com/bigkaa/godatacenter/internal/config"
	"github.com/bigkaa/godatacenter/internal/database"
	"github.com/bigkaa/godatacenter/internal/docstore"
	"github.com/bigkaa/godatacenter/internal/repository"
	"github.com/bigkaa/godatacenter/internal/server"
	"github.com/bigkaa/godatacenter/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Datacenter Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("DC_DEPHEALTH_GROUP") == "" {
		logger.Warn("DC_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx := context.Background()

	// 3. Применение миграций БД дата-центра
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL дата-центра
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к БД", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Подключение к PostgreSQL реестра когорт (read-only)
	registryPool, err := database.ConnectRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к реестру когорт", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer registryPool.Close()

	// 5.1 *sql.DB адаптеры для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()
	registryDB := stdlib.OpenDBFromPool(registryPool)
	defer registryDB.Close()

	// 6. Файловое хранилище документов
	store, err := docstore.New(cfg.DocsDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища документов",
			slog.String("docs_dir", cfg.DocsDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 7. Репозитории
	appRepo := repository.NewApplicationRepository(pool)
	certRepo := repository.NewCertificateRepository(pool)
	docRepo := repository.NewDocumentRepository(pool)
	connRepo := repository.NewConnectionRepository(pool)
	registryRepo := repository.NewRegistryRepository(registryPool)
	txRunner := repository.NewTxRunner(pool)

	// 8. Сервисный слой
	identitySvc := service.NewIdentityService(registryRepo)

	syncSvc := service.NewSyncService(
		registryRepo, appRepo, certRepo, docRepo, connRepo,
		txRunner, store,
		cfg.SyncInterval,
		logger,
	)

	documentsSvc := service.NewDocumentService(
		appRepo, certRepo, docRepo,
		txRunner, store,
		logger,
	)

	provisionSvc := service.NewProvisionService(
		txRunner, connRepo,
		bridge.Config{
			Database:         cfg.DBName,
			RegistryHost:     cfg.RegistryDBHost,
			RegistryPort:     cfg.RegistryDBPort,
			RegistryDatabase: cfg.RegistryDBName,
			RegistryUser:     cfg.RegistryDBUser,
			RegistryPassword: cfg.RegistryDBPassword,
			CDMSchema:        cfg.RegistryCDMSchema,
			ResultsSchema:    cfg.RegistryResultsSchema,
			StatementTimeout: cfg.ProvisionStatementTimeout,
		},
		cfg.ProvisionHost, cfg.ProvisionPort,
		logger,
	)

	approvalSvc := service.NewApprovalService(
		registryRepo, appRepo, certRepo, docRepo, connRepo,
		txRunner, provisionSvc, syncSvc,
		logger,
	)

	gcSvc := service.NewDocumentGCService(docRepo, store, cfg.GCInterval, logger)

	// 9. Readiness checkers (PostgreSQL дата-центра + реестр + JWKS)
	pgChecker := database.NewReadinessChecker(pool, "postgresql")
	registryChecker := database.NewReadinessChecker(registryPool, "cohort_registry")
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWTCACert)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, registryChecker, jwksChecker)

	// 10. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTCACert,
		cfg.JWTIssuer,
		identitySvc,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. API handlers
	cohortHandler := handlers.NewCohortHandler(approvalSvc, documentsSvc, syncSvc, logger)
	adminHandler := handlers.NewAdminHandler(approvalSvc, logger)
	documentHandler := handlers.NewDocumentHandler(documentsSvc, logger)

	// 12. Запуск фоновых задач
	syncSvc.Start(ctx)
	gcSvc.Start(ctx)

	// 12.1 topologymetrics — мониторинг зависимостей
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"datacenter-module",
		cfg.DephealthGroup,
		pgDB, registryDB,
		cfg.DatabaseURL(), cfg.RegistryURL(),
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, healthHandler, cohortHandler, adminHandler, documentHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	syncSvc.Stop()
	gcSvc.Stop()

	logger.Info("Datacenter Module остановлен")
}
