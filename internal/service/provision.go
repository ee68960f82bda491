// provision.go — выдача доступа к данным когорты.
//
// При одобрении заявки исследователь получает роль PostgreSQL
// u{owner} и изолированную схему schema_{owner}_{appID} в БД
// дата-центра, заполненную копиями запрошенных таблиц CDM.
// Таблицы с person_id копируются с фильтром по субъектам когорты,
// справочные — целиком. Копирование идёт через postgres_fdw.
//
// Операция идемпотентна: если реквизиты по заявке уже выданы,
// повторный вызов ничего не делает и возвращает существующие.
// Таблицы, не допущенные к bridge, пропускаются с записью в лог.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/godatacenter/internal/bridge"
	"github.com/bigkaa/godatacenter/internal/domain/cdm"
	"github.com/bigkaa/godatacenter/internal/domain/model"
	"github.com/bigkaa/godatacenter/internal/repository"
)

// Prometheus-метрики provisioning.
var (
	provisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "datacenter_provision_duration_seconds",
		Help:    "Длительность выдачи доступа (копирование таблиц CDM)",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s … ~13m
	})

	provisionTablesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datacenter_provision_tables_total",
		Help: "Количество таблиц, обработанных при выдаче доступа",
	}, []string{"result"}) // result: copied, skipped
)

// ProvisionService — создание ролей, схем и копий таблиц для заявок.
type ProvisionService struct {
	runner    TxRunner
	conns     repository.ConnectionRepository
	bridgeCfg bridge.Config
	// host и port публикуются исследователю в реквизитах подключения
	host   string
	port   int
	logger *slog.Logger
}

// NewProvisionService создаёт сервис provisioning.
func NewProvisionService(
	runner TxRunner,
	conns repository.ConnectionRepository,
	bridgeCfg bridge.Config,
	host string,
	port int,
	logger *slog.Logger,
) *ProvisionService {
	return &ProvisionService{
		runner:    runner,
		conns:     conns,
		bridgeCfg: bridgeCfg,
		host:      host,
		port:      port,
		logger:    logger.With(slog.String("component", "provision")),
	}
}

// RoleName возвращает имя роли PostgreSQL владельца заявки.
func RoleName(ownerID int64) string {
	return fmt.Sprintf("u%d", ownerID)
}

// SchemaName возвращает имя изолированной схемы заявки.
func SchemaName(ownerID, appID int64) string {
	return fmt.Sprintf("schema_%d_%d", ownerID, appID)
}

// Provision выдаёт доступ по заявке: роль, схема, копии таблиц,
// гранты и запись реквизитов. Всё выполняется в одной транзакции
// БД дата-центра; при ошибке копирования ничего не выдаётся.
func (s *ProvisionService) Provision(ctx context.Context, app *model.ApplicationInfo) (*model.ProvisionedConnection, error) {
	// Реквизиты уже выданы — схема существует, ничего не делаем
	existing, err := s.conns.GetByID(ctx, app.ID)
	if err == nil {
		s.logger.Info("Доступ по заявке уже выдан, пропуск",
			slog.Int64("application_id", app.ID),
			slog.String("schema", existing.SchemaName),
		)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	return s.provision(ctx, app)
}

// Reprovision заново выполняет выделение доступа, даже если реквизиты
// уже выданы: роль получает новый пароль, копии таблиц пересоздаются.
func (s *ProvisionService) Reprovision(ctx context.Context, app *model.ApplicationInfo) (*model.ProvisionedConnection, error) {
	return s.provision(ctx, app)
}

func (s *ProvisionService) provision(ctx context.Context, app *model.ApplicationInfo) (*model.ProvisionedConnection, error) {
	start := time.Now()
	defer func() { provisionDuration.Observe(time.Since(start).Seconds()) }()

	username := RoleName(app.Owner)
	schemaName := SchemaName(app.Owner, app.ID)
	password := uuid.New().String()

	// Таблицы, не допущенные к bridge, пропускаются
	var tables []cdm.TableName
	for _, t := range app.Tables.Tables() {
		if !cdm.Bridgeable(t) {
			s.logger.Warn("Таблица не допущена к копированию, пропуск",
				slog.Int64("application_id", app.ID),
				slog.String("table", t.SQLName()),
			)
			provisionTablesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		tables = append(tables, t)
	}

	conn := &model.ProvisionedConnection{
		ID:         app.ID,
		Host:       s.host,
		Port:       s.port,
		Username:   username,
		Password:   password,
		SchemaName: schemaName,
	}

	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		b := bridge.New(tx, s.bridgeCfg)

		if err := b.SetStatementTimeout(ctx); err != nil {
			return err
		}
		if err := b.EnsureForeignServer(ctx); err != nil {
			return err
		}
		if err := b.EnsureRole(ctx, username, password); err != nil {
			return err
		}
		if err := b.EnsureSchema(ctx, schemaName); err != nil {
			return err
		}
		if err := b.ImportCohortTables(ctx, schemaName, tables, app.ExtID); err != nil {
			return err
		}
		if err := b.Grant(ctx, schemaName, username); err != nil {
			return err
		}

		return s.conns.WithTx(tx).Upsert(ctx, conn)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка выдачи доступа по заявке %d: %w", app.ID, err)
	}

	provisionTablesTotal.WithLabelValues("copied").Add(float64(len(tables)))
	s.logger.Info("Доступ по заявке выдан",
		slog.Int64("application_id", app.ID),
		slog.String("schema", schemaName),
		slog.String("username", username),
		slog.Int("tables", len(tables)),
		slog.Duration("took", time.Since(start)),
	)
	return conn, nil
}

// Deprovision отзывает доступ по заявке: схема удаляется со всем
// содержимым, реквизиты подключения стираются. Роль владельца
// сохраняется — у него могут быть другие одобренные заявки.
func (s *ProvisionService) Deprovision(ctx context.Context, app *model.ApplicationInfo) error {
	schemaName := SchemaName(app.Owner, app.ID)

	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		b := bridge.New(tx, s.bridgeCfg)
		if err := b.DropSchema(ctx, schemaName); err != nil {
			return err
		}
		return s.conns.WithTx(tx).Delete(ctx, app.ID)
	})
	if err != nil {
		return fmt.Errorf("ошибка отзыва доступа по заявке %d: %w", app.ID, err)
	}

	s.logger.Info("Доступ по заявке отозван",
		slog.Int64("application_id", app.ID),
		slog.String("schema", schemaName),
	)
	return nil
}
