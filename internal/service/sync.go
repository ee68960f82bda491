// sync.go — сервис синхронизации заявок с реестром когорт.
//
// Реестр — источник истины по составу когорт: новые когорты
// пользователя получают локальную заявку, а изменение определения
// когорты после синхронизации (дрифт) сбрасывает согласование.
//
// Дрифт определяется строгим сравнением: локальная копия считается
// устаревшей, только если modified_date в реестре строго больше
// локального снапшота. Сброс выполняется в одной транзакции:
// сертификат возвращается в before_apply, набор таблиц очищается,
// документы и реквизиты подключения удаляются.
//
// Фоновая горутина (DC_SYNC_INTERVAL) периодически синхронизирует
// заявки владельцев с нерассмотренными заявками.
//
// Prometheus-метрики:
//   - datacenter_sync_duration_seconds — длительность прохода
//   - datacenter_sync_events_total — события синхронизации (по типам)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/godatacenter/internal/domain/cdm"
	"github.com/bigkaa/godatacenter/internal/domain/model"
	"github.com/bigkaa/godatacenter/internal/repository"
)

// Prometheus-метрики синхронизации с реестром.
var (
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "datacenter_sync_duration_seconds",
		Help:    "Длительность синхронизации заявок с реестром когорт",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms … ~40s
	})

	syncEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datacenter_sync_events_total",
		Help: "События синхронизации заявок с реестром",
	}, []string{"event"}) // event: new_cohort, drift
)

// TxRunner — выполнение функции в транзакции БД дата-центра.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// DocumentRemover — удаление файлов документов с диска.
// Реализуется docstore.DocStore.
type DocumentRemover interface {
	Delete(storagePath string) error
}

// SyncService — синхронизация локальных заявок с реестром когорт.
type SyncService struct {
	registry repository.RegistryRepository
	apps     repository.ApplicationRepository
	certs    repository.CertificateRepository
	docs     repository.DocumentRepository
	conns    repository.ConnectionRepository
	runner   TxRunner
	store    DocumentRemover
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncService создаёт сервис синхронизации.
func NewSyncService(
	registry repository.RegistryRepository,
	apps repository.ApplicationRepository,
	certs repository.CertificateRepository,
	docs repository.DocumentRepository,
	conns repository.ConnectionRepository,
	runner TxRunner,
	store DocumentRemover,
	interval time.Duration,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		registry: registry,
		apps:     apps,
		certs:    certs,
		docs:     docs,
		conns:    conns,
		runner:   runner,
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "sync")),
	}
}

// SyncUser синхронизирует все заявки владельца с реестром.
// Идемпотентна: повторный вызов без изменений в реестре ничего не меняет.
func (s *SyncService) SyncUser(ctx context.Context, userID int64) (*model.SyncResult, error) {
	start := time.Now()
	defer func() { syncDuration.Observe(time.Since(start).Seconds()) }()

	result := &model.SyncResult{
		UserID:    userID,
		StartedAt: start,
	}

	defs, err := s.registry.ListCohortDefinitionsByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	for _, cd := range defs {
		event, err := s.syncOne(ctx, cd)
		if err != nil {
			return nil, err
		}
		switch event {
		case model.SyncEventNewCohort:
			result.Created++
		case model.SyncEventDrift:
			result.DriftReset++
		}
	}

	result.CompletedAt = time.Now()
	if result.Changed() {
		s.logger.Info("Синхронизация пользователя внесла изменения",
			slog.Int64("user_id", userID),
			slog.Int("created", result.Created),
			slog.Int("drift_reset", result.DriftReset),
		)
	}
	return result, nil
}

// SyncApplication синхронизирует одну заявку по идентификатору когорты.
// Возвращает событие синхронизации.
func (s *SyncService) SyncApplication(ctx context.Context, extID int64) (model.SyncEvent, error) {
	cd, err := s.registry.GetCohortDefinition(ctx, extID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.SyncEventNone, ErrNotFound
		}
		return model.SyncEventNone, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return s.syncOne(ctx, cd)
}

// IsSynced сообщает, актуален ли локальный снапшот заявки относительно
// определения когорты в реестре.
func IsSynced(app *model.ApplicationInfo, cd *model.CohortDefinition) bool {
	return !app.ModifiedAt.Before(cd.ModifiedDate)
}

// syncOne сверяет одну когорту реестра с локальной заявкой.
func (s *SyncService) syncOne(ctx context.Context, cd *model.CohortDefinition) (model.SyncEvent, error) {
	app, err := s.apps.GetByExtID(ctx, cd.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if err := s.createApplication(ctx, cd); err != nil {
				return model.SyncEventNone, err
			}
			syncEventsTotal.WithLabelValues(string(model.SyncEventNewCohort)).Inc()
			return model.SyncEventNewCohort, nil
		}
		return model.SyncEventNone, err
	}

	// Дрифт: определение в реестре изменилось строго позже снапшота
	if app.ModifiedAt.Before(cd.ModifiedDate) {
		if err := s.resetDrift(ctx, app, cd); err != nil {
			return model.SyncEventNone, err
		}
		syncEventsTotal.WithLabelValues(string(model.SyncEventDrift)).Inc()
		return model.SyncEventDrift, nil
	}

	return model.SyncEventNone, nil
}

// createApplication создаёт локальную заявку и сертификат для новой когорты.
func (s *SyncService) createApplication(ctx context.Context, cd *model.CohortDefinition) error {
	return s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		app := &model.ApplicationInfo{
			ExtID:       cd.ID,
			Owner:       cd.CreatedByID,
			Tables:      cdm.NewSet(),
			Origin:      model.OriginATLAS,
			ModifiedAt:  cd.ModifiedDate,
			Name:        cd.Name,
			Description: cd.Description,
			CreatedAt:   cd.CreatedDate,
		}

		id, err := s.apps.WithTx(tx).Create(ctx, app)
		if err != nil {
			// Конкурентная синхронизация уже создала заявку
			if errors.Is(err, repository.ErrConflict) {
				return nil
			}
			return err
		}
		if err := s.certs.WithTx(tx).Create(ctx, id); err != nil {
			return err
		}

		s.logger.Info("Создана заявка для новой когорты",
			slog.Int64("application_id", id),
			slog.Int64("ext_id", cd.ID),
			slog.Int64("owner", cd.CreatedByID),
		)
		return nil
	})
}

// resetDrift сбрасывает согласование заявки после изменения когорты в реестре.
func (s *SyncService) resetDrift(ctx context.Context, app *model.ApplicationInfo, cd *model.CohortDefinition) error {
	var removedPaths []string

	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := s.apps.WithTx(tx).ResetDrift(ctx, app.ID, cd.Name, cd.Description, cd.ModifiedDate); err != nil {
			return err
		}
		if err := s.certs.WithTx(tx).Reset(ctx, app.ID); err != nil {
			return err
		}

		paths, err := s.docs.WithTx(tx).DeleteByApplication(ctx, app.ID, nil)
		if err != nil {
			return err
		}
		removedPaths = paths

		// Запись реквизитов удаляется: после дрифта доступ должен
		// быть согласован заново. Схему пересоздаст или удалит
		// следующее решение по заявке.
		return s.conns.WithTx(tx).Delete(ctx, app.ID)
	})
	if err != nil {
		return err
	}

	// Файлы удаляются после коммита: при откате транзакции
	// документы должны остаться на диске
	for _, path := range removedPaths {
		if err := s.store.Delete(path); err != nil {
			s.logger.Warn("Не удалось удалить файл документа",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Согласование заявки сброшено из-за изменения когорты",
		slog.Int64("application_id", app.ID),
		slog.Int64("ext_id", cd.ID),
		slog.Time("local_snapshot", app.ModifiedAt),
		slog.Time("registry_modified", cd.ModifiedDate),
	)
	return nil
}

// Start запускает фоновую горутину периодической синхронизации.
// Вызывается один раз при старте приложения.
func (s *SyncService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая синхронизация с реестром запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая синхронизация с реестром остановлена")
				return
			case <-ticker.C:
				if err := s.syncAllOwners(ctx); err != nil {
					s.logger.Error("Ошибка периодической синхронизации",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *SyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// syncAllOwners синхронизирует заявки всех владельцев, известных локально.
// Терминальные статусы тоже учитываются: одобренные и отклонённые заявки
// выходят из них только через сброс дрифта, и ждать добровольного захода
// владельца нельзя — выданный доступ останется с устаревшим охватом.
func (s *SyncService) syncAllOwners(ctx context.Context) error {
	owners := make(map[int64]struct{})

	statuses := []model.CertStatus{
		model.StatusBeforeApply,
		model.StatusApplied,
		model.StatusApproved,
		model.StatusRejected,
	}
	for _, status := range statuses {
		certs, err := s.certs.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, cert := range certs {
			app, err := s.apps.GetByID(ctx, cert.ID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return err
			}
			owners[app.Owner] = struct{}{}
		}
	}

	for owner := range owners {
		if _, err := s.SyncUser(ctx, owner); err != nil {
			s.logger.Warn("Ошибка синхронизации владельца",
				slog.Int64("owner", owner),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
