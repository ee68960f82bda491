// approval.go — жизненный цикл заявок на доступ к данным.
//
// Переходы статусов строго монотонны:
//
//	before_apply → applied → approved | rejected
//
// Выход из терминального статуса возможен только через drift-сброс
// (см. sync.go). Одобрение выделяет изолированную схему, отклонение
// снимает выделенные ресурсы.
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

// Счётчик переходов статусов заявок.
var applyTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "datacenter_apply_transitions_total",
	Help: "Переходы статусов заявок на доступ",
}, []string{"status"}) // status: applied, approved, rejected

// Provisioner — выделение и снятие изолированной схемы для заявки.
// Реализуется ProvisionService.
type Provisioner interface {
	Provision(ctx context.Context, app *model.ApplicationInfo) (*model.ProvisionedConnection, error)
	Reprovision(ctx context.Context, app *model.ApplicationInfo) (*model.ProvisionedConnection, error)
	Deprovision(ctx context.Context, app *model.ApplicationInfo) error
}

// Syncer — синхронизация заявок пользователя с реестром.
// Реализуется SyncService.
type Syncer interface {
	SyncUser(ctx context.Context, userID int64) (*model.SyncResult, error)
}

// ApprovalService — операции подачи и рассмотрения заявок.
type ApprovalService struct {
	registry    repository.RegistryRepository
	apps        repository.ApplicationRepository
	certs       repository.CertificateRepository
	docs        repository.DocumentRepository
	conns       repository.ConnectionRepository
	runner      TxRunner
	provisioner Provisioner
	syncer      Syncer
	logger      *slog.Logger
}

// NewApprovalService создаёт сервис согласования заявок.
func NewApprovalService(
	registry repository.RegistryRepository,
	apps repository.ApplicationRepository,
	certs repository.CertificateRepository,
	docs repository.DocumentRepository,
	conns repository.ConnectionRepository,
	runner TxRunner,
	provisioner Provisioner,
	syncer Syncer,
	logger *slog.Logger,
) *ApprovalService {
	return &ApprovalService{
		registry:    registry,
		apps:        apps,
		certs:       certs,
		docs:        docs,
		conns:       conns,
		runner:      runner,
		provisioner: provisioner,
		syncer:      syncer,
		logger:      logger.With(slog.String("component", "approval")),
	}
}

// Apply подаёт заявку на рассмотрение: фиксирует выбранные CDM-таблицы
// и описание, переводит сертификат в applied. Разрешена только владельцу;
// повторная подача после решения возвращает заявку на рассмотрение.
func (s *ApprovalService) Apply(ctx context.Context, appID, userID int64, tableNames []string, description *string) (*model.ApplicationDetail, error) {
	if _, err := s.getOwnedApplication(ctx, appID, userID); err != nil {
		return nil, err
	}

	tables, err := cdm.ParseSet(tableNames)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if tables.Len() == 0 {
		return nil, fmt.Errorf("%w: не выбрано ни одной CDM-таблицы", ErrValidation)
	}

	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		// Подача разрешена из любого статуса: повторная подача после
		// решения возвращает заявку в applied, снимая resolved_at и review
		if _, err := s.certs.WithTx(tx).GetForUpdate(ctx, appID); err != nil {
			return err
		}

		apps := s.apps.WithTx(tx)
		if err := apps.UpdateTables(ctx, appID, tables); err != nil {
			return err
		}
		if description != nil {
			if err := apps.UpdateDescription(ctx, appID, description); err != nil {
				return err
			}
		}
		return s.certs.WithTx(tx).MarkApplied(ctx, appID, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	applyTransitionsTotal.WithLabelValues(string(model.StatusApplied)).Inc()
	s.logger.Info("Заявка подана на рассмотрение",
		slog.Int64("application_id", appID),
		slog.Int64("owner_id", userID),
		slog.Int("tables", tables.Len()))

	return s.Detail(ctx, appID, userID, model.RolePublic)
}

// Approve одобряет поданную заявку и выделяет изолированную схему.
// Смена статуса фиксируется до выделения ресурсов: если провижининг
// упал, заявка остаётся approved без реквизитов, и администратор
// повторяет выделение через Reprovision.
func (s *ApprovalService) Approve(ctx context.Context, appID int64, review *string) (*model.ApplicationDetail, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: заявка %d", ErrNotFound, appID)
		}
		return nil, err
	}

	if err := s.resolve(ctx, appID, model.StatusApproved, review); err != nil {
		return nil, err
	}
	applyTransitionsTotal.WithLabelValues(string(model.StatusApproved)).Inc()

	if _, err := s.provisioner.Provision(ctx, app); err != nil {
		// Статус уже approved; реквизиты появятся после Reprovision.
		s.logger.Error("Ошибка выделения схемы для одобренной заявки",
			slog.Int64("application_id", appID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("заявка %d одобрена, но выделение схемы не удалось: %w", appID, err)
	}

	s.logger.Info("Заявка одобрена", slog.Int64("application_id", appID))
	return s.adminDetail(ctx, app)
}

// Reject отклоняет поданную заявку и снимает выделенные ресурсы,
// если они были.
func (s *ApprovalService) Reject(ctx context.Context, appID int64, review *string) (*model.ApplicationDetail, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: заявка %d", ErrNotFound, appID)
		}
		return nil, err
	}

	if err := s.resolve(ctx, appID, model.StatusRejected, review); err != nil {
		return nil, err
	}
	applyTransitionsTotal.WithLabelValues(string(model.StatusRejected)).Inc()

	// Deprovision идемпотентен: отсутствие схемы не ошибка.
	if err := s.provisioner.Deprovision(ctx, app); err != nil {
		s.logger.Error("Ошибка снятия ресурсов отклонённой заявки",
			slog.Int64("application_id", appID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("заявка %d отклонена, но снятие ресурсов не удалось: %w", appID, err)
	}

	s.logger.Info("Заявка отклонена", slog.Int64("application_id", appID))
	return s.adminDetail(ctx, app)
}

// resolve переводит сертификат из applied в терминальный статус
// под блокировкой строки.
func (s *ApprovalService) resolve(ctx context.Context, appID int64, status model.CertStatus, review *string) error {
	return s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		cert, err := s.certs.WithTx(tx).GetForUpdate(ctx, appID)
		if err != nil {
			return err
		}
		if cert.CurStatus != model.StatusApplied {
			return fmt.Errorf("%w: заявка %d в статусе %q, решение возможно только из applied",
				ErrInvalidTransition, appID, cert.CurStatus)
		}
		return s.certs.WithTx(tx).MarkResolved(ctx, appID, status, time.Now().UTC(), review)
	})
}

// Reprovision повторно выделяет схему для одобренной заявки.
// Используется после сбоя провижининга или для перевыпуска пароля.
func (s *ApprovalService) Reprovision(ctx context.Context, appID int64) (*model.ApplicationDetail, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: заявка %d", ErrNotFound, appID)
		}
		return nil, err
	}

	cert, err := s.certs.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if cert.CurStatus != model.StatusApproved {
		return nil, fmt.Errorf("%w: заявка %d в статусе %q, перевыделение возможно только для approved",
			ErrInvalidTransition, appID, cert.CurStatus)
	}

	if _, err := s.provisioner.Reprovision(ctx, app); err != nil {
		return nil, fmt.Errorf("повторное выделение схемы для заявки %d: %w", appID, err)
	}

	s.logger.Info("Схема перевыделена", slog.Int64("application_id", appID))
	return s.adminDetail(ctx, app)
}

// Detail возвращает агрегированный снапшот заявки: сертификат,
// документы, реквизиты подключения и признак актуальности. Доступен
// владельцу и администратору.
func (s *ApprovalService) Detail(ctx context.Context, appID, userID int64, role model.Role) (*model.ApplicationDetail, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: заявка %d", ErrNotFound, appID)
		}
		return nil, err
	}
	if role != model.RoleAdmin && app.Owner != userID {
		return nil, fmt.Errorf("%w: заявка %d принадлежит другому пользователю", ErrPermissionDenied, appID)
	}
	return s.buildDetail(ctx, app, role == model.RoleAdmin)
}

// adminDetail собирает снапшот для административной выдачи.
func (s *ApprovalService) adminDetail(ctx context.Context, app *model.ApplicationInfo) (*model.ApplicationDetail, error) {
	return s.buildDetail(ctx, app, true)
}

func (s *ApprovalService) buildDetail(ctx context.Context, app *model.ApplicationInfo, withOwner bool) (*model.ApplicationDetail, error) {
	cert, err := s.certs.GetByID(ctx, app.ID)
	if err != nil {
		return nil, err
	}

	docs, err := s.docs.ListByApplication(ctx, app.ID)
	if err != nil {
		return nil, err
	}

	var conn *model.ProvisionedConnection
	if cert.CurStatus == model.StatusApproved {
		conn, err = s.conns.GetByID(ctx, app.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	detail := &model.ApplicationDetail{
		Info:        app,
		Certificate: cert,
		Documents:   docs,
		Connection:  conn,
		Synced:      true,
	}

	// Актуальность проверяется по реестру; его недоступность не должна
	// ломать выдачу локального снапшота.
	cd, err := s.registry.GetCohortDefinition(ctx, app.ExtID)
	switch {
	case err == nil:
		detail.Synced = IsSynced(app, cd)
	case errors.Is(err, repository.ErrNotFound):
		detail.Synced = false
	default:
		s.logger.Warn("Реестр недоступен при проверке актуальности",
			slog.Int64("application_id", app.ID),
			slog.String("error", err.Error()))
	}

	if withOwner {
		u, err := s.registry.GetUserByID(ctx, app.Owner)
		if err == nil {
			detail.OwnerName = u.Name
		}
	}

	return detail, nil
}

// ListMine возвращает заявки владельца, предварительно синхронизировав
// их с реестром. Недоступность реестра не блокирует выдачу локального
// состояния.
func (s *ApprovalService) ListMine(ctx context.Context, userID int64) ([]*model.ApplicationDetail, error) {
	if _, err := s.syncer.SyncUser(ctx, userID); err != nil {
		s.logger.Warn("Синхронизация перед выдачей списка не удалась",
			slog.Int64("owner_id", userID),
			slog.String("error", err.Error()))
	}

	apps, err := s.apps.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	details := make([]*model.ApplicationDetail, 0, len(apps))
	for _, app := range apps {
		d, err := s.buildDetail(ctx, app, false)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

// ListApplied возвращает поданные и нерассмотренные заявки для
// административной выдачи, с логинами владельцев из реестра.
func (s *ApprovalService) ListApplied(ctx context.Context) ([]*model.ApplicationDetail, error) {
	certs, err := s.certs.ListByStatus(ctx, model.StatusApplied)
	if err != nil {
		return nil, err
	}

	details := make([]*model.ApplicationDetail, 0, len(certs))
	ownerIDs := make([]int64, 0, len(certs))
	for _, cert := range certs {
		app, err := s.apps.GetByID(ctx, cert.ID)
		if err != nil {
			return nil, err
		}
		docs, err := s.docs.ListByApplication(ctx, app.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, &model.ApplicationDetail{
			Info:        app,
			Certificate: cert,
			Documents:   docs,
			Synced:      true,
		})
		ownerIDs = append(ownerIDs, app.Owner)
	}

	names, err := s.registry.MapUserNames(ctx, ownerIDs)
	if err != nil {
		s.logger.Warn("Не удалось получить логины владельцев из реестра",
			slog.String("error", err.Error()))
		return details, nil
	}
	for _, d := range details {
		d.OwnerName = names[d.Info.Owner]
	}
	return details, nil
}

// getOwnedApplication возвращает заявку, если она принадлежит userID.
func (s *ApprovalService) getOwnedApplication(ctx context.Context, appID, userID int64) (*model.ApplicationInfo, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: заявка %d", ErrNotFound, appID)
		}
		return nil, err
	}
	if app.Owner != userID {
		return nil, fmt.Errorf("%w: заявка %d принадлежит другому пользователю", ErrPermissionDenied, appID)
	}
	return app, nil
}
