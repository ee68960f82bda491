package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/godatacenter/internal/domain/model"
)

// CertificateRepository — интерфейс репозитория сертификатов заявок
// (application_cert). Сертификат хранит текущий статус жизненного цикла;
// id сертификата совпадает с id заявки.
type CertificateRepository interface {
	// Create создаёт сертификат со статусом before_apply.
	Create(ctx context.Context, appID int64) error
	// GetByID возвращает сертификат заявки.
	GetByID(ctx context.Context, appID int64) (*model.ApplicationCertificate, error)
	// GetForUpdate возвращает сертификат с блокировкой строки (FOR UPDATE).
	GetForUpdate(ctx context.Context, appID int64) (*model.ApplicationCertificate, error)
	// ListByStatus возвращает сертификаты в указанном статусе.
	ListByStatus(ctx context.Context, status model.CertStatus) ([]*model.ApplicationCertificate, error)
	// MarkApplied переводит сертификат в статус applied.
	MarkApplied(ctx context.Context, appID int64, appliedAt time.Time) error
	// MarkResolved переводит сертификат в терминальный статус.
	MarkResolved(ctx context.Context, appID int64, status model.CertStatus, resolvedAt time.Time, review *string) error
	// Reset возвращает сертификат в исходное состояние before_apply.
	Reset(ctx context.Context, appID int64) error
	// WithTx возвращает копию репозитория, работающую внутри транзакции.
	WithTx(tx pgx.Tx) CertificateRepository
}

// certificateRepo — реализация CertificateRepository.
type certificateRepo struct {
	db DBTX
}

// NewCertificateRepository создаёт репозиторий сертификатов.
func NewCertificateRepository(db DBTX) CertificateRepository {
	return &certificateRepo{db: db}
}

func (r *certificateRepo) WithTx(tx pgx.Tx) CertificateRepository {
	return &certificateRepo{db: tx}
}

const certColumns = `id, applied_at, cur_status, resolved_at, review`

func (r *certificateRepo) Create(ctx context.Context, appID int64) error {
	query := `
		INSERT INTO dc_management.application_cert (id, cur_status)
		VALUES ($1, $2)`

	_, err := r.db.Exec(ctx, query, appID, model.StatusBeforeApply)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания сертификата: %w", err)
	}
	return nil
}

func (r *certificateRepo) GetByID(ctx context.Context, appID int64) (*model.ApplicationCertificate, error) {
	query := `
		SELECT ` + certColumns + `
		FROM dc_management.application_cert
		WHERE id = $1`

	return scanCertificate(r.db.QueryRow(ctx, query, appID))
}

// GetForUpdate используется при смене статуса, чтобы конкурентные
// approve/reject не прошли оба.
func (r *certificateRepo) GetForUpdate(ctx context.Context, appID int64) (*model.ApplicationCertificate, error) {
	query := `
		SELECT ` + certColumns + `
		FROM dc_management.application_cert
		WHERE id = $1
		FOR UPDATE`

	return scanCertificate(r.db.QueryRow(ctx, query, appID))
}

func (r *certificateRepo) ListByStatus(ctx context.Context, status model.CertStatus) ([]*model.ApplicationCertificate, error) {
	query := `
		SELECT ` + certColumns + `
		FROM dc_management.application_cert
		WHERE cur_status = $1
		ORDER BY applied_at NULLS LAST, id`

	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки сертификатов по статусу: %w", err)
	}
	defer rows.Close()

	var certs []*model.ApplicationCertificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода сертификатов: %w", err)
	}
	return certs, nil
}

func (r *certificateRepo) MarkApplied(ctx context.Context, appID int64, appliedAt time.Time) error {
	query := `
		UPDATE dc_management.application_cert
		SET cur_status = $2, applied_at = $3, resolved_at = NULL, review = NULL
		WHERE id = $1`

	return r.exec(ctx, query, appID, model.StatusApplied, appliedAt)
}

func (r *certificateRepo) MarkResolved(ctx context.Context, appID int64, status model.CertStatus, resolvedAt time.Time, review *string) error {
	query := `
		UPDATE dc_management.application_cert
		SET cur_status = $2, resolved_at = $3, review = $4
		WHERE id = $1`

	return r.exec(ctx, query, appID, status, resolvedAt, review)
}

// Reset вызывается при дрифте определения когорты в реестре.
func (r *certificateRepo) Reset(ctx context.Context, appID int64) error {
	query := `
		UPDATE dc_management.application_cert
		SET cur_status = $2, applied_at = NULL, resolved_at = NULL, review = NULL
		WHERE id = $1`

	return r.exec(ctx, query, appID, model.StatusBeforeApply)
}

func (r *certificateRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка обновления сертификата: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCertificate(row pgx.Row) (*model.ApplicationCertificate, error) {
	var cert model.ApplicationCertificate
	err := row.Scan(&cert.ID, &cert.AppliedAt, &cert.CurStatus, &cert.ResolvedAt, &cert.Review)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения сертификата: %w", err)
	}
	return &cert, nil
}
