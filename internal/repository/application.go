package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/godatacenter/internal/domain/cdm"
	"github.com/bigkaa/godatacenter/internal/domain/model"
)

// ApplicationRepository — интерфейс репозитория заявок (application_info).
type ApplicationRepository interface {
	// Create создаёт запись заявки и возвращает её идентификатор.
	Create(ctx context.Context, app *model.ApplicationInfo) (int64, error)
	// GetByID возвращает заявку по идентификатору.
	GetByID(ctx context.Context, id int64) (*model.ApplicationInfo, error)
	// GetByExtID возвращает заявку по идентификатору когорты в реестре.
	GetByExtID(ctx context.Context, extID int64) (*model.ApplicationInfo, error)
	// ListByOwner возвращает заявки владельца.
	ListByOwner(ctx context.Context, ownerID int64) ([]*model.ApplicationInfo, error)
	// UpdateTables заменяет набор запрошенных таблиц заявки.
	UpdateTables(ctx context.Context, id int64, tables *cdm.Set) error
	// UpdateDescription обновляет описание заявки.
	UpdateDescription(ctx context.Context, id int64, description *string) error
	// ResetDrift очищает набор таблиц и обновляет снапшот когорты
	// (name, description, modified_at) по реестру.
	ResetDrift(ctx context.Context, id int64, name string, description *string, modifiedAt time.Time) error
	// WithTx возвращает копию репозитория, работающую внутри транзакции.
	WithTx(tx pgx.Tx) ApplicationRepository
}

// applicationRepo — реализация ApplicationRepository.
type applicationRepo struct {
	db DBTX
}

// NewApplicationRepository создаёт репозиторий заявок.
func NewApplicationRepository(db DBTX) ApplicationRepository {
	return &applicationRepo{db: db}
}

func (r *applicationRepo) WithTx(tx pgx.Tx) ApplicationRepository {
	return &applicationRepo{db: tx}
}

const applicationColumns = `id, ext_id, owner_id, tables, origin, modified_at, name, description, created_at`

func (r *applicationRepo) Create(ctx context.Context, app *model.ApplicationInfo) (int64, error) {
	query := `
		INSERT INTO dc_management.application_info
			(ext_id, owner_id, tables, origin, modified_at, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		app.ExtID, app.Owner, app.Tables.Names(), app.Origin,
		app.ModifiedAt, app.Name, app.Description, app.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("ошибка создания заявки: %w", err)
	}

	app.ID = id
	return id, nil
}

func (r *applicationRepo) GetByID(ctx context.Context, id int64) (*model.ApplicationInfo, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM dc_management.application_info
		WHERE id = $1`

	return scanApplication(r.db.QueryRow(ctx, query, id))
}

func (r *applicationRepo) GetByExtID(ctx context.Context, extID int64) (*model.ApplicationInfo, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM dc_management.application_info
		WHERE ext_id = $1`

	return scanApplication(r.db.QueryRow(ctx, query, extID))
}

func (r *applicationRepo) ListByOwner(ctx context.Context, ownerID int64) ([]*model.ApplicationInfo, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM dc_management.application_info
		WHERE owner_id = $1
		ORDER BY ext_id`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки заявок владельца: %w", err)
	}
	defer rows.Close()

	return scanApplications(rows)
}

func (r *applicationRepo) UpdateTables(ctx context.Context, id int64, tables *cdm.Set) error {
	query := `
		UPDATE dc_management.application_info
		SET tables = $2
		WHERE id = $1`

	return r.exec(ctx, query, id, tables.Names())
}

func (r *applicationRepo) UpdateDescription(ctx context.Context, id int64, description *string) error {
	query := `
		UPDATE dc_management.application_info
		SET description = $2
		WHERE id = $1`

	return r.exec(ctx, query, id, description)
}

func (r *applicationRepo) ResetDrift(ctx context.Context, id int64, name string, description *string, modifiedAt time.Time) error {
	query := `
		UPDATE dc_management.application_info
		SET tables = '{}', name = $2, description = $3, modified_at = $4
		WHERE id = $1`

	return r.exec(ctx, query, id, name, description, modifiedAt)
}

func (r *applicationRepo) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка обновления заявки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanApplication сканирует одну строку заявки.
func scanApplication(row pgx.Row) (*model.ApplicationInfo, error) {
	var app model.ApplicationInfo
	var tableNames []string

	err := row.Scan(
		&app.ID, &app.ExtID, &app.Owner, &tableNames, &app.Origin,
		&app.ModifiedAt, &app.Name, &app.Description, &app.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения заявки: %w", err)
	}

	set, err := cdm.ParseSet(tableNames)
	if err != nil {
		return nil, fmt.Errorf("некорректный набор таблиц в заявке %d: %w", app.ID, err)
	}
	app.Tables = set

	return &app, nil
}

// scanApplications сканирует все строки выборки заявок.
func scanApplications(rows pgx.Rows) ([]*model.ApplicationInfo, error) {
	var apps []*model.ApplicationInfo
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода заявок: %w", err)
	}
	return apps, nil
}
