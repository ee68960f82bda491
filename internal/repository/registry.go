package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/godatacenter/internal/domain/model"
)

// RegistryRepository — read-only интерфейс внешнего реестра когорт
// (ATLAS/WebAPI). Читает определения когорт, пользователей и их роли
// из схемы webapi. Запись в реестр запрещена по построению:
// репозиторий содержит только SELECT-запросы, а пул подключений
// открывается в режиме default_transaction_read_only.
type RegistryRepository interface {
	// GetCohortDefinition возвращает определение когорты по идентификатору.
	GetCohortDefinition(ctx context.Context, id int64) (*model.CohortDefinition, error)
	// ListCohortDefinitionsByOwner возвращает когорты, созданные пользователем.
	ListCohortDefinitionsByOwner(ctx context.Context, userID int64) ([]*model.CohortDefinition, error)
	// GetUserByLogin возвращает пользователя реестра по логину.
	GetUserByLogin(ctx context.Context, login string) (*model.RegistryUser, error)
	// GetUserByID возвращает пользователя реестра по идентификатору.
	GetUserByID(ctx context.Context, id int64) (*model.RegistryUser, error)
	// HasRestrictedRole сообщает, есть ли у пользователя ограничивающая роль.
	HasRestrictedRole(ctx context.Context, userID int64) (bool, error)
	// MapUserNames возвращает отображение id пользователя -> имя.
	MapUserNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// registryRepo — реализация RegistryRepository.
type registryRepo struct {
	db DBTX
}

// NewRegistryRepository создаёт репозиторий реестра.
func NewRegistryRepository(db DBTX) RegistryRepository {
	return &registryRepo{db: db}
}

const cohortDefColumns = `id, name, description, created_date, modified_date, created_by_id`

func (r *registryRepo) GetCohortDefinition(ctx context.Context, id int64) (*model.CohortDefinition, error) {
	query := `
		SELECT ` + cohortDefColumns + `
		FROM webapi.cohort_definition
		WHERE id = $1`

	var cd model.CohortDefinition
	err := r.db.QueryRow(ctx, query, id).Scan(
		&cd.ID, &cd.Name, &cd.Description, &cd.CreatedDate, &cd.ModifiedDate, &cd.CreatedByID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения определения когорты: %w", err)
	}
	return &cd, nil
}

func (r *registryRepo) ListCohortDefinitionsByOwner(ctx context.Context, userID int64) ([]*model.CohortDefinition, error) {
	query := `
		SELECT ` + cohortDefColumns + `
		FROM webapi.cohort_definition
		WHERE created_by_id = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки когорт пользователя: %w", err)
	}
	defer rows.Close()

	var defs []*model.CohortDefinition
	for rows.Next() {
		var cd model.CohortDefinition
		err := rows.Scan(&cd.ID, &cd.Name, &cd.Description, &cd.CreatedDate, &cd.ModifiedDate, &cd.CreatedByID)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки когорты: %w", err)
		}
		defs = append(defs, &cd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода когорт: %w", err)
	}
	return defs, nil
}

func (r *registryRepo) GetUserByLogin(ctx context.Context, login string) (*model.RegistryUser, error) {
	query := `
		SELECT id, login, name
		FROM webapi.sec_user
		WHERE login = $1`

	return r.scanUser(r.db.QueryRow(ctx, query, login))
}

func (r *registryRepo) GetUserByID(ctx context.Context, id int64) (*model.RegistryUser, error) {
	query := `
		SELECT id, login, name
		FROM webapi.sec_user
		WHERE id = $1`

	return r.scanUser(r.db.QueryRow(ctx, query, id))
}

// HasRestrictedRole: ограничивающими считаются роли с role_id = 2
// или role_id >= 1000. Пользователь без таких ролей — администратор.
func (r *registryRepo) HasRestrictedRole(ctx context.Context, userID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM webapi.sec_user_role
			WHERE user_id = $1 AND (role_id = 2 OR role_id >= 1000)
		)`

	var restricted bool
	if err := r.db.QueryRow(ctx, query, userID).Scan(&restricted); err != nil {
		return false, fmt.Errorf("ошибка проверки ролей пользователя: %w", err)
	}
	return restricted, nil
}

// MapUserNames: отсутствующие в реестре id в карту не попадают.
func (r *registryRepo) MapUserNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	query := `
		SELECT id, name
		FROM webapi.sec_user
		WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки имён пользователей: %w", err)
	}
	defer rows.Close()

	names := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("ошибка чтения имени пользователя: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода имён пользователей: %w", err)
	}
	return names, nil
}

func (r *registryRepo) scanUser(row pgx.Row) (*model.RegistryUser, error) {
	var u model.RegistryUser
	err := row.Scan(&u.ID, &u.Login, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения пользователя реестра: %w", err)
	}
	return &u, nil
}
