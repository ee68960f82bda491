package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/godatacenter/internal/domain/model"
)

// ConnectionRepository — интерфейс репозитория выданных подключений
// (provisioned_connection). Реквизиты выдаются при одобрении заявки;
// id подключения совпадает с id заявки.
type ConnectionRepository interface {
	// Upsert создаёт или перезаписывает реквизиты подключения заявки.
	Upsert(ctx context.Context, conn *model.ProvisionedConnection) error
	// GetByID возвращает реквизиты подключения заявки.
	GetByID(ctx context.Context, appID int64) (*model.ProvisionedConnection, error)
	// Delete удаляет реквизиты подключения заявки.
	// Отсутствие записи не считается ошибкой.
	Delete(ctx context.Context, appID int64) error
	// WithTx возвращает копию репозитория, работающую внутри транзакции.
	WithTx(tx pgx.Tx) ConnectionRepository
}

// connectionRepo — реализация ConnectionRepository.
type connectionRepo struct {
	db DBTX
}

// NewConnectionRepository создаёт репозиторий подключений.
func NewConnectionRepository(db DBTX) ConnectionRepository {
	return &connectionRepo{db: db}
}

func (r *connectionRepo) WithTx(tx pgx.Tx) ConnectionRepository {
	return &connectionRepo{db: tx}
}

// Upsert перезаписывает реквизиты целиком: повторное одобрение
// (reprovision) перевыпускает пароль.
func (r *connectionRepo) Upsert(ctx context.Context, conn *model.ProvisionedConnection) error {
	query := `
		INSERT INTO dc_management.provisioned_connection
			(id, host, port, username, password, schema_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			schema_name = EXCLUDED.schema_name,
			created_at = now()`

	_, err := r.db.Exec(ctx, query,
		conn.ID, conn.Host, conn.Port, conn.Username, conn.Password, conn.SchemaName,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения подключения: %w", err)
	}
	return nil
}

func (r *connectionRepo) GetByID(ctx context.Context, appID int64) (*model.ProvisionedConnection, error) {
	query := `
		SELECT id, host, port, username, password, schema_name, created_at
		FROM dc_management.provisioned_connection
		WHERE id = $1`

	var conn model.ProvisionedConnection
	err := r.db.QueryRow(ctx, query, appID).Scan(
		&conn.ID, &conn.Host, &conn.Port, &conn.Username,
		&conn.Password, &conn.SchemaName, &conn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения подключения: %w", err)
	}
	return &conn, nil
}

func (r *connectionRepo) Delete(ctx context.Context, appID int64) error {
	query := `
		DELETE FROM dc_management.provisioned_connection
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, appID); err != nil {
		return fmt.Errorf("ошибка удаления подключения: %w", err)
	}
	return nil
}
