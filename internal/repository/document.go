package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/godatacenter/internal/domain/model"
)

// DocumentRepository — интерфейс репозитория комплаенс-документов
// (compliance_document).
type DocumentRepository interface {
	// Create создаёт запись документа и возвращает её идентификатор.
	// Путь заполняется второй фазой через UpdatePath, после выдачи id.
	Create(ctx context.Context, doc *model.ComplianceDocument) (int64, error)
	// UpdatePath записывает путь файла документа.
	UpdatePath(ctx context.Context, id int64, path string) error
	// GetByID возвращает документ по идентификатору.
	GetByID(ctx context.Context, id int64) (*model.ComplianceDocument, error)
	// ListByApplication возвращает документы заявки в порядке создания.
	ListByApplication(ctx context.Context, appID int64) ([]*model.ComplianceDocument, error)
	// DeleteByApplication удаляет записи документов заявки, кроме тех,
	// чей путь входит в retainedPaths. Возвращает пути удалённых
	// файлов для очистки хранилища.
	DeleteByApplication(ctx context.Context, appID int64, retainedPaths []string) ([]string, error)
	// ListAllPaths возвращает пути всех документов (для сборщика мусора).
	ListAllPaths(ctx context.Context) (map[string]struct{}, error)
	// WithTx возвращает копию репозитория, работающую внутри транзакции.
	WithTx(tx pgx.Tx) DocumentRepository
}

// documentRepo — реализация DocumentRepository.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) WithTx(tx pgx.Tx) DocumentRepository {
	return &documentRepo{db: tx}
}

func (r *documentRepo) Create(ctx context.Context, doc *model.ComplianceDocument) (int64, error) {
	query := `
		INSERT INTO dc_management.compliance_document
			(name, path, type, category, document_for)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		doc.Name, doc.Path, doc.Type, doc.Category, doc.DocumentFor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания документа: %w", err)
	}

	doc.ID = id
	return id, nil
}

func (r *documentRepo) UpdatePath(ctx context.Context, id int64, path string) error {
	query := `
		UPDATE dc_management.compliance_document
		SET path = $2
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, path)
	if err != nil {
		return fmt.Errorf("ошибка обновления пути документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id int64) (*model.ComplianceDocument, error) {
	query := `
		SELECT id, name, path, type, category, document_for
		FROM dc_management.compliance_document
		WHERE id = $1`

	var doc model.ComplianceDocument
	err := r.db.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Name, &doc.Path, &doc.Type, &doc.Category, &doc.DocumentFor,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения документа: %w", err)
	}
	return &doc, nil
}

func (r *documentRepo) ListByApplication(ctx context.Context, appID int64) ([]*model.ComplianceDocument, error) {
	query := `
		SELECT id, name, path, type, category, document_for
		FROM dc_management.compliance_document
		WHERE document_for = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки документов заявки: %w", err)
	}
	defer rows.Close()

	var docs []*model.ComplianceDocument
	for rows.Next() {
		var doc model.ComplianceDocument
		err := rows.Scan(&doc.ID, &doc.Name, &doc.Path, &doc.Type, &doc.Category, &doc.DocumentFor)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки документа: %w", err)
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода документов: %w", err)
	}
	return docs, nil
}

func (r *documentRepo) DeleteByApplication(ctx context.Context, appID int64, retainedPaths []string) ([]string, error) {
	if retainedPaths == nil {
		retainedPaths = []string{}
	}
	query := `
		DELETE FROM dc_management.compliance_document
		WHERE document_for = $1 AND path <> ALL($2)
		RETURNING path`

	rows, err := r.db.Query(ctx, query, appID, retainedPaths)
	if err != nil {
		return nil, fmt.Errorf("ошибка удаления документов заявки: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("ошибка чтения пути документа: %w", err)
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода удалённых документов: %w", err)
	}
	return paths, nil
}

func (r *documentRepo) ListAllPaths(ctx context.Context) (map[string]struct{}, error) {
	query := `
		SELECT path
		FROM dc_management.compliance_document
		WHERE path <> ''`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки путей документов: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("ошибка чтения пути: %w", err)
		}
		paths[path] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода путей: %w", err)
	}
	return paths, nil
}
