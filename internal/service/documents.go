// documents.go — сервис комплаенс-документов заявки.
//
// Документы загружаются комплектом: новый комплект целиком заменяет
// предыдущий. Категория документа определяется по имени файла
// (irb/drb в имени), остальные относятся к категории ETC.
//
// Запись двухфазная: сначала создаётся строка в БД, по выданному id
// строится путь {appID}/{appID}_{docID}.{ext}, путь фиксируется
// в строке, затем байты пишутся на диск. Осиротевшие после сбоев
// файлы подбирает сборщик мусора.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/godatacenter/internal/docstore"
	"github.com/bigkaa/godatacenter/internal/domain/model"
	"github.com/bigkaa/godatacenter/internal/repository"
)

// DocumentStore — операции хранилища файлов документов.
// Реализуется docstore.DocStore.
type DocumentStore interface {
	Save(storagePath string, reader io.Reader) (int64, error)
	Open(storagePath string) (*os.File, error)
	Delete(storagePath string) error
}

// Upload — один загружаемый документ.
type Upload struct {
	// Filename — исходное имя файла
	Filename string
	// Reader — содержимое документа
	Reader io.Reader
}

// DocumentService — управление комплаенс-документами заявок.
type DocumentService struct {
	apps   repository.ApplicationRepository
	certs  repository.CertificateRepository
	docs   repository.DocumentRepository
	runner TxRunner
	store  DocumentStore
	logger *slog.Logger
}

// NewDocumentService создаёт сервис документов.
func NewDocumentService(
	apps repository.ApplicationRepository,
	certs repository.CertificateRepository,
	docs repository.DocumentRepository,
	runner TxRunner,
	store DocumentStore,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		apps:   apps,
		certs:  certs,
		docs:   docs,
		runner: runner,
		store:  store,
		logger: logger.With(slog.String("component", "documents")),
	}
}

// Classify определяет категорию документа по имени файла.
// Имя, содержащее "irb" — IRB, содержащее "drb" — DRB, иначе ETC.
func Classify(filename string) model.DocCategory {
	lower := strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "irb"):
		return model.CategoryIRB
	case strings.Contains(lower, "drb"):
		return model.CategoryDRB
	default:
		return model.CategoryETC
	}
}

// Replace заменяет комплект документов заявки: записи, чей путь не входит
// в retainedPaths, удаляются вместе с файлами, uploads добавляются новыми
// записями. Доступно только владельцу заявки.
func (s *DocumentService) Replace(ctx context.Context, appID, userID int64, uploads []Upload, retainedPaths []string) ([]*model.ComplianceDocument, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if app.Owner != userID {
		return nil, fmt.Errorf("%w: заявка принадлежит другому пользователю", ErrPermissionDenied)
	}

	for _, u := range uploads {
		if strings.TrimSpace(u.Filename) == "" {
			return nil, fmt.Errorf("%w: пустое имя файла", ErrValidation)
		}
	}

	var created []*model.ComplianceDocument
	var removedPaths []string

	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		// Блокировка строки сертификата: два конкурентных apply по
		// одной заявке не должны перемешать удаление и вставку
		if _, err := s.certs.WithTx(tx).GetForUpdate(ctx, appID); err != nil {
			return err
		}

		docs := s.docs.WithTx(tx)

		paths, err := docs.DeleteByApplication(ctx, appID, retainedPaths)
		if err != nil {
			return err
		}
		removedPaths = paths

		for _, u := range uploads {
			doc := &model.ComplianceDocument{
				Name:        u.Filename,
				Type:        docstore.Ext(u.Filename),
				Category:    Classify(u.Filename),
				DocumentFor: appID,
			}

			// Фаза 1: строка без пути, id выдаёт БД
			id, err := docs.Create(ctx, doc)
			if err != nil {
				return err
			}
			doc.ID = id

			// Фаза 2: путь по выданному id
			doc.Path = docstore.StoragePath(appID, id, doc.Type)
			if err := docs.UpdatePath(ctx, id, doc.Path); err != nil {
				return err
			}

			// Запись байтов внутри транзакции: при ошибке записи
			// комплект откатывается целиком
			if _, err := s.store.Save(doc.Path, u.Reader); err != nil {
				return err
			}

			created = append(created, doc)
		}
		return nil
	})
	if err != nil {
		// Файлы, записанные до отката, подберёт сборщик мусора
		return nil, err
	}

	// Старые файлы удаляются после коммита
	for _, path := range removedPaths {
		if err := s.store.Delete(path); err != nil {
			s.logger.Warn("Не удалось удалить файл старого документа",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("Комплект документов заявки заменён",
		slog.Int64("application_id", appID),
		slog.Int("removed", len(removedPaths)),
		slog.Int("created", len(created)),
	)
	return created, nil
}

// List возвращает документы заявки.
// Владелец видит свои документы, администратор — любые.
func (s *DocumentService) List(ctx context.Context, appID, userID int64, role model.Role) ([]*model.ComplianceDocument, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if role != model.RoleAdmin && app.Owner != userID {
		return nil, ErrPermissionDenied
	}

	return s.docs.ListByApplication(ctx, appID)
}

// Open открывает файл документа для скачивания.
// Владелец заявки и администратор имеют доступ.
// Вызывающий код обязан закрыть файл.
func (s *DocumentService) Open(ctx context.Context, docID, userID int64, role model.Role) (*model.ComplianceDocument, *os.File, error) {
	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	app, err := s.apps.GetByID(ctx, doc.DocumentFor)
	if err != nil {
		return nil, nil, err
	}
	if role != model.RoleAdmin && app.Owner != userID {
		return nil, nil, ErrPermissionDenied
	}

	if doc.Path == "" {
		return nil, nil, fmt.Errorf("%w: файл документа не записан", ErrNotFound)
	}

	f, err := s.store.Open(doc.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return doc, f, nil
}
