// gc.go — сборщик мусора файлового хранилища документов.
//
// Двухфазная запись документов оставляет сирот в двух случаях:
// откат транзакции после записи файла на диск и оборванная запись
// (*.tmp). Сборщик сравнивает содержимое диска со строками
// compliance_document и удаляет файлы без строки в БД.
//
// Файлы моложе gcGracePeriod не трогаются: запись могла ещё не
// зафиксироваться.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/godatacenter/internal/repository"
)

// Файл моложе этого порога может принадлежать незавершённой транзакции.
const gcGracePeriod = 10 * time.Minute

var gcRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "datacenter_docs_gc_removed_total",
	Help: "Файлы документов, удалённые сборщиком мусора",
}, []string{"kind"}) // kind: orphan, temp

// GCStore — операции файлового хранилища, нужные сборщику мусора.
// Реализуется docstore.DocStore.
type GCStore interface {
	ListFiles() ([]string, error)
	ListTempFiles() ([]string, error)
	Delete(storagePath string) error
	ModTime(storagePath string) (time.Time, error)
	RemoveEmptyDirs() error
}

// DocumentGCService — периодическая чистка файлового хранилища.
type DocumentGCService struct {
	docs     repository.DocumentRepository
	store    GCStore
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDocumentGCService создаёт сборщик мусора документов.
func NewDocumentGCService(
	docs repository.DocumentRepository,
	store GCStore,
	interval time.Duration,
	logger *slog.Logger,
) *DocumentGCService {
	return &DocumentGCService{
		docs:     docs,
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "docs-gc")),
	}
}

// Collect выполняет один проход сборки мусора.
// Возвращает число удалённых файлов.
func (s *DocumentGCService) Collect(ctx context.Context) (int, error) {
	known, err := s.docs.ListAllPaths(ctx)
	if err != nil {
		return 0, err
	}

	files, err := s.store.ListFiles()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range files {
		if _, ok := known[path]; ok {
			continue
		}
		if s.tooYoung(path) {
			continue
		}
		if err := s.store.Delete(path); err != nil {
			s.logger.Warn("Не удалось удалить файл-сироту",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		gcRemovedTotal.WithLabelValues("orphan").Inc()
		s.logger.Info("Удалён файл-сирота", slog.String("path", path))
		removed++
	}

	temps, err := s.store.ListTempFiles()
	if err != nil {
		return removed, err
	}
	for _, path := range temps {
		if s.tooYoung(path) {
			continue
		}
		if err := s.store.Delete(path); err != nil {
			s.logger.Warn("Не удалось удалить temp файл",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		gcRemovedTotal.WithLabelValues("temp").Inc()
		removed++
	}

	if err := s.store.RemoveEmptyDirs(); err != nil {
		s.logger.Warn("Ошибка чистки пустых директорий", slog.String("error", err.Error()))
	}

	return removed, nil
}

// tooYoung возвращает true для файлов моложе gcGracePeriod.
// Файл, чьё время модификации не удалось получить (например, уже
// удалён параллельно), тоже считается молодым.
func (s *DocumentGCService) tooYoung(path string) bool {
	mt, err := s.store.ModTime(path)
	if err != nil {
		return true
	}
	return time.Since(mt) < gcGracePeriod
}

// Start запускает периодическую сборку мусора.
func (s *DocumentGCService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Сборщик мусора документов запущен",
			slog.Duration("interval", s.interval))

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Сборщик мусора документов остановлен")
				return
			case <-ticker.C:
				removed, err := s.Collect(ctx)
				if err != nil {
					s.logger.Error("Ошибка прохода сборки мусора",
						slog.String("error", err.Error()))
					continue
				}
				if removed > 0 {
					s.logger.Info("Проход сборки мусора завершён",
						slog.Int("removed", removed))
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и дожидается её завершения.
func (s *DocumentGCService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
