// Пакет docstore — хранение файлов комплаенс-документов на диске.
// Раскладка каталога: {docsDir}/{appID}/{appID}_{docID}.{ext},
// где appID — идентификатор заявки, docID — идентификатор документа в БД.
//
// Запись атомарная: temp файл → запись → fsync → rename.
package docstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DocStore — управление физическими файлами документов на диске.
type DocStore struct {
	// docsDir — корневая директория хранения документов (DC_DOCS_DIR)
	docsDir string
}

// New создаёт новый DocStore. Проверяет и создаёт директорию
// если она не существует.
func New(docsDir string) (*DocStore, error) {
	if err := os.MkdirAll(docsDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию документов %s: %w", docsDir, err)
	}

	return &DocStore{docsDir: docsDir}, nil
}

// StoragePath возвращает относительный путь файла документа
// в формате {appID}/{appID}_{docID}.{ext}.
// ext передаётся с точкой ("" — без расширения).
func StoragePath(appID, docID int64, ext string) string {
	name := fmt.Sprintf("%d_%d%s", appID, docID, ext)
	return filepath.Join(strconv.FormatInt(appID, 10), name)
}

// Ext возвращает нормализованное расширение имени файла:
// в нижнем регистре, с точкой. Пустое — если расширения нет.
func Ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// Save записывает данные документа из reader на диск по относительному
// пути storagePath. Директория заявки создаётся при необходимости.
// Возвращает размер записанных данных.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (ds *DocStore) Save(storagePath string, reader io.Reader) (int64, error) {
	fullPath := filepath.Join(ds.docsDir, storagePath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return 0, fmt.Errorf("ошибка создания директории заявки: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}

// Open открывает файл документа для чтения и возвращает *os.File.
// Вызывающий код обязан закрыть файл.
func (ds *DocStore) Open(storagePath string) (*os.File, error) {
	fullPath := filepath.Join(ds.docsDir, storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s", storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}

	return f, nil
}

// Delete удаляет файл документа с диска.
// Возвращает nil если файл уже не существует.
func (ds *DocStore) Delete(storagePath string) error {
	fullPath := filepath.Join(ds.docsDir, storagePath)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// Exists проверяет существование файла документа на диске.
func (ds *DocStore) Exists(storagePath string) bool {
	_, err := os.Stat(filepath.Join(ds.docsDir, storagePath))
	return err == nil
}

// Size возвращает размер файла документа на диске.
func (ds *DocStore) Size(storagePath string) (int64, error) {
	info, err := os.Stat(filepath.Join(ds.docsDir, storagePath))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// ModTime возвращает время последней модификации файла документа.
func (ds *DocStore) ModTime(storagePath string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(ds.docsDir, storagePath))
	if err != nil {
		return time.Time{}, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info.ModTime(), nil
}

// ListFiles возвращает относительные пути всех файлов документов на диске.
// Временные файлы (*.tmp) не учитываются: их подбирает сборщик мусора
// отдельной веткой.
func (ds *DocStore) ListFiles() ([]string, error) {
	var files []string

	err := filepath.WalkDir(ds.docsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(ds.docsDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода директории документов: %w", err)
	}

	return files, nil
}

// ListTempFiles возвращает относительные пути недописанных temp файлов.
func (ds *DocStore) ListTempFiles() ([]string, error) {
	var files []string

	err := filepath.WalkDir(ds.docsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(ds.docsDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода директории документов: %w", err)
	}

	return files, nil
}

// RemoveEmptyDirs удаляет пустые директории заявок.
// Вызывается сборщиком мусора после удаления осиротевших файлов.
func (ds *DocStore) RemoveEmptyDirs() error {
	entries, err := os.ReadDir(ds.docsDir)
	if err != nil {
		return fmt.Errorf("ошибка чтения директории документов: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(ds.docsDir, e.Name())
		sub, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(sub) == 0 {
			os.Remove(dir)
		}
	}
	return nil
}

// DocsDir возвращает путь к корневой директории документов.
func (ds *DocStore) DocsDir() string {
	return ds.docsDir
}
