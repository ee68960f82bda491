// cohorts.go — обработчики заявок исследователя.
// GET  /api/v1/cohorts           — список заявок владельца (с синхронизацией)
// GET  /api/v1/cohorts/{id}      — детальный снапшот заявки
// POST /api/v1/cohorts/{id}/apply — подача заявки (multipart: таблицы,
// описание, комплаенс-документы)
// POST /api/v1/cohorts/sync[?id=] — принудительная синхронизация с реестром
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/godatacenter/internal/api/errors"
	"github.com/bigkaa/godatacenter/internal/api/middleware"
	"github.com/bigkaa/godatacenter/internal/service"
)

// Суммарный размер multipart-запроса подачи заявки.
const maxApplyRequestBytes = 64 << 20 // 64 MiB

// CohortHandler — обработчик заявок исследователя.
type CohortHandler struct {
	approval  *service.ApprovalService
	documents *service.DocumentService
	sync      *service.SyncService
	logger    *slog.Logger
}

// NewCohortHandler создаёт обработчик заявок.
func NewCohortHandler(
	approval *service.ApprovalService,
	documents *service.DocumentService,
	sync *service.SyncService,
	logger *slog.Logger,
) *CohortHandler {
	return &CohortHandler{
		approval:  approval,
		documents: documents,
		sync:      sync,
		logger:    logger.With(slog.String("component", "cohort_handler")),
	}
}

// List — GET /api/v1/cohorts. Возвращает заявки владельца,
// предварительно синхронизировав их с реестром.
func (h *CohortHandler) List(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	details, err := h.approval.ListMine(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponses(details))
}

// Detail — GET /api/v1/cohorts/{id}. Владелец видит свою заявку,
// администратор — любую.
func (h *CohortHandler) Detail(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	detail, err := h.approval.Detail(r.Context(), id, p.UserID, p.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponse(detail))
}

// Apply — POST /api/v1/cohorts/{id}/apply. Принимает multipart/form-data:
//   - tables — выбранные CDM-таблицы (повторяющееся поле или через запятую)
//   - description — описание исследования (опционально)
//   - documents — файлы комплаенс-документов (опционально; если заданы,
//     новый комплект целиком заменяет предыдущий)
func (h *CohortHandler) Apply(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxApplyRequestBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		apierrors.ValidationError(w, "некорректный multipart-запрос: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	tables := parseListField(r.MultipartForm.Value["tables"])

	var description *string
	if v := strings.TrimSpace(r.FormValue("description")); v != "" {
		description = &v
	}

	// Поле retained перечисляет пути уже загруженных документов,
	// которые нужно сохранить; остальные удаляются при замене.
	// Запрос без файлов и без retained не трогает комплект.
	files := r.MultipartForm.File["documents"]
	retainedValues, retainedSet := r.MultipartForm.Value["retained"]
	if len(files) > 0 || retainedSet {
		retained := parseListField(retainedValues)
		uploads := make([]service.Upload, 0, len(files))
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				apierrors.ValidationError(w, "не удалось прочитать файл "+fh.Filename)
				return
			}
			defer f.Close()
			uploads = append(uploads, service.Upload{Filename: fh.Filename, Reader: f})
		}
		if _, err := h.documents.Replace(r.Context(), id, p.UserID, uploads, retained); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	detail, err := h.approval.Apply(r.Context(), id, p.UserID, tables, description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponse(detail))
}

// Sync — POST /api/v1/cohorts/sync[?id=]. Без параметра синхронизирует
// все когорты владельца; с параметром id — одну когорту по её
// идентификатору в реестре.
func (h *CohortHandler) Sync(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	if raw := r.URL.Query().Get("id"); raw != "" {
		extID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || extID < 1 {
			apierrors.ValidationError(w, "некорректный параметр id")
			return
		}
		event, err := h.sync.SyncApplication(r.Context(), extID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"event": string(event)})
		return
	}

	result, err := h.sync.SyncUser(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"created":     result.Created,
		"drift_reset": result.DriftReset,
	})
}

// parseListField нормализует значения списочного поля формы:
// повторяющиеся значения и списки через запятую равнозначны.
func parseListField(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
