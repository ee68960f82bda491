// documents.go — скачивание комплаенс-документов.
// GET /api/v1/documents/{id} — файл документа (владелец или администратор).
package handlers

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/godatacenter/internal/api/errors"
	"github.com/bigkaa/godatacenter/internal/api/middleware"
	"github.com/bigkaa/godatacenter/internal/service"
)

// DocumentHandler — обработчик скачивания документов.
type DocumentHandler struct {
	documents *service.DocumentService
	logger    *slog.Logger
}

// NewDocumentHandler создаёт обработчик документов.
func NewDocumentHandler(documents *service.DocumentService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		logger:    logger.With(slog.String("component", "document_handler")),
	}
}

// Download — GET /api/v1/documents/{id}.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromContext(r.Context())

	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	doc, f, err := h.documents.Open(r.Context(), id, p.UserID, p.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer f.Close()

	contentType := mime.TypeByExtension(doc.Type)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(doc.Name))

	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("Ошибка отдачи файла документа",
			slog.Int64("document_id", id),
			slog.String("error", err.Error()),
		)
	}
}
