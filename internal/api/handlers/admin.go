// admin.go — административные обработчики рассмотрения заявок.
// GET  /api/v1/admin/applies                  — поданные заявки
// POST /api/v1/admin/applies/{id}/approve     — одобрение + выдача доступа
// POST /api/v1/admin/applies/{id}/reject      — отклонение
// POST /api/v1/admin/applies/{id}/reprovision — повторная выдача доступа
//
// Маршруты защищены middleware.RequireAdmin.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/godatacenter/internal/api/errors"
	"github.com/bigkaa/godatacenter/internal/service"
)

// AdminHandler — обработчик административных операций.
type AdminHandler struct {
	approval *service.ApprovalService
	logger   *slog.Logger
}

// NewAdminHandler создаёт обработчик административных операций.
func NewAdminHandler(approval *service.ApprovalService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		approval: approval,
		logger:   logger.With(slog.String("component", "admin_handler")),
	}
}

// reviewRequest — тело запроса решения по заявке.
type reviewRequest struct {
	// Review — комментарий администратора (опционально)
	Review *string `json:"review,omitempty"`
}

// parseReview читает тело решения. Пустое тело допустимо.
func parseReview(r *http.Request) (*string, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, nil
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.Review != nil && strings.TrimSpace(*req.Review) == "" {
		return nil, nil
	}
	return req.Review, nil
}

// ListApplied — GET /api/v1/admin/applies.
func (h *AdminHandler) ListApplied(w http.ResponseWriter, r *http.Request) {
	details, err := h.approval.ListApplied(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponses(details))
}

// Approve — POST /api/v1/admin/applies/{id}/approve.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	review, err := parseReview(r)
	if err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса: "+err.Error())
		return
	}

	detail, err := h.approval.Approve(r.Context(), id, review)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponse(detail))
}

// Reject — POST /api/v1/admin/applies/{id}/reject.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	review, err := parseReview(r)
	if err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса: "+err.Error())
		return
	}

	detail, err := h.approval.Reject(r.Context(), id, review)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponse(detail))
}

// Reprovision — POST /api/v1/admin/applies/{id}/reprovision.
// Повторяет выдачу доступа для одобренной заявки (восстановление
// после сбоя provisioning или перевыпуск пароля).
func (h *AdminHandler) Reprovision(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	detail, err := h.approval.Reprovision(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplicationResponse(detail))
}
