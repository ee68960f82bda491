// handler.go — основной обработчик API, объединяющий доменные обработчики
// и общие вспомогательные функции: JSON-ответы, маппинг ошибок сервисного
// слоя в HTTP-статусы, DTO заявок.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/godatacenter/internal/api/errors"
	"github.com/bigkaa/godatacenter/internal/domain/model"
	"github.com/bigkaa/godatacenter/internal/service"
)

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError маппит ошибку сервисного слоя в HTTP-ответ.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrRegistryUnavailable):
		apierrors.RegistryUnavailable(w, err.Error())
	default:
		apierrors.InternalError(w, "внутренняя ошибка сервера")
	}
}

// pathID извлекает числовой параметр {id} из пути chi-маршрута.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("некорректный идентификатор в пути")
	}
	return id, nil
}

// --- DTO ---

// documentResponse — документ заявки в ответе API.
type documentResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Type     string `json:"type,omitempty"`
}

// connectionResponse — реквизиты подключения в ответе API.
type connectionResponse struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	SchemaName string `json:"schema_name"`
}

// applicationResponse — агрегированный снапшот заявки в ответе API.
type applicationResponse struct {
	ID          int64               `json:"id"`
	ExtID       int64               `json:"ext_id"`
	Origin      string              `json:"origin"`
	Name        string              `json:"name"`
	Description *string             `json:"description,omitempty"`
	OwnerName   string              `json:"owner_name,omitempty"`
	Tables      []string            `json:"tables"`
	Status      string              `json:"status"`
	AppliedAt   *time.Time          `json:"applied_at,omitempty"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty"`
	Review      *string             `json:"review,omitempty"`
	Synced      bool                `json:"synced"`
	CreatedAt   time.Time           `json:"created_at"`
	Documents   []documentResponse  `json:"documents"`
	Connection  *connectionResponse `json:"connection,omitempty"`
}

// toApplicationResponse собирает DTO из снапшота заявки.
func toApplicationResponse(d *model.ApplicationDetail) applicationResponse {
	resp := applicationResponse{
		ID:          d.Info.ID,
		ExtID:       d.Info.ExtID,
		Origin:      d.Info.Origin,
		Name:        d.Info.Name,
		Description: d.Info.Description,
		OwnerName:   d.OwnerName,
		Tables:      d.Info.Tables.Names(),
		Status:      string(d.Certificate.CurStatus),
		AppliedAt:   d.Certificate.AppliedAt,
		ResolvedAt:  d.Certificate.ResolvedAt,
		Review:      d.Certificate.Review,
		Synced:      d.Synced,
		CreatedAt:   d.Info.CreatedAt,
		Documents:   make([]documentResponse, 0, len(d.Documents)),
	}

	for _, doc := range d.Documents {
		resp.Documents = append(resp.Documents, documentResponse{
			ID:       doc.ID,
			Name:     doc.Name,
			Category: string(doc.Category),
			Type:     doc.Type,
		})
	}

	if d.Connection != nil {
		resp.Connection = &connectionResponse{
			Host:       d.Connection.Host,
			Port:       d.Connection.Port,
			Username:   d.Connection.Username,
			Password:   d.Connection.Password,
			SchemaName: d.Connection.SchemaName,
		}
	}

	return resp
}

// toApplicationResponses собирает список DTO.
func toApplicationResponses(details []*model.ApplicationDetail) []applicationResponse {
	out := make([]applicationResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toApplicationResponse(d))
	}
	return out
}
