// handler.go — основной обработчик API CRM Bridge.
// Объединяет health и бизнес-обработчики, делегируя запросы
// в repository-слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/crmbridge/internal/api/errors"
	"github.com/bigkaa/crmbridge/internal/repository"
)

// APIHandler — основной обработчик API CRM Bridge.
type APIHandler struct {
	health *HealthHandler
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	repos *repository.Repositories,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health: health,
		repos:  repos,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeRepositoryError маппит типизированные ошибки repository-слоя
// в HTTP-ответы. Возвращает true, если ошибка обработана.
func (h *APIHandler) writeRepositoryError(w http.ResponseWriter, op string, err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, repository.ErrArgument),
		errors.Is(err, repository.ErrUnsupportedAttributeType):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrRoleNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, repository.ErrNotMember):
		apierrors.Conflict(w, err.Error())
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
	return true
}

// splitParam разбирает query-параметр со списком значений через запятую.
func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные page_index и page_size.
func paginationDefaults(pageIndex, pageSize int) (idx, size int) {
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageSize < 1 {
		pageSize = 100
	}
	if pageSize > 1000 {
		pageSize = 1000
	}
	return pageIndex, pageSize
}
