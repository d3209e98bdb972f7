// profile.go — обработчики /api/v1/users/{name}/profile.
// Чтение и запись профильных свойств через схему CRM.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/crmbridge/internal/api/errors"
)

// HandleGetUserProfile — GET /api/v1/users/{name}/profile?properties=a,b.
func (h *APIHandler) HandleGetUserProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	properties := splitParam(r.URL.Query().Get("properties"))
	if len(properties) == 0 {
		apierrors.ValidationError(w, "Параметр properties обязателен")
		return
	}

	props, err := h.repos.Profiles.GetUserProperties(r.Context(), name, properties)
	if h.writeRepositoryError(w, "get_user_profile", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string]string{"properties": props})
}

// HandleUpdateUserProfile — PATCH /api/v1/users/{name}/profile.
// Тело: {"properties": {"attr": "value", ...}}.
func (h *APIHandler) HandleUpdateUserProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req struct {
		Properties map[string]string `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	ok, err := h.repos.Profiles.UpdateUserProperties(r.Context(), name, req.Properties)
	if h.writeRepositoryError(w, "update_user_profile", err) {
		return
	}
	if !ok {
		apierrors.CRMUnavailable(w, "CRM отклонил обновление свойств")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetPropertyType — GET /api/v1/profile/attributes/{name}.
// Возвращает разрешённый тип атрибута contact.
func (h *APIHandler) HandleGetPropertyType(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	t, err := h.repos.Profiles.GetPropertyType(r.Context(), name)
	if h.writeRepositoryError(w, "get_property_type", err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"attribute": name,
		"type":      t.String(),
	})
}
