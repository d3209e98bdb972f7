// roles.go — обработчики /api/v1/roles и /api/v1/memberships.
// Роли (marketing lists) и членство пользователей в ролях.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/crmbridge/internal/api/errors"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// roleResponse — API-представление роли.
type roleResponse struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	IsDynamic bool   `json:"is_dynamic"`
}

// createRoleRequest — тело POST /api/v1/roles.
type createRoleRequest struct {
	Name string `json:"name"`
}

// membershipRequest — тело POST/DELETE /api/v1/memberships.
type membershipRequest struct {
	Users []string `json:"users"`
	Roles []string `json:"roles"`
}

// toRoleResponse конвертирует domain-модель в API-тип.
func toRoleResponse(r *model.CRMRole) roleResponse {
	return roleResponse{
		Name:      r.Name(),
		ID:        r.ID().String(),
		IsDynamic: r.IsDynamicList,
	}
}

// HandleListRoles — GET /api/v1/roles.
func (h *APIHandler) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.repos.Roles.GetAllRoles(r.Context())
	if h.writeRepositoryError(w, "list_roles", err) {
		return
	}

	resp := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		resp = append(resp, toRoleResponse(role))
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": resp})
}

// HandleCreateRole — POST /api/v1/roles.
func (h *APIHandler) HandleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	ok, err := h.repos.Roles.CreateRole(r.Context(), req.Name)
	if h.writeRepositoryError(w, "create_role", err) {
		return
	}
	if !ok {
		apierrors.Conflict(w, "Роль уже существует или CRM отклонил создание")
		return
	}

	role, err := h.repos.Roles.GetRole(r.Context(), req.Name)
	if h.writeRepositoryError(w, "create_role", err) {
		return
	}
	if role == nil {
		apierrors.InternalError(w, "Роль создана, но не читается из CRM")
		return
	}
	writeJSON(w, http.StatusCreated, toRoleResponse(role))
}

// HandleGetRole — GET /api/v1/roles/{name}.
func (h *APIHandler) HandleGetRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	role, err := h.repos.Roles.GetRole(r.Context(), name)
	if h.writeRepositoryError(w, "get_role", err) {
		return
	}
	if role == nil {
		apierrors.NotFound(w, "Роль не найдена")
		return
	}
	writeJSON(w, http.StatusOK, toRoleResponse(role))
}

// HandleDeactivateRole — DELETE /api/v1/roles/{name}.
func (h *APIHandler) HandleDeactivateRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ok, err := h.repos.Roles.DeactivateRole(r.Context(), name)
	if h.writeRepositoryError(w, "deactivate_role", err) {
		return
	}
	if !ok {
		apierrors.NotFound(w, "Роль не найдена или CRM отклонил деактивацию")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetRoleMembers — GET /api/v1/roles/{name}/members.
func (h *APIHandler) HandleGetRoleMembers(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	members, err := h.repos.Roles.GetUsersInRole(r.Context(), name)
	if h.writeRepositoryError(w, "get_role_members", err) {
		return
	}
	if members == nil {
		members = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"members": members})
}

// HandleAddMemberships — POST /api/v1/memberships.
// Добавляет каждого пользователя в каждую роль.
func (h *APIHandler) HandleAddMemberships(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	ok, err := h.repos.Roles.AddUsersToRoles(r.Context(), req.Users, req.Roles)
	if h.writeRepositoryError(w, "add_memberships", err) {
		return
	}
	if !ok {
		apierrors.CRMUnavailable(w, "CRM отклонил изменение членства, батч выполнен частично")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemoveMemberships — DELETE /api/v1/memberships.
// Удаляет каждого пользователя из каждой роли.
func (h *APIHandler) HandleRemoveMemberships(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	ok, err := h.repos.Roles.RemoveUsersFromRoles(r.Context(), req.Users, req.Roles)
	if h.writeRepositoryError(w, "remove_memberships", err) {
		return
	}
	if !ok {
		apierrors.CRMUnavailable(w, "CRM отклонил изменение членства, батч выполнен частично")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
