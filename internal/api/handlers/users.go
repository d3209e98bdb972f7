// users.go — обработчики /api/v1/users.
// Создание, деактивация, получение и поиск пользователей.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/crmbridge/internal/api/errors"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// userResponse — API-представление пользователя.
type userResponse struct {
	Username    string `json:"username"`
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	Description string `json:"description,omitempty"`
	IsApproved  bool   `json:"is_approved"`
	IsLockedOut bool   `json:"is_locked_out"`
	CreatedAt   string `json:"created_at,omitempty"`
	LastLogin   string `json:"last_login,omitempty"`
}

// userListResponse — страница пользователей с общим итогом.
type userListResponse struct {
	Users []userResponse `json:"users"`
	Total int            `json:"total"`
}

// createUserRequest — тело POST /api/v1/users.
type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	// Key — GUID будущей записи (опционально, иначе присваивает CRM).
	Key string `json:"key,omitempty"`
}

// toUserResponse конвертирует domain-модель в API-тип.
func toUserResponse(u *model.CRMUser) userResponse {
	resp := userResponse{
		Username:    u.Name(),
		ID:          u.ID().String(),
		Email:       u.Email,
		Description: u.Description,
		IsApproved:  u.IsApproved,
		IsLockedOut: u.IsLockedOut,
	}
	if !u.CreatedDate.IsZero() {
		resp.CreatedAt = u.CreatedDate.UTC().Format(time.RFC3339)
	}
	if !u.LastLoginDate.IsZero() {
		resp.LastLogin = u.LastLoginDate.UTC().Format(time.RFC3339)
	}
	return resp
}

// HandleListUsers — GET /api/v1/users.
// Без фильтров — все пользователи; name= или email= — поиск по шаблону.
func (h *APIHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageIndex, _ := strconv.Atoi(q.Get("page_index"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	pageIndex, pageSize = paginationDefaults(pageIndex, pageSize)

	var (
		users []*model.CRMUser
		total int
		err   error
	)
	switch {
	case q.Get("name") != "":
		users, total, err = h.repos.Users.FindUsersByName(r.Context(), q.Get("name"), pageIndex, pageSize)
	case q.Get("email") != "":
		users, total, err = h.repos.Users.FindUsersByEmail(r.Context(), q.Get("email"), pageIndex, pageSize)
	default:
		users, total, err = h.repos.Users.GetAllUsers(r.Context(), pageIndex, pageSize)
	}
	if h.writeRepositoryError(w, "list_users", err) {
		return
	}

	resp := userListResponse{Users: make([]userResponse, 0, len(users)), Total: total}
	for _, u := range users {
		resp.Users = append(resp.Users, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCreateUser — POST /api/v1/users.
func (h *APIHandler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	key := uuid.Nil
	if req.Key != "" {
		parsed, err := uuid.Parse(req.Key)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный key: "+err.Error())
			return
		}
		key = parsed
	}

	user, err := h.repos.Users.CreateUser(r.Context(), req.Username, req.Email, key)
	if h.writeRepositoryError(w, "create_user", err) {
		return
	}
	if user == nil {
		apierrors.Conflict(w, "Пользователь уже существует или CRM отклонил создание")
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// HandleGetUser — GET /api/v1/users/{name}.
// attributes= — дополнительные CRM-колонки через запятую.
func (h *APIHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	attrs := splitParam(r.URL.Query().Get("attributes"))

	user, err := h.repos.Users.GetUser(r.Context(), name, attrs...)
	if h.writeRepositoryError(w, "get_user", err) {
		return
	}
	if user == nil {
		apierrors.NotFound(w, "Пользователь не найден")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// HandleDeactivateUser — DELETE /api/v1/users/{name}.
func (h *APIHandler) HandleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ok, err := h.repos.Users.DeactivateUser(r.Context(), name)
	if h.writeRepositoryError(w, "deactivate_user", err) {
		return
	}
	if !ok {
		apierrors.NotFound(w, "Пользователь не найден или CRM отклонил деактивацию")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetUserRoles — GET /api/v1/users/{name}/roles.
func (h *APIHandler) HandleGetUserRoles(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	roles, err := h.repos.Roles.GetRolesForUser(r.Context(), name)
	if h.writeRepositoryError(w, "get_user_roles", err) {
		return
	}
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"roles": roles})
}
