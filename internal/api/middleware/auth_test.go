package middleware

import (
	"net/http"
	"testing"
)

func TestMapGroupsToRole(t *testing.T) {
	admin := []string{"crm-admins", "platform-ops"}
	readonly := []string{"crm-viewers"}

	tests := []struct {
		name   string
		groups []string
		want   string
	}{
		{"admin group", []string{"crm-admins"}, RoleAdmin},
		{"readonly group", []string{"crm-viewers"}, RoleReadonly},
		{"both groups — admin wins", []string{"crm-viewers", "platform-ops"}, RoleAdmin},
		{"unknown groups", []string{"developers", "qa"}, ""},
		{"no groups", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapGroupsToRole(tt.groups, admin, readonly)
			if got != tt.want {
				t.Errorf("mapGroupsToRole(%v) = %q, ожидалось %q", tt.groups, got, tt.want)
			}
		})
	}
}

func TestJWTAuth_Allow(t *testing.T) {
	configured := &JWTAuth{
		adminGroups:    []string{"crm-admins"},
		readonlyGroups: []string{"crm-viewers"},
	}

	tests := []struct {
		name   string
		method string
		role   string
		want   bool
	}{
		{"admin read", http.MethodGet, RoleAdmin, true},
		{"admin write", http.MethodPut, RoleAdmin, true},
		{"admin delete", http.MethodDelete, RoleAdmin, true},
		{"readonly read", http.MethodGet, RoleReadonly, true},
		{"readonly head", http.MethodHead, RoleReadonly, true},
		{"readonly write", http.MethodPost, RoleReadonly, false},
		{"readonly delete", http.MethodDelete, RoleReadonly, false},
		{"no role read", http.MethodGet, "", false},
		{"no role write", http.MethodPatch, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := configured.allow(tt.method, tt.role); got != tt.want {
				t.Errorf("allow(%s, %q) = %v, ожидалось %v", tt.method, tt.role, got, tt.want)
			}
		})
	}
}

func TestJWTAuth_AllowWithoutGroupMapping(t *testing.T) {
	// Без настроенного маппинга групп — только аутентификация,
	// любая роль (включая пустую) проходит любой метод.
	open := &JWTAuth{}

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		if !open.allow(method, "") {
			t.Errorf("allow(%s) без маппинга групп должен возвращать true", method)
		}
	}
}
