package middleware

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/v1/users", "/api/v1/users"},
		{"/api/v1/users/jdoe", "/api/v1/users/{name}"},
		{"/api/v1/users/Иван Петров/roles", "/api/v1/users/{name}/roles"},
		{"/api/v1/users/jdoe/profile", "/api/v1/users/{name}/profile"},
		{"/api/v1/roles/managers", "/api/v1/roles/{name}"},
		{"/api/v1/roles/managers/members", "/api/v1/roles/{name}/members"},
		{"/api/v1/memberships", "/api/v1/memberships"},
		{"/api/v1/profile/attributes/new_color", "/api/v1/profile/attributes/{name}"},
		{"/favicon.ico", "/favicon.ico"},
	}
	for _, c := range cases {
		if got := normalizePath(c.in); got != c.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", c.in, got, c.want)
		}
	}
}
