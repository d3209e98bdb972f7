// metrics.go — Prometheus HTTP метрики CRM Bridge.
// Регистрирует метрики: cb_http_requests_total, cb_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики CRM Bridge
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cb_http_requests_total",
			Help: "Общее количество HTTP-запросов к CRM Bridge",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cb_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к CRM Bridge в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем имена пользователей и ролей на {name})
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := wrapWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// normalizePath заменяет сегменты с именами пользователей и ролей
// на {name} для предотвращения взрывного роста кардинальности метрик.
// /api/v1/users/jdoe/roles → /api/v1/users/{name}/roles
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/users", "/api/v1/roles", "/api/v1/memberships":
		return path
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 4 || segments[0] != "api" || segments[1] != "v1" {
		return path
	}

	switch segments[2] {
	case "users", "roles":
		segments[3] = "{name}"
		return "/" + strings.Join(segments, "/")
	case "profile":
		if len(segments) >= 5 && segments[3] == "attributes" {
			segments[4] = "{name}"
			return "/" + strings.Join(segments, "/")
		}
	}

	return path
}
