// auth.go — JWT middleware CRM Bridge.
// Подпись проверяется по JWKS настроенного IdP (основная валидация —
// на API Gateway), группы из токена маппятся в роли admin / readonly:
// admin может всё, readonly — только чтение. Если маппинг групп
// не настроен, выполняется только аутентификация.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/crmbridge/internal/api/errors"
)

// Роли CRM Bridge.
const (
	RoleReadonly = "readonly"
	RoleAdmin    = "admin"
)

// idpClaims — claims JWT, используемые CRM Bridge.
type idpClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя в IdP.
	PreferredUsername string `json:"preferred_username"`
	// Groups — группы субъекта.
	Groups []string `json:"groups,omitempty"`
}

// JWTAuth — middleware JWT-аутентификации и ролевой авторизации.
type JWTAuth struct {
	jwks           keyfunc.Keyfunc
	logger         *slog.Logger
	adminGroups    []string
	readonlyGroups []string
	issuer         string
	jwtLeeway      time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS указанного IdP.
// caCertPath — опциональный CA-сертификат для TLS к IdP.
// issuer — ожидаемый issuer JWT (пустой — не проверяется).
// adminGroups, readonlyGroups — маппинг групп IdP в роли;
// оба пустые — ролевая авторизация отключена.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	adminGroups, readonlyGroups []string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:           k,
		logger:         logger.With(slog.String("component", "jwt_auth")),
		adminGroups:    adminGroups,
		readonlyGroups: readonlyGroups,
		issuer:         issuer,
		jwtLeeway:      jwtLeeway,
	}, nil
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware аутентификации и авторизации.
// Извлекает Bearer token, валидирует подпись (RS256) по JWKS,
// маппит группы в роль и проверяет её против метода запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &idpClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			role := mapGroupsToRole(rawClaims.Groups, j.adminGroups, j.readonlyGroups)
			if !j.allow(r.Method, role) {
				j.logger.Warn("запрос отклонён по роли",
					slog.String("subject", subject),
					slog.String("role", role),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				apierrors.Forbidden(w, "Недостаточно прав для операции")
				return
			}

			j.logger.Debug("запрос аутентифицирован",
				slog.String("subject", subject),
				slog.String("username", rawClaims.PreferredUsername),
				slog.String("role", role),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// allow проверяет, допускает ли роль субъекта метод запроса.
// Маппинг групп не настроен — авторизация отключена, любой
// аутентифицированный субъект проходит.
func (j *JWTAuth) allow(method, role string) bool {
	if len(j.adminGroups) == 0 && len(j.readonlyGroups) == 0 {
		return true
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return role == RoleAdmin || role == RoleReadonly
	default:
		return role == RoleAdmin
	}
}

// mapGroupsToRole определяет роль субъекта по его группам в IdP.
// При пересечении групп берётся более привилегированная роль.
func mapGroupsToRole(groups, adminGroups, readonlyGroups []string) string {
	adminSet := toSet(adminGroups)
	readonlySet := toSet(readonlyGroups)

	role := ""
	for _, g := range groups {
		if adminSet[g] {
			return RoleAdmin
		}
		if readonlySet[g] {
			role = RoleReadonly
		}
	}
	return role
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}

// Close освобождает ресурсы JWT middleware.
func (j *JWTAuth) Close() {
	// keyfunc v3 не требует явного закрытия
}
