// Пакет config — загрузка и валидация конфигурации CRM Bridge
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Поддерживаемые значения CB_CRM_VERSION.
var crmVersions = map[string]bool{"v3": true, "v4": true, "v5": true}

// Поддерживаемые значения CB_CRM_AUTH_MODE.
var authModes = map[string]bool{"ad": true, "liveid": true}

// Config содержит все параметры конфигурации CRM Bridge.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- CRM ---

	// Базовый URL сервера CRM (обязательный)
	CRMURL string
	// Поколение CRM: v3, v4, v5 (обязательный)
	CRMVersion string
	// Имя организации CRM (обязательный)
	CRMOrganization string
	// Учётные данные AD-режима
	CRMUsername string
	CRMPassword string
	// Режим аутентификации V5: ad (по умолчанию) или liveid
	CRMAuthMode string
	// Параметры LiveID-режима (client credentials)
	CRMClientID     string
	CRMClientSecret string
	CRMTokenURL     string
	// Путь к CA-сертификату сервера CRM (пустой — системные корни)
	CRMCACert string
	// Таймаут вызовов к CRM (по умолчанию 30s)
	CRMTimeout time.Duration

	// --- Repository ---

	// CRM-поле контакта, служащее уникальным именем пользователя
	// (по умолчанию fullname)
	UniqueKeyField string
	// Размер страницы постраничных CRM-запросов (по умолчанию 250)
	PageSize int
	// Атрибут contact для хранения пароля (пустой — функция отключена)
	PasswordAttribute string
	// Создавать ли атрибут пароля при старте
	PasswordAttributeCreate bool

	// --- Кэш ---

	// Максимальное количество записей в каждом регионе кэша
	CacheSize int
	// Время жизни записей кэша
	CacheTTL time.Duration

	// --- JWT / IdP ---

	// Включена ли JWT-аутентификация API
	JWTEnabled bool
	// URL JWKS endpoint IdP
	JWKSURL string
	// Путь к CA-сертификату IdP
	JWKSCACert string
	// Ожидаемый issuer JWT (пустой — не проверяется)
	JWTIssuer string
	// Группы IdP, маппящиеся в роли admin / readonly
	AdminGroups    []string
	ReadonlyGroups []string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Dephealth ---

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CB_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("CB_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("CB_PORT: %w", err)
	}

	// CB_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("CB_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("CB_LOG_LEVEL: %w", err)
	}

	// CB_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CB_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CB_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("CB_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CB_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("CB_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CB_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("CB_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CB_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CB_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CB_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- CRM ---

	// CB_CRM_URL — базовый URL сервера CRM (обязательный)
	cfg.CRMURL, err = getEnvRequired("CB_CRM_URL")
	if err != nil {
		return nil, err
	}

	// CB_CRM_VERSION — поколение CRM (обязательный)
	cfg.CRMVersion, err = getEnvRequired("CB_CRM_VERSION")
	if err != nil {
		return nil, err
	}
	cfg.CRMVersion = strings.ToLower(cfg.CRMVersion)
	if !crmVersions[cfg.CRMVersion] {
		return nil, fmt.Errorf("CB_CRM_VERSION: недопустимое значение %q, допустимые: v3, v4, v5", cfg.CRMVersion)
	}

	// CB_CRM_ORG — имя организации CRM (обязательный)
	cfg.CRMOrganization, err = getEnvRequired("CB_CRM_ORG")
	if err != nil {
		return nil, err
	}

	// CB_CRM_AUTH_MODE — режим аутентификации (по умолчанию ad)
	cfg.CRMAuthMode = strings.ToLower(getEnvDefault("CB_CRM_AUTH_MODE", "ad"))
	if !authModes[cfg.CRMAuthMode] {
		return nil, fmt.Errorf("CB_CRM_AUTH_MODE: недопустимое значение %q, допустимые: ad, liveid", cfg.CRMAuthMode)
	}

	if cfg.CRMAuthMode == "liveid" {
		if cfg.CRMVersion != "v5" {
			return nil, fmt.Errorf("CB_CRM_AUTH_MODE: liveid поддерживается только для v5")
		}
		// LiveID-режим: client credentials обязательны
		cfg.CRMClientID, err = getEnvRequired("CB_CRM_CLIENT_ID")
		if err != nil {
			return nil, err
		}
		cfg.CRMClientSecret, err = getEnvRequired("CB_CRM_CLIENT_SECRET")
		if err != nil {
			return nil, err
		}
		cfg.CRMTokenURL, err = getEnvRequired("CB_CRM_TOKEN_URL")
		if err != nil {
			return nil, err
		}
	} else {
		// AD-режим: учётные данные обязательны
		cfg.CRMUsername, err = getEnvRequired("CB_CRM_USERNAME")
		if err != nil {
			return nil, err
		}
		cfg.CRMPassword, err = getEnvRequired("CB_CRM_PASSWORD")
		if err != nil {
			return nil, err
		}
	}

	// CB_CRM_CA_CERT — CA-сертификат сервера CRM (опциональный)
	cfg.CRMCACert = getEnvDefault("CB_CRM_CA_CERT", "")

	// CB_CRM_TIMEOUT — таймаут вызовов к CRM (по умолчанию 30s)
	cfg.CRMTimeout, err = getEnvDuration("CB_CRM_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CB_CRM_TIMEOUT: %w", err)
	}

	// --- Repository ---

	// CB_UNIQUE_KEY_FIELD — поле уникального имени (по умолчанию fullname)
	cfg.UniqueKeyField = getEnvDefault("CB_UNIQUE_KEY_FIELD", "fullname")

	// CB_PAGE_SIZE — размер страницы CRM-запросов (по умолчанию 250)
	cfg.PageSize, err = getEnvInt("CB_PAGE_SIZE", 250)
	if err != nil {
		return nil, fmt.Errorf("CB_PAGE_SIZE: %w", err)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("CB_PAGE_SIZE: значение должно быть > 0")
	}

	// CB_PASSWORD_ATTRIBUTE — атрибут хранения пароля (опциональный)
	cfg.PasswordAttribute = getEnvDefault("CB_PASSWORD_ATTRIBUTE", "")

	// CB_PASSWORD_ATTRIBUTE_CREATE — создавать атрибут при старте
	cfg.PasswordAttributeCreate, err = getEnvBool("CB_PASSWORD_ATTRIBUTE_CREATE", false)
	if err != nil {
		return nil, fmt.Errorf("CB_PASSWORD_ATTRIBUTE_CREATE: %w", err)
	}

	// --- Кэш ---

	// CB_CACHE_SIZE — размер региона кэша (по умолчанию 1000)
	cfg.CacheSize, err = getEnvInt("CB_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("CB_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("CB_CACHE_SIZE: значение должно быть > 0")
	}

	// CB_CACHE_TTL — TTL записей кэша (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("CB_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CB_CACHE_TTL: %w", err)
	}

	// --- JWT / IdP ---

	// CB_JWT_ENABLED — JWT-аутентификация API (по умолчанию false)
	cfg.JWTEnabled, err = getEnvBool("CB_JWT_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("CB_JWT_ENABLED: %w", err)
	}

	if cfg.JWTEnabled {
		// CB_JWKS_URL — JWKS endpoint IdP (обязательный при JWT)
		cfg.JWKSURL, err = getEnvRequired("CB_JWKS_URL")
		if err != nil {
			return nil, err
		}
	}

	cfg.JWKSCACert = getEnvDefault("CB_JWKS_CA_CERT", "")
	cfg.JWTIssuer = getEnvDefault("CB_JWT_ISSUER", "")
	cfg.AdminGroups = getEnvList("CB_ADMIN_GROUPS")
	cfg.ReadonlyGroups = getEnvList("CB_READONLY_GROUPS")

	cfg.JWKSClientTimeout, err = getEnvDuration("CB_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CB_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("CB_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CB_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWTLeeway, err = getEnvDuration("CB_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CB_JWT_LEEWAY: %w", err)
	}

	// --- Dephealth ---

	cfg.DephealthGroup = getEnvDefault("CB_DEPHEALTH_GROUP", "crm-bridge")

	cfg.DephealthCheckInterval, err = getEnvDuration("CB_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CB_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// DEPHEALTH_ISENTRY — общий для всех сервисов флаг (без префикса CB_)
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvList возвращает список значений, разделённых запятыми.
func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
