package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"CB_CRM_URL":      "https://crm.kryukov.lan",
		"CB_CRM_VERSION":  "v4",
		"CB_CRM_ORG":      "org1",
		"CB_CRM_USERNAME": "admin",
		"CB_CRM_PASSWORD": "secret",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	// Проверяем значения по умолчанию
	if cfg.Port != 8040 {
		t.Errorf("Port = %d, ожидается 8040", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.CRMAuthMode != "ad" {
		t.Errorf("CRMAuthMode = %q, ожидается ad", cfg.CRMAuthMode)
	}
	if cfg.CRMTimeout != 30*time.Second {
		t.Errorf("CRMTimeout = %v, ожидается 30s", cfg.CRMTimeout)
	}
	if cfg.UniqueKeyField != "fullname" {
		t.Errorf("UniqueKeyField = %q, ожидается fullname", cfg.UniqueKeyField)
	}
	if cfg.PageSize != 250 {
		t.Errorf("PageSize = %d, ожидается 250", cfg.PageSize)
	}
	if cfg.CacheSize != 1000 {
		t.Errorf("CacheSize = %d, ожидается 1000", cfg.CacheSize)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, ожидается 5m", cfg.CacheTTL)
	}
	if cfg.JWTEnabled {
		t.Error("JWTEnabled = true, ожидается false")
	}
	if cfg.DephealthGroup != "crm-bridge" {
		t.Errorf("DephealthGroup = %q, ожидается crm-bridge", cfg.DephealthGroup)
	}
	if cfg.DephealthCheckInterval != 30*time.Second {
		t.Errorf("DephealthCheckInterval = %v, ожидается 30s", cfg.DephealthCheckInterval)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["CB_PORT"] = "8041"
	envs["CB_LOG_LEVEL"] = "debug"
	envs["CB_LOG_FORMAT"] = "text"
	envs["CB_CRM_VERSION"] = "V5"
	envs["CB_CRM_TIMEOUT"] = "1m"
	envs["CB_UNIQUE_KEY_FIELD"] = "emailaddress1"
	envs["CB_PAGE_SIZE"] = "100"
	envs["CB_PASSWORD_ATTRIBUTE"] = "new_password"
	envs["CB_PASSWORD_ATTRIBUTE_CREATE"] = "true"
	envs["CB_CACHE_SIZE"] = "500"
	envs["CB_CACHE_TTL"] = "10m"
	envs["CB_ADMIN_GROUPS"] = "admins, super-admins"
	envs["CB_READONLY_GROUPS"] = "viewers"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8041 {
		t.Errorf("Port = %d, ожидается 8041", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	// Версия нормализуется к нижнему регистру
	if cfg.CRMVersion != "v5" {
		t.Errorf("CRMVersion = %q, ожидается v5", cfg.CRMVersion)
	}
	if cfg.CRMTimeout != time.Minute {
		t.Errorf("CRMTimeout = %v, ожидается 1m", cfg.CRMTimeout)
	}
	if cfg.UniqueKeyField != "emailaddress1" {
		t.Errorf("UniqueKeyField = %q", cfg.UniqueKeyField)
	}
	if cfg.PageSize != 100 {
		t.Errorf("PageSize = %d, ожидается 100", cfg.PageSize)
	}
	if cfg.PasswordAttribute != "new_password" || !cfg.PasswordAttributeCreate {
		t.Errorf("PasswordAttribute = %q/%v", cfg.PasswordAttribute, cfg.PasswordAttributeCreate)
	}
	if cfg.CacheSize != 500 || cfg.CacheTTL != 10*time.Minute {
		t.Errorf("кэш = %d/%v", cfg.CacheSize, cfg.CacheTTL)
	}
	if len(cfg.AdminGroups) != 2 || cfg.AdminGroups[0] != "admins" || cfg.AdminGroups[1] != "super-admins" {
		t.Errorf("AdminGroups = %v", cfg.AdminGroups)
	}
	if len(cfg.ReadonlyGroups) != 1 || cfg.ReadonlyGroups[0] != "viewers" {
		t.Errorf("ReadonlyGroups = %v", cfg.ReadonlyGroups)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	requiredVars := []string{
		"CB_CRM_URL", "CB_CRM_VERSION", "CB_CRM_ORG",
		"CB_CRM_USERNAME", "CB_CRM_PASSWORD",
	}

	for _, missing := range requiredVars {
		t.Run(missing, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, missing)
			for k := range minimalEnvs() {
				os.Unsetenv(k)
			}
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidCRMVersion(t *testing.T) {
	envs := minimalEnvs()
	envs["CB_CRM_VERSION"] = "v6"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при CB_CRM_VERSION=v6")
	}
}

func TestLoad_LiveIDMode(t *testing.T) {
	envs := map[string]string{
		"CB_CRM_URL":           "https://crm.kryukov.lan",
		"CB_CRM_VERSION":       "v5",
		"CB_CRM_ORG":           "org1",
		"CB_CRM_AUTH_MODE":     "liveid",
		"CB_CRM_CLIENT_ID":     "client-id",
		"CB_CRM_CLIENT_SECRET": "client-secret",
		"CB_CRM_TOKEN_URL":     "https://login.kryukov.lan/token",
	}
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.CRMAuthMode != "liveid" {
		t.Errorf("CRMAuthMode = %q", cfg.CRMAuthMode)
	}
	if cfg.CRMClientID != "client-id" || cfg.CRMTokenURL != "https://login.kryukov.lan/token" {
		t.Errorf("LiveID-параметры = %q/%q", cfg.CRMClientID, cfg.CRMTokenURL)
	}
}

func TestLoad_LiveIDRequiresV5(t *testing.T) {
	envs := minimalEnvs()
	envs["CB_CRM_AUTH_MODE"] = "liveid"
	envs["CB_CRM_CLIENT_ID"] = "client-id"
	envs["CB_CRM_CLIENT_SECRET"] = "client-secret"
	envs["CB_CRM_TOKEN_URL"] = "https://login.kryukov.lan/token"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку для liveid при версии v4")
	}
}

func TestLoad_LiveIDMissingCredentials(t *testing.T) {
	envs := map[string]string{
		"CB_CRM_URL":       "https://crm.kryukov.lan",
		"CB_CRM_VERSION":   "v5",
		"CB_CRM_ORG":       "org1",
		"CB_CRM_AUTH_MODE": "liveid",
	}
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при отсутствии client credentials")
	}
}

func TestLoad_JWTRequiresJWKSURL(t *testing.T) {
	envs := minimalEnvs()
	envs["CB_JWT_ENABLED"] = "true"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при CB_JWT_ENABLED без CB_JWKS_URL")
	}
}

func TestLoad_InvalidPageSize(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"ноль", "0"},
		{"отрицательный", "-1"},
		{"не число", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs["CB_PAGE_SIZE"] = tt.value
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при CB_PAGE_SIZE=%q", tt.value)
			}
		})
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	envs := minimalEnvs()
	envs["CB_LOG_LEVEL"] = "verbose"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при CB_LOG_LEVEL=verbose")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	envs := minimalEnvs()
	envs["CB_CRM_TIMEOUT"] = "abc"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при CB_CRM_TIMEOUT=abc")
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"json", "json"},
		{"text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel:  slog.LevelInfo,
				LogFormat: tt.format,
			}
			logger := SetupLogger(cfg)
			if logger == nil {
				t.Error("SetupLogger() вернул nil")
			}
		})
	}
}
