// Точка входа CRM Bridge — адаптер Microsoft Dynamics CRM для
// подсистемы пользователей, ролей и профилей.
// Загружает конфигурацию, создаёт версионный CRM-клиент и репозитории
// с общим кэшем, при необходимости создаёт атрибут хранения пароля,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/bigkaa/crmbridge/internal/api"
	"github.com/bigkaa/crmbridge/internal/api/handlers"
	"github.com/bigkaa/crmbridge/internal/api/middleware"
	"github.com/bigkaa/crmbridge/internal/cache"
	"github.com/bigkaa/crmbridge/internal/config"
	"github.com/bigkaa/crmbridge/internal/repository"
	"github.com/bigkaa/crmbridge/internal/server"
	"github.com/bigkaa/crmbridge/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("CRM Bridge запускается",
		slog.String("version", config.Version),
		slog.String("crm_version", cfg.CRMVersion),
		slog.Int("port", cfg.Port),
	)

	// Предупреждение о дефолтном значении topologymetrics
	if os.Getenv("CB_DEPHEALTH_GROUP") == "" {
		logger.Warn("CB_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Версионный CRM-клиент
	client, err := repository.NewClient(repository.ConnectionConfig{
		Version:      cfg.CRMVersion,
		Endpoint:     cfg.CRMURL,
		CACertPath:   cfg.CRMCACert,
		Timeout:      cfg.CRMTimeout,
		Organization: cfg.CRMOrganization,
		Username:     cfg.CRMUsername,
		Password:     cfg.CRMPassword,
		AuthMode:     cfg.CRMAuthMode,
		ClientID:     cfg.CRMClientID,
		ClientSecret: cfg.CRMClientSecret,
		TokenURL:     cfg.CRMTokenURL,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания CRM-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Общий кэш репозиториев
	cacheSvc, err := cache.New(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		logger.Error("Ошибка создания кэша", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Репозитории
	repos := repository.New(client, cacheSvc, repository.Config{
		UniqueKeyField: cfg.UniqueKeyField,
		PageSize:       cfg.PageSize,
	}, logger)

	// 6. Атрибут хранения пароля (опционально)
	ctx := context.Background()
	if cfg.PasswordAttribute != "" && cfg.PasswordAttributeCreate {
		service.EnsurePasswordAttribute(ctx, repos.Profiles, cfg.PasswordAttribute, logger)
	}

	// 7. Readiness checker CRM
	probePath := repository.ProbePath(cfg.CRMVersion)
	crmChecker, err := service.NewCRMReadinessChecker(cfg.CRMURL, probePath, cfg.CRMCACert, cfg.CRMTimeout)
	if err != nil {
		logger.Error("Ошибка создания CRM readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(crmChecker)

	// 8. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, repos, logger)

	// 9. Middleware: метрики, логирование и OpenAPI-валидация — всегда
	spec, err := api.LoadSpec()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validation, err := api.ValidationMiddleware(spec)
	if err != nil {
		logger.Error("Ошибка создания middleware валидации", slog.String("error", err.Error()))
		os.Exit(1)
	}
	middlewares := []func(http.Handler) http.Handler{
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		validation,
	}

	// 10. JWT middleware (опционально)
	if cfg.JWTEnabled {
		jwtAuth, jwtErr := middleware.NewJWTAuth(
			cfg.JWKSURL,
			cfg.JWKSCACert,
			cfg.JWTIssuer,
			cfg.AdminGroups,
			cfg.ReadonlyGroups,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if jwtErr != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", jwtErr.Error()))
			os.Exit(1)
		}
		defer jwtAuth.Close()

		// Health и метрики — без аутентификации
		middlewares = append(middlewares, server.JWTAuthWithExclusions(
			jwtAuth.Middleware(),
			"/health/", "/metrics",
		))
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("JWT-аутентификация отключена (CB_JWT_ENABLED=false)")
	}

	// 11. topologymetrics — мониторинг зависимостей (CRM + IdP)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"crm-bridge",
		cfg.DephealthGroup,
		cfg.CRMURL,
		probePath,
		cfg.JWKSURL,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, middlewares...)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Graceful shutdown фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("CRM Bridge остановлен")
}
