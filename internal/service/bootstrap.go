// bootstrap.go — подготовка схемы CRM при старте сервиса.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/crmbridge/internal/domain/model"
	"github.com/bigkaa/crmbridge/internal/repository"
)

// EnsurePasswordAttribute создаёт строковый атрибут хранения пароля
// в схеме contact, если он ещё не существует.
// Сбой не прерывает старт: возможность хранить пароль деградирует,
// сервис продолжает работать с остальными операциями.
// Возвращает true, если атрибут доступен.
func EnsurePasswordAttribute(ctx context.Context, profiles repository.ProfileRepository, attribute string, logger *slog.Logger) bool {
	if attribute == "" {
		return false
	}
	err := profiles.CreateContactAttribute(ctx, attribute, model.TypeString, false)
	if err != nil {
		logger.Warn("атрибут хранения пароля недоступен, функция отключена",
			slog.String("attribute", attribute),
			slog.String("error", err.Error()),
		)
		return false
	}
	logger.Info("атрибут хранения пароля доступен",
		slog.String("attribute", attribute),
	)
	return true
}
