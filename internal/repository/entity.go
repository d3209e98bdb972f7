// entity.go — generic-репозиторий произвольных CRM-сущностей.
// Тонкая обёртка над версионным клиентом: state/status-протокол
// после create/update, fallback подсчёта при агрегатном лимите.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// EntityRepository — контракт доступа к произвольным сущностям CRM.
type EntityRepository interface {
	// NewEntity создаёт пустую запись указанной сущности.
	NewEntity(logicalName string) *model.Entity
	// GetEntity возвращает запись по GUID. nil без ошибки — не найдена/сбой CRM.
	GetEntity(ctx context.Context, logicalName string, id uuid.UUID, columns []string) (*model.Entity, error)
	// GetEntities возвращает страницу записей по условиям и общий итог.
	GetEntities(ctx context.Context, logicalName string, columns []string, conditions []crmclient.Condition, activeOnly bool, pageIndex, pageSize int) ([]*model.Entity, int, error)
	// GetEntitiesCount возвращает количество записей по условиям.
	GetEntitiesCount(ctx context.Context, logicalName string, conditions []crmclient.Condition, activeOnly bool) (int, error)
	// Insert создаёт запись. uuid.Nil без ошибки — сбой CRM.
	Insert(ctx context.Context, e *model.Entity) (uuid.UUID, error)
	// Update обновляет запись. false без ошибки — сбой CRM.
	Update(ctx context.Context, e *model.Entity) (bool, error)
	// Delete удаляет запись. false без ошибки — сбой CRM.
	Delete(ctx context.Context, logicalName string, id uuid.UUID) (bool, error)
	// GetAttributeMetadata возвращает метаданные атрибута сущности.
	GetAttributeMetadata(ctx context.Context, entity, attribute string) (*model.AttributeMetadata, error)
}

// entityRepo — реализация EntityRepository.
type entityRepo struct {
	client crmclient.Service
	cfg    Config
	logger *slog.Logger
}

// NewEntityRepository создаёт generic-репозиторий сущностей.
func NewEntityRepository(client crmclient.Service, cfg Config, logger *slog.Logger) EntityRepository {
	return &entityRepo{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "entity_repository")),
	}
}

// NewEntity создаёт пустую запись.
func (r *entityRepo) NewEntity(logicalName string) *model.Entity {
	return model.NewEntity(logicalName)
}

// GetEntity возвращает запись по GUID.
func (r *entityRepo) GetEntity(ctx context.Context, logicalName string, id uuid.UUID, columns []string) (*model.Entity, error) {
	if err := requireNonEmpty("logicalName", logicalName); err != nil {
		return nil, err
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: пустой id", ErrArgument)
	}
	e, err := r.client.Retrieve(ctx, logicalName, id, columns)
	if err != nil {
		if errors.Is(err, crmclient.ErrNotFound) {
			return nil, nil
		}
		r.logger.Error("ошибка получения записи",
			slog.String("entity", logicalName),
			slog.String("id", id.String()),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return e, nil
}

// GetEntities возвращает страницу записей и общий итог.
// pageIndex нулевой, как у путей поиска пользователей.
func (r *entityRepo) GetEntities(ctx context.Context, logicalName string, columns []string, conditions []crmclient.Condition, activeOnly bool, pageIndex, pageSize int) ([]*model.Entity, int, error) {
	if err := requireNonEmpty("logicalName", logicalName); err != nil {
		return nil, 0, err
	}
	if pageSize <= 0 {
		pageSize = r.cfg.PageSize
	}
	page, err := r.client.RetrieveMultiple(ctx, crmclient.Query{
		Entity:           logicalName,
		Columns:          columns,
		Conditions:       conditions,
		ActiveOnly:       activeOnly,
		Page:             pageIndex + 1,
		PageSize:         pageSize,
		ReturnTotalCount: true,
	})
	if err != nil {
		r.logger.Error("ошибка запроса записей",
			slog.String("entity", logicalName),
			slog.String("error", err.Error()),
		)
		return nil, 0, nil
	}
	return page.Entities, translateTotal(page.TotalCount, page.TotalCountLimitExceeded), nil
}

// GetEntitiesCount возвращает количество записей по условиям.
// Агрегатный лимит CRM — fallback на однострочный запрос с total count;
// урезанный сервером итог логируется.
func (r *entityRepo) GetEntitiesCount(ctx context.Context, logicalName string, conditions []crmclient.Condition, activeOnly bool) (int, error) {
	if err := requireNonEmpty("logicalName", logicalName); err != nil {
		return 0, err
	}
	q := crmclient.Query{
		Entity:     logicalName,
		Conditions: conditions,
		ActiveOnly: activeOnly,
	}

	n, err := r.client.Count(ctx, q)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, crmclient.ErrAggregateLimit) {
		r.logger.Error("ошибка подсчёта записей",
			slog.String("entity", logicalName),
			slog.String("error", err.Error()),
		)
		return 0, nil
	}

	q.Columns = []string{logicalName + "id"}
	q.Page = 1
	q.PageSize = 1
	q.ReturnTotalCount = true
	page, err := r.client.RetrieveMultiple(ctx, q)
	if err != nil {
		r.logger.Error("ошибка fallback-подсчёта записей",
			slog.String("entity", logicalName),
			slog.String("error", err.Error()),
		)
		return 0, nil
	}
	if page.TotalCountLimitExceeded {
		r.logger.Warn("итог подсчёта урезан сервером",
			slog.String("entity", logicalName),
			slog.Int("total", page.TotalCount),
		)
	}
	return translateTotal(page.TotalCount, page.TotalCountLimitExceeded), nil
}

// Insert создаёт запись и доводит state/status.
func (r *entityRepo) Insert(ctx context.Context, e *model.Entity) (uuid.UUID, error) {
	if e == nil {
		return uuid.Nil, fmt.Errorf("%w: entity nil", ErrArgument)
	}
	if err := requireNonEmpty("logicalName", e.LogicalName); err != nil {
		return uuid.Nil, err
	}

	id, err := r.client.Create(ctx, e)
	if err != nil {
		r.logger.Error("ошибка создания записи",
			slog.String("entity", e.LogicalName),
			slog.String("error", err.Error()),
		)
		return uuid.Nil, nil
	}

	if e.State != model.StateActive || e.Status != model.StatusDefault {
		r.applyState(ctx, e.LogicalName, id, e.State, e.Status)
	}
	return id, nil
}

// Update обновляет запись и доводит state/status.
func (r *entityRepo) Update(ctx context.Context, e *model.Entity) (bool, error) {
	if e == nil {
		return false, fmt.Errorf("%w: entity nil", ErrArgument)
	}
	if err := requireNonEmpty("logicalName", e.LogicalName); err != nil {
		return false, err
	}
	if e.ID == uuid.Nil {
		return false, fmt.Errorf("%w: пустой id", ErrArgument)
	}

	if e.Len() > 0 {
		if err := r.client.Update(ctx, e); err != nil {
			r.logger.Error("ошибка обновления записи",
				slog.String("entity", e.LogicalName),
				slog.String("id", e.ID.String()),
				slog.String("error", err.Error()),
			)
			return false, nil
		}
	}

	if e.State != model.StateActive || e.Status != model.StatusDefault {
		r.applyState(ctx, e.LogicalName, e.ID, e.State, e.Status)
	}
	return true, nil
}

// applyState выставляет state/status записи.
// "Invalid status for state" повторяется один раз со статусом по
// умолчанию; прочие сбои логируются и не повторяются.
func (r *entityRepo) applyState(ctx context.Context, logicalName string, id uuid.UUID, state, status int) {
	err := r.client.SetState(ctx, logicalName, id, state, status)
	if err == nil {
		return
	}
	if errors.Is(err, crmclient.ErrInvalidStatusForState) && status != model.StatusDefault {
		r.logger.Warn("статус несовместим с состоянием, повтор со статусом по умолчанию",
			slog.String("entity", logicalName),
			slog.String("id", id.String()),
			slog.Int("state", state),
			slog.Int("status", status),
		)
		if retryErr := r.client.SetState(ctx, logicalName, id, state, model.StatusDefault); retryErr == nil {
			return
		} else {
			err = retryErr
		}
	}
	r.logger.Error("ошибка установки состояния записи",
		slog.String("entity", logicalName),
		slog.String("id", id.String()),
		slog.String("error", err.Error()),
	)
}

// Delete удаляет запись.
func (r *entityRepo) Delete(ctx context.Context, logicalName string, id uuid.UUID) (bool, error) {
	if err := requireNonEmpty("logicalName", logicalName); err != nil {
		return false, err
	}
	if id == uuid.Nil {
		return false, fmt.Errorf("%w: пустой id", ErrArgument)
	}
	if err := r.client.Delete(ctx, logicalName, id); err != nil {
		r.logger.Error("ошибка удаления записи",
			slog.String("entity", logicalName),
			slog.String("id", id.String()),
			slog.String("error", err.Error()),
		)
		return false, nil
	}
	return true, nil
}

// GetAttributeMetadata возвращает метаданные атрибута сущности.
func (r *entityRepo) GetAttributeMetadata(ctx context.Context, entity, attribute string) (*model.AttributeMetadata, error) {
	if err := requireNonEmpty("entity", entity); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("attribute", attribute); err != nil {
		return nil, err
	}
	m, err := r.client.RetrieveAttributeMetadata(ctx, entity, attribute)
	if err != nil {
		return nil, fmt.Errorf("метаданные атрибута %s.%s: %w", entity, attribute, err)
	}
	return m, nil
}
