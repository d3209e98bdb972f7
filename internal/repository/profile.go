// profile.go — репозиторий профильных свойств контакта.
// Свойства ходят через схему CRM: тип атрибута разрешается через
// кэш метаданных, значения приводятся к типу перед записью, picklist
// наружу отдаётся label'ом, внутрь пишется кодом.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/crmbridge/internal/cache"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// ProfileRepository — контракт доступа к профильным свойствам.
type ProfileRepository interface {
	// GetPropertyType возвращает тип атрибута contact по имени.
	// Неподдерживаемый тип — ErrUnsupportedAttributeType.
	GetPropertyType(ctx context.Context, property string) (model.SupportedType, error)
	// CreateContactAttribute создаёт атрибут в схеме contact.
	// Существующий атрибут — ошибка только при throwIfExists.
	CreateContactAttribute(ctx context.Context, property string, t model.SupportedType, throwIfExists bool) error
	// GetUserProperty возвращает одно свойство пользователя.
	// Picklist отдаётся label'ом. Пустая строка — свойство не задано.
	GetUserProperty(ctx context.Context, user, property string) (string, error)
	// GetUserProperties возвращает набор свойств пользователя.
	GetUserProperties(ctx context.Context, user string, properties []string) (map[string]string, error)
	// UpdateUserProperties записывает свойства пользователя.
	// Значения, не приводимые к типу атрибута, молча пропускаются.
	UpdateUserProperties(ctx context.Context, user string, properties map[string]string) (bool, error)
}

// profileRepo — реализация ProfileRepository.
type profileRepo struct {
	client   crmclient.Service
	cache    *cache.Service
	users    UserRepository
	entities EntityRepository
	cfg      Config
	logger   *slog.Logger
}

// NewProfileRepository создаёт репозиторий профильных свойств.
// Доступ к схеме contact идёт через generic-репозиторий entities.
func NewProfileRepository(client crmclient.Service, c *cache.Service, users UserRepository, entities EntityRepository, cfg Config, logger *slog.Logger) ProfileRepository {
	return &profileRepo{
		client:   client,
		cache:    c,
		users:    users,
		entities: entities,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "profile_repository")),
	}
}

// metadata возвращает метаданные атрибута contact (read-through).
// Ошибки схемы здесь не поглощаются: неправильное имя атрибута —
// ошибка вызывающего, а не деградация CRM.
func (p *profileRepo) metadata(ctx context.Context, property string) (*model.AttributeMetadata, error) {
	if cached, ok := p.cache.GetMetadata(property); ok {
		return cached, nil
	}
	m, err := p.entities.GetAttributeMetadata(ctx, model.EntityContact, property)
	if err != nil {
		return nil, fmt.Errorf("метаданные атрибута %s: %w", property, err)
	}
	p.cache.SetMetadata(m)
	return m, nil
}

// GetPropertyType возвращает тип атрибута contact.
func (p *profileRepo) GetPropertyType(ctx context.Context, property string) (model.SupportedType, error) {
	if err := requireNonEmpty("property", property); err != nil {
		return model.TypeRaw, err
	}
	m, err := p.metadata(ctx, property)
	if err != nil {
		return model.TypeRaw, err
	}
	if m.Type == model.TypeRaw {
		return model.TypeRaw, fmt.Errorf("%w: атрибут %s", ErrUnsupportedAttributeType, property)
	}
	return m.Type, nil
}

// CreateContactAttribute создаёт атрибут в схеме contact.
func (p *profileRepo) CreateContactAttribute(ctx context.Context, property string, t model.SupportedType, throwIfExists bool) error {
	if err := requireNonEmpty("property", property); err != nil {
		return err
	}
	err := p.client.CreateAttribute(ctx, model.EntityContact, property, t)
	if err == nil {
		p.logger.Info("атрибут создан",
			slog.String("attribute", property),
			slog.String("type", t.String()),
		)
		return nil
	}
	if errors.Is(err, crmclient.ErrAttributeExists) && !throwIfExists {
		p.logger.Debug("атрибут уже существует", slog.String("attribute", property))
		return nil
	}
	return fmt.Errorf("создание атрибута %s: %w", property, err)
}

// GetUserProperty возвращает одно свойство пользователя.
func (p *profileRepo) GetUserProperty(ctx context.Context, user, property string) (string, error) {
	props, err := p.GetUserProperties(ctx, user, []string{property})
	if err != nil {
		return "", err
	}
	return props[property], nil
}

// GetUserProperties возвращает свойства пользователя.
// Picklist конвертируется из кода в label по метаданным атрибута.
func (p *profileRepo) GetUserProperties(ctx context.Context, user string, properties []string) (map[string]string, error) {
	if err := requireNonEmpty("user", user); err != nil {
		return nil, err
	}
	if err := requireNonEmptyList("properties", properties); err != nil {
		return nil, err
	}

	u, err := p.users.GetUser(ctx, user, properties...)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}

	out := make(map[string]string, len(properties))
	for _, prop := range properties {
		v, ok := u.Property(prop)
		if !ok {
			out[prop] = ""
			continue
		}
		if v.Type() == model.TypePicklist {
			out[prop] = p.picklistLabel(ctx, prop, v)
			continue
		}
		out[prop] = v.Text()
	}
	return out, nil
}

// picklistLabel конвертирует значение picklist в label.
// Без метаданных или неизвестный код — отдаём числовой код как текст.
func (p *profileRepo) picklistLabel(ctx context.Context, property string, v model.Value) string {
	m, err := p.metadata(ctx, property)
	if err != nil {
		p.logger.Warn("нет метаданных picklist, отдаём код",
			slog.String("attribute", property),
			slog.String("error", err.Error()),
		)
		return v.Text()
	}
	if label, ok := m.OptionLabel(v.Int()); ok {
		return label
	}
	return v.Text()
}

// coerceProperty приводит строковое значение к типу атрибута.
// ok=false — значение нужно пропустить (решение уже залогировано).
func (p *profileRepo) coerceProperty(ctx context.Context, property, raw string) (model.Value, bool, error) {
	m, err := p.metadata(ctx, property)
	if err != nil {
		return model.Value{}, false, err
	}
	if m.Type == model.TypeRaw {
		return model.Value{}, false, fmt.Errorf("%w: атрибут %s", ErrUnsupportedAttributeType, property)
	}

	if m.Type == model.TypePicklist {
		code, ok := m.OptionCode(raw)
		if !ok {
			p.logger.Warn("неизвестный label picklist, свойство пропущено",
				slog.String("attribute", property),
				slog.String("label", raw),
			)
			return model.Value{}, false, nil
		}
		return model.PicklistValue(code), true, nil
	}

	v, err := model.Coerce(m.Type, raw)
	if err != nil {
		p.logger.Warn("значение не приводится к типу атрибута, свойство пропущено",
			slog.String("attribute", property),
			slog.String("type", m.Type.String()),
			slog.String("value", raw),
		)
		return model.Value{}, false, nil
	}
	return v, true, nil
}

// UpdateUserProperties записывает свойства пользователя.
// Псевдосвойство fullname раскладывается на firstname/lastname.
// При успехе удалённого обновления кэшированный пользователь
// патчится на месте, без вытеснения.
func (p *profileRepo) UpdateUserProperties(ctx context.Context, user string, properties map[string]string) (bool, error) {
	if err := requireNonEmpty("user", user); err != nil {
		return false, err
	}
	if len(properties) == 0 {
		return false, fmt.Errorf("%w: properties пуст", ErrArgument)
	}

	u, err := p.users.GetUser(ctx, user)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}

	e := model.NewEntity(model.EntityContact)
	e.ID = u.ID()
	patch := map[string]model.Value{}

	for prop, raw := range properties {
		if prop == "" {
			return false, fmt.Errorf("%w: пустое имя свойства", ErrArgument)
		}
		if prop == attrContactFullName {
			first, last := splitFullName(raw)
			e.Set(attrContactFirstName, model.StringValue(first))
			e.Set(attrContactLastName, model.StringValue(last))
			patch[attrContactFirstName] = model.StringValue(first)
			patch[attrContactLastName] = model.StringValue(last)
			patch[attrContactFullName] = model.StringValue(raw)
			continue
		}
		v, ok, err := p.coerceProperty(ctx, prop, raw)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		e.Set(prop, v)
		patch[prop] = v
	}

	if e.Len() == 0 {
		p.logger.Warn("все свойства отброшены, обновление не отправлено",
			slog.String("user", user),
		)
		return false, nil
	}

	if err := p.client.Update(ctx, e); err != nil {
		p.logger.Error("ошибка обновления свойств пользователя",
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	for prop, v := range patch {
		u.SetProperty(prop, v)
	}
	p.cache.SetUser(u)

	return true, nil
}
