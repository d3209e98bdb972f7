// user.go — репозиторий пользователей (CRM-контактов).
// Read-through кэширование по имени и по GUID, дозапрос колонок
// при superset-промахе, дедупликация результатов по имени.
package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/crmbridge/internal/cache"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// UserRepository — контракт доступа к пользователям.
type UserRepository interface {
	// CreateUser создаёт контакт. key = uuid.Nil — GUID присваивает CRM.
	// Возвращает nil без ошибки при дубликате имени или сбое CRM.
	CreateUser(ctx context.Context, name, email string, key uuid.UUID) (*model.CRMUser, error)
	// DeactivateUser деактивирует контакт. false без ошибки при сбое CRM.
	DeactivateUser(ctx context.Context, name string) (bool, error)
	// FindUsersByEmail ищет пользователей по шаблону e-mail.
	FindUsersByEmail(ctx context.Context, pattern string, pageIndex, pageSize int) ([]*model.CRMUser, int, error)
	// FindUsersByName ищет пользователей по шаблону имени.
	FindUsersByName(ctx context.Context, pattern string, pageIndex, pageSize int) ([]*model.CRMUser, int, error)
	// GetAllUsers возвращает страницу всех активных пользователей и общий итог.
	GetAllUsers(ctx context.Context, pageIndex, pageSize int) ([]*model.CRMUser, int, error)
	// GetUser возвращает пользователя по имени. attributes — дополнительные
	// CRM-колонки сверх базового набора. nil без ошибки — не найден/сбой CRM.
	GetUser(ctx context.Context, name string, attributes ...string) (*model.CRMUser, error)
	// GetUserByID возвращает пользователя по GUID.
	GetUserByID(ctx context.Context, id uuid.UUID, attributes ...string) (*model.CRMUser, error)
	// GetUsers возвращает пользователей по списку имён (не найденные пропускаются).
	GetUsers(ctx context.Context, names []string) ([]*model.CRMUser, error)
}

// userRepo — реализация UserRepository с координацией кэша.
type userRepo struct {
	client crmclient.Service
	cache  *cache.Service
	cfg    Config
	logger *slog.Logger
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(client crmclient.Service, c *cache.Service, cfg Config, logger *slog.Logger) UserRepository {
	return &userRepo{
		client: client,
		cache:  c,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "user_repository")),
	}
}

// coreColumns возвращает базовый набор колонок, объединённый с запрошенными.
// Конвертер контакта никогда не видит запись без обязательных полей.
func (r *userRepo) coreColumns(attributes []string) []string {
	core := []string{
		attrContactFullName,
		attrContactFirstName,
		attrContactLastName,
		r.cfg.UniqueKeyField,
	}
	seen := make(map[string]bool, len(core)+len(attributes))
	out := make([]string, 0, len(core)+len(attributes))
	for _, c := range append(core, attributes...) {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// userFromEntity конвертирует CRM-контакт в CRMUser.
// Все загруженные атрибуты попадают в property bag.
func (r *userRepo) userFromEntity(e *model.Entity) *model.CRMUser {
	name := ""
	if v, ok := e.Get(r.cfg.UniqueKeyField); ok {
		name = v.Text()
	}
	u := model.NewCRMUser(name, e.ID)
	if v, ok := e.Get(attrContactEmail); ok {
		u.Email = v.Text()
	}
	if v, ok := e.Get("description"); ok {
		u.Description = v.Text()
	}
	if v, ok := e.Get("createdon"); ok && v.Type() == model.TypeDateTime {
		u.CreatedDate = v.Time()
	}
	if v, ok := e.Get("lastusedincampaign"); ok && v.Type() == model.TypeDateTime {
		u.LastActivityDate = v.Time()
	}
	u.IsApproved = e.State == model.StateActive
	for _, attr := range e.Attributes() {
		v, _ := e.Get(attr)
		u.SetProperty(attr, v)
	}
	return u
}

// hasAttributes проверяет, загружены ли все запрошенные атрибуты
// в property bag закэшированного экземпляра.
func hasAttributes(u *model.CRMUser, attributes []string) bool {
	for _, a := range attributes {
		if a == "" {
			continue
		}
		if !u.HasProperty(a) {
			return false
		}
	}
	return true
}

// dedupUsers устраняет дубликаты по имени: первое вхождение побеждает
// (политика вставки в словарь). Каждый уникальный пользователь кэшируется.
func (r *userRepo) dedupUsers(entities []*model.Entity) []*model.CRMUser {
	seen := map[string]bool{}
	var out []*model.CRMUser
	for _, e := range entities {
		u := r.userFromEntity(e)
		if u.Name() == "" || seen[u.Name()] {
			continue
		}
		seen[u.Name()] = true
		r.cache.SetUser(u)
		out = append(out, u)
	}
	return out
}

// CreateUser создаёт контакт и кэширует синтезированный CRMUser.
func (r *userRepo) CreateUser(ctx context.Context, name, email string, key uuid.UUID) (*model.CRMUser, error) {
	if err := requireNonEmpty("name", name); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("email", email); err != nil {
		return nil, err
	}

	// Дубликат имени — нормальный исход, не ошибка.
	if existing, err := r.GetUser(ctx, name); err != nil {
		return nil, err
	} else if existing != nil {
		r.logger.Warn("пользователь уже существует", slog.String("user", name))
		return nil, nil
	}

	e := model.NewEntity(model.EntityContact)
	if key != uuid.Nil {
		e.ID = key
	}
	e.Set(r.cfg.UniqueKeyField, model.StringValue(name))
	e.Set(attrContactEmail, model.StringValue(email))
	first, last := splitFullName(name)
	e.Set(attrContactFirstName, model.StringValue(first))
	e.Set(attrContactLastName, model.StringValue(last))

	id, err := r.client.Create(ctx, e)
	if err != nil {
		r.logger.Error("ошибка создания контакта",
			slog.String("user", name),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	// Синтезируем пользователя локально, не перечитывая CRM.
	u := model.NewCRMUser(name, id)
	u.Email = email
	u.IsApproved = true
	u.CreatedDate = time.Now().UTC()
	u.SetProperty(r.cfg.UniqueKeyField, model.StringValue(name))
	u.SetProperty(attrContactEmail, model.StringValue(email))
	u.SetProperty(attrContactFirstName, model.StringValue(first))
	u.SetProperty(attrContactLastName, model.StringValue(last))
	r.cache.SetUser(u)

	r.logger.Info("контакт создан",
		slog.String("user", name),
		slog.String("id", id.String()),
	)
	return u, nil
}

// DeactivateUser переводит контакт в неактивное состояние.
// При успехе пользователь вытесняется из кэша (оба ключа), а регион
// memberOf очищается целиком: членство пользователя больше не валидно.
func (r *userRepo) DeactivateUser(ctx context.Context, name string) (bool, error) {
	if err := requireNonEmpty("name", name); err != nil {
		return false, err
	}

	u, err := r.GetUser(ctx, name)
	if err != nil {
		return false, err
	}
	if u == nil {
		return false, nil
	}

	if err := r.client.SetState(ctx, model.EntityContact, u.ID(), model.StateInactive, model.StatusDefault); err != nil {
		r.logger.Error("ошибка деактивации контакта",
			slog.String("user", name),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	r.cache.RemoveUser(name)
	r.cache.ClearMemberOf()

	r.logger.Info("контакт деактивирован", slog.String("user", name))
	return true, nil
}

// GetUser возвращает пользователя по имени (read-through).
// Если закэшированный экземпляр не содержит запрошенных атрибутов,
// он вытесняется и выполняется полный удалённый запрос с надмножеством колонок.
func (r *userRepo) GetUser(ctx context.Context, name string, attributes ...string) (*model.CRMUser, error) {
	if err := requireNonEmpty("name", name); err != nil {
		return nil, err
	}

	if cached, ok := r.cache.GetUserByName(name); ok {
		if hasAttributes(cached, attributes) {
			return cached, nil
		}
		// Superset-промах: атрибутов не хватает, перечитываем.
		r.cache.RemoveUser(name)
	}

	page, err := r.client.RetrieveMultiple(ctx, crmclient.Query{
		Entity:  model.EntityContact,
		Columns: r.coreColumns(attributes),
		Conditions: []crmclient.Condition{
			{Attribute: r.cfg.UniqueKeyField, Operator: "eq", Value: name},
		},
		ActiveOnly: true,
		Page:       1,
		PageSize:   1,
	})
	if err != nil {
		r.logger.Error("ошибка получения контакта",
			slog.String("user", name),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if len(page.Entities) == 0 {
		return nil, nil
	}

	u := r.userFromEntity(page.Entities[0])
	r.cache.SetUser(u)
	return u, nil
}

// GetUserByID возвращает пользователя по GUID (read-through).
func (r *userRepo) GetUserByID(ctx context.Context, id uuid.UUID, attributes ...string) (*model.CRMUser, error) {
	if id == uuid.Nil {
		return nil, requireNonEmpty("id", "")
	}

	if cached, ok := r.cache.GetUserByID(id.String()); ok {
		if hasAttributes(cached, attributes) {
			return cached, nil
		}
		r.cache.RemoveUser(cached.Name())
	}

	e, err := r.client.Retrieve(ctx, model.EntityContact, id, r.coreColumns(attributes))
	if err != nil {
		r.logger.Error("ошибка получения контакта по id",
			slog.String("id", id.String()),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	u := r.userFromEntity(e)
	r.cache.SetUser(u)
	return u, nil
}

// findUsers выполняет постраничный поиск по одному условию.
func (r *userRepo) findUsers(ctx context.Context, attribute, pattern string, pageIndex, pageSize int) ([]*model.CRMUser, int, error) {
	if err := requireNonEmpty("pattern", pattern); err != nil {
		return nil, 0, err
	}
	if pageSize <= 0 {
		pageSize = r.cfg.PageSize
	}

	page, err := r.client.RetrieveMultiple(ctx, crmclient.Query{
		Entity:  model.EntityContact,
		Columns: r.coreColumns([]string{attrContactEmail}),
		Conditions: []crmclient.Condition{
			{Attribute: attribute, Operator: "like", Value: pattern},
		},
		ActiveOnly:       true,
		Page:             pageIndex + 1,
		PageSize:         pageSize,
		ReturnTotalCount: true,
	})
	if err != nil {
		r.logger.Error("ошибка поиска контактов",
			slog.String("attribute", attribute),
			slog.String("pattern", pattern),
			slog.String("error", err.Error()),
		)
		return nil, 0, nil
	}

	users := r.dedupUsers(page.Entities)
	return users, translateTotal(page.TotalCount, page.TotalCountLimitExceeded), nil
}

// FindUsersByEmail ищет пользователей по шаблону e-mail.
func (r *userRepo) FindUsersByEmail(ctx context.Context, pattern string, pageIndex, pageSize int) ([]*model.CRMUser, int, error) {
	return r.findUsers(ctx, attrContactEmail, pattern, pageIndex, pageSize)
}

// FindUsersByName ищет пользователей по шаблону имени (unique-key поле).
func (r *userRepo) FindUsersByName(ctx context.Context, pattern string, pageIndex, pageSize int) ([]*model.CRMUser, int, error) {
	return r.findUsers(ctx, r.cfg.UniqueKeyField, pattern, pageIndex, pageSize)
}

// GetAllUsers возвращает страницу всех активных пользователей.
// Серверный сигнал "слишком много для подсчёта" превращается
// в фиксированный итог MaxReportedTotal и никогда не является ошибкой.
func (r *userRepo) GetAllUsers(ctx context.Context, pageIndex, pageSize int) ([]*model.CRMUser, int, error) {
	if pageSize <= 0 {
		pageSize = r.cfg.PageSize
	}

	page, err := r.client.RetrieveMultiple(ctx, crmclient.Query{
		Entity:           model.EntityContact,
		Columns:          r.coreColumns([]string{attrContactEmail}),
		ActiveOnly:       true,
		Page:             pageIndex + 1,
		PageSize:         pageSize,
		ReturnTotalCount: true,
	})
	if err != nil {
		r.logger.Error("ошибка получения списка контактов",
			slog.String("error", err.Error()),
		)
		return nil, 0, nil
	}

	users := r.dedupUsers(page.Entities)
	return users, translateTotal(page.TotalCount, page.TotalCountLimitExceeded), nil
}

// GetUsers возвращает пользователей по списку имён.
// Не найденные имена пропускаются без ошибки.
func (r *userRepo) GetUsers(ctx context.Context, names []string) ([]*model.CRMUser, error) {
	if err := requireNonEmptyList("names", names); err != nil {
		return nil, err
	}
	var out []*model.CRMUser
	for _, name := range names {
		u, err := r.GetUser(ctx, name)
		if err != nil {
			return nil, err
		}
		if u != nil {
			out = append(out, u)
		}
	}
	return out, nil
}
