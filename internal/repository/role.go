// role.go — репозиторий ролей (CRM marketing lists) и членства.
// Read-through кэширование ролей по имени плюс два производных
// кэша направлений членства (members, memberOf), инвалидируемых
// вместе при любой мутации членства.
package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/crmbridge/internal/cache"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// RoleRepository — контракт доступа к ролям и членству.
type RoleRepository interface {
	// CreateRole создаёт marketing list. false без ошибки при дубликате/сбое CRM.
	CreateRole(ctx context.Context, name string) (bool, error)
	// DeactivateRole деактивирует список. false без ошибки при сбое CRM.
	DeactivateRole(ctx context.Context, name string) (bool, error)
	// IsUserInRole сообщает, состоит ли пользователь в роли.
	IsUserInRole(ctx context.Context, user, role string) (bool, error)
	// AddUsersToRoles добавляет каждого пользователя в каждую роль.
	// Предусловия проверяются до первого удалённого вызова.
	AddUsersToRoles(ctx context.Context, users, roles []string) (bool, error)
	// RemoveUsersFromRoles удаляет каждого пользователя из каждой роли.
	// Дополнительное предусловие: каждая пара уже состоит в членстве.
	RemoveUsersFromRoles(ctx context.Context, users, roles []string) (bool, error)
	// GetAllRoles возвращает все активные роли.
	GetAllRoles(ctx context.Context) ([]*model.CRMRole, error)
	// GetRole возвращает роль по имени. nil без ошибки — не найдена/сбой CRM.
	GetRole(ctx context.Context, name string) (*model.CRMRole, error)
	// GetRoles возвращает роли по списку имён (не найденные пропускаются).
	GetRoles(ctx context.Context, names []string) ([]*model.CRMRole, error)
	// GetRolesForUser возвращает имена ролей пользователя.
	GetRolesForUser(ctx context.Context, user string) ([]string, error)
	// GetUsersInRole возвращает имена пользователей роли.
	GetUsersInRole(ctx context.Context, role string) ([]string, error)
}

// roleRepo — реализация RoleRepository с координацией кэша.
type roleRepo struct {
	client crmclient.Service
	cache  *cache.Service
	users  UserRepository
	cfg    Config
	logger *slog.Logger
}

// NewRoleRepository создаёт репозиторий ролей.
// users — репозиторий пользователей для разрешения имён в батч-операциях.
func NewRoleRepository(client crmclient.Service, c *cache.Service, users UserRepository, cfg Config, logger *slog.Logger) RoleRepository {
	return &roleRepo{
		client: client,
		cache:  c,
		users:  users,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "role_repository")),
	}
}

// roleFromEntity конвертирует marketing list в CRMRole.
func roleFromEntity(e *model.Entity) *model.CRMRole {
	name := ""
	if v, ok := e.Get(attrListName); ok {
		name = v.Text()
	}
	r := model.NewCRMRole(name, e.ID)
	if v, ok := e.Get(attrListType); ok {
		switch v.Type() {
		case model.TypeNumber, model.TypePicklist:
			r.IsDynamicList = v.Int() == model.ListTypeDynamic
		case model.TypeBoolean:
			r.IsDynamicList = v.Bool()
		}
	}
	for _, attr := range e.Attributes() {
		v, _ := e.Get(attr)
		r.SetProperty(attr, v)
	}
	return r
}

// CreateRole создаёт marketing list и кэширует роль.
func (r *roleRepo) CreateRole(ctx context.Context, name string) (bool, error) {
	if err := requireNonEmpty("name", name); err != nil {
		return false, err
	}

	if existing, err := r.GetRole(ctx, name); err != nil {
		return false, err
	} else if existing != nil {
		r.logger.Warn("роль уже существует", slog.String("role", name))
		return false, nil
	}

	e := model.NewEntity(model.EntityList)
	e.Set(attrListName, model.StringValue(name))
	e.Set("membertype", model.NumberValue(2)) // member type: contact

	id, err := r.client.Create(ctx, e)
	if err != nil {
		r.logger.Error("ошибка создания роли",
			slog.String("role", name),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	role := model.NewCRMRole(name, id)
	role.SetProperty(attrListName, model.StringValue(name))
	r.cache.SetRole(role)

	r.logger.Info("роль создана",
		slog.String("role", name),
		slog.String("id", id.String()),
	)
	return true, nil
}

// DeactivateRole деактивирует список.
// При успехе роль вытесняется из кэша, а регион members очищается целиком:
// семантика членства сдвигается для всей организации, безопаснее сбросить всё.
func (r *roleRepo) DeactivateRole(ctx context.Context, name string) (bool, error) {
	if err := requireNonEmpty("name", name); err != nil {
		return false, err
	}

	role, err := r.GetRole(ctx, name)
	if err != nil {
		return false, err
	}
	if role == nil {
		return false, nil
	}

	if err := r.client.SetState(ctx, model.EntityList, role.ID(), model.StateInactive, model.StatusDefault); err != nil {
		r.logger.Error("ошибка деактивации роли",
			slog.String("role", name),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	r.cache.RemoveRole(name)
	r.cache.ClearMembers()

	r.logger.Info("роль деактивирована", slog.String("role", name))
	return true, nil
}

// GetRole возвращает роль по имени (read-through).
func (r *roleRepo) GetRole(ctx context.Context, name string) (*model.CRMRole, error) {
	if err := requireNonEmpty("name", name); err != nil {
		return nil, err
	}

	if cached, ok := r.cache.GetRole(name); ok {
		return cached, nil
	}

	page, err := r.client.RetrieveMultiple(ctx, crmclient.Query{
		Entity:  model.EntityList,
		Columns: []string{attrListName, attrListType},
		Conditions: []crmclient.Condition{
			{Attribute: attrListName, Operator: "eq", Value: name},
		},
		ActiveOnly: true,
		Page:       1,
		PageSize:   1,
	})
	if err != nil {
		r.logger.Error("ошибка получения роли",
			slog.String("role", name),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if len(page.Entities) == 0 {
		return nil, nil
	}

	role := roleFromEntity(page.Entities[0])
	r.cache.SetRole(role)
	return role, nil
}

// GetAllRoles возвращает все активные роли, полностью выкачивая страницы.
func (r *roleRepo) GetAllRoles(ctx context.Context) ([]*model.CRMRole, error) {
	var out []*model.CRMRole
	seen := map[string]bool{}

	q := crmclient.Query{
		Entity:     model.EntityList,
		Columns:    []string{attrListName, attrListType},
		ActiveOnly: true,
		Page:       1,
		PageSize:   r.cfg.PageSize,
	}
	for {
		page, err := r.client.RetrieveMultiple(ctx, q)
		if err != nil {
			r.logger.Error("ошибка получения списка ролей",
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
		for _, e := range page.Entities {
			role := roleFromEntity(e)
			if role.Name() == "" || seen[role.Name()] {
				continue
			}
			seen[role.Name()] = true
			r.cache.SetRole(role)
			out = append(out, role)
		}
		if !page.MoreRecords {
			break
		}
		q.Page++
		q.PagingCookie = page.PagingCookie
	}
	return out, nil
}

// GetRoles возвращает роли по списку имён.
func (r *roleRepo) GetRoles(ctx context.Context, names []string) ([]*model.CRMRole, error) {
	if err := requireNonEmptyList("names", names); err != nil {
		return nil, err
	}
	var out []*model.CRMRole
	for _, name := range names {
		role, err := r.GetRole(ctx, name)
		if err != nil {
			return nil, err
		}
		if role != nil {
			out = append(out, role)
		}
	}
	return out, nil
}

// IsUserInRole сообщает, состоит ли пользователь в роли.
func (r *roleRepo) IsUserInRole(ctx context.Context, user, role string) (bool, error) {
	if err := requireNonEmpty("user", user); err != nil {
		return false, err
	}
	if err := requireNonEmpty("role", role); err != nil {
		return false, err
	}
	roles, err := r.GetRolesForUser(ctx, user)
	if err != nil {
		return false, err
	}
	for _, rn := range roles {
		if rn == role {
			return true, nil
		}
	}
	return false, nil
}

// GetRolesForUser возвращает имена ролей пользователя (read-through).
// При промахе выполняется постраничный link-запрос list ↔ listmember;
// все страницы выкачиваются до кэширования — частичное представление
// членства кэшировать нельзя.
func (r *roleRepo) GetRolesForUser(ctx context.Context, user string) ([]string, error) {
	if err := requireNonEmpty("user", user); err != nil {
		return nil, err
	}

	if cached, ok := r.cache.GetMemberOf(user); ok {
		return cached, nil
	}

	u, err := r.users.GetUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}

	var names []string
	q := crmclient.Query{
		Entity:     model.EntityList,
		Columns:    []string{attrListName},
		ActiveOnly: true,
		Link: &crmclient.Link{
			Entity:        model.EntityListMember,
			FromAttribute: attrListID,
			ToAttribute:   attrListMemberList,
			Conditions: []crmclient.Condition{
				{Attribute: attrListMemberEntity, Operator: "eq", Value: u.ID().String()},
			},
		},
		Page:     1,
		PageSize: r.cfg.PageSize,
	}
	for {
		page, err := r.client.RetrieveMultiple(ctx, q)
		if err != nil {
			r.logger.Error("ошибка получения ролей пользователя",
				slog.String("user", user),
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
		for _, e := range page.Entities {
			if v, ok := e.Get(attrListName); ok && v.Text() != "" {
				names = append(names, v.Text())
			}
		}
		if !page.MoreRecords {
			break
		}
		q.Page++
		q.PagingCookie = page.PagingCookie
	}

	r.cache.SetMemberOf(user, names)
	return names, nil
}

// GetUsersInRole возвращает имена пользователей роли (read-through).
func (r *roleRepo) GetUsersInRole(ctx context.Context, role string) ([]string, error) {
	if err := requireNonEmpty("role", role); err != nil {
		return nil, err
	}

	if cached, ok := r.cache.GetMembers(role); ok {
		return cached, nil
	}

	rl, err := r.GetRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if rl == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, role)
	}

	var names []string
	q := crmclient.Query{
		Entity:     model.EntityContact,
		Columns:    []string{r.cfg.UniqueKeyField},
		ActiveOnly: true,
		Link: &crmclient.Link{
			Entity:        model.EntityListMember,
			FromAttribute: attrContactID,
			ToAttribute:   attrListMemberEntity,
			Conditions: []crmclient.Condition{
				{Attribute: attrListMemberList, Operator: "eq", Value: rl.ID().String()},
			},
		},
		Page:     1,
		PageSize: r.cfg.PageSize,
	}
	for {
		page, err := r.client.RetrieveMultiple(ctx, q)
		if err != nil {
			r.logger.Error("ошибка получения членов роли",
				slog.String("role", role),
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
		for _, e := range page.Entities {
			if v, ok := e.Get(r.cfg.UniqueKeyField); ok && v.Text() != "" {
				names = append(names, v.Text())
			}
		}
		if !page.MoreRecords {
			break
		}
		q.Page++
		q.PagingCookie = page.PagingCookie
	}

	r.cache.SetMembers(role, names)
	return names, nil
}

// resolveBatch проверяет предусловия батч-мутации и разрешает имена.
// Короткое замыкание на первом нарушении, до любых удалённых мутаций.
func (r *roleRepo) resolveBatch(ctx context.Context, users, roles []string) ([]*model.CRMUser, []*model.CRMRole, error) {
	if err := requireNonEmptyList("users", users); err != nil {
		return nil, nil, err
	}
	if err := requireNonEmptyList("roles", roles); err != nil {
		return nil, nil, err
	}

	resolvedUsers := make([]*model.CRMUser, 0, len(users))
	for _, name := range users {
		u, err := r.users.GetUser(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if u == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrUserNotFound, name)
		}
		resolvedUsers = append(resolvedUsers, u)
	}

	resolvedRoles := make([]*model.CRMRole, 0, len(roles))
	for _, name := range roles {
		role, err := r.GetRole(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if role == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
		}
		resolvedRoles = append(resolvedRoles, role)
	}

	return resolvedUsers, resolvedRoles, nil
}

// AddUsersToRoles добавляет каждого пользователя в каждую роль.
// Порядок фиксированный: роль — внешний цикл, пользователь — внутренний.
// Инвалидация кэшей пары выполняется сразу после успеха её удалённого
// вызова; при сбое пары батч завершается как неуспешный, выполненные
// инвалидации не откатываются.
func (r *roleRepo) AddUsersToRoles(ctx context.Context, users, roles []string) (bool, error) {
	resolvedUsers, resolvedRoles, err := r.resolveBatch(ctx, users, roles)
	if err != nil {
		return false, err
	}

	for _, role := range resolvedRoles {
		for _, u := range resolvedUsers {
			if err := r.client.AddListMember(ctx, role.ID(), u.ID()); err != nil {
				r.logger.Error("ошибка добавления пользователя в роль",
					slog.String("user", u.Name()),
					slog.String("role", role.Name()),
					slog.String("error", err.Error()),
				)
				return false, nil
			}
			r.cache.RemoveMembers(role.Name())
			r.cache.RemoveMemberOf(u.Name())
		}
	}
	return true, nil
}

// RemoveUsersFromRoles удаляет каждого пользователя из каждой роли.
// Дополнительное предусловие: каждая пара (user, role) уже состоит
// в членстве — иначе весь батч отклоняется до каких-либо мутаций.
func (r *roleRepo) RemoveUsersFromRoles(ctx context.Context, users, roles []string) (bool, error) {
	resolvedUsers, resolvedRoles, err := r.resolveBatch(ctx, users, roles)
	if err != nil {
		return false, err
	}

	for _, u := range resolvedUsers {
		userRoles, err := r.GetRolesForUser(ctx, u.Name())
		if err != nil {
			return false, err
		}
		membership := make(map[string]bool, len(userRoles))
		for _, rn := range userRoles {
			membership[rn] = true
		}
		for _, role := range resolvedRoles {
			if !membership[role.Name()] {
				return false, fmt.Errorf("%w: %s не состоит в %s", ErrNotMember, u.Name(), role.Name())
			}
		}
	}

	for _, role := range resolvedRoles {
		for _, u := range resolvedUsers {
			if err := r.client.RemoveListMember(ctx, role.ID(), u.ID()); err != nil {
				r.logger.Error("ошибка удаления пользователя из роли",
					slog.String("user", u.Name()),
					slog.String("role", role.Name()),
					slog.String("error", err.Error()),
				)
				return false, nil
			}
			r.cache.RemoveMembers(role.Name())
			r.cache.RemoveMemberOf(u.Name())
		}
	}
	return true, nil
}
