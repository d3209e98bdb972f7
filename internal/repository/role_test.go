package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/crmbridge/internal/cache"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

func newRoleRepo(t *testing.T, client *mockClient) (RoleRepository, *roleRepo) {
	t.Helper()
	c := newTestCache(t)
	users := NewUserRepository(client, c, testConfig, testLogger())
	repo := NewRoleRepository(client, c, users, testConfig, testLogger())
	return repo, repo.(*roleRepo)
}

// seedUser кладёт пользователя в кэш, чтобы разрешение имени
// не требовало удалённого вызова.
func seedUser(c *cache.Service, name string, id uuid.UUID) *model.CRMUser {
	u := model.NewCRMUser(name, id)
	c.SetUser(u)
	return u
}

// seedRole кладёт роль в кэш.
func seedRole(c *cache.Service, name string, id uuid.UUID) *model.CRMRole {
	r := model.NewCRMRole(name, id)
	c.SetRole(r)
	return r
}

func TestRoleRepo_GetRole_ReadThrough(t *testing.T) {
	id := uuid.New()
	calls := 0
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, q crmclient.Query) (*crmclient.Page, error) {
			calls++
			if q.Entity != model.EntityList {
				t.Errorf("сущность запроса = %q, ожидалась %q", q.Entity, model.EntityList)
			}
			e := listEntity("Менеджеры", id)
			e.Set("type", model.BoolValue(true))
			return singlePage(e), nil
		},
	}
	repo, _ := newRoleRepo(t, client)

	role, err := repo.GetRole(context.Background(), "Менеджеры")
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if role == nil {
		t.Fatal("роль не найдена")
	}
	if role.Name() != "Менеджеры" || role.ID() != id {
		t.Errorf("роль = %q/%s", role.Name(), role.ID())
	}
	if !role.IsDynamicList {
		t.Error("булев атрибут type должен давать динамический список")
	}

	if _, err := repo.GetRole(context.Background(), "Менеджеры"); err != nil {
		t.Fatalf("повторный GetRole: %v", err)
	}
	if calls != 1 {
		t.Errorf("удалённых вызовов = %d, ожидался 1", calls)
	}
}

func TestRoleFromEntity_DynamicListNumeric(t *testing.T) {
	// Числовой атрибут type: динамический список при значении ListTypeDynamic.
	e := listEntity("Менеджеры", uuid.New())
	e.Set("type", model.NumberValue(model.ListTypeDynamic))
	if r := roleFromEntity(e); !r.IsDynamicList {
		t.Error("type=1 должен давать динамический список")
	}

	e2 := listEntity("Менеджеры", uuid.New())
	e2.Set("type", model.PicklistValue(0))
	if r := roleFromEntity(e2); r.IsDynamicList {
		t.Error("type=0 должен давать статический список")
	}
}

func TestRoleRepo_CreateRole_Duplicate(t *testing.T) {
	createCalls := 0
	client := &mockClient{
		createFn: func(_ context.Context, _ *model.Entity) (uuid.UUID, error) {
			createCalls++
			return uuid.New(), nil
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedRole(impl.cache, "Менеджеры", uuid.New())

	ok, err := repo.CreateRole(context.Background(), "Менеджеры")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if ok {
		t.Error("создание дубликата должно вернуть false")
	}
	if createCalls != 0 {
		t.Errorf("Create вызван %d раз, удалённых вызовов быть не должно", createCalls)
	}
}

func TestRoleRepo_CreateRole(t *testing.T) {
	id := uuid.New()
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return singlePage(), nil
		},
		createFn: func(_ context.Context, e *model.Entity) (uuid.UUID, error) {
			if e.LogicalName != model.EntityList {
				t.Errorf("сущность = %q", e.LogicalName)
			}
			if v, ok := e.Get("listname"); !ok || v.Text() != "Менеджеры" {
				t.Errorf("атрибут listname = %v", v)
			}
			return id, nil
		},
	}
	repo, impl := newRoleRepo(t, client)

	ok, err := repo.CreateRole(context.Background(), "Менеджеры")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if !ok {
		t.Fatal("роль не создана")
	}
	if cached, found := impl.cache.GetRole("Менеджеры"); !found || cached.ID() != id {
		t.Error("созданная роль не закэширована")
	}
}

func TestRoleRepo_DeactivateRole(t *testing.T) {
	id := uuid.New()
	client := &mockClient{
		setStateFn: func(_ context.Context, logicalName string, gotID uuid.UUID, state, status int) error {
			if logicalName != model.EntityList || gotID != id {
				t.Errorf("SetState(%q, %s)", logicalName, gotID)
			}
			if state != model.StateInactive || status != model.StatusDefault {
				t.Errorf("SetState(state=%d, status=%d)", state, status)
			}
			return nil
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedRole(impl.cache, "Менеджеры", id)
	impl.cache.SetMembers("Другая Роль", []string{"Иван Петров"})

	ok, err := repo.DeactivateRole(context.Background(), "Менеджеры")
	if err != nil {
		t.Fatalf("DeactivateRole: %v", err)
	}
	if !ok {
		t.Fatal("деактивация не выполнена")
	}

	// Роль вытеснена, регион members очищен целиком.
	if _, found := impl.cache.GetRole("Менеджеры"); found {
		t.Error("роль осталась в кэше")
	}
	if _, found := impl.cache.GetMembers("Другая Роль"); found {
		t.Error("регион members не очищен после деактивации")
	}
}

func TestRoleRepo_GetRolesForUser_DrainsPages(t *testing.T) {
	// Все страницы link-запроса выкачиваются до кэширования.
	userID := uuid.New()
	calls := 0
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, q crmclient.Query) (*crmclient.Page, error) {
			calls++
			if q.Link == nil {
				t.Fatal("membership-запрос без link-связи")
			}
			if q.Link.Conditions[0].Value != userID.String() {
				t.Errorf("условие link = %q", q.Link.Conditions[0].Value)
			}
			switch q.Page {
			case 1:
				return &crmclient.Page{
					Entities:     []*model.Entity{listEntity("Менеджеры", uuid.New())},
					MoreRecords:  true,
					PagingCookie: "cookie-1",
				}, nil
			case 2:
				if q.PagingCookie != "cookie-1" {
					t.Errorf("курсор второй страницы = %q", q.PagingCookie)
				}
				return singlePage(listEntity("Операторы", uuid.New())), nil
			default:
				t.Fatalf("неожиданная страница %d", q.Page)
				return nil, nil
			}
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedUser(impl.cache, "Иван Петров", userID)

	roles, err := repo.GetRolesForUser(context.Background(), "Иван Петров")
	if err != nil {
		t.Fatalf("GetRolesForUser: %v", err)
	}
	if len(roles) != 2 || roles[0] != "Менеджеры" || roles[1] != "Операторы" {
		t.Errorf("роли = %v", roles)
	}
	if calls != 2 {
		t.Errorf("удалённых вызовов = %d, ожидалось 2", calls)
	}

	// Повторное чтение обслуживается кэшем memberOf.
	if _, err := repo.GetRolesForUser(context.Background(), "Иван Петров"); err != nil {
		t.Fatalf("повторный GetRolesForUser: %v", err)
	}
	if calls != 2 {
		t.Errorf("после кэширования вызовов = %d", calls)
	}
}

func TestRoleRepo_GetRolesForUser_UnknownUser(t *testing.T) {
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return singlePage(), nil
		},
	}
	repo, _ := newRoleRepo(t, client)

	if _, err := repo.GetRolesForUser(context.Background(), "Нет Такого"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("ожидалась ErrUserNotFound, получено: %v", err)
	}
}

func TestRoleRepo_IsUserInRole(t *testing.T) {
	repo, impl := newRoleRepo(t, &mockClient{})
	impl.cache.SetMemberOf("Иван Петров", []string{"Менеджеры", "Операторы"})

	in, err := repo.IsUserInRole(context.Background(), "Иван Петров", "Операторы")
	if err != nil {
		t.Fatalf("IsUserInRole: %v", err)
	}
	if !in {
		t.Error("пользователь должен состоять в роли")
	}

	in, err = repo.IsUserInRole(context.Background(), "Иван Петров", "Администраторы")
	if err != nil {
		t.Fatalf("IsUserInRole: %v", err)
	}
	if in {
		t.Error("пользователь не должен состоять в роли")
	}
}

func TestRoleRepo_AddUsersToRoles(t *testing.T) {
	userID, roleID := uuid.New(), uuid.New()
	var pairs [][2]uuid.UUID
	client := &mockClient{
		addListMemberFn: func(_ context.Context, listID, contactID uuid.UUID) error {
			pairs = append(pairs, [2]uuid.UUID{listID, contactID})
			return nil
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedUser(impl.cache, "Иван Петров", userID)
	seedRole(impl.cache, "Менеджеры", roleID)
	impl.cache.SetMembers("Менеджеры", []string{})
	impl.cache.SetMemberOf("Иван Петров", []string{})

	ok, err := repo.AddUsersToRoles(context.Background(), []string{"Иван Петров"}, []string{"Менеджеры"})
	if err != nil {
		t.Fatalf("AddUsersToRoles: %v", err)
	}
	if !ok {
		t.Fatal("батч не выполнен")
	}
	if len(pairs) != 1 || pairs[0] != [2]uuid.UUID{roleID, userID} {
		t.Errorf("пары вызовов = %v", pairs)
	}

	// Производные кэши пары инвалидированы.
	if _, found := impl.cache.GetMembers("Менеджеры"); found {
		t.Error("кэш members роли не инвалидирован")
	}
	if _, found := impl.cache.GetMemberOf("Иван Петров"); found {
		t.Error("кэш memberOf пользователя не инвалидирован")
	}
}

func TestRoleRepo_AddUsersToRoles_UnknownRole(t *testing.T) {
	addCalls := 0
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return singlePage(), nil
		},
		addListMemberFn: func(_ context.Context, _, _ uuid.UUID) error {
			addCalls++
			return nil
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedUser(impl.cache, "Иван Петров", uuid.New())

	_, err := repo.AddUsersToRoles(context.Background(), []string{"Иван Петров"}, []string{"Нет Такой"})
	if !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("ожидалась ErrRoleNotFound, получено: %v", err)
	}
	if addCalls != 0 {
		t.Errorf("AddListMember вызван %d раз до проверки предусловий", addCalls)
	}
}

func TestRoleRepo_AddUsersToRoles_PartialFailure(t *testing.T) {
	// Сбой пары завершает батч как неуспешный без ошибки;
	// выполненные инвалидации не откатываются.
	u1, u2, roleID := uuid.New(), uuid.New(), uuid.New()
	calls := 0
	client := &mockClient{
		addListMemberFn: func(_ context.Context, _, contactID uuid.UUID) error {
			calls++
			if contactID == u2 {
				return errors.New("timeout")
			}
			return nil
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedUser(impl.cache, "Иван Петров", u1)
	seedUser(impl.cache, "Пётр Иванов", u2)
	seedRole(impl.cache, "Менеджеры", roleID)

	ok, err := repo.AddUsersToRoles(context.Background(), []string{"Иван Петров", "Пётр Иванов"}, []string{"Менеджеры"})
	if err != nil {
		t.Fatalf("сбой CRM должен поглощаться, получено: %v", err)
	}
	if ok {
		t.Error("частично выполненный батч должен вернуть false")
	}
	if calls != 2 {
		t.Errorf("удалённых вызовов = %d, ожидалось 2", calls)
	}
}

func TestRoleRepo_RemoveUsersFromRoles(t *testing.T) {
	userID, roleID := uuid.New(), uuid.New()
	var pairs [][2]uuid.UUID
	client := &mockClient{
		removeListMemberFn: func(_ context.Context, listID, contactID uuid.UUID) error {
			pairs = append(pairs, [2]uuid.UUID{listID, contactID})
			return nil
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedUser(impl.cache, "Иван Петров", userID)
	seedRole(impl.cache, "Менеджеры", roleID)
	impl.cache.SetMemberOf("Иван Петров", []string{"Менеджеры"})

	ok, err := repo.RemoveUsersFromRoles(context.Background(), []string{"Иван Петров"}, []string{"Менеджеры"})
	if err != nil {
		t.Fatalf("RemoveUsersFromRoles: %v", err)
	}
	if !ok {
		t.Fatal("батч не выполнен")
	}
	if len(pairs) != 1 || pairs[0] != [2]uuid.UUID{roleID, userID} {
		t.Errorf("пары вызовов = %v", pairs)
	}
}

func TestRoleRepo_RemoveUsersFromRoles_NotMember(t *testing.T) {
	// Нарушение предусловия членства отклоняет весь батч
	// до каких-либо удалённых мутаций.
	removeCalls := 0
	client := &mockClient{
		removeListMemberFn: func(_ context.Context, _, _ uuid.UUID) error {
			removeCalls++
			return nil
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedUser(impl.cache, "Иван Петров", uuid.New())
	seedRole(impl.cache, "Менеджеры", uuid.New())
	seedRole(impl.cache, "Операторы", uuid.New())
	impl.cache.SetMemberOf("Иван Петров", []string{"Менеджеры"})

	_, err := repo.RemoveUsersFromRoles(context.Background(),
		[]string{"Иван Петров"}, []string{"Менеджеры", "Операторы"})
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("ожидалась ErrNotMember, получено: %v", err)
	}
	if removeCalls != 0 {
		t.Errorf("RemoveListMember вызван %d раз при нарушенном предусловии", removeCalls)
	}
}

func TestRoleRepo_BatchArgumentViolations(t *testing.T) {
	repo, _ := newRoleRepo(t, &mockClient{})
	ctx := context.Background()

	if _, err := repo.AddUsersToRoles(ctx, nil, []string{"Менеджеры"}); !errors.Is(err, ErrArgument) {
		t.Errorf("пустой список пользователей: %v", err)
	}
	if _, err := repo.AddUsersToRoles(ctx, []string{"Иван"}, nil); !errors.Is(err, ErrArgument) {
		t.Errorf("пустой список ролей: %v", err)
	}
	if _, err := repo.RemoveUsersFromRoles(ctx, []string{""}, []string{"Менеджеры"}); !errors.Is(err, ErrArgument) {
		t.Errorf("пустой элемент списка: %v", err)
	}
}

func TestRoleRepo_GetUsersInRole(t *testing.T) {
	roleID := uuid.New()
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, q crmclient.Query) (*crmclient.Page, error) {
			if q.Entity != model.EntityContact {
				t.Errorf("сущность запроса = %q", q.Entity)
			}
			if q.Link == nil || q.Link.Conditions[0].Value != roleID.String() {
				t.Errorf("link-связь: %+v", q.Link)
			}
			return singlePage(
				contactEntity("Иван Петров", uuid.New(), nil),
				contactEntity("Пётр Иванов", uuid.New(), nil),
			), nil
		},
	}
	repo, impl := newRoleRepo(t, client)
	seedRole(impl.cache, "Менеджеры", roleID)

	users, err := repo.GetUsersInRole(context.Background(), "Менеджеры")
	if err != nil {
		t.Fatalf("GetUsersInRole: %v", err)
	}
	if len(users) != 2 || users[0] != "Иван Петров" || users[1] != "Пётр Иванов" {
		t.Errorf("члены роли = %v", users)
	}

	// Полный список закэширован.
	if cached, found := impl.cache.GetMembers("Менеджеры"); !found || len(cached) != 2 {
		t.Error("список членов не закэширован")
	}
}

func TestRoleRepo_GetUsersInRole_UnknownRole(t *testing.T) {
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return singlePage(), nil
		},
	}
	repo, _ := newRoleRepo(t, client)

	if _, err := repo.GetUsersInRole(context.Background(), "Нет Такой"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("ожидалась ErrRoleNotFound, получено: %v", err)
	}
}

func TestRoleRepo_GetAllRoles_Dedup(t *testing.T) {
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return singlePage(
				listEntity("Менеджеры", uuid.New()),
				listEntity("Менеджеры", uuid.New()),
				listEntity("Операторы", uuid.New()),
			), nil
		},
	}
	repo, _ := newRoleRepo(t, client)

	roles, err := repo.GetAllRoles(context.Background())
	if err != nil {
		t.Fatalf("GetAllRoles: %v", err)
	}
	if len(roles) != 2 {
		t.Errorf("ролей = %d, ожидалось 2", len(roles))
	}
}
