package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

func newUserRepo(t *testing.T, client *mockClient) (UserRepository, *userRepo) {
	t.Helper()
	repo := NewUserRepository(client, newTestCache(t), testConfig, testLogger())
	return repo, repo.(*userRepo)
}

func TestUserRepo_GetUser_ReadThrough(t *testing.T) {
	id := uuid.New()
	calls := 0
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, q crmclient.Query) (*crmclient.Page, error) {
			calls++
			if q.Entity != model.EntityContact {
				t.Errorf("сущность запроса = %q, ожидалось %q", q.Entity, model.EntityContact)
			}
			if !q.ActiveOnly {
				t.Error("запрос должен фильтровать только активные записи")
			}
			if q.Page != 1 || q.PageSize != 1 {
				t.Errorf("пагинация = %d/%d, ожидалось 1/1", q.Page, q.PageSize)
			}
			return singlePage(contactEntity("Иван Петров", id, map[string]model.Value{
				"emailaddress1": model.StringValue("ivan@example.com"),
			})), nil
		},
	}
	repo, _ := newUserRepo(t, client)

	u, err := repo.GetUser(context.Background(), "Иван Петров")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u == nil {
		t.Fatal("пользователь не найден")
	}
	if u.Name() != "Иван Петров" || u.ID() != id {
		t.Errorf("пользователь = %q/%s, ожидалось %q/%s", u.Name(), u.ID(), "Иван Петров", id)
	}
	if u.Email != "ivan@example.com" {
		t.Errorf("email = %q", u.Email)
	}

	// Повторное чтение обслуживается кэшем без удалённого вызова.
	if _, err := repo.GetUser(context.Background(), "Иван Петров"); err != nil {
		t.Fatalf("повторный GetUser: %v", err)
	}
	if calls != 1 {
		t.Errorf("удалённых вызовов = %d, ожидался 1", calls)
	}
}

func TestUserRepo_GetUser_SupersetMiss(t *testing.T) {
	// Закэшированный экземпляр без запрошенного атрибута вытесняется
	// и перечитывается с расширенным набором колонок.
	id := uuid.New()
	var requested []string
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, q crmclient.Query) (*crmclient.Page, error) {
			requested = q.Columns
			return singlePage(contactEntity("Иван Петров", id, map[string]model.Value{
				"telephone1": model.StringValue("+7 900 000-00-00"),
			})), nil
		},
	}
	repo, impl := newUserRepo(t, client)
	impl.cache.SetUser(model.NewCRMUser("Иван Петров", id))

	u, err := repo.GetUser(context.Background(), "Иван Петров", "telephone1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u == nil {
		t.Fatal("пользователь не найден")
	}
	if !u.HasProperty("telephone1") {
		t.Error("атрибут telephone1 не загружен после superset-промаха")
	}
	found := false
	for _, c := range requested {
		if c == "telephone1" {
			found = true
		}
	}
	if !found {
		t.Errorf("колонка telephone1 не запрошена: %v", requested)
	}
}

func TestUserRepo_GetUser_AbsorbsRemoteFailure(t *testing.T) {
	// Сбой CRM — не ошибка для вызывающего кода: nil без ошибки.
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return nil, errors.New("connection refused")
		},
	}
	repo, _ := newUserRepo(t, client)

	u, err := repo.GetUser(context.Background(), "Иван Петров")
	if err != nil {
		t.Fatalf("сбой CRM должен поглощаться, получено: %v", err)
	}
	if u != nil {
		t.Errorf("ожидался nil, получен %v", u)
	}
}

func TestUserRepo_GetUser_EmptyName(t *testing.T) {
	repo, _ := newUserRepo(t, &mockClient{})
	if _, err := repo.GetUser(context.Background(), ""); !errors.Is(err, ErrArgument) {
		t.Errorf("ожидалась ErrArgument, получено: %v", err)
	}
}

func TestUserRepo_CreateUser(t *testing.T) {
	id := uuid.New()
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return singlePage(), nil
		},
		createFn: func(_ context.Context, e *model.Entity) (uuid.UUID, error) {
			if v, ok := e.Get("fullname"); !ok || v.Text() != "Иван Петров" {
				t.Errorf("атрибут fullname = %v", v)
			}
			if v, ok := e.Get("firstname"); !ok || v.Text() != "Иван" {
				t.Errorf("атрибут firstname = %v", v)
			}
			if v, ok := e.Get("lastname"); !ok || v.Text() != "Петров" {
				t.Errorf("атрибут lastname = %v", v)
			}
			return id, nil
		},
	}
	repo, impl := newUserRepo(t, client)

	u, err := repo.CreateUser(context.Background(), "Иван Петров", "ivan@example.com", uuid.Nil)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u == nil {
		t.Fatal("пользователь не создан")
	}
	if u.ID() != id {
		t.Errorf("id = %s, ожидался %s", u.ID(), id)
	}
	if !u.IsApproved {
		t.Error("созданный пользователь должен быть подтверждён")
	}

	// Синтезированный экземпляр доступен под обоими ключами кэша.
	if _, ok := impl.cache.GetUserByName("Иван Петров"); !ok {
		t.Error("пользователь не закэширован по имени")
	}
	if _, ok := impl.cache.GetUserByID(id.String()); !ok {
		t.Error("пользователь не закэширован по id")
	}
}

func TestUserRepo_CreateUser_Duplicate(t *testing.T) {
	// Дубликат имени — нормальный исход: nil без ошибки, запись не создаётся.
	id := uuid.New()
	createCalls := 0
	client := &mockClient{
		createFn: func(_ context.Context, _ *model.Entity) (uuid.UUID, error) {
			createCalls++
			return uuid.New(), nil
		},
	}
	repo, impl := newUserRepo(t, client)
	impl.cache.SetUser(model.NewCRMUser("Иван Петров", id))

	u, err := repo.CreateUser(context.Background(), "Иван Петров", "ivan@example.com", uuid.Nil)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u != nil {
		t.Errorf("ожидался nil для дубликата, получен %v", u)
	}
	if createCalls != 0 {
		t.Errorf("Create вызван %d раз, удалённых вызовов быть не должно", createCalls)
	}
}

func TestUserRepo_DeactivateUser(t *testing.T) {
	id := uuid.New()
	var stateArgs []int
	client := &mockClient{
		setStateFn: func(_ context.Context, logicalName string, gotID uuid.UUID, state, status int) error {
			if logicalName != model.EntityContact || gotID != id {
				t.Errorf("SetState(%q, %s)", logicalName, gotID)
			}
			stateArgs = []int{state, status}
			return nil
		},
	}
	repo, impl := newUserRepo(t, client)
	impl.cache.SetUser(model.NewCRMUser("Иван Петров", id))
	impl.cache.SetMemberOf("Другой Пользователь", []string{"Менеджеры"})

	ok, err := repo.DeactivateUser(context.Background(), "Иван Петров")
	if err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	if !ok {
		t.Fatal("деактивация не выполнена")
	}
	if stateArgs[0] != model.StateInactive || stateArgs[1] != model.StatusDefault {
		t.Errorf("SetState(state=%d, status=%d)", stateArgs[0], stateArgs[1])
	}

	// Пользователь вытеснен по обоим ключам, регион memberOf очищен целиком.
	if _, ok := impl.cache.GetUserByName("Иван Петров"); ok {
		t.Error("пользователь остался в кэше по имени")
	}
	if _, ok := impl.cache.GetUserByID(id.String()); ok {
		t.Error("пользователь остался в кэше по id")
	}
	if _, ok := impl.cache.GetMemberOf("Другой Пользователь"); ok {
		t.Error("регион memberOf не очищен после деактивации")
	}
}

func TestUserRepo_DeactivateUser_NotFound(t *testing.T) {
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return singlePage(), nil
		},
	}
	repo, _ := newUserRepo(t, client)

	ok, err := repo.DeactivateUser(context.Background(), "Нет Такого")
	if err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	if ok {
		t.Error("деактивация несуществующего пользователя должна вернуть false")
	}
}

func TestUserRepo_FindUsersByName_Dedup(t *testing.T) {
	// Дубликаты по имени устраняются: первое вхождение побеждает.
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, q crmclient.Query) (*crmclient.Page, error) {
			if len(q.Conditions) != 1 || q.Conditions[0].Operator != "like" {
				t.Errorf("условия запроса: %+v", q.Conditions)
			}
			return &crmclient.Page{
				Entities: []*model.Entity{
					contactEntity("Иван Петров", uuid.New(), nil),
					contactEntity("Иван Петров", uuid.New(), nil),
					contactEntity("Пётр Иванов", uuid.New(), nil),
				},
				TotalCount: 3,
			}, nil
		},
	}
	repo, _ := newUserRepo(t, client)

	users, total, err := repo.FindUsersByName(context.Background(), "Иван%", 0, 10)
	if err != nil {
		t.Fatalf("FindUsersByName: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("пользователей = %d, ожидалось 2", len(users))
	}
	if total != 3 {
		t.Errorf("итог = %d, ожидалось 3", total)
	}
}

func TestUserRepo_GetAllUsers_TotalOverflow(t *testing.T) {
	// Серверный сигнал "не смог посчитать точно" превращается
	// в фиксированный итог MaxReportedTotal.
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, _ crmclient.Query) (*crmclient.Page, error) {
			return &crmclient.Page{
				Entities:                []*model.Entity{contactEntity("Иван Петров", uuid.New(), nil)},
				TotalCount:              -1,
				TotalCountLimitExceeded: true,
			}, nil
		},
	}
	repo, _ := newUserRepo(t, client)

	_, total, err := repo.GetAllUsers(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("GetAllUsers: %v", err)
	}
	if total != MaxReportedTotal {
		t.Errorf("итог = %d, ожидался %d", total, MaxReportedTotal)
	}
}

func TestUserRepo_GetAllUsers_PageOffset(t *testing.T) {
	// Нумерация страниц наружу 0-based, внутрь CRM 1-based.
	var gotPage int
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, q crmclient.Query) (*crmclient.Page, error) {
			gotPage = q.Page
			return singlePage(), nil
		},
	}
	repo, _ := newUserRepo(t, client)

	if _, _, err := repo.GetAllUsers(context.Background(), 2, 10); err != nil {
		t.Fatalf("GetAllUsers: %v", err)
	}
	if gotPage != 3 {
		t.Errorf("страница CRM = %d, ожидалась 3", gotPage)
	}
}

func TestUserRepo_GetUsers_SkipsMissing(t *testing.T) {
	found := uuid.New()
	client := &mockClient{
		retrieveMultipleFn: func(_ context.Context, q crmclient.Query) (*crmclient.Page, error) {
			if q.Conditions[0].Value == "Иван Петров" {
				return singlePage(contactEntity("Иван Петров", found, nil)), nil
			}
			return singlePage(), nil
		},
	}
	repo, _ := newUserRepo(t, client)

	users, err := repo.GetUsers(context.Background(), []string{"Иван Петров", "Нет Такого"})
	if err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	if len(users) != 1 || users[0].ID() != found {
		t.Errorf("пользователи = %+v", users)
	}
}

func TestUserRepo_GetUsers_EmptyBatch(t *testing.T) {
	repo, _ := newUserRepo(t, &mockClient{})
	if _, err := repo.GetUsers(context.Background(), nil); !errors.Is(err, ErrArgument) {
		t.Errorf("ожидалась ErrArgument, получено: %v", err)
	}
	if _, err := repo.GetUsers(context.Background(), []string{"Иван", ""}); !errors.Is(err, ErrArgument) {
		t.Errorf("ожидалась ErrArgument для пустого элемента, получено: %v", err)
	}
}

func TestSplitFullName(t *testing.T) {
	cases := []struct {
		full, first, last string
	}{
		{"Иван Петров", "Иван", "Петров"},
		{"Иван", "Иван", ""},
		{"Анна Мария Кузнецова", "Анна", "Мария Кузнецова"},
		{"", "", ""},
	}
	for _, c := range cases {
		first, last := splitFullName(c.full)
		if first != c.first || last != c.last {
			t.Errorf("splitFullName(%q) = %q/%q, ожидалось %q/%q", c.full, first, last, c.first, c.last)
		}
	}
}

func TestTranslateTotal(t *testing.T) {
	if got := translateTotal(42, false); got != 42 {
		t.Errorf("translateTotal(42, false) = %d", got)
	}
	if got := translateTotal(-1, true); got != MaxReportedTotal {
		t.Errorf("translateTotal(-1, true) = %d, ожидался %d", got, MaxReportedTotal)
	}
}
