package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/crmbridge/internal/domain/model"
)

func newCache(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	c, err := New(16, ttl)
	if err != nil {
		t.Fatalf("создание кэша: %v", err)
	}
	return c
}

func TestCache_UserDualKey(t *testing.T) {
	c := newCache(t, time.Minute)
	id := uuid.New()
	c.SetUser(model.NewCRMUser("Иван Петров", id))

	byName, ok := c.GetUserByName("Иван Петров")
	if !ok {
		t.Fatal("промах по имени")
	}
	byID, ok := c.GetUserByID(id.String())
	if !ok {
		t.Fatal("промах по id")
	}
	// Оба ключа разрешаются в одну логическую запись.
	if byName != byID {
		t.Error("ключи name и id указывают на разные экземпляры")
	}
}

func TestCache_RemoveUser_BothKeys(t *testing.T) {
	c := newCache(t, time.Minute)
	id := uuid.New()
	c.SetUser(model.NewCRMUser("Иван Петров", id))

	c.RemoveUser("Иван Петров")

	if _, ok := c.GetUserByName("Иван Петров"); ok {
		t.Error("пользователь остался по имени")
	}
	if _, ok := c.GetUserByID(id.String()); ok {
		t.Error("пользователь остался по id")
	}
}

func TestCache_Roles(t *testing.T) {
	c := newCache(t, time.Minute)
	c.SetRole(model.NewCRMRole("Менеджеры", uuid.New()))

	if _, ok := c.GetRole("Менеджеры"); !ok {
		t.Error("промах после добавления")
	}
	c.RemoveRole("Менеджеры")
	if _, ok := c.GetRole("Менеджеры"); ok {
		t.Error("роль осталась после удаления")
	}
}

func TestCache_MembershipRegions(t *testing.T) {
	c := newCache(t, time.Minute)
	c.SetMembers("Менеджеры", []string{"Иван Петров"})
	c.SetMembers("Операторы", []string{"Пётр Иванов"})
	c.SetMemberOf("Иван Петров", []string{"Менеджеры"})
	c.SetMemberOf("Пётр Иванов", []string{"Операторы"})

	// Точечная инвалидация затрагивает только свой ключ.
	c.RemoveMembers("Менеджеры")
	if _, ok := c.GetMembers("Менеджеры"); ok {
		t.Error("кэш members не инвалидирован")
	}
	if _, ok := c.GetMembers("Операторы"); !ok {
		t.Error("точечная инвалидация затронула чужой ключ")
	}

	c.RemoveMemberOf("Иван Петров")
	if _, ok := c.GetMemberOf("Иван Петров"); ok {
		t.Error("кэш memberOf не инвалидирован")
	}
	if _, ok := c.GetMemberOf("Пётр Иванов"); !ok {
		t.Error("точечная инвалидация затронула чужой ключ")
	}
}

func TestCache_ClearRegions(t *testing.T) {
	c := newCache(t, time.Minute)
	c.SetMembers("Менеджеры", []string{"Иван Петров"})
	c.SetMembers("Операторы", []string{"Пётр Иванов"})
	c.SetMemberOf("Иван Петров", []string{"Менеджеры"})

	c.ClearMembers()
	if _, ok := c.GetMembers("Менеджеры"); ok {
		t.Error("регион members не очищен")
	}
	if _, ok := c.GetMembers("Операторы"); ok {
		t.Error("регион members не очищен")
	}
	// Очистка members не затрагивает memberOf.
	if _, ok := c.GetMemberOf("Иван Петров"); !ok {
		t.Error("очистка members затронула регион memberOf")
	}

	c.ClearMemberOf()
	if _, ok := c.GetMemberOf("Иван Петров"); ok {
		t.Error("регион memberOf не очищен")
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	c := newCache(t, 50*time.Millisecond)
	c.SetUser(model.NewCRMUser("Иван Петров", uuid.New()))
	c.SetMembers("Менеджеры", []string{"Иван Петров"})

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.GetUserByName("Иван Петров"); ok {
		t.Error("пользователь пережил TTL")
	}
	if _, ok := c.GetMembers("Менеджеры"); ok {
		t.Error("список членов пережил TTL")
	}
}

func TestCache_MetadataNoExpiration(t *testing.T) {
	// Регион metadata без TTL: схема атрибутов стабильна
	// на время жизни процесса.
	c := newCache(t, 50*time.Millisecond)
	c.SetMetadata(&model.AttributeMetadata{Name: "new_color", Type: model.TypePicklist})

	time.Sleep(100 * time.Millisecond)

	m, ok := c.GetMetadata("new_color")
	if !ok {
		t.Fatal("метаданные истекли, а не должны")
	}
	if m.Type != model.TypePicklist {
		t.Errorf("тип = %v", m.Type)
	}
}

func TestCache_LastWriteWins(t *testing.T) {
	c := newCache(t, time.Minute)
	id := uuid.New()
	u1 := model.NewCRMUser("Иван Петров", id)
	u2 := model.NewCRMUser("Иван Петров", id)
	u2.Email = "ivan@example.com"

	c.SetUser(u1)
	c.SetUser(u2)

	got, ok := c.GetUserByName("Иван Петров")
	if !ok {
		t.Fatal("промах после перезаписи")
	}
	if got.Email != "ivan@example.com" {
		t.Error("последняя запись не победила")
	}
}
