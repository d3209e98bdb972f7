package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/crmbridge/internal/cache"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// errNotConfigured возвращается mock-клиентом для ненастроенных методов.
var errNotConfigured = errors.New("метод mock-клиента не настроен")

// mockClient — mock crmclient.Service с функциональными полями.
// Ненастроенный метод возвращает errNotConfigured: тест, неожиданно
// дошедший до удалённого вызова, проявляется как поглощённый сбой CRM.
type mockClient struct {
	createFn            func(ctx context.Context, e *model.Entity) (uuid.UUID, error)
	updateFn            func(ctx context.Context, e *model.Entity) error
	deleteFn            func(ctx context.Context, logicalName string, id uuid.UUID) error
	retrieveFn          func(ctx context.Context, logicalName string, id uuid.UUID, columns []string) (*model.Entity, error)
	retrieveMultipleFn  func(ctx context.Context, q crmclient.Query) (*crmclient.Page, error)
	fetchFn             func(ctx context.Context, fetchXML string) (string, error)
	setStateFn          func(ctx context.Context, logicalName string, id uuid.UUID, state, status int) error
	addListMemberFn     func(ctx context.Context, listID, contactID uuid.UUID) error
	removeListMemberFn  func(ctx context.Context, listID, contactID uuid.UUID) error
	retrieveMetadataFn  func(ctx context.Context, entity, attribute string) (*model.AttributeMetadata, error)
	createAttributeFn   func(ctx context.Context, entity, attribute string, t model.SupportedType) error
	countFn             func(ctx context.Context, q crmclient.Query) (int, error)
}

func (m *mockClient) Create(ctx context.Context, e *model.Entity) (uuid.UUID, error) {
	if m.createFn == nil {
		return uuid.Nil, errNotConfigured
	}
	return m.createFn(ctx, e)
}

func (m *mockClient) Update(ctx context.Context, e *model.Entity) error {
	if m.updateFn == nil {
		return errNotConfigured
	}
	return m.updateFn(ctx, e)
}

func (m *mockClient) Delete(ctx context.Context, logicalName string, id uuid.UUID) error {
	if m.deleteFn == nil {
		return errNotConfigured
	}
	return m.deleteFn(ctx, logicalName, id)
}

func (m *mockClient) Retrieve(ctx context.Context, logicalName string, id uuid.UUID, columns []string) (*model.Entity, error) {
	if m.retrieveFn == nil {
		return nil, errNotConfigured
	}
	return m.retrieveFn(ctx, logicalName, id, columns)
}

func (m *mockClient) RetrieveMultiple(ctx context.Context, q crmclient.Query) (*crmclient.Page, error) {
	if m.retrieveMultipleFn == nil {
		return nil, errNotConfigured
	}
	return m.retrieveMultipleFn(ctx, q)
}

func (m *mockClient) Fetch(ctx context.Context, fetchXML string) (string, error) {
	if m.fetchFn == nil {
		return "", errNotConfigured
	}
	return m.fetchFn(ctx, fetchXML)
}

func (m *mockClient) SetState(ctx context.Context, logicalName string, id uuid.UUID, state, status int) error {
	if m.setStateFn == nil {
		return errNotConfigured
	}
	return m.setStateFn(ctx, logicalName, id, state, status)
}

func (m *mockClient) AddListMember(ctx context.Context, listID, contactID uuid.UUID) error {
	if m.addListMemberFn == nil {
		return errNotConfigured
	}
	return m.addListMemberFn(ctx, listID, contactID)
}

func (m *mockClient) RemoveListMember(ctx context.Context, listID, contactID uuid.UUID) error {
	if m.removeListMemberFn == nil {
		return errNotConfigured
	}
	return m.removeListMemberFn(ctx, listID, contactID)
}

func (m *mockClient) RetrieveAttributeMetadata(ctx context.Context, entity, attribute string) (*model.AttributeMetadata, error) {
	if m.retrieveMetadataFn == nil {
		return nil, errNotConfigured
	}
	return m.retrieveMetadataFn(ctx, entity, attribute)
}

func (m *mockClient) CreateAttribute(ctx context.Context, entity, attribute string, t model.SupportedType) error {
	if m.createAttributeFn == nil {
		return errNotConfigured
	}
	return m.createAttributeFn(ctx, entity, attribute, t)
}

func (m *mockClient) Count(ctx context.Context, q crmclient.Query) (int, error) {
	if m.countFn == nil {
		return 0, errNotConfigured
	}
	return m.countFn(ctx, q)
}

// --- Общие помощники тестов ---

// testConfig — конфигурация repository-слоя в тестах.
var testConfig = Config{
	UniqueKeyField: "fullname",
	PageSize:       50,
}

// testLogger — slog-логгер, пишущий в никуда.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCache создаёт кэш для теста.
func newTestCache(t *testing.T) *cache.Service {
	t.Helper()
	c, err := cache.New(128, time.Minute)
	if err != nil {
		t.Fatalf("создание кэша: %v", err)
	}
	return c
}

// contactEntity строит запись контакта с заданным именем.
func contactEntity(name string, id uuid.UUID, extra map[string]model.Value) *model.Entity {
	e := model.NewEntity(model.EntityContact)
	e.ID = id
	e.Set("fullname", model.StringValue(name))
	for k, v := range extra {
		e.Set(k, v)
	}
	return e
}

// listEntity строит запись маркетингового списка.
func listEntity(name string, id uuid.UUID) *model.Entity {
	e := model.NewEntity(model.EntityList)
	e.ID = id
	e.Set("listname", model.StringValue(name))
	return e
}

// singlePage оборачивает записи в одностраничный результат.
func singlePage(entities ...*model.Entity) *crmclient.Page {
	return &crmclient.Page{Entities: entities}
}
