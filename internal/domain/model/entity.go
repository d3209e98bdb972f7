// entity.go — обобщённое представление произвольной CRM-сущности.
// Используется entity repository и generic-профильными путями,
// не зависит от специализации contact/list.
package model

import "github.com/google/uuid"

// Известные логические имена сущностей CRM.
const (
	// EntityContact — сущность контакта (пользователь).
	EntityContact = "contact"
	// EntityList — сущность маркетингового списка (роль).
	EntityList = "list"
	// EntityListMember — связь контакт ↔ список.
	EntityListMember = "listmember"
)

// Коды state/status CRM. State (active/inactive) и status reason
// разделены: status-код валиден только для определённых state-кодов.
const (
	// StateActive — активная запись.
	StateActive = 0
	// StateInactive — деактивированная запись.
	StateInactive = 1
	// StatusDefault — статус по умолчанию (сервер подбирает сам).
	StatusDefault = -1
)

// Entity — запись произвольной CRM-сущности с динамическим набором атрибутов.
type Entity struct {
	// LogicalName — логическое имя сущности (contact, list, ...).
	LogicalName string
	// ID — GUID записи (первичный ключ CRM).
	ID uuid.UUID
	// State — код состояния записи (StateActive/StateInactive).
	State int
	// Status — код причины состояния (StatusDefault — не задан).
	Status int

	attrs map[string]Value
	order []string
}

// NewEntity создаёт пустую запись указанной сущности.
func NewEntity(logicalName string) *Entity {
	return &Entity{
		LogicalName: logicalName,
		Status:      StatusDefault,
		attrs:       map[string]Value{},
	}
}

// Get возвращает значение атрибута по имени.
func (e *Entity) Get(name string) (Value, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

// Set устанавливает значение атрибута, сохраняя порядок первого появления.
func (e *Entity) Set(name string, v Value) {
	if e.attrs == nil {
		e.attrs = map[string]Value{}
	}
	if _, exists := e.attrs[name]; !exists {
		e.order = append(e.order, name)
	}
	e.attrs[name] = v
}

// Has сообщает, присутствует ли атрибут в записи.
func (e *Entity) Has(name string) bool {
	_, ok := e.attrs[name]
	return ok
}

// Attributes возвращает имена атрибутов в порядке первого появления.
func (e *Entity) Attributes() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Len возвращает количество атрибутов записи.
func (e *Entity) Len() int { return len(e.attrs) }
