// role.go — CRMRole: представление CRM marketing list как роли.
package model

import "github.com/google/uuid"

// ListTypeDynamic — значение атрибута "type" маркетингового списка,
// означающее динамический список (membership вычисляется запросом).
const ListTypeDynamic = 1

// CRMRole — роль, хранящаяся как marketing list в CRM.
// Name и ID неизменяемы после конструирования, как у CRMUser.
type CRMRole struct {
	name string
	id   uuid.UUID

	// IsDynamicList — производное от атрибута "type" списка.
	IsDynamicList bool

	props map[string]Value
}

// NewCRMRole создаёт роль с неизменяемыми name и id.
func NewCRMRole(name string, id uuid.UUID) *CRMRole {
	return &CRMRole{
		name:  name,
		id:    id,
		props: map[string]Value{},
	}
}

// Name возвращает имя роли (имя маркетингового списка).
func (r *CRMRole) Name() string { return r.name }

// ID возвращает GUID записи списка.
func (r *CRMRole) ID() uuid.UUID { return r.id }

// Property возвращает значение CRM-атрибута из property bag.
func (r *CRMRole) Property(name string) (Value, bool) {
	v, ok := r.props[name]
	return v, ok
}

// SetProperty устанавливает значение CRM-атрибута в property bag.
func (r *CRMRole) SetProperty(name string, v Value) {
	if r.props == nil {
		r.props = map[string]Value{}
	}
	r.props[name] = v
}
