// user.go — CRMUser: представление CRM-контакта для membership-подсистемы.
package model

import (
	"time"

	"github.com/google/uuid"
)

// CRMUser — пользователь, хранящийся как контакт в CRM.
// Name и ID неизменяемы после конструирования; property bag изменяем
// через Property/SetProperty. Экземпляр создаётся version-конвертером
// при чтении из CRM либо синтезируется локально сразу после успешного create.
type CRMUser struct {
	name string
	id   uuid.UUID

	// Email — электронная почта контакта.
	Email string
	// PasswordQuestion — секретный вопрос (если хранится в CRM).
	PasswordQuestion string
	// Description — описание контакта.
	Description string
	// IsApproved — подтверждён ли пользователь.
	IsApproved bool
	// IsLockedOut — заблокирован ли пользователь.
	IsLockedOut bool
	// CreatedDate — дата создания записи.
	CreatedDate time.Time
	// LastLoginDate — дата последнего входа.
	LastLoginDate time.Time
	// LastActivityDate — дата последней активности.
	LastActivityDate time.Time
	// LastPasswordChangedDate — дата последней смены пароля.
	LastPasswordChangedDate time.Time
	// LastLockoutDate — дата последней блокировки.
	LastLockoutDate time.Time

	props map[string]Value
}

// NewCRMUser создаёт пользователя с неизменяемыми name и id.
func NewCRMUser(name string, id uuid.UUID) *CRMUser {
	return &CRMUser{
		name:  name,
		id:    id,
		props: map[string]Value{},
	}
}

// Name возвращает уникальное имя пользователя (маппится на настраиваемое CRM-поле).
func (u *CRMUser) Name() string { return u.name }

// ID возвращает GUID записи контакта.
func (u *CRMUser) ID() uuid.UUID { return u.id }

// Property возвращает значение CRM-атрибута из property bag.
func (u *CRMUser) Property(name string) (Value, bool) {
	v, ok := u.props[name]
	return v, ok
}

// SetProperty устанавливает значение CRM-атрибута в property bag.
func (u *CRMUser) SetProperty(name string, v Value) {
	if u.props == nil {
		u.props = map[string]Value{}
	}
	u.props[name] = v
}

// HasProperty сообщает, был ли атрибут загружен в property bag.
// Используется repository-слоем для проверки superset-условия:
// закэшированный экземпляр без запрошенного атрибута вытесняется
// и перечитывается с расширенным набором колонок.
func (u *CRMUser) HasProperty(name string) bool {
	_, ok := u.props[name]
	return ok
}

// PropertyNames возвращает имена загруженных атрибутов.
func (u *CRMUser) PropertyNames() []string {
	names := make([]string, 0, len(u.props))
	for n := range u.props {
		names = append(names, n)
	}
	return names
}
