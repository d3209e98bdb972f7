// Пакет repository — ядро crmbridge: абстрактные контракты доступа
// к пользователям, ролям, профилям и произвольным сущностям CRM
// плюс дисциплина read-through / invalidate-on-write кэширования.
//
// Логика координации кэша реализована один раз и не дублируется
// по версиям CRM: версионные различия инкапсулированы в crmclient.Service
// и convert.Converter, которые подбирает фабрика.
//
// Политика ошибок (контракт provider-слоя):
//   - нарушения аргументов и ошибки консистентности (ErrArgument,
//     ErrUserNotFound, ErrRoleNotFound, ErrNotMember, ошибки схемы) —
//     возвращаются вызывающему коду;
//   - обычные сбои удалённых вызовов CRM — логируются с контекстом
//     операции и превращаются в nil/false/пустой результат без ошибки:
//     provider-слой ожидает "не найдено", а не исключение, при
//     недоступности backend.
package repository

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки contract-уровня.
var (
	// ErrArgument — нарушение предусловий аргументов (программная ошибка).
	ErrArgument = errors.New("некорректный аргумент")
	// ErrUserNotFound — именованный пользователь не разрешается в CRM-контакт.
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrRoleNotFound — именованная роль не разрешается в marketing list.
	ErrRoleNotFound = errors.New("роль не найдена")
	// ErrNotMember — пользователь не является членом роли
	// (предусловие удаления из роли).
	ErrNotMember = errors.New("пользователь не является членом роли")
	// ErrUnsupportedAttributeType — тип атрибута CRM вне единой системы типов:
	// ошибка конфигурации, которую должен исправить вызывающий код.
	ErrUnsupportedAttributeType = errors.New("неподдерживаемый тип атрибута")
)

// MaxReportedTotal — фиксированный безопасный итог, подставляемый вместо
// серверного сигнала "слишком много для точного подсчёта" (≥5000).
// Сырой сигнал наружу не отдаётся.
const MaxReportedTotal = 5000

// Имена CRM-атрибутов, используемые ядром.
const (
	attrContactFullName  = "fullname"
	attrContactFirstName = "firstname"
	attrContactLastName  = "lastname"
	attrContactEmail     = "emailaddress1"
	attrListName         = "listname"
	attrListType         = "type"
	attrListID           = "listid"
	attrListMemberList   = "listid"
	attrListMemberEntity = "entityid"
	attrContactID        = "contactid"
)

// Config — настройки repository-слоя.
type Config struct {
	// UniqueKeyField — CRM-поле контакта, служащее уникальным именем пользователя.
	UniqueKeyField string
	// PageSize — размер страницы для постраничных CRM-запросов (fetch throttle).
	PageSize int
}

// requireNonEmpty проверяет обязательный строковый аргумент.
func requireNonEmpty(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s не задан", ErrArgument, name)
	}
	return nil
}

// requireNonEmptyList проверяет непустоту батча и отсутствие пустых элементов.
func requireNonEmptyList(name string, values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: список %s пуст", ErrArgument, name)
	}
	for _, v := range values {
		if v == "" {
			return fmt.Errorf("%w: список %s содержит пустой элемент", ErrArgument, name)
		}
	}
	return nil
}

// splitFullName разбивает полное имя на firstname (первый токен)
// и lastname (остаток).
func splitFullName(full string) (first, last string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// translateTotal переводит серверный итог в отображаемый:
// сигнал "не смог посчитать точно" превращается в MaxReportedTotal.
func translateTotal(total int, limitExceeded bool) int {
	if limitExceeded {
		return MaxReportedTotal
	}
	return total
}
