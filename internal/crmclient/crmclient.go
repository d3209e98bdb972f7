// Пакет crmclient — узкие контракты доступа к web-сервисам Microsoft Dynamics CRM.
// Repository-слой зависит только от интерфейса Service и типов этого пакета,
// никогда от конкретных транспортных клиентов — это позволяет подменять
// backend в тестах. Конкретные клиенты трёх поколений SDK живут в
// подпакетах v3, v4 и v5.
package crmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// Типизированные ошибки CRM-фолтов.
// Классификация структурная (по коду фолта), а не по подстроке сообщения;
// только V3-провод не несёт кодов и классифицируется по известному фрагменту.
var (
	// ErrNotFound — запрошенная запись отсутствует в CRM.
	ErrNotFound = errors.New("запись CRM не найдена")
	// ErrInvalidStatusForState — status-код недопустим для целевого state-кода.
	// Единственный фолт, вызывающий повторную попытку (state без status).
	ErrInvalidStatusForState = errors.New("недопустимый status-код для state-кода")
	// ErrAggregateLimit — aggregate-запрос превысил AggregateQueryRecordLimit.
	ErrAggregateLimit = errors.New("превышен AggregateQueryRecordLimit")
	// ErrAttributeExists — создаваемый атрибут уже есть в схеме CRM.
	ErrAttributeExists = errors.New("атрибут уже существует в схеме CRM")
	// ErrAttributeNotFound — атрибут отсутствует в схеме CRM.
	ErrAttributeNotFound = errors.New("атрибут не найден в схеме CRM")
	// ErrAuthExpired — сервер отклонил тикет/сессию как устаревшие.
	// Клиенты v4/v5 сбрасывают кэш аутентификации и повторяют вызов один раз.
	ErrAuthExpired = errors.New("аутентификация CRM устарела")
)

// Prometheus-метрики удалённых вызовов CRM.
var (
	crmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cb_crm_calls_total",
		Help: "Общее количество удалённых вызовов CRM (по версии, операции и результату).",
	}, []string{"version", "op", "result"})
	crmCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cb_crm_call_duration_seconds",
		Help:    "Длительность удалённых вызовов CRM.",
		Buckets: prometheus.DefBuckets,
	}, []string{"version", "op"})
)

// ObserveCall фиксирует метрики одного удалённого вызова.
// Вызывается клиентами v3/v4/v5 после завершения операции.
func ObserveCall(version, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	crmCallsTotal.WithLabelValues(version, op, result).Inc()
	crmCallDuration.WithLabelValues(version, op).Observe(time.Since(start).Seconds())
}

// Condition — условие фильтрации запроса.
type Condition struct {
	// Attribute — логическое имя атрибута.
	Attribute string
	// Operator — оператор: eq, like, begins-with.
	Operator string
	// Value — значение условия (строковое представление).
	Value string
}

// Link — join-связь для membership-запросов (list ↔ listmember ↔ contact).
type Link struct {
	// Entity — связанная сущность.
	Entity string
	// FromAttribute — атрибут основной сущности.
	FromAttribute string
	// ToAttribute — атрибут связанной сущности.
	ToAttribute string
	// Conditions — условия на связанную сущность.
	Conditions []Condition
}

// Query — параметры запроса RetrieveMultiple.
type Query struct {
	// Entity — логическое имя сущности.
	Entity string
	// Columns — запрашиваемые колонки.
	Columns []string
	// Conditions — условия фильтрации (AND).
	Conditions []Condition
	// Link — опциональная join-связь.
	Link *Link
	// ActiveOnly — фильтровать только активные записи (statecode = 0).
	ActiveOnly bool
	// Page — номер страницы (1-based, 0 — без пагинации).
	Page int
	// PageSize — размер страницы.
	PageSize int
	// PagingCookie — курсор пагинации предыдущей страницы (V4/V5).
	PagingCookie string
	// ReturnTotalCount — запросить общее количество записей.
	ReturnTotalCount bool
}

// Page — страница результата RetrieveMultiple.
type Page struct {
	// Entities — записи страницы.
	Entities []*model.Entity
	// MoreRecords — есть ли ещё страницы.
	MoreRecords bool
	// PagingCookie — курсор для следующей страницы.
	PagingCookie string
	// TotalCount — общее количество записей (если запрошено).
	TotalCount int
	// TotalCountLimitExceeded — сервер не смог посчитать точно
	// (количество превышает серверный предел подсчёта).
	TotalCountLimitExceeded bool
}

// Service — узкий интерфейс версионного CRM web-сервиса.
// Все методы блокируют вызывающий поток на время сетевого round trip;
// таймаут задаётся HTTP-клиентом конкретной версии.
type Service interface {
	// Create создаёт запись и возвращает присвоенный GUID.
	Create(ctx context.Context, e *model.Entity) (uuid.UUID, error)
	// Update обновляет атрибуты существующей записи.
	Update(ctx context.Context, e *model.Entity) error
	// Delete удаляет запись.
	Delete(ctx context.Context, logicalName string, id uuid.UUID) error
	// Retrieve возвращает запись по GUID с указанными колонками.
	Retrieve(ctx context.Context, logicalName string, id uuid.UUID, columns []string) (*model.Entity, error)
	// RetrieveMultiple выполняет фильтрованный постраничный запрос.
	RetrieveMultiple(ctx context.Context, q Query) (*Page, error)
	// Fetch выполняет запрос FetchXML и возвращает XML-результат как есть.
	Fetch(ctx context.Context, fetchXML string) (string, error)
	// SetState переводит запись в указанный state/status.
	// status = model.StatusDefault — сервер подбирает статус сам.
	SetState(ctx context.Context, logicalName string, id uuid.UUID, state, status int) error
	// AddListMember добавляет контакт в маркетинговый список.
	AddListMember(ctx context.Context, listID, contactID uuid.UUID) error
	// RemoveListMember удаляет контакт из маркетингового списка.
	RemoveListMember(ctx context.Context, listID, contactID uuid.UUID) error
	// RetrieveAttributeMetadata возвращает дескриптор типа атрибута,
	// уже приведённый к единой системе SupportedType.
	RetrieveAttributeMetadata(ctx context.Context, entity, attribute string) (*model.AttributeMetadata, error)
	// CreateAttribute создаёт атрибут указанного типа в схеме сущности.
	CreateAttribute(ctx context.Context, entity, attribute string, t model.SupportedType) error
	// Count возвращает количество записей, удовлетворяющих запросу.
	// Может вернуть ErrAggregateLimit — тогда repository выполняет fallback.
	Count(ctx context.Context, q Query) (int, error)
}

// Коды фолтов CRM, используемые для структурной классификации.
const (
	FaultCodeNotFound              = "ObjectDoesNotExist"
	FaultCodeInvalidStatusForState = "InvalidStatusForState"
	FaultCodeAggregateLimit        = "AggregateQueryRecordLimitExceeded"
	FaultCodeAttributeExists       = "AttributeAlreadyExists"
	FaultCodeAttributeNotFound     = "AttributeDoesNotExist"
	FaultCodeAuthExpired           = "ExpiredAuthTicket"
)

// v3StatusFragment — фрагмент сообщения V3-фолта о недопустимом статусе.
// Старый SDK не передаёт коды фолтов, классифицируем по известному тексту.
const v3StatusFragment = "is not a valid status code for state code"

// ClassifyFault переводит фолт CRM в типизированную ошибку.
// code — код фолта (пустой для V3), message — текст фолта.
func ClassifyFault(code, message string) error {
	switch code {
	case FaultCodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case FaultCodeInvalidStatusForState:
		return fmt.Errorf("%w: %s", ErrInvalidStatusForState, message)
	case FaultCodeAggregateLimit:
		return fmt.Errorf("%w: %s", ErrAggregateLimit, message)
	case FaultCodeAttributeExists:
		return fmt.Errorf("%w: %s", ErrAttributeExists, message)
	case FaultCodeAttributeNotFound:
		return fmt.Errorf("%w: %s", ErrAttributeNotFound, message)
	case FaultCodeAuthExpired:
		return fmt.Errorf("%w: %s", ErrAuthExpired, message)
	}
	if code == "" && strings.Contains(message, v3StatusFragment) {
		return fmt.Errorf("%w: %s", ErrInvalidStatusForState, message)
	}
	return fmt.Errorf("фолт CRM %s: %s", code, message)
}
