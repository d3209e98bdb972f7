// Пакет cache — кэш-слой crmbridge поверх hashicorp/golang-lru/v2.
// Пять независимых регионов: users (двойной ключ name+id), roles,
// members (роль → имена пользователей), memberOf (пользователь → имена ролей)
// и metadata (атрибут → дескриптор типа). Первые четыре — expirable LRU
// с TTL, metadata — обычный LRU без истечения (схема атрибутов стабильна
// на время жизни процесса).
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// Prometheus-метрики кэша (по регионам).
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cb_cache_hits_total",
		Help: "Общее количество попаданий в кэш по регионам.",
	}, []string{"region"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cb_cache_misses_total",
		Help: "Общее количество промахов кэша по регионам.",
	}, []string{"region"})
)

// Имена регионов для метрик.
const (
	regionUsers    = "users"
	regionRoles    = "roles"
	regionMembers  = "members"
	regionMemberOf = "member_of"
	regionMetadata = "metadata"
)

// Префиксы ключей региона users: оба ключа указывают на одну логическую запись.
const (
	userKeyName = "name:"
	userKeyID   = "id:"
)

// Service — кэш-сервис crmbridge.
// Потокобезопасен: регионы независимы, внутри региона действует
// last-write-wins на Add; Get/Remove не зависят от параллельных Add.
type Service struct {
	users    *expirable.LRU[string, *model.CRMUser]
	roles    *expirable.LRU[string, *model.CRMRole]
	members  *expirable.LRU[string, []string]
	memberOf *expirable.LRU[string, []string]
	metadata *lru.Cache[string, *model.AttributeMetadata]
}

// New создаёт кэш-сервис.
// maxSize — максимальное количество записей в каждом регионе.
// ttl — время жизни записей expirable-регионов после добавления.
func New(maxSize int, ttl time.Duration) (*Service, error) {
	metadata, err := lru.New[string, *model.AttributeMetadata](maxSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		users:    expirable.NewLRU[string, *model.CRMUser](maxSize, nil, ttl),
		roles:    expirable.NewLRU[string, *model.CRMRole](maxSize, nil, ttl),
		members:  expirable.NewLRU[string, []string](maxSize, nil, ttl),
		memberOf: expirable.NewLRU[string, []string](maxSize, nil, ttl),
		metadata: metadata,
	}, nil
}

// --- Регион users ---

// GetUserByName возвращает пользователя из кэша по имени.
func (s *Service) GetUserByName(name string) (*model.CRMUser, bool) {
	return s.getUser(userKeyName + name)
}

// GetUserByID возвращает пользователя из кэша по GUID.
func (s *Service) GetUserByID(id string) (*model.CRMUser, bool) {
	return s.getUser(userKeyID + id)
}

func (s *Service) getUser(key string) (*model.CRMUser, bool) {
	val, ok := s.users.Get(key)
	if ok {
		cacheHitsTotal.WithLabelValues(regionUsers).Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues(regionUsers).Inc()
	return nil, false
}

// SetUser добавляет пользователя в кэш под обоими ключами (name и id).
// Оба ключа обязаны разрешаться в одну логическую запись.
func (s *Service) SetUser(u *model.CRMUser) {
	s.users.Add(userKeyName+u.Name(), u)
	s.users.Add(userKeyID+u.ID().String(), u)
}

// RemoveUser удаляет пользователя из кэша по имени вместе с парным id-ключом.
func (s *Service) RemoveUser(name string) {
	if u, ok := s.users.Peek(userKeyName + name); ok {
		s.users.Remove(userKeyID + u.ID().String())
	}
	s.users.Remove(userKeyName + name)
}

// --- Регион roles ---

// GetRole возвращает роль из кэша по имени.
func (s *Service) GetRole(name string) (*model.CRMRole, bool) {
	val, ok := s.roles.Get(name)
	if ok {
		cacheHitsTotal.WithLabelValues(regionRoles).Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues(regionRoles).Inc()
	return nil, false
}

// SetRole добавляет роль в кэш.
func (s *Service) SetRole(r *model.CRMRole) {
	s.roles.Add(r.Name(), r)
}

// RemoveRole удаляет роль из кэша.
func (s *Service) RemoveRole(name string) {
	s.roles.Remove(name)
}

// --- Регион members (роль → имена пользователей) ---

// GetMembers возвращает закэшированный список членов роли.
func (s *Service) GetMembers(role string) ([]string, bool) {
	val, ok := s.members.Get(role)
	if ok {
		cacheHitsTotal.WithLabelValues(regionMembers).Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues(regionMembers).Inc()
	return nil, false
}

// SetMembers кэширует полный список членов роли.
// Вызывающий код обязан полностью выкачать все страницы membership-запроса
// до кэширования — частичное представление кэшировать нельзя.
func (s *Service) SetMembers(role string, users []string) {
	s.members.Add(role, users)
}

// RemoveMembers инвалидирует список членов конкретной роли.
func (s *Service) RemoveMembers(role string) {
	s.members.Remove(role)
}

// ClearMembers полностью очищает регион members.
// Вызывается при деактивации любой роли: безопаснее сбросить всё,
// чем рисковать частично устаревшим представлением.
func (s *Service) ClearMembers() {
	s.members.Purge()
}

// --- Регион memberOf (пользователь → имена ролей) ---

// GetMemberOf возвращает закэшированный список ролей пользователя.
func (s *Service) GetMemberOf(user string) ([]string, bool) {
	val, ok := s.memberOf.Get(user)
	if ok {
		cacheHitsTotal.WithLabelValues(regionMemberOf).Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues(regionMemberOf).Inc()
	return nil, false
}

// SetMemberOf кэширует полный список ролей пользователя.
func (s *Service) SetMemberOf(user string, roles []string) {
	s.memberOf.Add(user, roles)
}

// RemoveMemberOf инвалидирует список ролей конкретного пользователя.
func (s *Service) RemoveMemberOf(user string) {
	s.memberOf.Remove(user)
}

// ClearMemberOf полностью очищает регион memberOf.
// Вызывается при деактивации любого пользователя.
func (s *Service) ClearMemberOf() {
	s.memberOf.Purge()
}

// --- Регион metadata (атрибут → дескриптор типа) ---

// GetMetadata возвращает дескриптор типа атрибута.
func (s *Service) GetMetadata(attr string) (*model.AttributeMetadata, bool) {
	val, ok := s.metadata.Get(attr)
	if ok {
		cacheHitsTotal.WithLabelValues(regionMetadata).Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues(regionMetadata).Inc()
	return nil, false
}

// SetMetadata кэширует дескриптор типа атрибута.
// Регион metadata не инвалидируется проактивно.
func (s *Service) SetMetadata(m *model.AttributeMetadata) {
	s.metadata.Add(m.Name, m)
}
