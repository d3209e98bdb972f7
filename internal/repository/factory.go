// factory.go — сборка репозиториев под конкретное поколение CRM.
// Единственное место, где слой репозиториев знает о версионных
// клиентах и словарях конвертации; всё остальное работает через
// интерфейс crmclient.Service.
package repository

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/crmbridge/internal/cache"
	"github.com/bigkaa/crmbridge/internal/convert"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	v3 "github.com/bigkaa/crmbridge/internal/crmclient/v3"
	v4 "github.com/bigkaa/crmbridge/internal/crmclient/v4"
	v5 "github.com/bigkaa/crmbridge/internal/crmclient/v5"
)

// Поддерживаемые поколения CRM.
const (
	VersionV3 = "v3"
	VersionV4 = "v4"
	VersionV5 = "v5"
)

// Режимы аутентификации V5.
const (
	AuthModeAD     = "ad"
	AuthModeLiveID = "liveid"
)

// ConnectionConfig — параметры подключения к CRM.
type ConnectionConfig struct {
	// Version — поколение CRM: v3, v4 или v5.
	Version string
	// Endpoint — базовый URL сервера CRM.
	Endpoint string
	// CACertPath — путь к CA-сертификату (пустой — системные корни).
	CACertPath string
	// Timeout — таймаут HTTP-вызовов к CRM.
	Timeout time.Duration
	// Organization — имя организации CRM.
	Organization string
	// Username, Password — учётные данные AD-режима.
	Username string
	Password string
	// AuthMode — режим аутентификации V5 (ad или liveid).
	AuthMode string
	// ClientID, ClientSecret, TokenURL — параметры LiveID-режима.
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Repositories — собранный набор репозиториев поверх одного клиента.
type Repositories struct {
	Users    UserRepository
	Roles    RoleRepository
	Profiles ProfileRepository
	Entities EntityRepository

	// Client — версионный клиент, для readiness-проверок.
	Client crmclient.Service
}

// NewClient создаёт версионный CRM-клиент по конфигурации подключения.
func NewClient(cc ConnectionConfig, logger *slog.Logger) (crmclient.Service, error) {
	switch cc.Version {
	case VersionV3:
		return v3.New(cc.Endpoint, cc.CACertPath, cc.Timeout,
			cc.Username, cc.Password, cc.Organization, convert.NewV3(), logger)
	case VersionV4:
		return v4.New(cc.Endpoint, cc.CACertPath, cc.Timeout,
			cc.Username, cc.Password, cc.Organization, convert.NewV4(), logger)
	case VersionV5:
		if cc.AuthMode == AuthModeLiveID {
			return v5.NewLiveID(cc.Endpoint, cc.CACertPath, cc.Timeout,
				cc.ClientID, cc.ClientSecret, cc.TokenURL, cc.Organization,
				convert.NewV5(), logger)
		}
		return v5.New(cc.Endpoint, cc.CACertPath, cc.Timeout,
			cc.Username, cc.Password, cc.Organization, convert.NewV5(), logger)
	}
	return nil, fmt.Errorf("неизвестная версия CRM: %q", cc.Version)
}

// ProbePath возвращает путь discovery endpoint для readiness-зондов.
func ProbePath(version string) string {
	switch version {
	case VersionV3:
		return "/MSCrmServices/2006/CrmService.asmx"
	case VersionV4:
		return "/MSCrmServices/2007/SPLA/CrmDiscoveryService.asmx"
	default:
		return "/XRMServices/2011/Discovery.svc"
	}
}

// New собирает репозитории поверх версионного клиента и общего кэша.
func New(client crmclient.Service, c *cache.Service, cfg Config, logger *slog.Logger) *Repositories {
	users := NewUserRepository(client, c, cfg, logger)
	entities := NewEntityRepository(client, cfg, logger)
	return &Repositories{
		Users:    users,
		Roles:    NewRoleRepository(client, c, users, cfg, logger),
		Profiles: NewProfileRepository(client, c, users, entities, cfg, logger),
		Entities: entities,
		Client:   client,
	}
}
