// Пакет v5 — клиент CRM 2011 (Organization.svc).
// Аутентифицированная сессия организационного сервиса кэшируется за
// mutex вместе с временем истечения: повторная аутентификация выполняется
// не более одного раза на наблюдаемое истечение, конкурентные вызовы
// под тем же lock переиспользуют свежую сессию. В режиме LiveID-federated
// токен выдаёт oauth2 client_credentials token source.
// Поддерживаются aggregate-подсчёты c серверным AggregateQueryRecordLimit.
package v5

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bigkaa/crmbridge/internal/convert"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/crmclient/soap"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

const (
	version       = "v5"
	servicePath   = "/XRMServices/2011/Organization.svc"
	discoveryPath = "/XRMServices/2011/Discovery.svc"
)

// session — кэшированная аутентифицированная сессия организационного сервиса.
type session struct {
	token     string
	expiresAt time.Time
}

// Client — клиент CRM 2011.
type Client struct {
	transport  *soap.Transport
	conv       convert.Converter
	httpClient *http.Client
	endpoint   string
	username   string
	password   string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	org        string
	logger     *slog.Logger

	// tokenSource — источник токенов в режиме LiveID-federated (nil для AD).
	tokenSource oauth2.TokenSource

	// Кэш сессии. Обычный mutex: проверка истечения и пересоздание
	// выполняются атомарно, опоздавшие вызовы переиспользуют свежую сессию.
	mu      sync.Mutex
	session *session
}

// New создаёт клиент CRM 2011 с AD-аутентификацией через discovery-сервис.
func New(
	endpoint, caCertPath string,
	timeout time.Duration,
	username, password, org string,
	conv convert.Converter,
	logger *slog.Logger,
) (*Client, error) {
	transport, err := soap.NewTransport(endpoint, caCertPath, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		transport:  transport,
		conv:       conv,
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   strings.TrimRight(endpoint, "/"),
		username:   username,
		password:   password,
		org:        org,
		logger:     logger.With(slog.String("component", "crm_client_v5")),
	}, nil
}

// NewLiveID создаёт клиент CRM 2011 в режиме LiveID-federated:
// токены выдаёт oauth2 client_credentials endpoint федерации.
func NewLiveID(
	endpoint, caCertPath string,
	timeout time.Duration,
	clientID, clientSecret, tokenURL, org string,
	conv convert.Converter,
	logger *slog.Logger,
) (*Client, error) {
	c, err := New(endpoint, caCertPath, timeout, clientID, clientSecret, org, conv, logger)
	if err != nil {
		return nil, err
	}
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	c.tokenSource = cc.TokenSource(context.Background())
	return c, nil
}

// authResponse — ответ discovery-сервиса на аутентификацию.
type authResponse struct {
	XMLName   xml.Name `xml:"AuthenticateResponse"`
	Token     string   `xml:"SecurityToken"`
	ExpiresIn int      `xml:"ExpiresIn"`
}

// authorize возвращает действующий токен сессии.
// Весь путь (проверка истечения + пересоздание) — под одним mutex.
func (c *Client) authorize(ctx context.Context) (string, error) {
	if c.tokenSource != nil {
		// LiveID-режим: oauth2 сам кэширует и обновляет токен.
		tok, err := c.tokenSource.Token()
		if err != nil {
			return "", fmt.Errorf("получение LiveID-токена: %w", err)
		}
		return tok.AccessToken, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && time.Now().Before(c.session.expiresAt) {
		return c.session.token, nil
	}

	token, expiresIn, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}

	// Запас 30 секунд до истечения.
	c.session = &session{
		token:     token,
		expiresAt: time.Now().Add(time.Duration(expiresIn)*time.Second - 30*time.Second),
	}

	c.logger.Debug("сессия организационного сервиса создана",
		slog.Int("expires_in", expiresIn),
	)

	return token, nil
}

// authenticate выполняет аутентификацию у discovery-сервиса.
// Вызывается под mutex.
func (c *Client) authenticate(ctx context.Context) (string, int, error) {
	payload := fmt.Sprintf(
		"<Authenticate><Username>%s</Username><Password>%s</Password><Organization>%s</Organization></Authenticate>",
		c.username, c.password, c.org,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+discoveryPath, strings.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("создание запроса аутентификации: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", 0, fmt.Errorf("запрос аутентификации к discovery-сервису: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("discovery-сервис вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var ar authResponse
	if err := xml.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", 0, fmt.Errorf("декодирование ответа discovery-сервиса: %w", err)
	}
	if ar.Token == "" {
		return "", 0, fmt.Errorf("пустой токен в ответе discovery-сервиса")
	}
	return ar.Token, ar.ExpiresIn, nil
}

// InvalidateSession сбрасывает кэшированную сессию.
// Вызывается при подозрении на устаревшую сессию (реконнект по staleness).
func (c *Client) InvalidateSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, op string, body soap.Body) (*soap.Result, error) {
	start := time.Now()
	res, err := c.send(ctx, body)
	if errors.Is(err, crmclient.ErrAuthExpired) && c.tokenSource == nil {
		// Организационный сервис отклонил сессию раньше заявленного срока:
		// сбрасываем кэш и повторяем вызов один раз с новой сессией.
		// В LiveID-режиме жизненным циклом токена управляет oauth2.
		c.logger.Warn("сессия отклонена сервером, повторная аутентификация",
			slog.String("op", op),
		)
		c.InvalidateSession()
		res, err = c.send(ctx, body)
	}
	crmclient.ObserveCall(version, op, start, err)
	return res, err
}

func (c *Client) send(ctx context.Context, body soap.Body) (*soap.Result, error) {
	token, err := c.authorize(ctx)
	if err != nil {
		return nil, err
	}
	return c.transport.Call(ctx, servicePath, &soap.Envelope{
		Header: soap.Header{
			SecurityToken: token,
			Organization:  c.org,
		},
		Body: body,
	})
}

// Create создаёт запись и возвращает присвоенный GUID.
func (c *Client) Create(ctx context.Context, e *model.Entity) (uuid.UUID, error) {
	we, err := soap.EncodeEntity(e, c.conv)
	if err != nil {
		return uuid.Nil, err
	}
	res, err := c.call(ctx, "create", soap.Body{Create: we})
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(res.ID)
}

// Update обновляет атрибуты существующей записи.
func (c *Client) Update(ctx context.Context, e *model.Entity) error {
	we, err := soap.EncodeEntity(e, c.conv)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "update", soap.Body{Update: we})
	return err
}

// Delete удаляет запись.
func (c *Client) Delete(ctx context.Context, logicalName string, id uuid.UUID) error {
	_, err := c.call(ctx, "delete", soap.Body{Delete: &soap.Target{
		Entity: logicalName,
		ID:     id.String(),
	}})
	return err
}

// Retrieve возвращает запись по GUID.
func (c *Client) Retrieve(ctx context.Context, logicalName string, id uuid.UUID, columns []string) (*model.Entity, error) {
	res, err := c.call(ctx, "retrieve", soap.Body{Retrieve: &soap.RetrieveRequest{
		Target:  soap.Target{Entity: logicalName, ID: id.String()},
		Columns: columns,
	}})
	if err != nil {
		return nil, err
	}
	if len(res.Entities) == 0 {
		return nil, crmclient.ErrNotFound
	}
	return soap.DecodeEntity(res.Entities[0], c.conv)
}

// RetrieveMultiple выполняет постраничный запрос (страница + cookie).
func (c *Client) RetrieveMultiple(ctx context.Context, q crmclient.Query) (*crmclient.Page, error) {
	res, err := c.call(ctx, "retrieve_multiple", soap.Body{RetrieveMultiple: soap.EncodeQuery(q)})
	if err != nil {
		return nil, err
	}
	return soap.DecodePage(res, c.conv)
}

// Fetch выполняет FetchXML-запрос и возвращает XML-результат как есть.
func (c *Client) Fetch(ctx context.Context, fetchXML string) (string, error) {
	res, err := c.call(ctx, "fetch", soap.Body{Fetch: &soap.Fetch{Query: fetchXML}})
	if err != nil {
		return "", err
	}
	return res.FetchResult, nil
}

// SetState переводит запись в указанный state/status.
func (c *Client) SetState(ctx context.Context, logicalName string, id uuid.UUID, state, status int) error {
	req := &soap.SetState{
		Target: soap.Target{Entity: logicalName, ID: id.String()},
		State:  state,
	}
	if status != model.StatusDefault {
		req.Status = &status
	}
	_, err := c.call(ctx, "set_state", soap.Body{SetState: req})
	return err
}

// AddListMember добавляет контакт в маркетинговый список.
func (c *Client) AddListMember(ctx context.Context, listID, contactID uuid.UUID) error {
	_, err := c.call(ctx, "add_list_member", soap.Body{AddListMember: &soap.ListMember{
		ListID:   listID.String(),
		EntityID: contactID.String(),
	}})
	return err
}

// RemoveListMember удаляет контакт из маркетингового списка.
func (c *Client) RemoveListMember(ctx context.Context, listID, contactID uuid.UUID) error {
	_, err := c.call(ctx, "remove_list_member", soap.Body{RemoveListMember: &soap.ListMember{
		ListID:   listID.String(),
		EntityID: contactID.String(),
	}})
	return err
}

// RetrieveAttributeMetadata возвращает дескриптор типа атрибута.
func (c *Client) RetrieveAttributeMetadata(ctx context.Context, entity, attribute string) (*model.AttributeMetadata, error) {
	res, err := c.call(ctx, "retrieve_attribute_metadata", soap.Body{RetrieveAttr: &soap.AttributeRequest{
		Entity:    entity,
		Attribute: attribute,
	}})
	if err != nil {
		return nil, err
	}
	if res.Metadata == nil {
		return nil, crmclient.ErrAttributeNotFound
	}
	return soap.DecodeMetadata(res.Metadata, c.conv)
}

// CreateAttribute создаёт атрибут указанного типа в схеме сущности.
func (c *Client) CreateAttribute(ctx context.Context, entity, attribute string, t model.SupportedType) error {
	wireType, err := c.conv.WireTypeName(t)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "create_attribute", soap.Body{CreateAttr: &soap.CreateAttribute{
		Entity:    entity,
		Attribute: attribute,
		Type:      wireType,
	}})
	return err
}

// Count выполняет aggregate-подсчёт записей.
// Может вернуть crmclient.ErrAggregateLimit при превышении серверного
// AggregateQueryRecordLimit — fallback выполняет repository-слой.
func (c *Client) Count(ctx context.Context, q crmclient.Query) (int, error) {
	res, err := c.call(ctx, "count", soap.Body{Count: soap.EncodeQuery(q)})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}
