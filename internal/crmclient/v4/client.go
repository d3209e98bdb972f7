// Пакет v4 — клиент CRM 4.0 (CrmService.asmx 2007).
// Аутентификация через CRM-тикет, запрашиваемый у discovery-сервиса
// и кэшируемый с запасом до истечения. Обновление тикета — по схеме
// double-check под write lock: тикет перезапрашивается не чаще одного
// раза на истечение, конкурентные вызовы переиспользуют свежий.
// Пагинация — номер страницы + paging cookie.
package v4

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

	"github.com/bigkaa/crmbridge/internal/convert"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/crmclient/soap"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

const (
	version       = "v4"
	servicePath   = "/MSCrmServices/2007/CrmService.asmx"
	discoveryPath = "/MSCrmServices/2007/SPLA/CrmDiscoveryService.asmx"
)

// ticketInfo — закэшированный CRM-тикет с временем истечения.
type ticketInfo struct {
	ticket    string
	expiresAt time.Time
}

// Client — клиент CRM 4.0.
type Client struct {
	transport  *soap.Transport
	conv       convert.Converter
	httpClient *http.Client
	endpoint   string
	username   string
	password   string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	org        string
	logger     *slog.Logger

	// Кэш тикета (thread-safe).
	mu     sync.RWMutex
	ticket *ticketInfo
}

// New создаёт клиент CRM 4.0.
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
		logger:     logger.With(slog.String("component", "crm_client_v4")),
	}, nil
}

// getTicket возвращает действующий CRM-тикет.
// Кэш: если тикет ещё валиден, возвращается закэшированный.
// Иначе запрашивается новый у discovery-сервиса.
func (c *Client) getTicket(ctx context.Context) (string, error) {
	// Проверяем кэш (read lock)
	c.mu.RLock()
	if c.ticket != nil && time.Now().Before(c.ticket.expiresAt) {
		ticket := c.ticket.ticket
		c.mu.RUnlock()
		return ticket, nil
	}
	c.mu.RUnlock()

	// Запрашиваем новый тикет (write lock)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check после получения write lock
	if c.ticket != nil && time.Now().Before(c.ticket.expiresAt) {
		return c.ticket.ticket, nil
	}

	return c.requestTicket(ctx)
}

// ticketRequest — запрос тикета к discovery-сервису.
type ticketRequest struct {
	XMLName      xml.Name `xml:"RetrieveCrmTicketRequest"`
	Username     string   `xml:"Username"`
	Password     string   `xml:"Password"`
	Organization string   `xml:"Organization"`
}

// ticketResponse — ответ discovery-сервиса.
type ticketResponse struct {
	XMLName   xml.Name `xml:"RetrieveCrmTicketResponse"`
	Ticket    string   `xml:"CrmTicket"`
	ExpiresIn int      `xml:"ExpiresIn"`
}

// requestTicket запрашивает новый тикет. Вызывается под write lock.
func (c *Client) requestTicket(ctx context.Context) (string, error) {
	payload, err := xml.Marshal(ticketRequest{
		Username:     c.username,
		Password:     c.password,
		Organization: c.org,
	})
	if err != nil {
		return "", fmt.Errorf("сериализация запроса тикета: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+discoveryPath, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("создание запроса тикета: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("запрос тикета к discovery-сервису: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("discovery-сервис вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var tr ticketResponse
	if err := xml.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("декодирование ответа discovery-сервиса: %w", err)
	}
	if tr.Ticket == "" {
		return "", fmt.Errorf("пустой тикет в ответе discovery-сервиса")
	}

	// Кэшируем тикет (с запасом 30 секунд до истечения)
	c.ticket = &ticketInfo{
		ticket:    tr.Ticket,
		expiresAt: time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - 30*time.Second),
	}

	c.logger.Debug("CRM-тикет получен",
		slog.Int("expires_in", tr.ExpiresIn),
	)

	return tr.Ticket, nil
}

// InvalidateTicket сбрасывает закэшированный тикет.
// Вызывается при подозрении на устаревшую сессию (реконнект по staleness).
func (c *Client) InvalidateTicket() {
	c.mu.Lock()
	c.ticket = nil
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, op string, body soap.Body) (*soap.Result, error) {
	start := time.Now()
	res, err := c.send(ctx, body)
	if errors.Is(err, crmclient.ErrAuthExpired) {
		// Сервер отклонил тикет раньше заявленного срока:
		// сбрасываем кэш и повторяем вызов один раз с новым тикетом.
		c.logger.Warn("CRM-тикет отклонён сервером, повторная аутентификация",
			slog.String("op", op),
		)
		c.InvalidateTicket()
		res, err = c.send(ctx, body)
	}
	crmclient.ObserveCall(version, op, start, err)
	return res, err
}

func (c *Client) send(ctx context.Context, body soap.Body) (*soap.Result, error) {
	ticket, err := c.getTicket(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение CRM-тикета: %w", err)
	}
	return c.transport.Call(ctx, servicePath, &soap.Envelope{
		Header: soap.Header{
			Ticket:       ticket,
			Organization: c.org,
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

// Count возвращает количество записей запроса.
// В 4.0 aggregate-запросов ещё нет — как и в 3.0, используется
// запрос одной записи с ReturnTotalCount.
func (c *Client) Count(ctx context.Context, q crmclient.Query) (int, error) {
	q.Page = 1
	q.PageSize = 1
	q.PagingCookie = ""
	q.ReturnTotalCount = true
	page, err := c.RetrieveMultiple(ctx, q)
	if err != nil {
		return 0, err
	}
	if page.TotalCountLimitExceeded {
		c.logger.Warn("подсчёт записей ограничен сервером",
			slog.String("entity", q.Entity),
			slog.Int("total", page.TotalCount),
		)
	}
	return page.TotalCount, nil
}
