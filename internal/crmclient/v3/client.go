// Пакет v3 — клиент CRM 3.0 (CrmService.asmx 2006).
// Stateless SOAP-клиент: учётные данные передаются в заголовке каждого
// конверта, сессий и тикетов нет. Пагинация — только номером страницы,
// paging cookie в 3.0 отсутствует. Aggregate-подсчёта нет: Count
// выполняется запросом с ReturnTotalCount.
package v3

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/crmbridge/internal/convert"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/crmclient/soap"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

const (
	version     = "v3"
	servicePath = "/MSCrmServices/2006/CrmService.asmx"
)

// Client — клиент CRM 3.0.
type Client struct {
	transport *soap.Transport
	conv      convert.Converter
	username  string
	password  string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	org       string
	logger    *slog.Logger
}

// New создаёт клиент CRM 3.0.
// endpoint — базовый URL CRM-сервера, caCertPath — CA для TLS (пустая строка —
// стандартный пул), timeout — таймаут HTTP-запросов.
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
		transport: transport,
		conv:      conv,
		username:  username,
		password:  password,
		org:       org,
		logger:    logger.With(slog.String("component", "crm_client_v3")),
	}, nil
}

// header строит заголовок конверта с учётными данными (stateless).
func (c *Client) header() soap.Header {
	return soap.Header{
		Username:     c.username,
		Password:     c.password,
		Organization: c.org,
	}
}

func (c *Client) call(ctx context.Context, op string, body soap.Body) (*soap.Result, error) {
	start := time.Now()
	res, err := c.transport.Call(ctx, servicePath, &soap.Envelope{
		Header: c.header(),
		Body:   body,
	})
	crmclient.ObserveCall(version, op, start, err)
	return res, err
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

// RetrieveMultiple выполняет постраничный запрос.
// Paging cookie в 3.0 не поддерживается и игнорируется.
func (c *Client) RetrieveMultiple(ctx context.Context, q crmclient.Query) (*crmclient.Page, error) {
	q.PagingCookie = ""
	res, err := c.call(ctx, "retrieve_multiple", soap.Body{RetrieveMultiple: soap.EncodeQuery(q)})
	if err != nil {
		return nil, err
	}
	page, err := soap.DecodePage(res, c.conv)
	if err != nil {
		return nil, err
	}
	page.PagingCookie = ""
	return page, nil
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
// В 3.0 нет aggregate-запросов: используется запрос одной записи
// с ReturnTotalCount.
func (c *Client) Count(ctx context.Context, q crmclient.Query) (int, error) {
	q.Page = 1
	q.PageSize = 1
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
