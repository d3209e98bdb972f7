// Пакет soap — общий wire-кодек и HTTP-транспорт клиентов CRM.
// Конверты запросов/ответов, разбор фолтов, TLS с кастомным CA.
// Версионные различия (аутентификация, пагинация, словари типов)
// живут в пакетах v3/v4/v5 — здесь только общая XML-обвязка.
package soap

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/crmbridge/internal/crmclient"
)

// Header — заголовок конверта с версионными полями аутентификации.
type Header struct {
	// Username/Password — учётные данные в каждом запросе (V3, stateless).
	Username string `xml:"Username,omitempty"`
	Password string `xml:"Password,omitempty"`
	// Ticket — аутентификационный тикет (V4).
	Ticket string `xml:"CrmTicket,omitempty"`
	// SecurityToken — токен безопасности организационного сервиса (V5).
	SecurityToken string `xml:"SecurityToken,omitempty"`
	// Organization — имя организации CRM.
	Organization string `xml:"Organization,omitempty"`
}

// Attribute — атрибут записи на проводе.
type Attribute struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Entity — запись сущности на проводе.
type Entity struct {
	Name       string      `xml:"name,attr"`
	ID         string      `xml:"id,attr,omitempty"`
	State      string      `xml:"state,attr,omitempty"`
	Status     string      `xml:"status,attr,omitempty"`
	Attributes []Attribute `xml:"Attribute"`
}

// Target — ссылка на запись (Delete, SetState, Retrieve).
type Target struct {
	Entity string `xml:"entity,attr"`
	ID     string `xml:"id,attr"`
}

// Condition — условие фильтра на проводе.
type Condition struct {
	Attribute string `xml:"attribute,attr"`
	Operator  string `xml:"operator,attr"`
	Value     string `xml:",chardata"`
}

// LinkEntity — join-связь на проводе.
type LinkEntity struct {
	Name       string      `xml:"name,attr"`
	From       string      `xml:"from,attr"`
	To         string      `xml:"to,attr"`
	Conditions []Condition `xml:"Condition"`
}

// QueryExpression — запрос RetrieveMultiple на проводе.
type QueryExpression struct {
	Entity           string      `xml:"entity,attr"`
	Columns          []string    `xml:"Column"`
	Conditions       []Condition `xml:"Condition"`
	Link             *LinkEntity `xml:"LinkEntity,omitempty"`
	ActiveOnly       bool        `xml:"ActiveOnly,omitempty"`
	Page             int         `xml:"Page,omitempty"`
	PageSize         int         `xml:"PageSize,omitempty"`
	PagingCookie     string      `xml:"PagingCookie,omitempty"`
	ReturnTotalCount bool        `xml:"ReturnTotalCount,omitempty"`
}

// SetState — запрос смены state/status на проводе.
type SetState struct {
	Target Target `xml:"Target"`
	State  int    `xml:"State"`
	// Status опускается при fallback "только state".
	Status *int `xml:"Status,omitempty"`
}

// ListMember — запрос членства list ↔ contact.
type ListMember struct {
	ListID   string `xml:"ListId"`
	EntityID string `xml:"EntityId"`
}

// AttributeRequest — запрос метаданных атрибута.
type AttributeRequest struct {
	Entity    string `xml:"entity,attr"`
	Attribute string `xml:"attribute,attr"`
}

// CreateAttribute — запрос создания атрибута в схеме.
type CreateAttribute struct {
	Entity    string `xml:"entity,attr"`
	Attribute string `xml:"attribute,attr"`
	Type      string `xml:"type,attr"`
}

// Fetch — запрос FetchXML (тело передаётся как есть).
type Fetch struct {
	Query string `xml:",cdata"`
}

// Body — тело конверта: ровно одно операционное поле непустое.
type Body struct {
	Create           *Entity           `xml:"Create,omitempty"`
	Update           *Entity           `xml:"Update,omitempty"`
	Delete           *Target           `xml:"Delete,omitempty"`
	Retrieve         *RetrieveRequest  `xml:"Retrieve,omitempty"`
	RetrieveMultiple *QueryExpression  `xml:"RetrieveMultiple,omitempty"`
	Fetch            *Fetch            `xml:"Fetch,omitempty"`
	SetState         *SetState         `xml:"SetState,omitempty"`
	AddListMember    *ListMember       `xml:"AddListMember,omitempty"`
	RemoveListMember *ListMember       `xml:"RemoveListMember,omitempty"`
	RetrieveAttr     *AttributeRequest `xml:"RetrieveAttributeMetadata,omitempty"`
	CreateAttr       *CreateAttribute  `xml:"CreateAttribute,omitempty"`
	Count            *QueryExpression  `xml:"Count,omitempty"`
}

// RetrieveRequest — запрос одной записи по GUID.
type RetrieveRequest struct {
	Target  Target   `xml:"Target"`
	Columns []string `xml:"Column"`
}

// Envelope — конверт запроса.
type Envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  Header   `xml:"Header"`
	Body    Body     `xml:"Body"`
}

// fault — фолт CRM в ответе.
type fault struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

// optionXML — опция picklist в метаданных на проводе.
type optionXML struct {
	Value int64  `xml:"value,attr"`
	Label string `xml:",chardata"`
}

// AttrMetadataXML — метаданные атрибута на проводе.
type AttrMetadataXML struct {
	Name    string      `xml:"name,attr"`
	Type    string      `xml:"type,attr"`
	Options []optionXML `xml:"Option"`
}

// Result — результат успешного вызова.
type Result struct {
	// ID — GUID созданной записи (Create).
	ID string `xml:"Id"`
	// Entities — записи результата (Retrieve, RetrieveMultiple).
	Entities []Entity `xml:"Entity"`
	// MoreRecords — есть ли ещё страницы.
	MoreRecords bool `xml:"MoreRecords"`
	// PagingCookie — курсор следующей страницы.
	PagingCookie string `xml:"PagingCookie"`
	// TotalCount — общее количество записей (если запрошено).
	TotalCount int `xml:"TotalCount"`
	// TotalCountLimitExceeded — сервер не смог посчитать точно.
	TotalCountLimitExceeded bool `xml:"TotalCountLimitExceeded"`
	// Count — результат Count-запроса.
	Count int `xml:"Count"`
	// Metadata — метаданные атрибута (RetrieveAttributeMetadata).
	Metadata *AttrMetadataXML `xml:"AttributeMetadata"`
	// FetchResult — XML-результат FetchXML как есть.
	FetchResult string `xml:"FetchResult"`
}

// responseEnvelope — конверт ответа.
type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Fault   *fault   `xml:"Body>Fault"`
	Result  *Result  `xml:"Body>Result"`
}

// Transport — HTTP-транспорт CRM-сервиса.
type Transport struct {
	httpClient *http.Client
	endpoint   string
	// decorate — опциональная модификация HTTP-запроса (bearer-токен V5).
	decorate func(*http.Request)
}

// NewTransport создаёт транспорт к CRM-endpoint.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут HTTP-запросов к CRM.
func NewTransport(endpoint, caCertPath string, timeout time.Duration) (*Transport, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата CRM: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	return &Transport{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
	}, nil
}

// SetDecorator задаёт модификатор HTTP-запросов (заголовки аутентификации).
func (t *Transport) SetDecorator(fn func(*http.Request)) {
	t.decorate = fn
}

// SetHTTPClient заменяет HTTP-клиент (oauth2-клиент в LiveID-режиме V5).
func (t *Transport) SetHTTPClient(c *http.Client) {
	t.httpClient = c
}

// Call отправляет конверт на указанный путь сервиса и разбирает ответ.
// Фолт CRM переводится в типизированную ошибку через crmclient.ClassifyFault.
func (t *Transport) Call(ctx context.Context, path string, env *Envelope) (*Result, error) {
	payload, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("сериализация конверта: %w", err)
	}

	reqURL := t.endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("создание запроса CRM: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	if t.decorate != nil {
		t.decorate(req)
	}

	resp, err := t.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации CRM
	if err != nil {
		return nil, fmt.Errorf("запрос CRM к %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа CRM: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
		// 500 несёт фолт в теле, остальные статусы — транспортная ошибка.
		return nil, fmt.Errorf("CRM вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var re responseEnvelope
	if err := xml.Unmarshal(body, &re); err != nil {
		return nil, fmt.Errorf("разбор ответа CRM: %w", err)
	}
	if re.Fault != nil {
		return nil, crmclient.ClassifyFault(re.Fault.Code, strings.TrimSpace(re.Fault.Message))
	}
	if re.Result == nil {
		return nil, fmt.Errorf("пустой результат в ответе CRM")
	}
	return re.Result, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
