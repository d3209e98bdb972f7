// codec.go — кодирование/декодирование записей и запросов между
// доменной моделью и wire-представлением. Версионные различия значений
// параметризуются convert.Converter.
package soap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/crmbridge/internal/convert"
	"github.com/bigkaa/crmbridge/internal/crmclient"
	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// EncodeEntity переводит доменную запись в wire-представление.
func EncodeEntity(e *model.Entity, conv convert.Converter) (*Entity, error) {
	we := &Entity{
		Name: e.LogicalName,
	}
	if e.ID != uuid.Nil {
		we.ID = e.ID.String()
	}
	for _, name := range e.Attributes() {
		v, _ := e.Get(name)
		wireType, raw, err := conv.Format(v)
		if err != nil {
			return nil, fmt.Errorf("атрибут %s: %w", name, err)
		}
		we.Attributes = append(we.Attributes, Attribute{
			Name:  name,
			Type:  wireType,
			Value: raw,
		})
	}
	return we, nil
}

// DecodeEntity переводит wire-запись в доменную.
func DecodeEntity(we Entity, conv convert.Converter) (*model.Entity, error) {
	e := model.NewEntity(we.Name)
	if we.ID != "" {
		id, err := uuid.Parse(we.ID)
		if err != nil {
			return nil, fmt.Errorf("некорректный GUID записи %q: %w", we.ID, err)
		}
		e.ID = id
	}
	if we.State != "" {
		state, err := strconv.Atoi(we.State)
		if err != nil {
			return nil, fmt.Errorf("некорректный state-код %q: %w", we.State, err)
		}
		e.State = state
	}
	if we.Status != "" {
		status, err := strconv.Atoi(we.Status)
		if err != nil {
			return nil, fmt.Errorf("некорректный status-код %q: %w", we.Status, err)
		}
		e.Status = status
	}
	for _, a := range we.Attributes {
		v, err := conv.Parse(a.Type, a.Value)
		if err != nil {
			return nil, fmt.Errorf("атрибут %s: %w", a.Name, err)
		}
		e.Set(a.Name, v)
	}
	return e, nil
}

// EncodeQuery переводит параметры запроса в wire-представление.
func EncodeQuery(q crmclient.Query) *QueryExpression {
	qe := &QueryExpression{
		Entity:           q.Entity,
		Columns:          q.Columns,
		ActiveOnly:       q.ActiveOnly,
		Page:             q.Page,
		PageSize:         q.PageSize,
		PagingCookie:     q.PagingCookie,
		ReturnTotalCount: q.ReturnTotalCount,
	}
	for _, c := range q.Conditions {
		qe.Conditions = append(qe.Conditions, Condition{
			Attribute: c.Attribute,
			Operator:  c.Operator,
			Value:     c.Value,
		})
	}
	if q.Link != nil {
		link := &LinkEntity{
			Name: q.Link.Entity,
			From: q.Link.FromAttribute,
			To:   q.Link.ToAttribute,
		}
		for _, c := range q.Link.Conditions {
			link.Conditions = append(link.Conditions, Condition{
				Attribute: c.Attribute,
				Operator:  c.Operator,
				Value:     c.Value,
			})
		}
		qe.Link = link
	}
	return qe
}

// DecodePage переводит результат RetrieveMultiple в страницу доменных записей.
func DecodePage(res *Result, conv convert.Converter) (*crmclient.Page, error) {
	page := &crmclient.Page{
		MoreRecords:             res.MoreRecords,
		PagingCookie:            res.PagingCookie,
		TotalCount:              res.TotalCount,
		TotalCountLimitExceeded: res.TotalCountLimitExceeded,
	}
	for _, we := range res.Entities {
		e, err := DecodeEntity(we, conv)
		if err != nil {
			return nil, err
		}
		page.Entities = append(page.Entities, e)
	}
	return page, nil
}

// DecodeMetadata переводит wire-метаданные атрибута в единый дескриптор.
func DecodeMetadata(m *AttrMetadataXML, conv convert.Converter) (*model.AttributeMetadata, error) {
	info := &convert.AttributeInfo{
		Name:     m.Name,
		TypeName: m.Type,
	}
	for _, o := range m.Options {
		info.Options = append(info.Options, convert.Option{
			Code:  o.Value,
			Label: strings.TrimSpace(o.Label),
		})
	}
	return conv.Metadata(info)
}
