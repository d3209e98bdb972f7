// Пакет convert — приведение атрибутов CRM между нативным представлением
// конкретного поколения SDK и единой системой типов model.SupportedType.
// Три адаптера (V3, V4, V5) отличаются словарями wire-типов; логика
// парсинга/форматирования значений общая и параметризуется словарём.
package convert

import (
	"errors"
	"fmt"

	"github.com/bigkaa/crmbridge/internal/domain/model"
)

// ErrUnsupportedType — wire-тип атрибута не маппится на SupportedType.
// Для разрешения типа профильного свойства это фатальная ошибка конфигурации,
// а не повод для тихой коэрции.
var ErrUnsupportedType = errors.New("неподдерживаемый тип атрибута CRM")

// Option — опция picklist из метаданных CRM.
type Option struct {
	// Code — целочисленный код опции.
	Code int64
	// Label — отображаемый label опции.
	Label string
}

// AttributeInfo — сырые метаданные атрибута, полученные версионным клиентом.
type AttributeInfo struct {
	// Name — логическое имя атрибута.
	Name string
	// TypeName — имя типа в словаре конкретной версии SDK.
	TypeName string
	// Options — опции picklist (пусто для остальных типов).
	Options []Option
}

// Converter — версионный адаптер типов и значений атрибутов.
type Converter interface {
	// SupportedType маппит wire-имя типа на SupportedType.
	// Возвращает ErrUnsupportedType для типов вне единой системы.
	SupportedType(wireType string) (model.SupportedType, error)
	// WireTypeName возвращает wire-имя типа для SupportedType
	// (используется при создании атрибутов в схеме CRM).
	WireTypeName(t model.SupportedType) (string, error)
	// Parse переводит wire-значение в Value. Нераспознанный wire-тип
	// не является ошибкой чтения: значение сохраняется как TypeRaw.
	Parse(wireType, raw string) (model.Value, error)
	// Format переводит Value в пару (wire-тип, wire-значение).
	Format(v model.Value) (wireType, raw string, err error)
	// Metadata строит единый дескриптор атрибута из сырых метаданных.
	Metadata(info *AttributeInfo) (*model.AttributeMetadata, error)
}

// converter — общая реализация, параметризованная словарём типов версии.
type converter struct {
	version string
	// toType — wire-имя → SupportedType.
	toType map[string]model.SupportedType
	// toWire — SupportedType → каноническое wire-имя версии.
	toWire map[model.SupportedType]string
}

func (c *converter) SupportedType(wireType string) (model.SupportedType, error) {
	t, ok := c.toType[wireType]
	if !ok {
		return model.TypeRaw, fmt.Errorf("%w: %s (%q)", ErrUnsupportedType, c.version, wireType)
	}
	return t, nil
}

func (c *converter) WireTypeName(t model.SupportedType) (string, error) {
	name, ok := c.toWire[t]
	if !ok {
		return "", fmt.Errorf("%w: %s (%v)", ErrUnsupportedType, c.version, t)
	}
	return name, nil
}

func (c *converter) Parse(wireType, raw string) (model.Value, error) {
	t, ok := c.toType[wireType]
	if !ok {
		// Read path терпим к незнакомым типам: lookup, owner и т.п.
		// попадают в property bag как raw-строки.
		return model.RawValue(raw), nil
	}
	v, err := model.Coerce(t, raw)
	if err != nil {
		return model.Value{}, fmt.Errorf("парсинг атрибута типа %s: %w", wireType, err)
	}
	return v, nil
}

func (c *converter) Format(v model.Value) (string, string, error) {
	if v.Type() == model.TypeRaw {
		return "", v.Text(), nil
	}
	name, err := c.WireTypeName(v.Type())
	if err != nil {
		return "", "", err
	}
	return name, v.Text(), nil
}

func (c *converter) Metadata(info *AttributeInfo) (*model.AttributeMetadata, error) {
	t, err := c.SupportedType(info.TypeName)
	if err != nil {
		return nil, err
	}
	m := &model.AttributeMetadata{
		Name: info.Name,
		Type: t,
	}
	if t == model.TypePicklist {
		m.Options = make(map[string]int64, len(info.Options))
		m.Labels = make(map[int64]string, len(info.Options))
		for _, o := range info.Options {
			m.Options[o.Label] = o.Code
			m.Labels[o.Code] = o.Label
		}
	}
	return m, nil
}
