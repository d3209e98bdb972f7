// Пакет model — доменные модели crmbridge.
// Value — универсальное типизированное представление значения CRM-атрибута.
// Каждая версия CRM SDK использует собственную систему типов атрибутов;
// конвертеры (internal/convert) приводят их к единому набору SupportedType.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SupportedType — единый набор типов атрибутов, поддерживаемых адаптером.
type SupportedType int

const (
	// TypeRaw — нераспознанный тип, значение хранится как строка без преобразования.
	TypeRaw SupportedType = iota
	// TypeString — строковый атрибут (nvarchar).
	TypeString
	// TypeBoolean — булев атрибут (bit).
	TypeBoolean
	// TypeDateTime — дата/время (UTC).
	TypeDateTime
	// TypeFloat — число с плавающей точкой.
	TypeFloat
	// TypeDecimal — десятичное число с фиксированной точностью.
	TypeDecimal
	// TypeMoney — денежное значение.
	TypeMoney
	// TypeNumber — целое число.
	TypeNumber
	// TypePicklist — выпадающий список (label ↔ целочисленный код).
	TypePicklist
)

// String возвращает имя типа для логов и сообщений об ошибках.
func (t SupportedType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeBoolean:
		return "CrmBoolean"
	case TypeDateTime:
		return "CrmDateTime"
	case TypeFloat:
		return "CrmFloat"
	case TypeDecimal:
		return "CrmDecimal"
	case TypeMoney:
		return "CrmMoney"
	case TypeNumber:
		return "CrmNumber"
	case TypePicklist:
		return "Picklist"
	default:
		return "Raw"
	}
}

// Value — тегированный вариант значения атрибута CRM.
// Конкретное поле определяется тегом Type; доступ только через
// явные конструкторы и аксессоры, без нетипизированного индексатора.
type Value struct {
	typ SupportedType

	str string
	b   bool
	t   time.Time
	f   float64
	i   int64
}

// Конструкторы Value по одному на член SupportedType.

// StringValue создаёт строковое значение.
func StringValue(s string) Value { return Value{typ: TypeString, str: s} }

// BoolValue создаёт булево значение.
func BoolValue(b bool) Value { return Value{typ: TypeBoolean, b: b} }

// TimeValue создаёт значение даты/времени.
func TimeValue(t time.Time) Value { return Value{typ: TypeDateTime, t: t} }

// FloatValue создаёт значение с плавающей точкой.
func FloatValue(f float64) Value { return Value{typ: TypeFloat, f: f} }

// DecimalValue создаёт десятичное значение.
func DecimalValue(f float64) Value { return Value{typ: TypeDecimal, f: f} }

// MoneyValue создаёт денежное значение.
func MoneyValue(f float64) Value { return Value{typ: TypeMoney, f: f} }

// NumberValue создаёт целочисленное значение.
func NumberValue(n int64) Value { return Value{typ: TypeNumber, i: n} }

// PicklistValue создаёт значение picklist: целочисленный код опции.
func PicklistValue(code int64) Value { return Value{typ: TypePicklist, i: code} }

// RawValue создаёт значение нераспознанного типа (строка как есть).
func RawValue(s string) Value { return Value{typ: TypeRaw, str: s} }

// Type возвращает тег типа значения.
func (v Value) Type() SupportedType { return v.typ }

// IsZero сообщает, что значение не было установлено.
func (v Value) IsZero() bool { return v == Value{} }

// Str возвращает строковое содержимое (TypeString и TypeRaw).
func (v Value) Str() string { return v.str }

// Bool возвращает булево содержимое.
func (v Value) Bool() bool { return v.b }

// Time возвращает содержимое даты/времени.
func (v Value) Time() time.Time { return v.t }

// Float возвращает число с плавающей точкой (TypeFloat, TypeDecimal, TypeMoney).
func (v Value) Float() float64 { return v.f }

// Int возвращает целочисленное содержимое (TypeNumber, TypePicklist).
func (v Value) Int() int64 { return v.i }

// Text возвращает каноническое строковое представление значения.
// Используется при сериализации в wire-формат и при отдаче значений наружу.
func (v Value) Text() string {
	switch v.typ {
	case TypeString, TypeRaw:
		return v.str
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	case TypeDateTime:
		return v.t.UTC().Format(time.RFC3339)
	case TypeFloat, TypeDecimal, TypeMoney:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case TypeNumber, TypePicklist:
		return strconv.FormatInt(v.i, 10)
	default:
		return ""
	}
}

// Coerce преобразует строковое представление в Value указанного типа.
// Строки типа TypeString проходят без изменений. Для остальных типов
// выполняется строгий парсинг; ошибка парсинга означает, что значение
// должно быть исключено из обновления (политика write-path).
func Coerce(t SupportedType, s string) (Value, error) {
	switch t {
	case TypeString:
		return StringValue(s), nil
	case TypeRaw:
		return RawValue(s), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("некорректное булево значение %q: %w", s, err)
		}
		return BoolValue(b), nil
	case TypeDateTime:
		ts, err := parseTime(strings.TrimSpace(s))
		if err != nil {
			return Value{}, err
		}
		return TimeValue(ts), nil
	case TypeFloat, TypeDecimal, TypeMoney:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("некорректное число %q: %w", s, err)
		}
		return Value{typ: t, f: f}, nil
	case TypeNumber:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("некорректное целое число %q: %w", s, err)
		}
		return NumberValue(n), nil
	case TypePicklist:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("некорректный код picklist %q: %w", s, err)
		}
		return PicklistValue(n), nil
	default:
		return Value{}, fmt.Errorf("неизвестный тип атрибута %d", t)
	}
}

// parseTime принимает RFC3339 и распространённые форматы дат CRM.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		if ts, err := time.Parse(f, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("некорректная дата/время %q", s)
}

// AttributeMetadata — дескриптор типа CRM-атрибута.
// Для picklist дополнительно содержит маппинг label ↔ целочисленный код опции.
// Кэшируется в metadata-регионе без инвалидации (схема атрибутов стабильна
// на время жизни процесса).
type AttributeMetadata struct {
	// Name — логическое имя атрибута.
	Name string
	// Type — тип атрибута в единой системе SupportedType.
	Type SupportedType
	// Options — маппинг label → код опции (только для picklist).
	Options map[string]int64
	// Labels — обратный маппинг код → label (только для picklist).
	Labels map[int64]string
}

// OptionCode возвращает код опции picklist по label.
func (m *AttributeMetadata) OptionCode(label string) (int64, bool) {
	code, ok := m.Options[label]
	return code, ok
}

// OptionLabel возвращает label опции picklist по коду.
func (m *AttributeMetadata) OptionLabel(code int64) (string, bool) {
	label, ok := m.Labels[code]
	return label, ok
}
