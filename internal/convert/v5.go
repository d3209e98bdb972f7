// v5.go — словарь типов CRM 2011 SDK (организационный сервис).
// Сильно типизированная модель: AttributeTypeCode в метаданных,
// picklist-значения приходят как OptionSetValue.
package convert

import "github.com/bigkaa/crmbridge/internal/domain/model"

// NewV5 создаёт адаптер типов CRM 2011.
func NewV5() Converter {
	return &converter{
		version: "v5",
		toType: map[string]model.SupportedType{
			"String":         model.TypeString,
			"Memo":           model.TypeString,
			"Boolean":        model.TypeBoolean,
			"DateTime":       model.TypeDateTime,
			"Double":         model.TypeFloat,
			"Decimal":        model.TypeDecimal,
			"Money":          model.TypeMoney,
			"Integer":        model.TypeNumber,
			"Picklist":       model.TypePicklist,
			"OptionSetValue": model.TypePicklist,
		},
		toWire: map[model.SupportedType]string{
			model.TypeString:   "String",
			model.TypeBoolean:  "Boolean",
			model.TypeDateTime: "DateTime",
			model.TypeFloat:    "Double",
			model.TypeDecimal:  "Decimal",
			model.TypeMoney:    "Money",
			model.TypeNumber:   "Integer",
			model.TypePicklist: "OptionSetValue",
		},
	}
}
