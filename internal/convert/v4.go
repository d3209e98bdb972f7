// v4.go — словарь типов CRM 4.0 SDK.
// Тот же слабо типизированный property bag, что и в 3.0,
// плюс выделенный CrmDecimal.
package convert

import "github.com/bigkaa/crmbridge/internal/domain/model"

// NewV4 создаёт адаптер типов CRM 4.0.
func NewV4() Converter {
	return &converter{
		version: "v4",
		toType: map[string]model.SupportedType{
			"string":      model.TypeString,
			"CrmBoolean":  model.TypeBoolean,
			"CrmDateTime": model.TypeDateTime,
			"CrmFloat":    model.TypeFloat,
			"CrmDecimal":  model.TypeDecimal,
			"CrmMoney":    model.TypeMoney,
			"CrmNumber":   model.TypeNumber,
			"Picklist":    model.TypePicklist,
		},
		toWire: map[model.SupportedType]string{
			model.TypeString:   "string",
			model.TypeBoolean:  "CrmBoolean",
			model.TypeDateTime: "CrmDateTime",
			model.TypeFloat:    "CrmFloat",
			model.TypeDecimal:  "CrmDecimal",
			model.TypeMoney:    "CrmMoney",
			model.TypeNumber:   "CrmNumber",
			model.TypePicklist: "Picklist",
		},
	}
}
