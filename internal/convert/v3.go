// v3.go — словарь типов CRM 3.0 SDK.
// Слабо типизированный property bag: все значения приходят строками,
// тип определяется атрибутом type элемента. Decimal в 3.0 ещё не выделен
// в отдельный wire-тип и передаётся как CrmDecimal только начиная с 4.0.
package convert

import "github.com/bigkaa/crmbridge/internal/domain/model"

// NewV3 создаёт адаптер типов CRM 3.0.
func NewV3() Converter {
	return &converter{
		version: "v3",
		toType: map[string]model.SupportedType{
			"string":      model.TypeString,
			"CrmBoolean":  model.TypeBoolean,
			"CrmDateTime": model.TypeDateTime,
			"CrmFloat":    model.TypeFloat,
			"CrmMoney":    model.TypeMoney,
			"CrmNumber":   model.TypeNumber,
			"Picklist":    model.TypePicklist,
		},
		toWire: map[model.SupportedType]string{
			model.TypeString:   "string",
			model.TypeBoolean:  "CrmBoolean",
			model.TypeDateTime: "CrmDateTime",
			model.TypeFloat:    "CrmFloat",
			// Decimal нет в 3.0 — ближайший тип с плавающей точкой.
			model.TypeDecimal:  "CrmFloat",
			model.TypeMoney:    "CrmMoney",
			model.TypeNumber:   "CrmNumber",
			model.TypePicklist: "Picklist",
		},
	}
}
