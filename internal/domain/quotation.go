package domain

import "time"

// Quotation — расчёт стоимости, который отправляется клиенту на согласование.
// Все суммы хранятся в центах, поэтому сумма компонентов считается точно.
type Quotation struct {
	ItemCostMinor    int64      `json:"item_cost_minor"`
	ShippingFeeMinor int64      `json:"shipping_fee_minor"`
	ServiceFeeMinor  int64      `json:"service_fee_minor"`
	CustomsDutyMinor int64      `json:"customs_duty_minor"`
	TotalAmountMinor int64      `json:"total_amount_minor"`
	Currency         string     `json:"currency"`
	Notes            string     `json:"notes,omitempty"`
	QuoteSentAt      *time.Time `json:"quote_sent_at,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	RejectedAt       *time.Time `json:"rejected_at,omitempty"`
}

// DefaultCurrency используется, если в расчёте валюта не указана.
const DefaultCurrency = "USD"

// ComponentsSum возвращает сумму четырёх компонентов расчёта.
func (q Quotation) ComponentsSum() int64 {
	return q.ItemCostMinor + q.ShippingFeeMinor + q.ServiceFeeMinor + q.CustomsDutyMinor
}

// Normalize пересчитывает итог из компонентов, игнорируя присланный клиентом total.
func (q *Quotation) Normalize() {
	q.TotalAmountMinor = q.ComponentsSum()
	if q.Currency == "" {
		q.Currency = DefaultCurrency
	}
}

// Validate проверяет, что компоненты расчёта неотрицательны.
func (q Quotation) Validate() error {
	if q.ItemCostMinor < 0 || q.ShippingFeeMinor < 0 || q.ServiceFeeMinor < 0 || q.CustomsDutyMinor < 0 {
		return ErrQuotationAmountNegative
	}
	return nil
}
