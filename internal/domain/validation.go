package domain

import "time"

// RiskLevel — оценка риска покупки по ссылке.
type RiskLevel string

const (
	RiskLevelLow        RiskLevel = "low"
	RiskLevelMedium     RiskLevel = "medium"
	RiskLevelHigh       RiskLevel = "high"
	RiskLevelRestricted RiskLevel = "restricted"
)

// Valid проверяет значение уровня риска.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelRestricted:
		return true
	default:
		return false
	}
}

// ValidationMethod — как было принято решение о допуске ссылки.
type ValidationMethod string

const (
	ValidationMethodAuto     ValidationMethod = "auto"
	ValidationMethodManual   ValidationMethod = "manual"
	ValidationMethodOverride ValidationMethod = "override"
)

// ValidationStatus — состояние проверки конкретной позиции заказа.
type ValidationStatus string

const (
	ValidationStatusPending      ValidationStatus = "pending"
	ValidationStatusValid        ValidationStatus = "valid"
	ValidationStatusInvalid      ValidationStatus = "invalid"
	ValidationStatusManualReview ValidationStatus = "manual_review"
)

// Valid проверяет значение статуса проверки.
func (s ValidationStatus) Valid() bool {
	switch s {
	case ValidationStatusPending, ValidationStatusValid, ValidationStatusInvalid, ValidationStatusManualReview:
		return true
	default:
		return false
	}
}

// ProductInfo — справочные данные о товаре, на допуск не влияют.
type ProductInfo struct {
	Title        string `json:"title"`
	PriceMinor   int64  `json:"price_minor"`
	Currency     string `json:"currency"`
	Availability string `json:"availability"`
}

// ValidationResult — решение валидатора по одной ссылке.
type ValidationResult struct {
	IsValid              bool             `json:"is_valid"`
	IsSupported          bool             `json:"is_supported"`
	RiskLevel            RiskLevel        `json:"risk_level"`
	ValidationMethod     ValidationMethod `json:"validation_method"`
	RequiresManualReview bool             `json:"requires_manual_review"`
	StockStatus          string           `json:"stock_status,omitempty"`
	ProductInfo          *ProductInfo     `json:"product_info,omitempty"`
	ErrorMessage         string           `json:"error_message,omitempty"`
}

// ItemValidationStatus переводит решение валидатора в статус позиции заказа.
func (r ValidationResult) ItemValidationStatus() ValidationStatus {
	switch {
	case !r.IsValid:
		return ValidationStatusInvalid
	case r.RequiresManualReview:
		return ValidationStatusManualReview
	default:
		return ValidationStatusValid
	}
}

// AdminOverride — запись аудита ручного решения по ссылке.
type AdminOverride struct {
	Timestamp time.Time `json:"timestamp"`
	AdminID   string    `json:"admin_id"`
	Action    string    `json:"action"`
	Notes     string    `json:"notes,omitempty"`
}

// LinkCacheEntry — закешированный результат проверки по нормализованному URL.
type LinkCacheEntry struct {
	URL            string           `json:"url"`
	Domain         string           `json:"domain"`
	Result         ValidationResult `json:"result"`
	AdminOverrides []AdminOverride  `json:"admin_overrides"`
	LastChecked    time.Time        `json:"last_checked"`
}

// Fresh сообщает, что запись моложе окна свежести на момент now.
func (e LinkCacheEntry) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(e.LastChecked) < window
}
