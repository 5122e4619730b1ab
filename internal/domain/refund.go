package domain

import "time"

// RefundStatus — состояние заявки на возврат.
type RefundStatus string

const (
	RefundStatusPendingReview RefundStatus = "pending_review"
	RefundStatusApproved      RefundStatus = "approved"
	RefundStatusProcessing    RefundStatus = "processing"
	RefundStatusCompleted     RefundStatus = "completed"
	RefundStatusRejected      RefundStatus = "rejected"
)

// Valid проверяет, что статус возврата известен.
func (s RefundStatus) Valid() bool {
	switch s {
	case RefundStatusPendingReview, RefundStatusApproved, RefundStatusProcessing,
		RefundStatusCompleted, RefundStatusRejected:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s RefundStatus) Terminal() bool {
	return s == RefundStatusCompleted || s == RefundStatusRejected
}

// RefundRequest — вложенный объект возврата; у заказа может быть не больше одного.
type RefundRequest struct {
	// Requested выставляется один раз и больше не сбрасывается.
	Requested            bool         `json:"requested"`
	Reason               string       `json:"reason"`
	Evidence             []string     `json:"evidence,omitempty"`
	Status               RefundStatus `json:"status"`
	RequestedAmountMinor int64        `json:"requested_amount_minor"`
	ApprovedAmountMinor  *int64       `json:"approved_amount_minor,omitempty"`
	CustomerNotes        string       `json:"customer_notes,omitempty"`
	AdminNotes           string       `json:"admin_notes,omitempty"`
	RequestedAt          time.Time    `json:"requested_at"`
	// ProcessedAt хранит момент последнего изменения, а не историю.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
