package domain

import "errors"

var (
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательного количества товара.
	ErrItemQtyInvalid = errors.New("item quantity must be non-negative")
	// Ошибка пустой ссылки на товар.
	ErrProductLinkRequired = errors.New("product link is required")
	// ErrInvalidProductLink — ссылка не прошла синтаксическую проверку, позицию добавить нельзя.
	ErrInvalidProductLink = errors.New("invalid product link")
	// Ошибка индекса позиции вне диапазона.
	ErrItemIndexOutOfRange = errors.New("item index out of range")
	// Ошибка формата идентификатора заказа.
	ErrOrderIDInvalid = errors.New("order id must match KS-25-NNNNNN")
	// Ошибка неизвестного статуса заказа.
	ErrUnknownStatus = errors.New("unknown order status")
	// Ошибка неизвестного метода обновления.
	ErrUnknownUpdateMethod = errors.New("unknown update method")
	// Ошибка пустой истории статусов.
	ErrHistoryEmpty = errors.New("status history must not be empty")
	// Ошибка рассинхронизации последней записи истории и статуса.
	ErrHistoryOutOfSync = errors.New("last history entry does not match order status")
	// ErrQuotationRequired — переход в quotation_sent без расчёта.
	ErrQuotationRequired = errors.New("quotation is required for quotation_sent")
	// Ошибка отрицательного компонента расчёта.
	ErrQuotationAmountNegative = errors.New("quotation amounts must be non-negative")
	// Ошибка несоответствия итога расчёта сумме компонентов.
	ErrQuotationTotalMismatch = errors.New("quotation total does not match components")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists сигнализирует о повторном создании заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrCustomerNotFound возвращается, если клиента нет в реестре.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerLookupRequired — поиск клиента без email и телефона.
	ErrCustomerLookupRequired = errors.New("customer email or phone is required")
	// ErrCustomerRegistryUnavailable — реестр клиентов не подключён.
	ErrCustomerRegistryUnavailable = errors.New("customer registry is not configured")
	// ErrRefundAlreadyRequested — возврат по заказу уже запрашивался.
	ErrRefundAlreadyRequested = errors.New("refund already requested")
	// ErrRefundReasonRequired — заявка на возврат без причины.
	ErrRefundReasonRequired = errors.New("refund reason is required")
	// Ошибка отрицательной суммы возврата.
	ErrRefundAmountNegative = errors.New("refund amount must be non-negative")
	// ErrRefundNotRequested — изменение статуса возврата, которого нет.
	ErrRefundNotRequested = errors.New("refund was not requested")
	// ErrRefundTerminal — возврат уже завершён или отклонён.
	ErrRefundTerminal = errors.New("refund is in a terminal state")
	// Ошибка неизвестного или недопустимого целевого статуса возврата.
	ErrRefundInvalidStatus = errors.New("invalid refund status")
	// Ошибка неизвестного уровня риска в ручном решении.
	ErrRiskLevelInvalid = errors.New("unknown risk level")
	// Ошибка неизвестного статуса проверки позиции.
	ErrValidationStatusInvalid = errors.New("unknown validation status")
	// ErrAutomationDisabled — автоматическое обновление пришло для заказа, где автоматизация выключена.
	ErrAutomationDisabled = errors.New("automation is disabled for order")
	// ErrTrackingVerificationFailed — телефон не совпал при запросе трекинга.
	ErrTrackingVerificationFailed = errors.New("phone verification failed")
	// ErrLinkNotCached — для URL нет записи в кеше проверок.
	ErrLinkNotCached = errors.New("link validation not cached")
	// ErrLinkCacheUnavailable — операция требует кеша проверок, а он не подключён.
	ErrLinkCacheUnavailable = errors.New("link cache is not configured")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// Ошибки idempotency-ключей.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyOperationRequired   = errors.New("idempotency operation is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// IsNotFound проверяет, что заказ или клиент не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrCustomerNotFound)
}

// IsValidationError отвечает, относится ли ошибка к некорректным входным данным.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrItemsRequired, ErrItemQtyInvalid, ErrProductLinkRequired, ErrInvalidProductLink,
		ErrItemIndexOutOfRange, ErrOrderIDInvalid, ErrUnknownStatus, ErrUnknownUpdateMethod,
		ErrQuotationRequired, ErrQuotationAmountNegative, ErrRefundReasonRequired,
		ErrRefundAmountNegative, ErrRefundInvalidStatus, ErrRiskLevelInvalid, ErrValidationStatusInvalid,
		ErrCustomerLookupRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict отвечает, конфликтует ли запрос с текущим состоянием заказа.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRefundAlreadyRequested) ||
		errors.Is(err, ErrRefundNotRequested) ||
		errors.Is(err, ErrRefundTerminal) ||
		errors.Is(err, ErrOrderAlreadyExists)
}
