package domain

import (
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyKey адресует запись: клиентский ключ живёт в пространстве своей операции.
// Один и тот же Key для CreateOrder и RequestRefund — две независимые записи.
type IdempotencyKey struct {
	Operation string
	Key       string
}

// ScopedKey строит ключ операции из заголовка клиента.
func ScopedKey(operation, key string) IdempotencyKey {
	return IdempotencyKey{Operation: operation, Key: key}
}

// Normalize обрезает пробелы и проверяет обе части ключа.
func (k IdempotencyKey) Normalize() (IdempotencyKey, error) {
	k.Operation = strings.TrimSpace(k.Operation)
	k.Key = strings.TrimSpace(k.Key)
	if k.Key == "" {
		return k, ErrIdempotencyKeyRequired
	}
	if k.Operation == "" {
		return k, ErrIdempotencyOperationRequired
	}
	return k, nil
}

func (k IdempotencyKey) String() string {
	return k.Operation + " " + k.Key
}

// IdempotencyRecord хранит ответ на запрос с idempotency-key.
// ResponseCode — HTTP-код для REST и код gRPC для RPC-вызовов.
type IdempotencyRecord struct {
	Operation    string
	Key          string
	RequestHash  string
	ResponseBody []byte
	ResponseCode int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ScopedKey возвращает адрес записи.
func (r IdempotencyRecord) ScopedKey() IdempotencyKey {
	return IdempotencyKey{Operation: r.Operation, Key: r.Key}
}

// Replayable сообщает, что по записи можно вернуть сохранённый ответ.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status != IdempotencyStatusProcessing && r.ResponseCode != 0 && len(r.ResponseBody) > 0
}
