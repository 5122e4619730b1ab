package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

// defaultIdempotencyTTL применяется, когда вызывающий код не задал срок жизни ключа.
const defaultIdempotencyTTL = 24 * time.Hour

type idempotencyRepositoryInMemory struct {
	mu      sync.RWMutex
	now     func() time.Time
	records map[domain.IdempotencyKey]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory реестр ответов по (операция, ключ).
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyRepositoryInMemory{
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[domain.IdempotencyKey]domain.IdempotencyRecord),
	}
}

func (r *idempotencyRepositoryInMemory) CreateProcessing(key domain.IdempotencyKey, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := key.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Просроченная, но ещё не вычищенная запись не блокирует новый запрос.
	if existing, ok := r.records[key]; ok && existing.TTLAt.After(now) {
		if existing.RequestHash != requestHash {
			return copyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Operation:   key.Operation,
		Key:         key.Key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = record
	return copyRecord(record), nil
}

func (r *idempotencyRepositoryInMemory) Get(key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	key, err := key.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (r *idempotencyRepositoryInMemory) MarkDone(key domain.IdempotencyKey, responseBody []byte, responseCode int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, responseCode)
}

func (r *idempotencyRepositoryInMemory) MarkFailed(key domain.IdempotencyKey, responseBody []byte, responseCode int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, responseCode)
}

// DeleteExpired удаляет не больше limit записей с ttl_at <= before; limit <= 0 снимает ограничение.
func (r *idempotencyRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, record := range r.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.TTLAt.After(before) {
			continue
		}
		delete(r.records, key)
		removed++
	}
	return removed, nil
}

func (r *idempotencyRepositoryInMemory) finish(key domain.IdempotencyKey, status domain.IdempotencyStatus, responseBody []byte, responseCode int) error {
	key, err := key.Normalize()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.ResponseCode = responseCode
	record.UpdatedAt = r.now()
	r.records[key] = record
	return nil
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	src.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return src
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
