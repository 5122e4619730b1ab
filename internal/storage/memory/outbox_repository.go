package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// OutboxRepository — in-memory transactional outbox. Сообщения отдаются в порядке записи.
type OutboxRepository struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*outboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{records: make(map[string]*outboxRecord)}
}

// Enqueue сохраняет событие со статусом pending.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := r.records[msg.ID]; !exists {
		r.order = append(r.order, msg.ID)
	}
	now := time.Now().UTC()
	msg.Payload = append([]byte(nil), msg.Payload...)
	r.records[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit самых старых сообщений в статусе pending.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.order {
		rec := r.records[id]
		if rec.status != outboxStatusPending {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, id := range r.order {
		rec := r.records[id]
		if rec.status != outboxStatusPending {
			continue
		}
		if stats.PendingCount == 0 || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует неудачную попытку публикации.
func (r *OutboxRepository) MarkFailed(id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *OutboxRepository) mark(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

// Messages возвращает все сообщения агрегата в порядке записи, независимо от статуса.
func (r *OutboxRepository) Messages(aggregateID string) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0)
	for _, id := range r.order {
		rec := r.records[id]
		if aggregateID != "" && rec.msg.AggregateID != aggregateID {
			continue
		}
		result = append(result, rec.msg)
	}
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
