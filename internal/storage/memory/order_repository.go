package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
// Один мьютекс сериализует все изменения, поэтому Update атомарен для каждого заказа.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	seq   int64
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// NextOrderNumber выдаёт следующий номер, начиная с 1.
func (r *orderRepositoryInMemory) NextOrderNumber() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	return r.seq, nil
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Храним копию, чтобы вызывающий код не мутировал состояние репозитория.
	r.items[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Update применяет mutate к копии и сохраняет результат, только если mutate не вернул ошибку.
func (r *orderRepositoryInMemory) Update(id string, mutate func(*domain.Order) error) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		return domain.Order{}, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1
	r.items[id] = next

	return next.Clone(), nil
}

// List возвращает заказы, новые первыми.
func (r *orderRepositoryInMemory) List(status domain.OrderStatus, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if status != "" && order.Status != status {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
