package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// NextOrderNumber выдаёт следующий номер из монотонной последовательности хранилища.
	NextOrderNumber() (int64, error)
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists при повторе ID.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// Update выполняет read-modify-write под эксклюзивной блокировкой заказа.
	// Если mutate вернул ошибку, сохранённый заказ не меняется.
	Update(id string, mutate func(*Order) error) (Order, error)
	// List возвращает заказы, новые первыми; пустой status означает все статусы, limit<=0 — без ограничения.
	List(status OrderStatus, limit int) ([]Order, error)
}

// LinkCacheRepository хранит результаты проверки ссылок и историю ручных решений.
type LinkCacheRepository interface {
	// Get возвращает запись независимо от свежести или ErrLinkNotCached.
	Get(url string) (LinkCacheEntry, error)
	// Put сохраняет результат и LastChecked, не трогая накопленные AdminOverrides.
	Put(entry LinkCacheEntry) (LinkCacheEntry, error)
	// AppendOverride добавляет запись аудита в конец списка. ErrLinkNotCached, если записи нет.
	AppendOverride(url string, override AdminOverride) (LinkCacheEntry, error)
	ListByDomain(domain string) ([]LinkCacheEntry, error)
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CustomerRepository — реестр клиентов.
type CustomerRepository interface {
	// Upsert создаёт клиента или обновляет контакты существующего по правилам Customer.MergeContacts.
	Upsert(profile Customer) (Customer, error)
	// AddOrder дописывает заказ в историю клиента; повтор не дублирует запись.
	AddOrder(customerID, orderID string) (Customer, error)
	Get(id string) (Customer, error)
	// FindByEmail ищет по нормализованному email.
	FindByEmail(email string) (Customer, error)
	// FindByPhone сравнивает номера по цифрам; при нескольких совпадениях выигрывает последний обновлённый.
	FindByPhone(phone string) (Customer, error)
	UpdatePreferences(id string, prefs CustomerPreferences) (Customer, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по паре (операция, idempotency-key).
// CreateProcessing на занятый ключ возвращает существующую запись вместе с
// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
type IdempotencyRepository interface {
	CreateProcessing(key IdempotencyKey, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key IdempotencyKey) (IdempotencyRecord, error)
	MarkDone(key IdempotencyKey, responseBody []byte, responseCode int) error
	MarkFailed(key IdempotencyKey, responseBody []byte, responseCode int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
