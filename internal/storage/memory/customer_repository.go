package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

type customerRepositoryInMemory struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
}

// NewCustomerRepository создаёт in-memory реестр клиентов.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{
		customers: make(map[string]domain.Customer),
	}
}

func (r *customerRepositoryInMemory) Upsert(profile domain.Customer) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.customers[profile.ID]
	if !ok {
		stored := profile.Clone()
		if stored.OrderHistory == nil {
			stored.OrderHistory = []string{}
		}
		r.customers[profile.ID] = stored
		return stored.Clone(), nil
	}

	existing.MergeContacts(profile)
	r.customers[profile.ID] = existing
	return existing.Clone(), nil
}

func (r *customerRepositoryInMemory) AddOrder(customerID, orderID string) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	customer, ok := r.customers[customerID]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	if !customer.HasOrder(orderID) {
		customer.OrderHistory = append(append([]string(nil), customer.OrderHistory...), orderID)
		r.customers[customerID] = customer
	}
	return customer.Clone(), nil
}

func (r *customerRepositoryInMemory) Get(id string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer.Clone(), nil
}

func (r *customerRepositoryInMemory) FindByEmail(email string) (domain.Customer, error) {
	email = domain.NormalizeEmail(email)
	return r.findLatest(func(c domain.Customer) bool {
		return email != "" && c.Email == email
	})
}

func (r *customerRepositoryInMemory) FindByPhone(phone string) (domain.Customer, error) {
	digits := domain.PhoneDigits(phone)
	return r.findLatest(func(c domain.Customer) bool {
		return digits != "" && domain.PhoneDigits(c.Phone) == digits
	})
}

func (r *customerRepositoryInMemory) UpdatePreferences(id string, prefs domain.CustomerPreferences) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	customer, ok := r.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	customer.Preferences = prefs
	r.customers[id] = customer
	return customer.Clone(), nil
}

func (r *customerRepositoryInMemory) findLatest(match func(domain.Customer) bool) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found domain.Customer
		ok    bool
	)
	for _, customer := range r.customers {
		if !match(customer) {
			continue
		}
		if !ok || customer.UpdatedAt.After(found.UpdatedAt) ||
			(customer.UpdatedAt.Equal(found.UpdatedAt) && customer.ID < found.ID) {
			found, ok = customer, true
		}
	}
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return found.Clone(), nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
