package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

const selectCustomerColumns = `
	SELECT id, name, email, phone, address, traffic_source, preferences, created_at, updated_at
	FROM customers`

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реестр клиентов. История заказов лежит в customer_orders.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) Upsert(profile domain.Customer) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	prefs, err := json.Marshal(profile.Preferences)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("encode customer preferences: %w", err)
	}

	// Первый известный канал привлечения не перезаписывается.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO customers (
			id, name, email, phone, phone_digits, address, traffic_source,
			preferences, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE customers.email END,
		    phone = EXCLUDED.phone,
		    phone_digits = EXCLUDED.phone_digits,
		    address = EXCLUDED.address,
		    traffic_source = CASE WHEN customers.traffic_source = '' THEN EXCLUDED.traffic_source ELSE customers.traffic_source END,
		    updated_at = EXCLUDED.updated_at
	`,
		profile.ID, profile.Name, domain.NormalizeEmail(profile.Email), profile.Phone,
		domain.PhoneDigits(profile.Phone), profile.Address, string(profile.TrafficSource),
		prefs, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("upsert customer: %w", err)
	}
	return r.load(ctx, `WHERE id = $1`, profile.ID)
}

func (r *customerRepository) AddOrder(customerID, orderID string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO customer_orders (customer_id, order_id, added_at)
		SELECT id, $2, $3 FROM customers WHERE id = $1
		ON CONFLICT (customer_id, order_id) DO NOTHING
	`, customerID, orderID, time.Now().UTC()); err != nil {
		return domain.Customer{}, fmt.Errorf("add customer order: %w", err)
	}
	return r.load(ctx, `WHERE id = $1`, customerID)
}

func (r *customerRepository) Get(id string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.load(ctx, `WHERE id = $1`, id)
}

func (r *customerRepository) FindByEmail(email string) (domain.Customer, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.load(ctx, `WHERE email = $1 ORDER BY updated_at DESC, id ASC LIMIT 1`, email)
}

func (r *customerRepository) FindByPhone(phone string) (domain.Customer, error) {
	digits := domain.PhoneDigits(phone)
	if digits == "" {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.load(ctx, `WHERE phone_digits = $1 ORDER BY updated_at DESC, id ASC LIMIT 1`, digits)
}

func (r *customerRepository) UpdatePreferences(id string, prefs domain.CustomerPreferences) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := json.Marshal(prefs)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("encode customer preferences: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE customers SET preferences = $2 WHERE id = $1`, id, data)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("update customer preferences: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Customer{}, fmt.Errorf("customer rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return r.load(ctx, `WHERE id = $1`, id)
}

func (r *customerRepository) load(ctx context.Context, where string, arg any) (domain.Customer, error) {
	var (
		customer domain.Customer
		source   string
		prefs    []byte
	)
	err := r.db.QueryRowContext(ctx, selectCustomerColumns+" "+where, arg).Scan(
		&customer.ID, &customer.Name, &customer.Email, &customer.Phone, &customer.Address,
		&source, &prefs, &customer.CreatedAt, &customer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	customer.TrafficSource = domain.TrafficSource(source)
	customer.CreatedAt = customer.CreatedAt.UTC()
	customer.UpdatedAt = customer.UpdatedAt.UTC()
	if err := json.Unmarshal(prefs, &customer.Preferences); err != nil {
		return domain.Customer{}, fmt.Errorf("decode preferences for %s: %w", customer.ID, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id FROM customer_orders WHERE customer_id = $1 ORDER BY position ASC
	`, customer.ID)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("load customer orders: %w", err)
	}
	defer rows.Close()

	customer.OrderHistory = make([]string, 0)
	for rows.Next() {
		var orderID string
		if err := rows.Scan(&orderID); err != nil {
			return domain.Customer{}, fmt.Errorf("scan customer order: %w", err)
		}
		customer.OrderHistory = append(customer.OrderHistory, orderID)
	}
	if err := rows.Err(); err != nil {
		return domain.Customer{}, fmt.Errorf("iterate customer orders: %w", err)
	}
	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
