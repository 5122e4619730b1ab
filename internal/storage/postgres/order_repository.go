package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const selectOrderColumns = `
	SELECT id, customer_id, status, automation_enabled, customer_info, items,
	       quotation, refund_request, version, created_at, updated_at
	FROM orders`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
// Позиции, расчёт и возврат лежат в JSONB, история статусов в отдельной таблице.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) NextOrderNumber() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var seq int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return seq, nil
}

func (r *orderRepository) Create(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row, err := encodeOrder(order)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_id, status, automation_enabled, customer_info, items,
			quotation, refund_request, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		order.ID, order.CustomerID, string(order.Status), order.AutomationEnabled,
		row.customerInfo, row.items, row.quotation, row.refund,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = insertHistory(ctx, tx, order.ID, order.StatusHistory, 0); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderColumns+` WHERE id = $1`, id))
	if err != nil {
		return domain.Order{}, err
	}

	history, err := loadHistory(ctx, r.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.StatusHistory = history
	return order, nil
}

// Update блокирует строку заказа (SELECT ... FOR UPDATE) до конца транзакции,
// поэтому параллельные изменения одного заказа выполняются по очереди.
func (r *orderRepository) Update(id string, mutate func(*domain.Order) error) (updated domain.Order, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := scanOrder(tx.QueryRowContext(ctx, selectOrderColumns+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Order{}, err
	}
	if current.StatusHistory, err = loadHistory(ctx, tx, id); err != nil {
		return domain.Order{}, err
	}
	persisted := len(current.StatusHistory)

	next := current.Clone()
	if err = mutate(&next); err != nil {
		return domain.Order{}, err
	}
	if len(next.StatusHistory) < persisted {
		err = fmt.Errorf("%w: history entries cannot be removed", domain.ErrHistoryOutOfSync)
		return domain.Order{}, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1

	row, err := encodeOrder(next)
	if err != nil {
		return domain.Order{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET customer_id = $2,
		    status = $3,
		    automation_enabled = $4,
		    customer_info = $5,
		    items = $6,
		    quotation = $7,
		    refund_request = $8,
		    version = $9,
		    updated_at = $10
		WHERE id = $1
	`,
		next.ID, next.CustomerID, string(next.Status), next.AutomationEnabled,
		row.customerInfo, row.items, row.quotation, row.refund,
		next.Version, next.UpdatedAt,
	); err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}

	if err = insertHistory(ctx, tx, next.ID, next.StatusHistory[persisted:], persisted); err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit update order: %w", err)
	}
	return next, nil
}

func (r *orderRepository) List(status domain.OrderStatus, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := selectOrderColumns + `
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		history, err := loadHistory(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].StatusHistory = history
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type encodedOrder struct {
	customerInfo []byte
	items        []byte
	quotation    []byte
	refund       []byte
}

func encodeOrder(order domain.Order) (encodedOrder, error) {
	var (
		row encodedOrder
		err error
	)
	if row.customerInfo, err = json.Marshal(order.CustomerInfo); err != nil {
		return encodedOrder{}, fmt.Errorf("encode customer info: %w", err)
	}
	items := order.Items
	if items == nil {
		items = []domain.OrderItem{}
	}
	if row.items, err = json.Marshal(items); err != nil {
		return encodedOrder{}, fmt.Errorf("encode items: %w", err)
	}
	if order.Quotation != nil {
		if row.quotation, err = json.Marshal(order.Quotation); err != nil {
			return encodedOrder{}, fmt.Errorf("encode quotation: %w", err)
		}
	}
	if order.RefundRequest != nil {
		if row.refund, err = json.Marshal(order.RefundRequest); err != nil {
			return encodedOrder{}, fmt.Errorf("encode refund request: %w", err)
		}
	}
	return row, nil
}

func scanOrder(scanner rowScanner) (domain.Order, error) {
	var (
		order                  domain.Order
		status                 string
		customerInfo, items    []byte
		quotation, refundBytes []byte
	)
	err := scanner.Scan(
		&order.ID, &order.CustomerID, &status, &order.AutomationEnabled,
		&customerInfo, &items, &quotation, &refundBytes,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	if err := json.Unmarshal(customerInfo, &order.CustomerInfo); err != nil {
		return domain.Order{}, fmt.Errorf("decode customer info of %s: %w", order.ID, err)
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode items of %s: %w", order.ID, err)
	}
	if len(quotation) > 0 {
		order.Quotation = &domain.Quotation{}
		if err := json.Unmarshal(quotation, order.Quotation); err != nil {
			return domain.Order{}, fmt.Errorf("decode quotation of %s: %w", order.ID, err)
		}
	}
	if len(refundBytes) > 0 {
		order.RefundRequest = &domain.RefundRequest{}
		if err := json.Unmarshal(refundBytes, order.RefundRequest); err != nil {
			return domain.Order{}, fmt.Errorf("decode refund request of %s: %w", order.ID, err)
		}
	}
	return order, nil
}

func loadHistory(ctx context.Context, q queryer, orderID string) ([]domain.StatusHistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT status, changed_at, updated_by, update_method, notes
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load status history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.StatusHistoryEntry, 0)
	for rows.Next() {
		var (
			entry          domain.StatusHistoryEntry
			status, method string
		)
		if err := rows.Scan(&status, &entry.Timestamp, &entry.UpdatedBy, &method, &entry.Notes); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		entry.Status = domain.OrderStatus(status)
		entry.UpdateMethod = domain.UpdateMethod(method)
		entry.Timestamp = entry.Timestamp.UTC()
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return history, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID string, entries []domain.StatusHistoryEntry, offset int) error {
	for i, entry := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_status_history (
				order_id, position, status, changed_at, updated_by, update_method, notes
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			orderID, offset+i, string(entry.Status), entry.Timestamp,
			entry.UpdatedBy, string(entry.UpdateMethod), entry.Notes,
		); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
