package postgres

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
)

func TestOrderRepository_PostgresSequence(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	first, err := repo.NextOrderNumber()
	require.NoError(t, err)
	second, err := repo.NextOrderNumber()
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestOrderRepository_PostgresCreateGetList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder(1, now.Add(-2*time.Minute))
	order2 := sampleOrder(2, now.Add(-time.Minute))
	order2.Status = domain.OrderStatusConfirmed
	order2.AppendHistory(domain.StatusHistoryEntry{
		Status:       domain.OrderStatusConfirmed,
		Timestamp:    order2.CreatedAt,
		UpdatedBy:    "admin",
		UpdateMethod: domain.UpdateMethodManual,
	})

	require.NoError(t, repo.Create(order1))
	require.NoError(t, repo.Create(order2))

	got, err := repo.Get(order1.ID)
	require.NoError(t, err)
	require.Equal(t, order1, got)

	all, err := repo.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, order2.ID, all[0].ID, "newest first")
	require.Len(t, all[0].StatusHistory, 2)

	confirmed, err := repo.List(domain.OrderStatusConfirmed, 0)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	require.Equal(t, order2.ID, confirmed[0].ID)

	limited, err := repo.List("", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestOrderRepository_PostgresUpdate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder(3, now)
	require.NoError(t, repo.Create(order))

	sentAt := now.Add(time.Minute)
	updated, err := repo.Update(order.ID, func(o *domain.Order) error {
		o.Status = domain.OrderStatusQuotationSent
		o.Quotation = &domain.Quotation{
			ItemCostMinor:    5000,
			ShippingFeeMinor: 2000,
			ServiceFeeMinor:  1000,
			CustomsDutyMinor: 500,
			TotalAmountMinor: 8500,
			Currency:         "USD",
			QuoteSentAt:      &sentAt,
		}
		o.AppendHistory(domain.StatusHistoryEntry{
			Status:       domain.OrderStatusQuotationSent,
			Timestamp:    sentAt,
			UpdatedBy:    "admin",
			UpdateMethod: domain.UpdateMethodManual,
			Notes:        "quote ready",
		})
		o.UpdatedAt = sentAt
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, order.Version+1, updated.Version)

	stored, err := repo.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, updated, stored)
	require.Len(t, stored.StatusHistory, 2)
	require.Equal(t, "quote ready", stored.StatusHistory[1].Notes)
	require.Equal(t, int64(8500), stored.Quotation.TotalAmountMinor)

	mutateErr := errors.New("rejected")
	_, err = repo.Update(order.ID, func(o *domain.Order) error {
		o.Status = domain.OrderStatusDelivered
		return mutateErr
	})
	require.ErrorIs(t, err, mutateErr)

	unchanged, err := repo.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, stored, unchanged)
}

func TestOrderRepository_PostgresConcurrentUpdates(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder(4, now)
	require.NoError(t, repo.Create(order))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(order.ID, func(o *domain.Order) error {
				o.AppendHistory(domain.StatusHistoryEntry{
					Status:       domain.OrderStatusProcessing,
					Timestamp:    now,
					UpdatedBy:    "system",
					UpdateMethod: domain.UpdateMethodAuto,
				})
				o.Status = domain.OrderStatusProcessing
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, err := repo.Get(order.ID)
	require.NoError(t, err)
	require.Len(t, stored.StatusHistory, workers+1)
	require.Equal(t, order.Version+workers, stored.Version)
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder(5, now)

	_, err := repo.Get("KS-25-999999")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.Update("KS-25-999999", func(*domain.Order) error { return nil })
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.NoError(t, repo.Create(base))
	require.ErrorIs(t, repo.Create(base), domain.ErrOrderAlreadyExists)

	_, err = repo.Update(base.ID, func(o *domain.Order) error {
		o.StatusHistory = nil
		return nil
	})
	require.ErrorIs(t, err, domain.ErrHistoryOutOfSync)
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(seq int64, createdAt time.Time) domain.Order {
	price := int64(4999)
	return domain.Order{
		ID:                domain.FormatOrderID(seq),
		CustomerID:        "customer-1",
		Status:            domain.OrderStatusSubmitted,
		AutomationEnabled: true,
		Items: []domain.OrderItem{{
			ProductLink:         "https://amazon.com/dp/B0001",
			Quantity:            2,
			ValidationStatus:    domain.ValidationStatusValid,
			ValidationMethod:    domain.ValidationMethodAuto,
			RiskLevel:           domain.RiskLevelLow,
			StockStatus:         "in_stock",
			EstimatedPriceMinor: &price,
		}},
		CustomerInfo: domain.CustomerInfo{
			Name:    "Nia Kowalski",
			Email:   "nia@example.com",
			Phone:   "+1 (555) 010-2233",
			Address: "12 Harbour Rd",
		},
		StatusHistory: []domain.StatusHistoryEntry{{
			Status:       domain.OrderStatusSubmitted,
			Timestamp:    createdAt,
			UpdatedBy:    "system",
			UpdateMethod: domain.UpdateMethodAuto,
			Notes:        "Order submitted",
		}},
		Version:   1,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}
