package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	"github.com/vladislavdragonenkov/forwarder/internal/storage/memory"
)

func customerProfile(id, email, phone string, source domain.TrafficSource, at time.Time) domain.Customer {
	return domain.NewCustomerFromInfo(id, domain.CustomerInfo{
		Name:          "Kofi Boateng",
		Email:         email,
		Phone:         phone,
		Address:       "Kumasi",
		TrafficSource: source,
	}, at)
}

func TestCustomerRepository_UpsertKeepsFirstTrafficSource(t *testing.T) {
	repo := memory.NewCustomerRepository()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	created, err := repo.Upsert(customerProfile("CUST-1", "Kofi@Example.com", "+233 20 111 2222", domain.TrafficSourceInstagram, now))
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if created.Email != "kofi@example.com" || !created.Preferences.EmailUpdates {
		t.Fatalf("unexpected new customer: %+v", created)
	}

	if _, err := repo.UpdatePreferences("CUST-1", domain.CustomerPreferences{Notifications: true}); err != nil {
		t.Fatalf("update preferences failed: %v", err)
	}

	later := now.Add(time.Hour)
	next := customerProfile("CUST-1", "kofi@example.com", "+233 20 999 0000", domain.TrafficSourceReferral, later)
	next.Address = "Tema"
	updated, err := repo.Upsert(next)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if updated.TrafficSource != domain.TrafficSourceInstagram {
		t.Fatalf("traffic source overwritten: %s", updated.TrafficSource)
	}
	if updated.Address != "Tema" || updated.Phone != "+233 20 999 0000" {
		t.Fatalf("contacts not refreshed: %+v", updated)
	}
	if !updated.CreatedAt.Equal(now) || !updated.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected timestamps: created=%s updated=%s", updated.CreatedAt, updated.UpdatedAt)
	}
	if updated.Preferences.EmailUpdates || !updated.Preferences.Notifications {
		t.Fatalf("preferences reset by upsert: %+v", updated.Preferences)
	}
}

func TestCustomerRepository_AddOrderAppendsOnce(t *testing.T) {
	repo := memory.NewCustomerRepository()
	if _, err := repo.AddOrder("CUST-missing", "KS-25-000001"); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}

	if _, err := repo.Upsert(customerProfile("CUST-2", "ama@example.com", "0244000111", "", time.Now())); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	for _, id := range []string{"KS-25-000001", "KS-25-000002", "KS-25-000001"} {
		if _, err := repo.AddOrder("CUST-2", id); err != nil {
			t.Fatalf("add order %s failed: %v", id, err)
		}
	}

	customer, err := repo.Get("CUST-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(customer.OrderHistory) != 2 || customer.OrderHistory[0] != "KS-25-000001" || customer.OrderHistory[1] != "KS-25-000002" {
		t.Fatalf("unexpected order history: %v", customer.OrderHistory)
	}

	// Снимок не разделяет срез с хранилищем.
	customer.OrderHistory[0] = "mutated"
	again, _ := repo.Get("CUST-2")
	if again.OrderHistory[0] != "KS-25-000001" {
		t.Fatalf("stored history mutated through snapshot")
	}
}

func TestCustomerRepository_FindByEmailAndPhone(t *testing.T) {
	repo := memory.NewCustomerRepository()
	now := time.Now().UTC()

	if _, err := repo.Upsert(customerProfile("CUST-a", "a@example.com", "+233 24 555 1234", "", now)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := repo.Upsert(customerProfile("CUST-b", "b@example.com", "0245551234", "", now.Add(time.Minute))); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	byEmail, err := repo.FindByEmail("  A@Example.COM ")
	if err != nil || byEmail.ID != "CUST-a" {
		t.Fatalf("find by email: %+v, %v", byEmail, err)
	}
	byPhone, err := repo.FindByPhone("024-555-1234")
	if err != nil || byPhone.ID != "CUST-b" {
		t.Fatalf("find by phone: %+v, %v", byPhone, err)
	}
	if _, err := repo.FindByPhone(""); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("empty phone must not match, got %v", err)
	}
	if _, err := repo.FindByEmail("nobody@example.com"); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}
