package domain

import (
	"testing"
	"time"
)

func TestComputeStatistics(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	quoted := func(total int64) *Quotation {
		return &Quotation{ItemCostMinor: total, TotalAmountMinor: total}
	}

	orders := []Order{
		{Status: OrderStatusDelivered, Quotation: quoted(8500), CreatedAt: now.Add(-time.Hour)},
		{Status: OrderStatusQuoteRejected, Quotation: quoted(1000), CreatedAt: now.Add(-30 * 24 * time.Hour)},
		{
			Status:    OrderStatusIssueRefund,
			Quotation: quoted(2000),
			RefundRequest: &RefundRequest{
				Requested: true, Status: RefundStatusCompleted, RequestedAmountMinor: 2000,
			},
			CreatedAt: now.Add(-2 * 24 * time.Hour),
		},
		{
			Status:    OrderStatusDelivered,
			Quotation: quoted(3500),
			RefundRequest: &RefundRequest{
				Requested: true, Status: RefundStatusPendingReview, RequestedAmountMinor: 700,
			},
			CreatedAt: now.Add(-10 * 24 * time.Hour),
		},
	}

	stats := ComputeStatistics(orders, now)

	if stats.TotalOrders != 4 {
		t.Fatalf("unexpected total orders: %d", stats.TotalOrders)
	}
	if stats.StatusBreakdown[OrderStatusDelivered] != 2 {
		t.Fatalf("unexpected delivered count: %d", stats.StatusBreakdown[OrderStatusDelivered])
	}
	if stats.TotalRevenueMinor != 12000 {
		t.Fatalf("unexpected revenue: %d", stats.TotalRevenueMinor)
	}
	if stats.PendingRefundsMinor != 700 {
		t.Fatalf("unexpected pending refunds: %d", stats.PendingRefundsMinor)
	}
	if stats.RecentOrders != 2 {
		t.Fatalf("unexpected recent orders: %d", stats.RecentOrders)
	}
	if stats.AverageOrderValueMinor != 3000 {
		t.Fatalf("unexpected average: %d", stats.AverageOrderValueMinor)
	}
	if stats.CompletionRate != 50 {
		t.Fatalf("unexpected completion rate: %v", stats.CompletionRate)
	}
}

func TestComputeStatisticsEmpty(t *testing.T) {
	stats := ComputeStatistics(nil, time.Now())
	if stats.TotalOrders != 0 || stats.AverageOrderValueMinor != 0 || stats.CompletionRate != 0 {
		t.Fatalf("unexpected stats for empty input: %+v", stats)
	}
}
