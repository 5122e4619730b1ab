package domain

import "time"

// RecentOrdersWindow — окно, за которое заказ считается недавним.
const RecentOrdersWindow = 7 * 24 * time.Hour

// OrderStatistics — сводка для админ-панели.
type OrderStatistics struct {
	TotalOrders            int                 `json:"total_orders"`
	StatusBreakdown        map[OrderStatus]int `json:"status_breakdown"`
	TotalRevenueMinor      int64               `json:"total_revenue_minor"`
	PendingRefundsMinor    int64               `json:"pending_refunds_minor"`
	RecentOrders           int                 `json:"recent_orders"`
	AverageOrderValueMinor int64               `json:"average_order_value_minor"`
	CompletionRate         float64             `json:"completion_rate"`
}

// ComputeStatistics считает сводку по срезу заказов на момент now.
func ComputeStatistics(orders []Order, now time.Time) OrderStatistics {
	stats := OrderStatistics{
		TotalOrders:     len(orders),
		StatusBreakdown: make(map[OrderStatus]int),
	}

	var delivered int
	recentFrom := now.Add(-RecentOrdersWindow)
	for _, order := range orders {
		stats.StatusBreakdown[order.Status]++

		// Отказы и возвраты в выручку не входят.
		if order.Quotation != nil && order.Status != OrderStatusQuoteRejected && order.Status != OrderStatusIssueRefund {
			stats.TotalRevenueMinor += order.Quotation.TotalAmountMinor
		}
		if r := order.RefundRequest; r != nil && r.Requested && !r.Status.Terminal() {
			stats.PendingRefundsMinor += r.RequestedAmountMinor
		}
		if !order.CreatedAt.Before(recentFrom) {
			stats.RecentOrders++
		}
		if order.Status == OrderStatusDelivered {
			delivered++
		}
	}

	if len(orders) > 0 {
		stats.AverageOrderValueMinor = stats.TotalRevenueMinor / int64(len(orders))
		stats.CompletionRate = float64(delivered) / float64(len(orders)) * 100
	}

	return stats
}
