package domain

import (
	"strings"
	"time"
)

// CustomerPreferences — каналы уведомлений клиента.
type CustomerPreferences struct {
	Notifications   bool `json:"notifications"`
	WhatsAppUpdates bool `json:"whatsapp_updates"`
	EmailUpdates    bool `json:"email_updates"`
}

// DefaultCustomerPreferences — новый клиент получает все уведомления.
func DefaultCustomerPreferences() CustomerPreferences {
	return CustomerPreferences{Notifications: true, WhatsAppUpdates: true, EmailUpdates: true}
}

// Customer — запись реестра клиентов. ID совпадает с Order.CustomerID.
type Customer struct {
	ID            string              `json:"customer_id"`
	Name          string              `json:"name"`
	Email         string              `json:"email"`
	Phone         string              `json:"phone"`
	Address       string              `json:"address"`
	TrafficSource TrafficSource       `json:"traffic_source,omitempty"`
	OrderHistory  []string            `json:"order_history"`
	Preferences   CustomerPreferences `json:"preferences"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Clone возвращает копию без общих срезов.
func (c Customer) Clone() Customer {
	dst := c
	dst.OrderHistory = append([]string(nil), c.OrderHistory...)
	return dst
}

// HasOrder отвечает, есть ли заказ в истории клиента.
func (c Customer) HasOrder(orderID string) bool {
	for _, id := range c.OrderHistory {
		if id == orderID {
			return true
		}
	}
	return false
}

// NewCustomerFromInfo собирает профиль клиента из контактов заказа.
func NewCustomerFromInfo(id string, info CustomerInfo, now time.Time) Customer {
	return Customer{
		ID:            id,
		Name:          strings.TrimSpace(info.Name),
		Email:         NormalizeEmail(info.Email),
		Phone:         strings.TrimSpace(info.Phone),
		Address:       strings.TrimSpace(info.Address),
		TrafficSource: info.TrafficSource,
		OrderHistory:  []string{},
		Preferences:   DefaultCustomerPreferences(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// MergeContacts переносит контакты из свежего профиля.
// Канал привлечения, дата регистрации, настройки и история заказов остаются прежними;
// канал заполняется, только если раньше он был неизвестен.
func (c *Customer) MergeContacts(next Customer) {
	c.Name = next.Name
	c.Phone = next.Phone
	c.Address = next.Address
	if next.Email != "" {
		c.Email = next.Email
	}
	if c.TrafficSource == "" {
		c.TrafficSource = next.TrafficSource
	}
	c.UpdatedAt = next.UpdatedAt
}

// NormalizeEmail приводит email к виду, по которому ищется клиент.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PhoneDigits оставляет в номере только цифры.
func PhoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
