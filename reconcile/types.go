package reconcile

import (
	"strings"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"github.com/shopspring/decimal"
)

// ExternalCustomer is the provider-neutral customer shape. Email is the dedup
// key; when it is empty the order is created without a customer link.
type ExternalCustomer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (c ExternalCustomer) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name == "" {
		return "Guest"
	}
	return name
}

type ExternalLineItem struct {
	Sku       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ExternalOrder is the neutral order shape every provider payload maps into
// before reconciliation.
type ExternalOrder struct {
	Provider        string             `json:"provider" validate:"required"`
	ExternalOrderId string             `json:"external_order_id" validate:"required"`
	Customer        ExternalCustomer   `json:"customer"`
	TotalAmount     decimal.Decimal    `json:"total_amount"`
	Currency        string             `json:"currency"`
	Status          string             `json:"status"`
	Items           []ExternalLineItem `json:"items"`
}

// OrderStatus maps the provider's order/financial status onto the internal
// enum. Anything unrecognized lands on Pending.
func (o ExternalOrder) OrderStatus() models.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(o.Status)) {
	case "paid", "completed", "processing":
		return models.OrderStatusPaid
	case "cancelled", "canceled", "refunded", "voided":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusPending
	}
}

// InboundOrderEvent is implemented by each provider's webhook payload type.
// One shared reconciler entry point consumes the neutral shape.
type InboundOrderEvent interface {
	Provider() string
	ToExternalOrder() (*ExternalOrder, error)
}

// Result reports the reconciliation outcome. Replayed is true when the
// external order id was already mapped and no new rows were written.
type Result struct {
	Success  bool `json:"success"`
	OrderId  int  `json:"order_id"`
	Replayed bool `json:"replayed"`
}
