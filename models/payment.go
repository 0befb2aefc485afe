package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is append-only: one row per settled transaction. Exactly one of
// OrderId/InvoiceId is set. Reference carries the provider transaction id
// (payment intent id, M-Pesa receipt number).
type Payment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id" binding:"required"`
	OrderId       *int            `gorm:"index" json:"order_id"`
	InvoiceId     *int            `gorm:"index" json:"invoice_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Currency      string          `gorm:"size:3" json:"currency"`
	PaymentMethod string          `gorm:"size:50" json:"payment_method"`
	Status        PaymentStatus   `gorm:"type:enum('Completed','Failed');not null;default:Completed" json:"status"`
	Reference     string          `gorm:"index;size:255" json:"reference"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
