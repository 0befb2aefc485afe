package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Invoice struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id" binding:"required"`
	CustomerId    *int            `gorm:"index" json:"customer_id"`
	InvoiceNumber string          `gorm:"size:100;not null" json:"invoice_number" binding:"required"`
	InvoiceDate   time.Time       `gorm:"not null" json:"invoice_date"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	PaidAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	Currency      string          `gorm:"size:3" json:"currency"`
	Status        InvoiceStatus   `gorm:"type:enum('Draft','Sent','Paid');not null;default:Draft" json:"status"`
	Notes         string          `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrInvoiceNotFound = errors.New("invoice not found")

func GetInvoice(ctx context.Context, businessId string, id int) (*Invoice, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var invoice Invoice
	if err := db.WithContext(ctx).Where("id = ? AND business_id = ?", id, businessId).Take(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// MarkInvoicePaid sets status Paid and records the settled amount on the
// caller's transaction.
func MarkInvoicePaid(tx *gorm.DB, businessId string, id int, paidAmount decimal.Decimal) error {
	res := tx.Model(&Invoice{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Updates(map[string]interface{}{
			"status":      InvoiceStatusPaid,
			"paid_amount": paidAmount,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// MarkInvoiceSent transitions Draft -> Sent after email dispatch.
func MarkInvoiceSent(ctx context.Context, businessId string, id int) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}

	res := db.WithContext(ctx).Model(&Invoice{}).
		Where("id = ? AND business_id = ? AND status = ?", id, businessId, InvoiceStatusDraft).
		Update("status", InvoiceStatusSent)
	if res.Error != nil {
		return res.Error
	}
	return nil
}
