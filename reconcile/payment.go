package reconcile

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentApplication is one settled provider transaction to record against
// an order or an invoice. Exactly one of OrderId/InvoiceId must be set.
type PaymentApplication struct {
	BusinessId    string
	OrderId       *int
	InvoiceId     *int
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Reference     string

	// HandlerName and MessageId key the idempotency record. MessageId is
	// the provider's event/transaction id, stable across redeliveries.
	HandlerName string
	MessageId   string
}

// ApplyPayment marks the target paid and inserts the Payment row, all inside
// one transaction guarded by an idempotency key. A replayed provider event
// is a no-op with Replayed set, never a second Payment row.
func ApplyPayment(ctx context.Context, app *PaymentApplication) (*Result, error) {
	if app.BusinessId == "" {
		return nil, errors.New("business_id is required")
	}
	if (app.OrderId == nil) == (app.InvoiceId == nil) {
		return nil, errors.New("exactly one of order_id and invoice_id must be set")
	}
	if app.HandlerName == "" || app.MessageId == "" {
		return nil, errors.New("handler_name and message_id are required")
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	ctx = utils.SetBusinessIdInContext(ctx, app.BusinessId)

	result := &Result{}
	err := WithPaymentLock(ctx, app.BusinessId, app.MessageId, func() error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			skip, err := models.BeginIdempotency(tx, app.BusinessId, app.HandlerName, app.MessageId)
			if err != nil {
				return err
			}
			if skip {
				result.Success = true
				result.Replayed = true
				return nil
			}

			if app.OrderId != nil {
				if err := models.MarkOrderPaid(tx, app.BusinessId, *app.OrderId); err != nil {
					return fmt.Errorf("mark order %d paid: %w", *app.OrderId, err)
				}
				result.OrderId = *app.OrderId
			} else {
				if err := models.MarkInvoicePaid(tx, app.BusinessId, *app.InvoiceId, app.Amount); err != nil {
					return fmt.Errorf("mark invoice %d paid: %w", *app.InvoiceId, err)
				}
			}

			payment := models.Payment{
				BusinessId:    app.BusinessId,
				OrderId:       app.OrderId,
				InvoiceId:     app.InvoiceId,
				Amount:        app.Amount,
				Currency:      app.Currency,
				PaymentMethod: app.PaymentMethod,
				Status:        models.PaymentStatusCompleted,
				Reference:     app.Reference,
			}
			if err := tx.Create(&payment).Error; err != nil {
				return fmt.Errorf("create payment: %w", err)
			}

			if err := models.MarkIdempotencySucceeded(tx, app.BusinessId, app.HandlerName, app.MessageId); err != nil {
				return err
			}
			result.Success = true
			return nil
		})
	})
	if err != nil {
		// Best effort: record the failure so the stale-reclaim window applies.
		_ = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return models.MarkIdempotencyFailed(tx, app.BusinessId, app.HandlerName, app.MessageId, err)
		})
		return nil, err
	}
	return result, nil
}
