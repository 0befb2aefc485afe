package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProcessOrderEvent maps the inbound provider payload to the neutral shape
// and reconciles it.
func ProcessOrderEvent(ctx context.Context, businessId string, event InboundOrderEvent) (*Result, error) {
	order, err := event.ToExternalOrder()
	if err != nil {
		return nil, fmt.Errorf("map %s order event: %w", event.Provider(), err)
	}
	return ProcessExternalOrder(ctx, businessId, order)
}

// ProcessExternalOrder reconciles one external order against internal state:
// find-or-create the customer by email, insert the order, find-or-create
// products by SKU (stub + zero-quantity inventory level at the default
// location), insert order items. The whole sequence runs in one transaction.
//
// External identity is recorded in IntegrationEntityMapping, so replaying
// the same (provider, external order id) returns the existing order id
// without writing anything.
//
// Failure policy: customer/order/location failures abort; a failed single
// line item is logged and skipped, the loop continues.
func ProcessExternalOrder(ctx context.Context, businessId string, external *ExternalOrder) (*Result, error) {
	if err := utils.ValidateStruct(external); err != nil {
		return nil, err
	}
	if businessId == "" {
		return nil, errors.New("business_id is required")
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	logger := config.GetLogger()

	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	// Fast path: already reconciled.
	if existing, err := lookupMappedOrder(db.WithContext(ctx), businessId, external); err != nil {
		return nil, err
	} else if existing != 0 {
		return &Result{Success: true, OrderId: existing, Replayed: true}, nil
	}

	var orderId int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var customerId *int
		if external.Customer.Email != "" {
			customer, created, err := models.FindOrCreateCustomerByEmail(
				tx, businessId, external.Customer.FullName(), external.Customer.Email, external.Customer.Phone)
			if err != nil {
				return fmt.Errorf("find or create customer: %w", err)
			}
			customerId = &customer.ID
			if created {
				logger.WithFields(logrus.Fields{
					"module":      "reconcile",
					"business_id": businessId,
					"provider":    external.Provider,
					"customer_id": customer.ID,
				}).Info("created customer from external order")
			}
		}

		order := models.Order{
			BusinessId:  businessId,
			CustomerId:  customerId,
			OrderDate:   time.Now().UTC(),
			TotalAmount: external.TotalAmount,
			Currency:    external.Currency,
			Status:      external.OrderStatus(),
			Notes:       fmt.Sprintf("external order %s:%s", external.Provider, external.ExternalOrderId),
		}
		if err := tx.Create(&order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		mapping := models.IntegrationEntityMapping{
			BusinessId: businessId,
			Provider:   external.Provider,
			EntityType: models.MappingEntityOrder,
			ExternalId: external.ExternalOrderId,
			InternalId: order.ID,
		}
		if err := tx.Create(&mapping).Error; err != nil {
			if models.IsDuplicateKeyErr(err) {
				// Concurrent delivery won the race; roll back our insert.
				return errMappedConcurrently
			}
			return fmt.Errorf("create order mapping: %w", err)
		}

		location, err := models.FindDefaultLocation(tx, businessId)
		if err != nil {
			return err
		}

		for _, item := range external.Items {
			product, stubbed, err := models.FindOrCreateProductBySku(
				tx, businessId, item.Sku, item.Name, item.UnitPrice, location.ID)
			if err != nil {
				config.LogError(logger, "reconcile", "ProcessExternalOrder", "line item skipped", item, err)
				continue
			}
			if stubbed {
				logger.WithFields(logrus.Fields{
					"module":      "reconcile",
					"business_id": businessId,
					"provider":    external.Provider,
					"sku":         item.Sku,
					"product_id":  product.ID,
				}).Info("created stub product from external order item")
			}

			orderItem := models.OrderItem{
				OrderId:   order.ID,
				ProductId: product.ID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				Amount:    item.Quantity.Mul(item.UnitPrice),
			}
			if err := tx.Create(&orderItem).Error; err != nil {
				config.LogError(logger, "reconcile", "ProcessExternalOrder", "order item insert skipped", item, err)
				continue
			}
		}

		orderId = order.ID
		return nil
	})
	if errors.Is(err, errMappedConcurrently) {
		if existing, lookupErr := lookupMappedOrder(db.WithContext(ctx), businessId, external); lookupErr == nil && existing != 0 {
			return &Result{Success: true, OrderId: existing, Replayed: true}, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	return &Result{Success: true, OrderId: orderId}, nil
}

var errMappedConcurrently = errors.New("external order mapped concurrently")

func lookupMappedOrder(db *gorm.DB, businessId string, external *ExternalOrder) (int, error) {
	var mapping models.IntegrationEntityMapping
	err := db.Where("business_id = ? AND provider = ? AND entity_type = ? AND external_id = ?",
		businessId, external.Provider, models.MappingEntityOrder, external.ExternalOrderId).
		Take(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return mapping.InternalId, nil
}
