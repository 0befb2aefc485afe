package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku        string          `gorm:"index;size:100" json:"sku"`
	Barcode    string          `gorm:"size:100" json:"barcode"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	CostPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	CategoryId *int            `gorm:"index" json:"category_id"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Location is a fulfillment/stock location (warehouse, storefront).
type Location struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Address    string    `gorm:"type:text" json:"address"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type InventoryLevel struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	ProductId     int             `gorm:"uniqueIndex:idx_inventory_level,priority:1;not null" json:"product_id"`
	LocationId    int             `gorm:"uniqueIndex:idx_inventory_level,priority:2;not null" json:"location_id"`
	StockQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_quantity"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindDefaultLocation resolves the single active fulfillment location for the
// business. External orders cannot be reconciled without one.
func FindDefaultLocation(tx *gorm.DB, businessId string) (*Location, error) {
	var location Location
	err := tx.Where("business_id = ? AND is_active = ?", businessId, true).
		Order("id asc").
		First(&location).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("no active location configured")
		}
		return nil, err
	}
	return &location, nil
}

// FindOrCreateProductBySku deduplicates on exact SKU match within the
// business. Unknown SKUs get a stub product (price = unit price, cost 0) and
// a zero-quantity inventory level at the given location. Returns the product
// and whether a stub was created. Runs on the caller's transaction handle.
func FindOrCreateProductBySku(tx *gorm.DB, businessId, sku, name string, unitPrice decimal.Decimal, locationId int) (*Product, bool, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, false, errors.New("sku is required")
	}

	var product Product
	err := tx.Where("business_id = ? AND sku = ?", businessId, sku).Take(&product).Error
	if err == nil {
		return &product, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	product = Product{
		BusinessId: businessId,
		Name:       name,
		Sku:        sku,
		Price:      unitPrice,
		CostPrice:  decimal.Zero,
	}
	if err := tx.Create(&product).Error; err != nil {
		return nil, false, err
	}

	level := InventoryLevel{
		BusinessId:    businessId,
		ProductId:     product.ID,
		LocationId:    locationId,
		StockQuantity: decimal.Zero,
	}
	if err := tx.Create(&level).Error; err != nil {
		return nil, false, err
	}

	return &product, true, nil
}

// SetStockQuantityBySku overwrites the stock level for the SKU at the default
// location. Used by provider inventory-update webhooks, which report absolute
// quantities rather than deltas.
func SetStockQuantityBySku(ctx context.Context, businessId, sku string, quantity decimal.Decimal) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("db is nil")
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product Product
		if err := tx.Where("business_id = ? AND sku = ?", businessId, sku).Take(&product).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.New("unknown sku: " + sku)
			}
			return err
		}

		location, err := FindDefaultLocation(tx, businessId)
		if err != nil {
			return err
		}

		res := tx.Model(&InventoryLevel{}).
			Where("business_id = ? AND product_id = ? AND location_id = ?", businessId, product.ID, location.ID).
			Update("stock_quantity", quantity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&InventoryLevel{
				BusinessId:    businessId,
				ProductId:     product.ID,
				LocationId:    location.ID,
				StockQuantity: quantity,
			}).Error
		}
		return nil
	})
}

// ListProducts returns a capped batch of products for push sync.
func ListProducts(ctx context.Context, businessId string, limit int) ([]Product, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if limit <= 0 || limit > 250 {
		limit = 100
	}

	var products []Product
	err := db.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessId, true).
		Order("id asc").
		Limit(limit).
		Find(&products).Error
	return products, err
}

func GetProduct(ctx context.Context, businessId string, id int) (*Product, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var product Product
	if err := db.WithContext(ctx).Where("id = ? AND business_id = ?", id, businessId).Take(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("product not found")
		}
		return nil, err
	}
	return &product, nil
}

// GetStockQuantity reads the product's stock at the default location.
func GetStockQuantity(ctx context.Context, businessId string, productId int) (decimal.Decimal, error) {
	db := config.GetDB()
	if db == nil {
		return decimal.Zero, errors.New("db is nil")
	}

	location, err := FindDefaultLocation(db.WithContext(ctx), businessId)
	if err != nil {
		return decimal.Zero, err
	}

	var level InventoryLevel
	err = db.WithContext(ctx).
		Where("business_id = ? AND product_id = ? AND location_id = ?", businessId, productId, location.ID).
		Take(&level).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return level.StockQuantity, nil
}
