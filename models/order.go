package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Order struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null" json:"business_id" binding:"required"`
	CustomerId  *int            `gorm:"index" json:"customer_id"`
	OrderDate   time.Time       `gorm:"not null" json:"order_date"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Currency    string          `gorm:"size:3" json:"currency"`
	Status      OrderStatus     `gorm:"type:enum('Pending','Paid','Completed','Cancelled');not null;default:Pending" json:"status"`
	Notes       string          `gorm:"type:text" json:"notes"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Items       []OrderItem     `gorm:"foreignKey:OrderId" json:"items"`
}

type OrderItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id" binding:"required"`
	ProductId int             `gorm:"index;not null" json:"product_id" binding:"required"`
	Name      string          `gorm:"size:255" json:"name"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetOrder(ctx context.Context, businessId string, id int) (*Order, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var order Order
	if err := db.WithContext(ctx).Preload("Items").Where("id = ? AND business_id = ?", id, businessId).Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

var ErrOrderNotFound = errors.New("order not found")

// MarkOrderPaid transitions Pending -> Paid on the caller's transaction.
func MarkOrderPaid(tx *gorm.DB, businessId string, id int) error {
	res := tx.Model(&Order{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Update("status", OrderStatusPaid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
