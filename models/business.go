package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/commerce_backend/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Business struct {
	ID           uuid.UUID `gorm:"primary_key" json:"id"`
	Name         string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName  string    `gorm:"size:100" json:"contact_name"`
	Email        string    `gorm:"size:255" json:"email"`
	Phone        string    `gorm:"size:20" json:"phone"`
	Country      string    `gorm:"size:100" json:"country"`
	City         string    `gorm:"size:100" json:"city"`
	BaseCurrency string    `gorm:"size:3" json:"base_currency"`
	Timezone     string    `gorm:"size:50" json:"timezone"`
	IsActive     *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name         string `json:"name" binding:"required"`
	ContactName  string `json:"contact_name"`
	Email        string `json:"email" binding:"required"`
	Phone        string `json:"phone"`
	Country      string `json:"country"`
	City         string `json:"city"`
	BaseCurrency string `json:"base_currency"`
	Timezone     string `json:"timezone"`
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	currency := strings.ToLower(strings.TrimSpace(input.BaseCurrency))
	if currency == "" {
		currency = "usd"
	}

	business := Business{
		ID:           uuid.New(),
		Name:         input.Name,
		ContactName:  input.ContactName,
		Email:        input.Email,
		Phone:        input.Phone,
		Country:      input.Country,
		City:         input.City,
		BaseCurrency: currency,
		Timezone:     input.Timezone,
	}
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

// GetBusinessCurrency returns the tenant's settings currency, defaulting to
// "usd" when the business row is missing or carries no currency.
func GetBusinessCurrency(ctx context.Context, businessId string) string {
	db := config.GetDB()
	if db == nil {
		return "usd"
	}

	var business Business
	err := db.WithContext(ctx).Where("id = ?", businessId).Take(&business).Error
	if err != nil || strings.TrimSpace(business.BaseCurrency) == "" {
		return "usd"
	}
	return strings.ToLower(strings.TrimSpace(business.BaseCurrency))
}

func GetBusiness(ctx context.Context, businessId string) (*Business, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var business Business
	if err := db.WithContext(ctx).Where("id = ?", businessId).Take(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("business not found")
		}
		return nil, err
	}
	return &business, nil
}
