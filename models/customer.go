package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Customer struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      string    `gorm:"index;size:100" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Notes      string    `gorm:"type:text" json:"notes"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindOrCreateCustomerByEmail deduplicates on exact (lowercased) email match
// within the business. Returns the customer and whether a row was created.
// Runs on the caller's transaction handle.
func FindOrCreateCustomerByEmail(tx *gorm.DB, businessId, name, email, phone string) (*Customer, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, false, errors.New("email is required")
	}

	var customer Customer
	err := tx.Where("business_id = ? AND email = ?", businessId, email).Take(&customer).Error
	if err == nil {
		return &customer, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	customer = Customer{
		BusinessId: businessId,
		Name:       name,
		Email:      email,
		Phone:      phone,
	}
	if err := tx.Create(&customer).Error; err != nil {
		return nil, false, err
	}
	return &customer, true, nil
}
