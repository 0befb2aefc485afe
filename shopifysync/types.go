package shopifysync

import (
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/reconcile"
	"github.com/shopspring/decimal"
)

const ProviderName = models.IntegrationProviderShopify

// ShopifyOrder is the order shape shared by the orders/create and
// orders/updated webhook topics and the Admin REST orders listing.
type ShopifyOrder struct {
	Id              int64             `json:"id"`
	Name            string            `json:"name"`
	Email           string            `json:"email"`
	Currency        string            `json:"currency"`
	TotalPrice      string            `json:"total_price"`
	FinancialStatus string            `json:"financial_status"`
	CancelledAt     *string           `json:"cancelled_at"`
	Customer        *ShopifyCustomer  `json:"customer"`
	LineItems       []ShopifyLineItem `json:"line_items"`
}

type ShopifyCustomer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type ShopifyLineItem struct {
	Sku      string `json:"sku"`
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

func (o *ShopifyOrder) Provider() string { return ProviderName }

func (o *ShopifyOrder) ToExternalOrder() (*reconcile.ExternalOrder, error) {
	total, err := decimal.NewFromString(o.TotalPrice)
	if err != nil {
		total = decimal.Zero
	}

	external := &reconcile.ExternalOrder{
		Provider:        ProviderName,
		ExternalOrderId: strconv.FormatInt(o.Id, 10),
		TotalAmount:     total,
		Currency:        strings.ToLower(o.Currency),
		Status:          o.externalStatus(),
	}

	if o.Customer != nil {
		external.Customer = reconcile.ExternalCustomer{
			FirstName: o.Customer.FirstName,
			LastName:  o.Customer.LastName,
			Email:     o.Customer.Email,
			Phone:     o.Customer.Phone,
		}
	}
	if external.Customer.Email == "" {
		external.Customer.Email = o.Email
	}

	for _, item := range o.LineItems {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			price = decimal.Zero
		}
		external.Items = append(external.Items, reconcile.ExternalLineItem{
			Sku:       item.Sku,
			Name:      item.Title,
			Quantity:  decimal.NewFromInt(int64(item.Quantity)),
			UnitPrice: price,
		})
	}
	return external, nil
}

// Cancellation wins over financial status; a refunded or voided order also
// counts as cancelled downstream.
func (o *ShopifyOrder) externalStatus() string {
	if o.CancelledAt != nil && *o.CancelledAt != "" {
		return "cancelled"
	}
	return o.FinancialStatus
}

// ShopifyProduct is the Admin REST product shape, reduced to what catalog
// and inventory sync need.
type ShopifyProduct struct {
	Id       int64            `json:"id"`
	Title    string           `json:"title"`
	Variants []ShopifyVariant `json:"variants"`
}

type ShopifyVariant struct {
	Id                int64  `json:"id"`
	Sku               string `json:"sku"`
	Price             string `json:"price"`
	InventoryQuantity int    `json:"inventory_quantity"`
	InventoryItemId   int64  `json:"inventory_item_id"`
}

type ShopifyLocation struct {
	Id     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
