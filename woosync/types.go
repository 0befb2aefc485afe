package woosync

import (
	"encoding/json"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"bitbucket.org/mmdatafocus/commerce_backend/reconcile"
	"github.com/shopspring/decimal"
)

const ProviderName = models.IntegrationProviderWooCommerce

// WooOrder is the /wp-json/wc/v3 order shape, shared by webhooks and the
// REST listing.
type WooOrder struct {
	Id        int64         `json:"id"`
	Status    string        `json:"status"`
	Currency  string        `json:"currency"`
	Total     string        `json:"total"`
	Billing   WooBilling    `json:"billing"`
	LineItems []WooLineItem `json:"line_items"`
}

type WooBilling struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// WooCommerce serializes line item prices as JSON numbers but monetary
// totals as strings.
type WooLineItem struct {
	Sku      string      `json:"sku"`
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Price    json.Number `json:"price"`
}

func (o *WooOrder) Provider() string { return ProviderName }

func (o *WooOrder) ToExternalOrder() (*reconcile.ExternalOrder, error) {
	total, err := decimal.NewFromString(o.Total)
	if err != nil {
		total = decimal.Zero
	}

	external := &reconcile.ExternalOrder{
		Provider:        ProviderName,
		ExternalOrderId: strconv.FormatInt(o.Id, 10),
		Customer: reconcile.ExternalCustomer{
			FirstName: o.Billing.FirstName,
			LastName:  o.Billing.LastName,
			Email:     o.Billing.Email,
			Phone:     o.Billing.Phone,
		},
		TotalAmount: total,
		Currency:    strings.ToLower(o.Currency),
		Status:      o.Status,
	}

	for _, item := range o.LineItems {
		price, err := decimal.NewFromString(item.Price.String())
		if err != nil {
			price = decimal.Zero
		}
		external.Items = append(external.Items, reconcile.ExternalLineItem{
			Sku:       item.Sku,
			Name:      item.Name,
			Quantity:  decimal.NewFromInt(int64(item.Quantity)),
			UnitPrice: price,
		})
	}
	return external, nil
}

// WooProduct is the REST product shape, reduced to catalog/inventory sync
// needs. StockQuantity is null when stock management is off.
type WooProduct struct {
	Id            int64  `json:"id"`
	Name          string `json:"name"`
	Sku           string `json:"sku"`
	Price         string `json:"price"`
	ManageStock   bool   `json:"manage_stock"`
	StockQuantity *int   `json:"stock_quantity"`
}
