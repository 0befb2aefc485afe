package shopifysync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
	"github.com/shopspring/decimal"
)

const sampleOrder = `{
  "id": 820982911946154508,
  "name": "#9999",
  "email": "jon@example.com",
  "currency": "KES",
  "total_price": "403.00",
  "financial_status": "paid",
  "cancelled_at": null,
  "customer": {
    "first_name": "Jon",
    "last_name": "Snow",
    "email": "jon@example.com",
    "phone": "254712345678"
  },
  "line_items": [
    {"sku": "SKU-1", "title": "Widget", "quantity": 2, "price": "100.00"},
    {"sku": "", "title": "Custom item", "quantity": 1, "price": "203.00"}
  ]
}`

func TestShopifyOrderToExternalOrder(t *testing.T) {
	var order ShopifyOrder
	if err := json.Unmarshal([]byte(sampleOrder), &order); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}

	external, err := order.ToExternalOrder()
	if err != nil {
		t.Fatalf("ToExternalOrder: %v", err)
	}

	if external.Provider != ProviderName {
		t.Errorf("Provider = %q, want %q", external.Provider, ProviderName)
	}
	if external.ExternalOrderId != "820982911946154508" {
		t.Errorf("ExternalOrderId = %q", external.ExternalOrderId)
	}
	if external.Currency != "kes" {
		t.Errorf("Currency = %q, want kes", external.Currency)
	}
	if !external.TotalAmount.Equal(decimalFromString(t, "403.00")) {
		t.Errorf("TotalAmount = %s, want 403.00", external.TotalAmount)
	}
	if external.OrderStatus() != models.OrderStatusPaid {
		t.Errorf("OrderStatus = %q, want Paid", external.OrderStatus())
	}
	if external.Customer.FullName() != "Jon Snow" {
		t.Errorf("FullName = %q, want Jon Snow", external.Customer.FullName())
	}
	if len(external.Items) != 2 {
		t.Fatalf("Items = %d, want 2", len(external.Items))
	}
	if external.Items[0].Sku != "SKU-1" || !external.Items[0].Quantity.Equal(decimalFromString(t, "2")) {
		t.Errorf("first item = %+v", external.Items[0])
	}
}

func TestShopifyOrderStatusMapping(t *testing.T) {
	cancelled := "2024-01-01T00:00:00Z"
	tests := []struct {
		name  string
		order ShopifyOrder
		want  models.OrderStatus
	}{
		{"paid", ShopifyOrder{FinancialStatus: "paid"}, models.OrderStatusPaid},
		{"pending", ShopifyOrder{FinancialStatus: "pending"}, models.OrderStatusPending},
		{"refunded", ShopifyOrder{FinancialStatus: "refunded"}, models.OrderStatusCancelled},
		{"voided", ShopifyOrder{FinancialStatus: "voided"}, models.OrderStatusCancelled},
		{"cancelled wins over paid", ShopifyOrder{FinancialStatus: "paid", CancelledAt: &cancelled}, models.OrderStatusCancelled},
		{"unknown", ShopifyOrder{FinancialStatus: "authorized"}, models.OrderStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			external, err := tt.order.ToExternalOrder()
			if err != nil {
				t.Fatal(err)
			}
			if got := external.OrderStatus(); got != tt.want {
				t.Errorf("OrderStatus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShopifyOrderGuestFallback(t *testing.T) {
	order := ShopifyOrder{Id: 1, TotalPrice: "10.00", Currency: "USD"}
	external, err := order.ToExternalOrder()
	if err != nil {
		t.Fatal(err)
	}
	if external.Customer.Email != "" {
		t.Errorf("Email = %q, want empty", external.Customer.Email)
	}
	if external.Customer.FullName() != "Guest" {
		t.Errorf("FullName = %q, want Guest", external.Customer.FullName())
	}
}

func TestVerifyHmac(t *testing.T) {
	body := []byte(`{"id":1}`)
	secret := "shhh"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	valid := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !VerifyHmac(body, valid, secret) {
		t.Error("rejected a valid signature")
	}
	if VerifyHmac(body, "bogus", secret) {
		t.Error("accepted a bogus signature")
	}
	if VerifyHmac(append(body, ' '), valid, secret) {
		t.Error("accepted a signature for a modified body")
	}
	if VerifyHmac(body, valid, "other-secret") {
		t.Error("accepted a signature under the wrong secret")
	}
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
