package woosync

import (
	"encoding/json"
	"testing"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
)

const sampleOrder = `{
  "id": 727,
  "status": "processing",
  "currency": "KES",
  "total": "529.00",
  "billing": {
    "first_name": "Amina",
    "last_name": "Odhiambo",
    "email": "amina@example.com",
    "phone": "0712345678"
  },
  "line_items": [
    {"sku": "SKU-A", "name": "Thing", "quantity": 3, "price": 143},
    {"sku": "SKU-B", "name": "Other", "quantity": 1, "price": 100.00}
  ]
}`

func TestWooOrderToExternalOrder(t *testing.T) {
	var order WooOrder
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
	if external.ExternalOrderId != "727" {
		t.Errorf("ExternalOrderId = %q, want 727", external.ExternalOrderId)
	}
	if external.Currency != "kes" {
		t.Errorf("Currency = %q, want kes", external.Currency)
	}
	if external.TotalAmount.String() != "529" {
		t.Errorf("TotalAmount = %s, want 529", external.TotalAmount)
	}
	if external.OrderStatus() != models.OrderStatusPaid {
		t.Errorf("OrderStatus = %q, want Paid for processing", external.OrderStatus())
	}
	if external.Customer.FullName() != "Amina Odhiambo" {
		t.Errorf("FullName = %q", external.Customer.FullName())
	}
	if len(external.Items) != 2 {
		t.Fatalf("Items = %d, want 2", len(external.Items))
	}
	if external.Items[0].UnitPrice.String() != "143" {
		t.Errorf("first item unit price = %s, want 143", external.Items[0].UnitPrice)
	}
	if external.Items[1].UnitPrice.String() != "100" {
		t.Errorf("second item unit price = %s, want 100", external.Items[1].UnitPrice)
	}
}

func TestWooOrderStatusMapping(t *testing.T) {
	tests := []struct {
		status string
		want   models.OrderStatus
	}{
		{"processing", models.OrderStatusPaid},
		{"completed", models.OrderStatusPaid},
		{"pending", models.OrderStatusPending},
		{"on-hold", models.OrderStatusPending},
		{"cancelled", models.OrderStatusCancelled},
		{"refunded", models.OrderStatusCancelled},
		{"failed", models.OrderStatusPending},
	}
	for _, tt := range tests {
		order := WooOrder{Id: 1, Status: tt.status, Total: "1.00"}
		external, err := order.ToExternalOrder()
		if err != nil {
			t.Fatal(err)
		}
		if got := external.OrderStatus(); got != tt.want {
			t.Errorf("status %q mapped to %q, want %q", tt.status, got, tt.want)
		}
	}
}
