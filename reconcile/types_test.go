package reconcile

import (
	"testing"

	"bitbucket.org/mmdatafocus/commerce_backend/models"
)

func TestExternalOrderStatusMapping(t *testing.T) {
	tests := []struct {
		status string
		want   models.OrderStatus
	}{
		{"paid", models.OrderStatusPaid},
		{"PAID", models.OrderStatusPaid},
		{"completed", models.OrderStatusPaid},
		{"processing", models.OrderStatusPaid},
		{"cancelled", models.OrderStatusCancelled},
		{"canceled", models.OrderStatusCancelled},
		{"refunded", models.OrderStatusCancelled},
		{"voided", models.OrderStatusCancelled},
		{"pending", models.OrderStatusPending},
		{"on-hold", models.OrderStatusPending},
		{"", models.OrderStatusPending},
		{"  paid  ", models.OrderStatusPaid},
	}
	for _, tt := range tests {
		order := ExternalOrder{Status: tt.status}
		if got := order.OrderStatus(); got != tt.want {
			t.Errorf("OrderStatus(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestExternalCustomerFullName(t *testing.T) {
	tests := []struct {
		name     string
		customer ExternalCustomer
		want     string
	}{
		{"both names", ExternalCustomer{FirstName: "Jon", LastName: "Snow"}, "Jon Snow"},
		{"first only", ExternalCustomer{FirstName: "Jon"}, "Jon"},
		{"last only", ExternalCustomer{LastName: "Snow"}, "Snow"},
		{"padded", ExternalCustomer{FirstName: " Jon ", LastName: " Snow "}, "Jon Snow"},
		{"empty", ExternalCustomer{}, "Guest"},
		{"whitespace", ExternalCustomer{FirstName: "  "}, "Guest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.customer.FullName(); got != tt.want {
				t.Errorf("FullName() = %q, want %q", got, tt.want)
			}
		})
	}
}
