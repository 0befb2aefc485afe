package stripesync

import (
	"encoding/json"
	"testing"
)

func TestCheckoutResponseShape(t *testing.T) {
	raw, err := json.Marshal(CheckoutResponse{Url: "https://checkout.stripe.com/c/pay/cs_test_1"})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	want := `{"url":"https://checkout.stripe.com/c/pay/cs_test_1"}`
	if string(raw) != want {
		t.Errorf("response = %s, want %s", raw, want)
	}
}
