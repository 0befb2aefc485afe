package mpesasync

import (
	"encoding/json"
	"testing"

	"bitbucket.org/mmdatafocus/commerce_backend/utils"
)

const sampleCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1500.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

func TestCallbackMetadata(t *testing.T) {
	var envelope CallbackEnvelope
	if err := json.Unmarshal([]byte(sampleCallback), &envelope); err != nil {
		t.Fatalf("unmarshal callback: %v", err)
	}
	cb := envelope.Body.StkCallback

	if cb.ResultCode != 0 {
		t.Errorf("ResultCode = %d, want 0", cb.ResultCode)
	}
	if got := cb.MetadataString("MpesaReceiptNumber"); got != "NLJ7RT61SV" {
		t.Errorf("MpesaReceiptNumber = %q, want NLJ7RT61SV", got)
	}
	if amount, ok := cb.MetadataNumber("Amount"); !ok || amount != 1500 {
		t.Errorf("Amount = %v (ok=%v), want 1500", amount, ok)
	}
	// Numeric value read back as a string.
	if got := cb.MetadataString("PhoneNumber"); got != "254708374149" {
		t.Errorf("PhoneNumber = %q, want 254708374149", got)
	}
	if _, ok := cb.MetadataNumber("NoSuchItem"); ok {
		t.Error("MetadataNumber found a value for a missing item")
	}
}

func TestCheckoutRequestShape(t *testing.T) {
	body := `{"business_id":"b1","order_id":1,"phone_number":"0712345678"}`
	var req CheckoutRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.PhoneNumber != "0712345678" {
		t.Errorf("PhoneNumber = %q, want 0712345678", req.PhoneNumber)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		t.Errorf("documented request shape failed validation: %v", err)
	}
}

func TestCheckoutResponseShape(t *testing.T) {
	raw, err := json.Marshal(CheckoutResponse{
		MerchantRequestId: "m1",
		CheckoutRequestId: "ws_CO_1",
		CustomerMessage:   "Success",
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var keys map[string]string
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if keys["checkoutRequestId"] != "ws_CO_1" || keys["customerMessage"] != "Success" {
		t.Errorf("response keys = %v, want checkoutRequestId and customerMessage", keys)
	}
}

func TestParseTargetRef(t *testing.T) {
	orderId, invoiceId, err := parseTargetRef("order-42")
	if err != nil || orderId == nil || *orderId != 42 || invoiceId != nil {
		t.Errorf("parseTargetRef(order-42) = (%v, %v, %v)", orderId, invoiceId, err)
	}

	orderId, invoiceId, err = parseTargetRef("invoice-7")
	if err != nil || invoiceId == nil || *invoiceId != 7 || orderId != nil {
		t.Errorf("parseTargetRef(invoice-7) = (%v, %v, %v)", orderId, invoiceId, err)
	}

	for _, bad := range []string{"", "order-", "order-x", "payment-3"} {
		if _, _, err := parseTargetRef(bad); err == nil {
			t.Errorf("parseTargetRef(%q) succeeded, want error", bad)
		}
	}
}
