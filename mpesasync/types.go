package mpesasync

import "encoding/json"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// CallbackEnvelope is Daraja's STK result shape. Item values are mixed
// number/string, so they stay raw until picked by name.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// MetadataString returns an item value as a string, converting numeric
// values as needed.
func (cb *StkCallback) MetadataString(name string) string {
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name != name || len(item.Value) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(item.Value, &s); err == nil {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(item.Value, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// MetadataNumber returns an item value as a float, accepting both JSON
// numbers and numeric strings.
func (cb *StkCallback) MetadataNumber(name string) (float64, bool) {
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name != name || len(item.Value) == 0 {
			continue
		}
		var f float64
		if err := json.Unmarshal(item.Value, &f); err == nil {
			return f, true
		}
		var s string
		if err := json.Unmarshal(item.Value, &s); err == nil {
			var n json.Number = json.Number(s)
			if v, err := n.Float64(); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
