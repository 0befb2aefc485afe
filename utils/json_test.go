package utils

import "testing"

func TestJSONHelpers(t *testing.T) {
	type sample struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	raw, err := MarshalToJSON(sample{Name: "widget", Count: 3})
	if err != nil {
		t.Fatalf("MarshalToJSON: %v", err)
	}

	var out sample
	if err := UnmarshalFromJSON([]byte(raw), &out); err != nil {
		t.Fatalf("UnmarshalFromJSON: %v", err)
	}
	if out.Name != "widget" || out.Count != 3 {
		t.Errorf("round trip = %+v", out)
	}

	if err := UnmarshalFromJSON([]byte("{"), &out); err == nil {
		t.Error("malformed JSON accepted")
	}
}
