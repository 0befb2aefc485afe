package mpesasync

import (
	"encoding/base64"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"international", "254712345678", "254712345678", false},
		{"plus prefix", "+254712345678", "254712345678", false},
		{"local zero", "0712345678", "254712345678", false},
		{"bare seven", "712345678", "254712345678", false},
		{"bare one", "110345678", "254110345678", false},
		{"spaces and dashes", "+254 712-345-678", "254712345678", false},
		{"punctuated via libphonenumber", "(0722) 034567", "254722034567", false},
		{"too short", "07123", "", true},
		{"too long", "2547123456789", "", true},
		{"letters", "07123abc78", "", true},
		{"unrecognized prefix", "44712345678", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizePhone(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStkPassword(t *testing.T) {
	shortCode := "174379"
	timestamp := "20240101120000"
	got := stkPassword(shortCode, sandboxPasskey, timestamp)

	decoded, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("password is not valid base64: %v", err)
	}
	want := shortCode + sandboxPasskey + timestamp
	if string(decoded) != want {
		t.Errorf("decoded password = %q, want %q", string(decoded), want)
	}
}

func TestUnpackShortCode(t *testing.T) {
	tests := []struct {
		packed      string
		wantCode    string
		wantPasskey string
	}{
		{"174379|secretkey", "174379", "secretkey"},
		{"174379", "174379", ""},
		{" 174379 | key ", "174379", "key"},
		{"", "", ""},
	}
	for _, tt := range tests {
		code, passkey := unpackShortCode(tt.packed)
		if code != tt.wantCode || passkey != tt.wantPasskey {
			t.Errorf("unpackShortCode(%q) = (%q, %q), want (%q, %q)",
				tt.packed, code, passkey, tt.wantCode, tt.wantPasskey)
		}
	}
}
