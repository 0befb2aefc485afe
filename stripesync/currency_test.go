package stripesync

import "testing"

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		currency string
		want     int64
	}{
		{"usd", 100},
		{"USD", 100},
		{"eur", 100},
		{"kes", 100},
		{"gbp", 100},
		{"bif", 1},
		{"clp", 1},
		{"djf", 1},
		{"gnf", 1},
		{"jpy", 1},
		{"JPY", 1},
		{"kmf", 1},
		{"krw", 1},
		{"mga", 1},
		{"pyg", 1},
		{"rwf", 1},
		{"ugx", 1},
		{"vnd", 1},
		{"vuv", 1},
		{"xaf", 1},
		{"xof", 1},
		{"xpf", 1},
		{"", 100},
	}
	for _, tt := range tests {
		if got := MinorUnits(tt.currency); got != tt.want {
			t.Errorf("MinorUnits(%q) = %d, want %d", tt.currency, got, tt.want)
		}
	}
}
