package units

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "zero", in: "0", want: "0"},
		{name: "pool sized value", in: "1000000000000000000000", want: "1000000000000000000000"},
		{name: "empty string rejected", in: "", wantErr: true},
		{name: "negative rejected", in: "-5", wantErr: true},
		{name: "decimal point rejected", in: "1.5", wantErr: true},
		{name: "garbage rejected", in: "10wei", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %s", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Fatalf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestToDecimalString(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
	}{
		{name: "one usdc", amount: "1000000", decimals: 6, want: "1"},
		{name: "fractional usdc trims zeros", amount: "1500000", decimals: 6, want: "1.5"},
		{name: "sub unit usdc", amount: "1", decimals: 6, want: "0.000001"},
		{name: "one eth", amount: "1000000000000000000", decimals: 18, want: "1"},
		{name: "wei dust", amount: "1", decimals: 18, want: "0.000000000000000001"},
		{name: "zero", amount: "0", decimals: 18, want: "0"},
		{name: "bigger than int64", amount: "123456789012345678901234567890", decimals: 18, want: "123456789012.34567890123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, ok := new(big.Int).SetString(tt.amount, 10)
			if !ok {
				t.Fatalf("bad test amount %q", tt.amount)
			}
			if got := ToDecimalString(amount, tt.decimals); got != tt.want {
				t.Fatalf("ToDecimalString(%s, %d) = %q, want %q", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFromDecimalString_RoundTrips(t *testing.T) {
	values := []string{"0", "1", "333334", "1000000000000000000", "999999999999999999999999"}
	for _, v := range values {
		amount := MustParse(v)
		human := ToDecimalString(amount, 18)
		back, err := FromDecimalString(human, 18)
		if err != nil {
			t.Fatalf("FromDecimalString(%q) returned error: %v", human, err)
		}
		if back.Cmp(amount) != 0 {
			t.Fatalf("round trip of %s via %q produced %s", v, human, back)
		}
	}
}

func TestFromDecimalString_RejectsExcessPrecision(t *testing.T) {
	if _, err := FromDecimalString("1.0000001", 6); err == nil {
		t.Fatal("expected error for value with more fractional digits than the token supports")
	}
	if _, err := FromDecimalString("-1", 6); err == nil {
		t.Fatal("expected error for negative value")
	}
}
