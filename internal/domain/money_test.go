package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{in: "10", want: 1000},
		{in: "10.5", want: 1050},
		{in: "0.01", want: 1},
		{in: "19.99", want: 1999},
		{in: "1.005", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMoney(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ParseMoney(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestMoneyArithmeticIsExact(t *testing.T) {
	// 0.1 * 3 в float64 даёт 0.30000000000000004.
	price := MustMoney("0.10")
	sub, err := price.MulQty(3)
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if sub.String() != "0.30" {
		t.Fatalf("expected 0.30, got %s", sub)
	}

	total, err := sub.Add(MustMoney("19.99"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !total.Decimal().Equal(decimal.RequireFromString("20.29")) {
		t.Fatalf("expected 20.29, got %s", total)
	}
}

func TestMoneyOverflow(t *testing.T) {
	if _, err := Money(1 << 62).MulQty(4); err == nil {
		t.Fatal("expected overflow error")
	}
	if _, err := Money(1 << 62).Add(Money(1 << 62)); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestMoneyJSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Total Money `json:"total"`
	}{Total: 3000})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"total":30.00}` {
		t.Fatalf("unexpected json: %s", raw)
	}

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":12.34,"b":"5.5"}`), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if in.A != 1234 || in.B != 550 {
		t.Fatalf("unexpected values: %d %d", in.A, in.B)
	}
}
