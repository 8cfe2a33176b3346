package utils

import (
	"encoding/json"
	"testing"
)

func TestParseMoney_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"150.00", "150"},
		{"20,000", "20000"},
		{"MMK 20,000", "20000"},
		{"MMK -20,000", "-20000"},
		{"  ks 1,234.50  ", "1234.5"},
		{"$ 99.5", "99.5"},
	}
	for _, tc := range cases {
		d, err := ParseMoney(tc.in)
		if err != nil {
			t.Fatalf("ParseMoney(%q) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("ParseMoney(%q) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestParseMoney_RejectsNonNumeric(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12abc", "MMK"} {
		if _, err := ParseMoney(in); err == nil {
			t.Fatalf("ParseMoney(%q) expected error", in)
		}
	}
}

func TestParseMoney_JSONNumber(t *testing.T) {
	d, err := ParseMoney(json.Number("42.10"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "42.1" {
		t.Fatalf("expected 42.1, got %s", d.String())
	}
}

func TestParseOptionalMoney(t *testing.T) {
	blank := " "
	nd, err := ParseOptionalMoney(&blank)
	if err != nil || nd.Valid {
		t.Fatalf("blank should be unset, got valid=%v err=%v", nd.Valid, err)
	}
	nd, err = ParseOptionalMoney(nil)
	if err != nil || nd.Valid {
		t.Fatalf("nil should be unset, got valid=%v err=%v", nd.Valid, err)
	}
	v := "150.00"
	nd, err = ParseOptionalMoney(&v)
	if err != nil || !nd.Valid || nd.Decimal.String() != "150" {
		t.Fatalf("expected 150, got %+v err=%v", nd, err)
	}
	bad := "n/a"
	if _, err := ParseOptionalMoney(&bad); err == nil {
		t.Fatalf("expected error for %q", bad)
	}
}
