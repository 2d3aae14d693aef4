package instrument

import (
	"errors"
	"testing"
)

func TestValidTicker(t *testing.T) {
	tests := []struct {
		ticker string
		valid  bool
	}{
		{"AAPL", true},
		{"MSFT", true},
		{"AB", true},
		{"ABCDEFGHIJ", true},
		{"A", false},           // too short
		{"ABCDEFGHIJK", false}, // too long
		{"aapl", false},        // lowercase
		{"AAPL1", false},       // digits
		{"AA PL", false},       // spaces
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidTicker(tt.ticker); got != tt.valid {
			t.Errorf("ValidTicker(%q) = %v, want %v", tt.ticker, got, tt.valid)
		}
	}
}

func TestCreateGetDelete(t *testing.T) {
	r := NewRegistry()

	ins, err := r.Create("AAPL", "Apple Inc.")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ins.Ticker != "AAPL" || ins.Name != "Apple Inc." {
		t.Errorf("instrument = %+v", ins)
	}

	if _, err := r.Create("AAPL", "duplicate"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create = %v, want ErrAlreadyExists", err)
	}
	if _, err := r.Create("bad ticker", "x"); !errors.Is(err, ErrInvalidTicker) {
		t.Errorf("invalid ticker = %v, want ErrInvalidTicker", err)
	}

	got, err := r.Get("AAPL")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Ticker != "AAPL" {
		t.Errorf("got %+v", got)
	}
	if !r.Exists("AAPL") {
		t.Error("Exists(AAPL) = false")
	}

	if err := r.Delete("AAPL"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get("AAPL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if err := r.Delete("AAPL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	for _, tk := range []string{"MSFT", "AAPL", "GOOG"} {
		if _, err := r.Create(tk, tk); err != nil {
			t.Fatal(err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	want := []string{"AAPL", "GOOG", "MSFT"}
	for i, ins := range list {
		if ins.Ticker != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, ins.Ticker, want[i])
		}
	}
}
