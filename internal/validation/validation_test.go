package validation

import "testing"

func TestIsValidSymbol(t *testing.T) {
	valid := []string{"INFY", "TCS", "NIFTY50", "BAJAJ-AUTO", "M&M", "RELIANCE"}
	for _, s := range valid {
		if !IsValidSymbol(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}

	invalid := []string{"", "infy", "INFY ", "-INFY", "TOO_LONG_SYMBOL_NAME_OVER_LIMIT", "IN FY", "INFY;DROP"}
	for _, s := range invalid {
		if IsValidSymbol(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestSanitizeSymbol(t *testing.T) {
	cases := map[string]string{
		"  infy ":     "INFY",
		"bajaj-auto":  "BAJAJ-AUTO",
		"TCS":         "TCS",
		"\tm&m\n":     "M&M",
		"  nifty50  ": "NIFTY50",
	}
	for in, want := range cases {
		if got := SanitizeSymbol(in); got != want {
			t.Errorf("SanitizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 100); got != "hello" {
		t.Errorf("expected trimmed string, got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("expected truncated string, got %q", got)
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("expected null bytes removed, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("symbol", "INFY"),
		ValidSymbol("symbol", "INFY"),
		PositiveQuantity("quantity", 10),
	)
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}

	errs = Validate(
		Required("symbol", ""),
		PositiveQuantity("quantity", 0),
		NonNegativePrice("price", -1),
	)
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidSymbolSkipsEmpty(t *testing.T) {
	if err := ValidSymbol("symbol", "")(); err != nil {
		t.Error("empty value should pass ValidSymbol (use Required)")
	}
	if err := ValidSymbol("symbol", "bad symbol")(); err == nil {
		t.Error("expected error for malformed symbol")
	}
}

func TestOneOf(t *testing.T) {
	if err := OneOf("side", "BUY", "BUY", "SELL")(); err != nil {
		t.Errorf("expected BUY to pass, got %v", err)
	}
	if err := OneOf("side", "HOLD", "BUY", "SELL")(); err == nil {
		t.Error("expected HOLD to fail")
	}
	if err := OneOf("side", "", "BUY", "SELL")(); err != nil {
		t.Error("empty value should pass OneOf (use Required)")
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("name", "short", 10)(); err != nil {
		t.Errorf("expected short string to pass, got %v", err)
	}
	if err := MaxLength("name", "this is far too long", 5)(); err == nil {
		t.Error("expected long string to fail")
	}
}

func TestValidationErrorsError(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "validation failed" {
		t.Errorf("unexpected empty error string: %s", empty.Error())
	}

	errs := ValidationErrors{{Field: "symbol", Message: "is required"}}
	if errs.Error() != "symbol: is required" {
		t.Errorf("unexpected error string: %s", errs.Error())
	}
}
