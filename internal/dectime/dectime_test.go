package dectime

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestFromTimeKnownValue(t *testing.T) {
	ts := time.Date(2013, 1, 25, 13, 38, 23, 123456000, time.UTC)
	got := FromTime(ts)
	want := mustDec(t, "20130125133823.123456")
	if !got.Equal(want) {
		t.Errorf("FromTime = %s, want %s", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []time.Time{
		time.Date(2013, 1, 25, 13, 38, 23, 0, time.UTC),
		time.Date(2013, 1, 25, 13, 38, 23, 123456000, time.UTC),
		time.Date(2012, 12, 31, 23, 59, 59, 999999000, time.UTC),
		time.Date(2012, 2, 29, 0, 0, 0, 1000, time.UTC), // leap day, 1µs
		time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
	}
	for _, ts := range cases {
		d := FromTime(ts)
		back, err := ToTime(d)
		if err != nil {
			t.Fatalf("ToTime(%s) failed: %v", d, err)
		}
		if !back.Equal(ts) {
			t.Errorf("round trip %v -> %s -> %v", ts, d, back)
		}
	}
}

func TestToTimeRejectsInvalid(t *testing.T) {
	cases := []string{
		"20130231000000.000000", // Feb 31
		"20130125133860.000000", // second 60
		"20131325000000.000000", // month 13
		"-1",
	}
	for _, s := range cases {
		if _, err := ToTime(mustDec(t, s)); err == nil {
			t.Errorf("ToTime(%s) succeeded, want error", s)
		}
	}
}

func TestParseTimestampForms(t *testing.T) {
	want := time.Date(2013, 1, 25, 13, 38, 23, 123456000, time.UTC)
	wantWhole := time.Date(2013, 1, 25, 13, 38, 23, 0, time.UTC)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"2013-01-25 13:38:23.123456", want},
		{"2013-01-25T13:38:23.123456", want},
		{"2013-01-25 13:38:23", wantWhole},
		{"2013-01-25T13:38:23", wantWhole},
		// unpadded month/day and short fractions appear in the wild
		{"2013-1-25 13:38:23.123", time.Date(2013, 1, 25, 13, 38, 23, 123000000, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) failed: %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseTimestamp("not a timestamp"); err == nil {
		t.Error("ParseTimestamp accepted garbage")
	}
	if _, err := ParseTimestamp("2013/01/25 13:38:23"); err == nil {
		t.Error("ParseTimestamp accepted slash-separated date")
	}
}

func TestParseDecimalTimestamp(t *testing.T) {
	got, err := ParseDecimalTimestamp("2013-01-25T13:38:23.000000")
	if err != nil {
		t.Fatalf("ParseDecimalTimestamp failed: %v", err)
	}
	if want := mustDec(t, "20130125133823"); !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEqualSecond(t *testing.T) {
	a := mustDec(t, "20130125133823.000000")
	b := mustDec(t, "20130125133823.999999")
	c := mustDec(t, "20130125133824.000000")

	if !EqualSecond(a, b) {
		t.Errorf("EqualSecond(%s, %s) = false, want true", a, b)
	}
	if EqualSecond(a, c) {
		t.Errorf("EqualSecond(%s, %s) = true, want false", a, c)
	}
}

func TestSecondWindow(t *testing.T) {
	d := mustDec(t, "20130125133823.123456")
	lo, hi := SecondWindow(d)
	if !lo.Equal(d) {
		t.Errorf("window lo = %s, want %s", lo, d)
	}
	// The window is exactly one decimal second wide. Lookups depend on the
	// inclusive [d, d+1] shape; do not narrow it.
	if !hi.Sub(lo).Equal(decimal.NewFromInt(1)) {
		t.Errorf("window width = %s, want 1", hi.Sub(lo))
	}
}

func TestPeriodWindow(t *testing.T) {
	d := mustDec(t, "20130125133823.654321")
	lo, hi := PeriodWindow(d)
	if want := mustDec(t, "20130125133823"); !lo.Equal(want) {
		t.Errorf("window lo = %s, want %s", lo, want)
	}
	if want := mustDec(t, "20130125133823.999999"); !hi.Equal(want) {
		t.Errorf("window hi = %s, want %s", hi, want)
	}
}

func TestCanonicalFixedWidth(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"20130125133823", "20130125133823.000000"},
		{"20130125133823.5", "20130125133823.500000"},
		{"20130125133823.123456", "20130125133823.123456"},
	}
	for _, tc := range cases {
		if got := Canonical(mustDec(t, tc.in)); got != tc.want {
			t.Errorf("Canonical(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestCanonicalOrdering verifies the property the storage layer leans on:
// canonical strings compare byte-wise in the same order as their numeric
// values, so range filters work against TEXT columns.
func TestCanonicalOrdering(t *testing.T) {
	ordered := []string{
		"20130125133823.000000",
		"20130125133823.123456",
		"20130125133823.500000",
		"20130125133824.000000",
		"20131231235959.999999",
	}
	for i := 1; i < len(ordered); i++ {
		a := Canonical(mustDec(t, ordered[i-1]))
		b := Canonical(mustDec(t, ordered[i]))
		if !(a < b) {
			t.Errorf("canonical order broken: %q !< %q", a, b)
		}
	}
}

func TestParseCanonicalRoundTrip(t *testing.T) {
	d := mustDec(t, "20130125133823.123456")
	back, err := ParseCanonical(Canonical(d))
	if err != nil {
		t.Fatalf("ParseCanonical failed: %v", err)
	}
	if !back.Equal(d) {
		t.Errorf("round trip changed value: %s -> %s", d, back)
	}
	if _, err := ParseCanonical("bogus"); err == nil {
		t.Error("ParseCanonical accepted garbage")
	}
}
