// Package dectime converts wall-clock timestamps to and from the decimal
// form used as a range-queryable column throughout the pipeline.
//
// The encoding is YYYYMMDDHHMMSS.ffffff read as a single number, naive UTC.
// It needs 20 significant digits, which rules out float64 (15-17 digits) and
// a microsecond-shifted int64 (overflows for any date past 1970+292y of
// micros); decimal.Decimal carries it exactly.
package dectime

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Unpadded layout elements accept both "2013-01-25 13:38:23.123456" and the
// "2013-1-25 13:38:23.123" variants some notifiers emit.
const (
	layoutSpace = "2006-1-2 15:4:5.999999"
	layoutT     = "2006-1-2T15:4:5.999999"
)

var (
	one         = decimal.NewFromInt(1)
	microOffset = decimal.New(999999, -6)
)

// FromTime encodes t (treated as naive UTC) as a decimal timestamp.
func FromTime(t time.Time) decimal.Decimal {
	t = t.UTC()
	whole := int64(t.Year())*1e10 +
		int64(t.Month())*1e8 +
		int64(t.Day())*1e6 +
		int64(t.Hour())*1e4 +
		int64(t.Minute())*1e2 +
		int64(t.Second())
	micro := int64(t.Nanosecond() / 1000)
	return decimal.New(whole, 0).Add(decimal.New(micro, -6))
}

// ToTime decodes a decimal timestamp back to a UTC time.Time. It is the
// exact inverse of FromTime for any value FromTime produced; fractional
// digits beyond microseconds are discarded. Returns an error when the
// integer part does not decode to a real calendar time.
func ToTime(d decimal.Decimal) (time.Time, error) {
	whole := d.Truncate(0)
	if !whole.IsInteger() || whole.Sign() < 0 {
		return time.Time{}, fmt.Errorf("invalid decimal timestamp %s", d)
	}
	v := whole.IntPart()
	micro := d.Sub(whole).Shift(6).IntPart()

	sec := int(v % 100)
	v /= 100
	min := int(v % 100)
	v /= 100
	hour := int(v % 100)
	v /= 100
	day := int(v % 100)
	v /= 100
	month := int(v % 100)
	v /= 100
	year := int(v)

	t := time.Date(year, time.Month(month), day, hour, min, sec, int(micro)*1000, time.UTC)
	// time.Date normalizes out-of-range components (month 13 becomes January);
	// a changed round-trip means the input was not a real timestamp.
	if !FromTime(t).Equal(whole.Add(decimal.New(micro, -6))) {
		return time.Time{}, fmt.Errorf("invalid decimal timestamp %s", d)
	}
	return t, nil
}

// ParseTimestamp parses the two wire timestamp forms,
// "2006-01-02 15:04:05[.ffffff]" and the ISO8601 T variant.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(layoutSpace, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(layoutT, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	return t, nil
}

// ParseDecimalTimestamp parses a wire timestamp string straight to its
// decimal encoding.
func ParseDecimalTimestamp(s string) (decimal.Decimal, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return FromTime(t), nil
}

// Canonical renders d with exactly six fractional digits. Decimal columns
// store this form: fixed width keeps lexicographic order identical to
// numeric order, so BETWEEN scans stay index-friendly.
func Canonical(d decimal.Decimal) string {
	return d.StringFixed(6)
}

// ParseCanonical parses a stored canonical decimal.
func ParseCanonical(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid stored decimal %q: %w", s, err)
	}
	return d, nil
}

// EqualSecond reports whether a and b name the same whole second.
// Sub-second drift between the control plane's clocks is expected; every
// launched_at comparison in the pipeline goes through this, never raw
// equality.
func EqualSecond(a, b decimal.Decimal) bool {
	return a.Truncate(0).Equal(b.Truncate(0))
}

// SecondWindow returns the inclusive range [d, d+1] the aggregator uses to
// match an exists event's launched_at against usage rows. The width is
// exactly one decimal second; callers depend on that.
func SecondWindow(d decimal.Decimal) (lo, hi decimal.Decimal) {
	return d, d.Add(one)
}

// PeriodWindow returns the inclusive range [trunc(d), trunc(d)+0.999999]
// the verifier uses for its lookups: the whole second d falls in.
func PeriodWindow(d decimal.Decimal) (lo, hi decimal.Decimal) {
	whole := d.Truncate(0)
	return whole, whole.Add(microOffset)
}

// Now is the current UTC instant in decimal form.
func Now() decimal.Decimal {
	return FromTime(time.Now().UTC())
}
