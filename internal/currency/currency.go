// Package currency formats and parses monetary amounts for a fixed set of
// currency codes. Amounts are carried as int64 minor units (cents, paise)
// everywhere; formatting is the only place rounding-visible conversion
// happens.
package currency

import (
	"strconv"
	"strings"
)

// Default is the currency assumed when no code is configured.
const Default = "INR"

// def describes how one currency is rendered.
type def struct {
	Symbol string
	// Exponent is the number of minor-unit digits shown. Every supported
	// currency uses 2, JPY included: amounts are stored at a fixed scale of
	// 100 minor units per major unit throughout the system (the scan parser
	// produces that scale), and yen are displayed with two fraction digits
	// to match.
	Exponent int
	// IndianGrouping selects lakh/crore digit grouping (1,23,456) instead of
	// western thousands grouping (123,456).
	IndianGrouping bool
}

var defs = map[string]def{
	"INR": {Symbol: "₹", Exponent: 2, IndianGrouping: true},
	"USD": {Symbol: "$", Exponent: 2},
	"EUR": {Symbol: "€", Exponent: 2},
	"GBP": {Symbol: "£", Exponent: 2},
	"JPY": {Symbol: "¥", Exponent: 2},
}

// fallback is used for unknown currency codes.
var fallback = def{Symbol: "$", Exponent: 2}

// Codes returns the supported currency codes.
func Codes() []string {
	return []string{"INR", "USD", "EUR", "GBP", "JPY"}
}

// Supported reports whether code is one of the known currencies.
func Supported(code string) bool {
	_, ok := defs[strings.ToUpper(code)]
	return ok
}

// Symbol returns the display symbol for a currency code, falling back to "$"
// for unknown codes.
func Symbol(code string) string {
	return lookup(code).Symbol
}

func lookup(code string) def {
	if d, ok := defs[strings.ToUpper(code)]; ok {
		return d
	}
	return fallback
}

// Format renders an amount of minor units as a display string, e.g.
// Format(123456, "INR") == "₹1,234.56". Negative amounts carry a leading
// minus sign before the symbol.
func Format(minor int64, code string) string {
	d := lookup(code)

	var b strings.Builder
	if minor < 0 {
		b.WriteByte('-')
		minor = -minor
	}
	b.WriteString(d.Symbol)

	scale := pow10(d.Exponent)
	units := minor / scale
	frac := minor % scale

	b.WriteString(group(strconv.FormatInt(units, 10), d.IndianGrouping))
	if d.Exponent > 0 {
		b.WriteByte('.')
		fracStr := strconv.FormatInt(frac, 10)
		for len(fracStr) < d.Exponent {
			fracStr = "0" + fracStr
		}
		b.WriteString(fracStr)
	}
	return b.String()
}

// Parse extracts a minor-unit amount from a display string, stripping known
// currency symbols and thousands separators. Unparseable input yields 0,
// never an error.
func Parse(s, code string) int64 {
	d := lookup(code)

	cleaned := strings.TrimSpace(s)
	for _, sym := range []string{"₹", "$", "€", "£", "¥", ","} {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0
	}

	neg := false
	if strings.HasPrefix(cleaned, "-") {
		neg = true
		cleaned = cleaned[1:]
	}

	intPart := cleaned
	fracPart := ""
	if i := strings.IndexByte(cleaned, '.'); i >= 0 {
		intPart, fracPart = cleaned[:i], cleaned[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0
	}
	if intPart == "" {
		intPart = "0"
	}

	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0
	}

	// Pad or truncate the fraction to the currency's exponent.
	for len(fracPart) < d.Exponent {
		fracPart += "0"
	}
	if len(fracPart) > d.Exponent {
		fracPart = fracPart[:d.Exponent]
	}
	var frac int64
	if fracPart != "" {
		frac, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0
		}
	}

	minor := units*pow10(d.Exponent) + frac
	if neg {
		minor = -minor
	}
	return minor
}

// group inserts digit-group separators into an unsigned decimal string.
func group(digits string, indian bool) string {
	if len(digits) <= 3 {
		return digits
	}
	var parts []string
	if indian {
		// Last three digits, then pairs: 12,34,567.
		parts = append(parts, digits[len(digits)-3:])
		rest := digits[:len(digits)-3]
		for len(rest) > 2 {
			parts = append(parts, rest[len(rest)-2:])
			rest = rest[:len(rest)-2]
		}
		if rest != "" {
			parts = append(parts, rest)
		}
	} else {
		for len(digits) > 3 {
			parts = append(parts, digits[len(digits)-3:])
			digits = digits[:len(digits)-3]
		}
		if digits != "" {
			parts = append(parts, digits)
		}
	}
	// parts were collected right to left
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
		if i > 0 {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
