// Package parser turns noisy OCR text into structured receipt line items.
//
// Receipts are typeset inconsistently and OCR adds its own noise (variable
// run lengths of whitespace, dashes misread between name and price), so the
// parser tries an ordered cascade of patterns from strict to loose on each
// line. Lines that match nothing, or that match but fail validation, are
// skipped silently; a single garbled line never aborts the rest of the
// receipt.
package parser

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrNoItems is returned when the full pass over the text produced zero valid
// candidates. Callers treat it as a prompt for manual entry, not a crash.
var ErrNoItems = errors.New("no items found in receipt text")

// Item is one parsed line item. Price is in minor units (two implied decimal
// digits, the precision receipts print).
type Item struct {
	Name  string
	Price int64
}

// Config controls validation of matched lines.
type Config struct {
	// Blocklist holds lowercase substrings that mark a line as receipt
	// metadata rather than a purchasable item.
	Blocklist []string
	// MinPrice and MaxPrice bound accepted prices, exclusive, in minor units.
	MinPrice int64
	MaxPrice int64
}

// DefaultConfig returns the stock blocklist and price bounds.
func DefaultConfig() Config {
	return Config{
		Blocklist: []string{"total", "subtotal", "tax", "change", "payment", "cash"},
		MinPrice:  0,
		MaxPrice:  1000000, // 10000.00
	}
}

const symbols = `[$₹€£¥]?`
const price = `(\d+\.?\d{0,2})`

// pattern is one matcher in the cascade. Matchers are tried in order; the
// first match wins for a line.
type pattern struct {
	name       string
	re         *regexp.Regexp
	priceFirst bool
}

var cascade = []pattern{
	// name, a column gap of two or more spaces, optional symbol, price
	{name: "columns", re: regexp.MustCompile(`^(.+?)\s{2,}` + symbols + price + `$`)},
	// looser fallback: any whitespace gap
	{name: "spaced", re: regexp.MustCompile(`^(.+?)\s+` + symbols + price + `$`)},
	// dash separator, including the en-dash OCR likes to produce
	{name: "dashed", re: regexp.MustCompile(`^(.+?)\s*[-–]\s*` + symbols + price + `$`)},
	// price first, then name
	{name: "price-first", re: regexp.MustCompile(`^` + symbols + price + `\s+(.+)$`), priceFirst: true},
}

// Parser extracts line items from OCR text.
type Parser struct {
	config Config
}

// New creates a Parser with the given config.
func New(config Config) *Parser {
	return &Parser{config: config}
}

// Parse extracts a deduplicated, order-preserving list of items from
// multi-line OCR text. It never fails on malformed lines; it returns
// ErrNoItems when nothing in the text parsed as an item.
func (p *Parser) Parse(text string) ([]Item, error) {
	var items []Item
	seen := make(map[string]bool)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		item, ok := p.matchLine(line)
		if !ok {
			continue
		}

		key := item.Name + "\x00" + strconv.FormatInt(item.Price, 10)
		if seen[key] {
			continue
		}
		seen[key] = true
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

// matchLine runs the cascade over one line and validates the first match.
func (p *Parser) matchLine(line string) (Item, bool) {
	for _, pat := range cascade {
		m := pat.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		name, priceStr := m[1], m[2]
		if pat.priceFirst {
			name, priceStr = m[2], m[1]
		}

		// OCR column gaps sometimes leave the dash separator attached to
		// the name when a looser pattern fires first.
		name = strings.Trim(name, " \t-–")

		priceMinor, ok := parsePrice(priceStr)
		if !ok {
			continue
		}
		if !p.valid(name, priceMinor) {
			return Item{}, false
		}
		return Item{Name: name, Price: priceMinor}, true
	}
	return Item{}, false
}

// valid applies the name-length, price-bound, and blocklist checks.
func (p *Parser) valid(name string, priceMinor int64) bool {
	if utf8.RuneCountInString(name) <= 1 {
		return false
	}
	if priceMinor <= p.config.MinPrice || priceMinor >= p.config.MaxPrice {
		return false
	}
	lower := strings.ToLower(name)
	for _, blocked := range p.config.Blocklist {
		if strings.Contains(lower, blocked) {
			return false
		}
	}
	return true
}

// parsePrice converts a matched price string (digits with 0–2 decimal
// digits) to minor units without going through floating point.
func parsePrice(s string) (int64, bool) {
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}

	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, false
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return units*100 + frac, true
}
