package strategy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when a text holds no number.
var ErrNoPrice = errors.New("no price in text")

// numberRun matches the first number, including space-grouped thousands
// ("1 234,56") but never two numbers separated by a space.
var numberRun = regexp.MustCompile(
	`\d{1,3}(?:[ \x{00a0}\x{202f}]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)*`)

// ParsePrice normalizes a displayed price such as "$1,299.00", "1.299,00 €"
// or "£ 12" into a decimal. decimalMark ("," or ".") resolves ambiguous
// inputs like "1,299"; without it a single separator followed by exactly
// three digits is read as a thousands separator.
func ParsePrice(text, decimalMark string) (decimal.Decimal, error) {
	run := numberRun.FindString(text)
	if run == "" {
		return decimal.Zero, ErrNoPrice
	}
	digits := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, run)

	mark := decimalMark
	if mark == "" {
		mark = guessDecimalMark(digits)
	}

	var b strings.Builder
	seenMark := false
	for _, r := range digits {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case mark != "" && string(r) == mark:
			if seenMark {
				return decimal.Zero, fmt.Errorf("parse price %q: repeated decimal mark", text)
			}
			seenMark = true
			b.WriteByte('.')
		}
	}

	value, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", text, err)
	}
	return value, nil
}

// guessDecimalMark returns the decimal separator of s, or "" when s only
// has grouping separators.
func guessDecimalMark(s string) string {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			return "."
		}
		return ","
	case lastDot < 0 && lastComma < 0:
		return ""
	}

	sep, idx := ".", lastDot
	if lastComma >= 0 {
		sep, idx = ",", lastComma
	}
	if strings.Count(s, sep) > 1 {
		return ""
	}
	if len(s)-idx-1 == 3 {
		return ""
	}
	return sep
}
