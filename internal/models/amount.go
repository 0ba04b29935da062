package models

import (
	"fmt"
	"math"
	"strconv"
)

// AmountScale is the number of Amount units per whole CBT token.
const AmountScale = 100

// Amount is a CBT quantity in hundredths of a token.
// All ledger arithmetic is done on Amount to avoid float drift.
type Amount int64

// AmountFromFloat converts a token value, rounding half away from zero to 2 decimals.
func AmountFromFloat(tokens float64) Amount {
	return Amount(math.Round(tokens * AmountScale))
}

// Tokens returns n whole tokens as an Amount
func Tokens(n int64) Amount {
	return Amount(n * AmountScale)
}

// Float64 returns the amount in whole tokens
func (a Amount) Float64() float64 {
	return float64(a) / AmountScale
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/AmountScale, v%AmountScale)
}

// MarshalJSON encodes the amount as a decimal number (e.g. 2.50)
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	*a = AmountFromFloat(f)
	return nil
}
