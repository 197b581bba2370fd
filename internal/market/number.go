package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is a numeric column value that remembers what the upstream sent
// when it was not a valid number. Invalid values read as NaN and print as
// their raw text; they are never coerced to zero.
type Number struct {
	v     float64
	raw   string
	valid bool
}

// Num returns a valid Number holding v. NaN and infinities are treated as
// invalid.
func Num(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{raw: strconv.FormatFloat(v, 'f', -1, 64)}
	}
	return Number{v: v, valid: true}
}

// Invalid returns a Number carrying raw text that could not be parsed.
func Invalid(raw string) Number {
	return Number{raw: raw}
}

// ParseNumber parses s as a float. Unparseable text yields an invalid
// Number that keeps s verbatim.
func ParseNumber(s string) Number {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Invalid(s)
	}
	return Num(f)
}

// Valid reports whether the value is a finite number.
func (n Number) Valid() bool { return n.valid }

// Float returns the numeric value, or NaN if the value is invalid.
func (n Number) Float() float64 {
	if !n.valid {
		return math.NaN()
	}
	return n.v
}

// Raw returns the original text of an invalid value. It is empty for valid
// numbers and for absent fields.
func (n Number) Raw() string { return n.raw }

// String renders valid numbers in shortest form and invalid ones verbatim.
func (n Number) String() string {
	if n.valid {
		return strconv.FormatFloat(n.v, 'f', -1, 64)
	}
	return n.raw
}

// UnmarshalJSON accepts JSON numbers, numeric strings, arbitrary strings
// (kept as raw text), booleans and null.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty number")
	}
	switch data[0] {
	case 'n':
		*n = Number{}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = ParseNumber(s)
		return nil
	case 't', 'f':
		*n = Invalid(string(data))
		return nil
	case '{', '[':
		return fmt.Errorf("not a scalar: %.20s", data)
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*n = Invalid(string(data))
		return nil
	}
	*n = Num(f)
	return nil
}

// MarshalJSON writes valid numbers as JSON numbers, invalid ones as their
// raw string, and absent values as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if n.valid {
		return []byte(strconv.FormatFloat(n.v, 'f', -1, 64)), nil
	}
	if n.raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(n.raw)
}
