package codec

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Decimal is an exact decimal value carried as its canonical text form
// (sign, no leading zeros, no trailing fractional zeros, no exponent).
// It is produced by ParseNumeric for values that fit neither an integer nor
// a lossless float64, and binds as text so drivers keep full precision.
type Decimal string

func (d Decimal) String() string { return string(d) }

// numClass is the result of the single-pass classification scan.
type numClass int

const (
	numInvalid numClass = iota
	numInteger
	numDecimal
	numExponent
)

// classifyNumeric scans s once and classifies it as integer, decimal, or
// exponential. Any misplaced sign, second dot, or non-digit outside the
// exponent renders the string invalid.
func classifyNumeric(s string) numClass {
	if s == "" {
		return numInvalid
	}
	class := numInteger
	digits := 0
	expDigits := 0
	inExp := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			if inExp {
				expDigits++
			} else {
				digits++
			}
		case c == '+' || c == '-':
			// Only at the start, or immediately after the exponent marker.
			if i != 0 && !(inExp && (s[i-1] == 'e' || s[i-1] == 'E')) {
				return numInvalid
			}
		case c == '.':
			if class != numInteger || inExp {
				return numInvalid
			}
			class = numDecimal
		case c == 'e' || c == 'E':
			if inExp || digits == 0 {
				return numInvalid
			}
			inExp = true
			class = numExponent
		default:
			return numInvalid
		}
	}
	if digits == 0 || (inExp && expDigits == 0) {
		return numInvalid
	}
	return class
}

// ParseNumeric converts text to the smallest exact numeric representation:
//
//   - pure integers parse as int64 and down-cast to int8/int16/int32 when the
//     value fits; on int64 overflow a *big.Int is returned
//   - decimals and exponentials parse exactly; an exact integer down-casts to
//     *big.Int (then further, through the integer path, when it fits int64),
//     a value with an exact float64 round-trip returns float64, anything else
//     returns Decimal
//
// Empty or all-whitespace input is rejected.
func ParseNumeric(s string) (any, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, mismatch("numeric", s, "empty")
	}

	switch classifyNumeric(t) {
	case numInteger:
		if v, err := strconv.ParseInt(t, 10, 64); err == nil {
			return downcastInt(v), nil
		}
		bi, ok := new(big.Int).SetString(t, 10)
		if !ok {
			return nil, mismatch("numeric", s, "bad integer")
		}
		return bi, nil

	case numDecimal, numExponent:
		canon, ok := canonicalDecimal(t)
		if !ok {
			return nil, mismatch("numeric", s, "bad decimal")
		}
		if !strings.Contains(canon, ".") {
			// Exact integer after normalization.
			if v, err := strconv.ParseInt(canon, 10, 64); err == nil {
				return downcastInt(v), nil
			}
			bi, _ := new(big.Int).SetString(canon, 10)
			return bi, nil
		}
		if f, err := strconv.ParseFloat(canon, 64); err == nil {
			if strconv.FormatFloat(f, 'f', -1, 64) == canon {
				return f, nil
			}
		}
		return Decimal(canon), nil
	}
	return nil, mismatch("numeric", s, "not a number")
}

// downcastInt returns the smallest signed integer type that holds v exactly.
func downcastInt(v int64) any {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return int8(v)
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return int16(v)
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return int32(v)
	default:
		return v
	}
}

// canonicalDecimal normalizes a decimal or exponential literal to its exact
// canonical text: the exponent is folded into the digit string, leading
// integer zeros and trailing fractional zeros are trimmed, and "-0" becomes
// "0". Returns ok=false for malformed input.
func canonicalDecimal(s string) (string, bool) {
	neg := false
	switch {
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	}

	mant := s
	exp := 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mant = s[:i]
		e, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return "", false
		}
		exp = e
	}

	intPart, fracPart := mant, ""
	if i := strings.IndexByte(mant, '.'); i >= 0 {
		intPart, fracPart = mant[:i], mant[i+1:]
	}
	digits := intPart + fracPart
	if digits == "" {
		return "", false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", false
		}
	}

	// Decimal point position measured from the left of the digit string,
	// shifted by the exponent.
	point := len(intPart) + exp

	// Pad so the point lands inside the digit string.
	for point <= 0 {
		digits = "0" + digits
		point++
	}
	for point > len(digits) {
		digits += "0"
	}

	ip := strings.TrimLeft(digits[:point], "0")
	fp := strings.TrimRight(digits[point:], "0")
	if ip == "" {
		ip = "0"
	}

	out := ip
	if fp != "" {
		out += "." + fp
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out, true
}

// CanonicalNumericString renders any numeric representation produced by
// ParseNumeric (or arriving from a driver) in its canonical decimal form,
// applying the smallest-representation rule: exact integers render without a
// fraction, values whose float64 shortest form matches the exact expansion
// use it, and everything else keeps the exact expansion.
func CanonicalNumericString(v any) string {
	switch n := v.(type) {
	case int8:
		return strconv.FormatInt(int64(n), 10)
	case int16:
		return strconv.FormatInt(int64(n), 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	case uint64:
		return strconv.FormatUint(n, 10)
	case *big.Int:
		return n.String()
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case Decimal:
		return string(n)
	case string:
		if canon, ok := canonicalDecimal(n); ok {
			return canon
		}
		return n
	case []byte:
		return CanonicalNumericString(string(n))
	default:
		return toString(n)
	}
}
