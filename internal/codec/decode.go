package codec

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"csvflow/internal/config"
)

// DecodeKind classifies a target database column for the loader's bind path.
// It is derived once per column from the vendor type name during schema
// resolution.
type DecodeKind int

const (
	KindString DecodeKind = iota
	KindTinyInt
	KindSmallInt
	KindInt
	KindBigInt
	KindDecimal
	KindFloat
	KindDouble
	KindDate
	KindTime
	KindTimeTZ
	KindTimestamp
	KindTimestampTZ
	KindBoolean
	KindBinary
	KindOther
)

// KindForTypeName maps a vendor type name to the bind classification.
func KindForTypeName(name string) DecodeKind {
	switch TagForTypeName(name) {
	case TagBoolean:
		return KindBoolean
	case TagInt:
		switch baseTypeName(name) {
		case "TINYINT":
			return KindTinyInt
		case "SMALLINT", "INT2":
			return KindSmallInt
		default:
			return KindInt
		}
	case TagLong:
		return KindBigInt
	case TagDouble:
		switch baseTypeName(name) {
		case "REAL", "FLOAT4":
			return KindFloat
		case "FLOAT", "FLOAT8", "DOUBLE", "DOUBLE PRECISION":
			return KindDouble
		default:
			return KindDecimal
		}
	case TagDate:
		return KindDate
	case TagTime:
		switch baseTypeName(name) {
		case "TIMETZ", "TIME WITH TIME ZONE":
			return KindTimeTZ
		default:
			return KindTime
		}
	case TagTimestamp:
		return KindTimestamp
	case TagTimestampTZ:
		return KindTimestampTZ
	case TagRaw, TagBlob:
		return KindBinary
	case TagString, TagClob, TagXML, TagJSON:
		return KindString
	default:
		return KindOther
	}
}

// Decoder converts textual cells to typed bind parameters. It owns the two
// live temporal format caches (date/datetime and time-only) plus the row
// counter that gates their compaction. A Decoder serves one load and is used
// by a single goroutine.
type Decoder struct {
	cfg      config.CodecConfig
	DateTime *FormatCache
	TimeOnly *FormatCache
	rows     int
}

// NewDecoder builds a Decoder. Pinned layouts (from DATE_FORMAT and friends)
// are tried before the library candidates.
func NewDecoder(cfg config.CodecConfig, pinned ...string) *Decoder {
	return &Decoder{
		cfg:      cfg,
		DateTime: NewFormatCache(DateTimeLibrary(), pinned...),
		TimeOnly: NewFormatCache(TimeLibrary()),
	}
}

// RowDone advances the decoded-row counter and compacts whichever cache has
// reached its hit threshold. It must be called between rows only.
func (d *Decoder) RowDone() {
	d.rows++
	d.DateTime.Compact(d.rows)
	d.TimeOnly.Compact(d.rows)
}

// Rows returns the number of completed rows.
func (d *Decoder) Rows() int { return d.rows }

// Decode converts one textual cell into the bind parameter for a column of
// the given kind. A nil return with nil error binds SQL NULL.
func (d *Decoder) Decode(s string, kind DecodeKind) (any, error) {
	switch kind {
	case KindString:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		if d.cfg.UnescapeNewline {
			s = unescapeNewlines(s)
		}
		return s, nil

	case KindTinyInt:
		return d.decodeInt(s, math.MinInt8, math.MaxInt8, "tinyint")
	case KindSmallInt:
		return d.decodeInt(s, math.MinInt16, math.MaxInt16, "smallint")
	case KindInt:
		return d.decodeInt(s, math.MinInt32, math.MaxInt32, "integer")
	case KindBigInt:
		return d.decodeInt(s, math.MinInt64, math.MaxInt64, "bigint")

	case KindDecimal:
		v, err := ParseNumeric(s)
		if err != nil {
			return nil, mismatch("numeric", s, "")
		}
		switch n := v.(type) {
		case float64:
			return Decimal(strconv.FormatFloat(n, 'f', -1, 64)), nil
		case Decimal:
			return n, nil
		default:
			return Decimal(CanonicalNumericString(v)), nil
		}

	case KindFloat:
		return d.decodeFloat(s, 32)
	case KindDouble:
		return d.decodeFloat(s, 64)

	case KindDate, KindTimestamp, KindTimestampTZ:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		t, _, ok := d.DateTime.Parse(strings.TrimSpace(s))
		if !ok {
			return nil, mismatch("temporal", s, "no matching format")
		}
		return t, nil

	case KindTime, KindTimeTZ:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		t, _, ok := d.TimeOnly.Parse(strings.TrimSpace(s))
		if !ok {
			return nil, mismatch("time", s, "no matching format")
		}
		return t, nil

	case KindBoolean:
		return decodeBool(s)

	case KindBinary:
		return ParseBinary(s)

	default:
		return s, nil
	}
}

// decodeInt parses and width-checks an integer target.
func (d *Decoder) decodeInt(s string, lo, hi int64, target string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := ParseNumeric(s)
	if err != nil {
		return nil, mismatch(target, s, "")
	}
	var n int64
	switch x := v.(type) {
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case *big.Int:
		return nil, mismatch(target, s, "magnitude exceeds column width")
	default:
		return nil, mismatch(target, s, "not an integer")
	}
	if n < lo || n > hi {
		return nil, mismatch(target, s, "magnitude exceeds column width")
	}
	return n, nil
}

// decodeFloat parses a floating target. An arbitrary-precision integer binds
// as that primitive only when it survives a lossless round-trip through the
// requested precision, and is a mismatch otherwise. Fixed-width integers,
// float64 values and Decimals convert to the nearest value of the requested
// precision without a round-trip check; a Decimal out of range is a mismatch.
func (d *Decoder) decodeFloat(s string, bits int) (any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := ParseNumeric(s)
	if err != nil {
		return nil, mismatch("float", s, "")
	}
	switch n := v.(type) {
	case int8, int16, int32, int64:
		f, _ := strconv.ParseFloat(CanonicalNumericString(n), bits)
		if bits == 32 {
			return float32(f), nil
		}
		return f, nil
	case *big.Int:
		f, err := strconv.ParseFloat(n.String(), bits)
		if err != nil {
			return nil, mismatch("float", s, "overflow")
		}
		rt := strconv.FormatFloat(f, 'f', -1, bits)
		if rt != n.String() {
			return nil, mismatch("float", s, "lossy conversion")
		}
		if bits == 32 {
			return float32(f), nil
		}
		return f, nil
	case float64:
		if bits == 32 {
			return float32(n), nil
		}
		return n, nil
	case Decimal:
		f, err := strconv.ParseFloat(string(n), bits)
		if err != nil {
			return nil, mismatch("float", s, "overflow")
		}
		if bits == 32 {
			return float32(f), nil
		}
		return f, nil
	}
	return nil, mismatch("float", s, "not a number")
}

// decodeBool recognises the documented literal pairs case-insensitively and
// falls back to a strict parse for everything else.
func decodeBool(s string) (any, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, nil
	}
	switch strings.ToUpper(t) {
	case "TRUE", "1", "YES", "Y":
		return true, nil
	case "FALSE", "0", "NO", "N":
		return false, nil
	}
	b, err := strconv.ParseBool(t)
	if err != nil {
		return nil, mismatch("boolean", s, "")
	}
	return b, nil
}

// unescapeNewlines converts literal \n and \r sequences to their control
// characters. A doubled backslash protects a literal backslash.
func unescapeNewlines(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
