package codec

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"csvflow/internal/config"
)

// StructValue is the driver-neutral carrier for composite (object) column
// values: a type name plus ordered attribute values. Cursor adapters produce
// it for drivers that expose structured values.
type StructValue struct {
	TypeName string
	Fields   []any
}

// oracleDateClass is the vendor value-class prefix that marks the driver
// quirk where DATE columns are reported as timestamps; see formatTimestamp.
const oracleDateClass = "oracle.sql.DATE"

// Encoder converts raw cursor values to their canonical text (or primitive)
// form for the export writers. It is cheap to construct and safe to reuse
// across rows; it is not safe for concurrent use because of the lazily
// resolved descriptor class names.
type Encoder struct {
	cfg config.CodecConfig
}

// NewEncoder returns an Encoder over the given codec configuration. Zero
// layout fields fall back to the documented defaults.
func NewEncoder(cfg config.CodecConfig) *Encoder {
	if cfg.DateFormat == "" {
		cfg.DateFormat = config.DefaultDateFormat
	}
	if cfg.TimestampFormat == "" {
		cfg.TimestampFormat = config.DefaultTimestampFormat
	}
	if cfg.TimestampTZFormat == "" {
		cfg.TimestampTZFormat = config.DefaultTimestampTZFormat
	}
	return &Encoder{cfg: cfg}
}

// Encode converts one cell. A nil input encodes to nil (the null sentinel)
// regardless of tag. The result is either a string or a primitive the sink
// can emit directly (bool, int32). The descriptor's ClassName is resolved
// from the first non-null value seen for the column.
func (e *Encoder) Encode(v any, d *Descriptor) (any, error) {
	if v == nil {
		return nil, nil
	}
	if d.ClassName == "" {
		d.ClassName = fmt.Sprintf("%T", v)
	}

	out, err := e.encodeTag(v, d)
	if err != nil {
		return nil, err
	}
	if e.cfg.Trim {
		if s, ok := out.(string); ok {
			out = strings.TrimSpace(s)
		}
	}
	return out, nil
}

func (e *Encoder) encodeTag(v any, d *Descriptor) (any, error) {
	switch d.Tag {
	case TagBoolean:
		return encodeBool(v), nil

	case TagInt:
		n, err := coerceInt32(v)
		if err != nil {
			return nil, err
		}
		return n, nil

	case TagLong, TagDouble:
		return CanonicalNumericString(v), nil

	case TagDate:
		t, err := coerceTime(v)
		if err != nil {
			return nil, err
		}
		return t.Format(e.cfg.DateFormat), nil

	case TagTimestamp:
		t, err := coerceTime(v)
		if err != nil {
			return nil, err
		}
		return e.formatTimestamp(t, d), nil

	case TagTimestampTZ:
		t, err := coerceTime(v)
		if err != nil {
			return nil, err
		}
		return stripZeroFraction(t.Format(e.cfg.TimestampTZFormat)), nil

	case TagTime:
		t, err := coerceTime(v)
		if err != nil {
			return nil, err
		}
		return stripZeroFraction(t.Format("15:04:05.000")), nil

	case TagRaw, TagBlob:
		switch b := v.(type) {
		case []byte:
			return HexUpper(b), nil
		case string:
			return HexUpper([]byte(b)), nil
		default:
			return toString(v), nil
		}

	case TagClob, TagXML, TagJSON:
		switch s := v.(type) {
		case []byte:
			return string(s), nil
		case string:
			return s, nil
		default:
			return toString(v), nil
		}

	case TagArray, TagStruct:
		return e.formatComposite(v, 0), nil

	case TagVector:
		return formatVector(v), nil

	default:
		return toString(v), nil
	}
}

// encodeBool passes native booleans through so the sink decides their
// textualisation; everything else degrades to text.
func encodeBool(v any) any {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case string:
		return b
	default:
		return toString(v)
	}
}

// coerceInt32 applies the value's own numeric accessor and narrows to a
// signed 32-bit integer.
func coerceInt32(v any) (int32, error) {
	switch n := v.(type) {
	case int32:
		return n, nil
	case int64:
		return int32(n), nil
	case int:
		return int32(n), nil
	case int16:
		return int32(n), nil
	case int8:
		return int32(n), nil
	case uint8:
		return int32(n), nil
	case float64:
		return int32(n), nil
	case float32:
		return int32(n), nil
	case *big.Int:
		return int32(n.Int64()), nil
	case []byte:
		i, err := strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
		if err != nil {
			return 0, mismatch("int", string(n), err.Error())
		}
		return int32(i), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, mismatch("int", n, err.Error())
		}
		return int32(i), nil
	default:
		return 0, mismatch("int", toString(v), "unsupported source type")
	}
}

// coerceTime accepts the temporal shapes drivers produce. A string value is
// accepted only when it parses with one of the common driver layouts;
// otherwise it is an error so the caller surfaces bad metadata early.
func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, mismatch("temporal", "nil", "nil pointer")
		}
		return *t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00",
			"2006-01-02 15:04:05.999999999", "2006-01-02", "15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, mismatch("temporal", t, "unrecognized driver format")
	default:
		return time.Time{}, mismatch("temporal", toString(v), "unsupported source type")
	}
}

// formatTimestamp renders a timestamp and strips a zero fractional suffix.
// For columns whose vendor class marks the Oracle DATE-as-TIMESTAMP quirk,
// the fractional suffix is truncated from the character before the dot,
// matching the long-standing driver workaround.
func (e *Encoder) formatTimestamp(t time.Time, d *Descriptor) string {
	s := t.Format(e.cfg.TimestampFormat)
	if strings.HasPrefix(d.ClassName, oracleDateClass) {
		if pos := strings.LastIndexByte(s, '.'); pos > 0 {
			return s[:pos-1]
		}
		return s
	}
	return stripZeroFraction(s)
}

// stripZeroFraction removes a trailing all-zero fractional-second suffix
// (".0", ".000", ...) while keeping any zone suffix that follows it.
func stripZeroFraction(s string) string {
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 {
		return s
	}
	end := dot + 1
	for end < len(s) && s[end] == '0' {
		end++
	}
	if end == dot+1 {
		return s // no digits after the dot; not a fraction
	}
	// Non-zero digit inside the fraction: keep as-is.
	for i := dot + 1; i < end; i++ {
		if s[i] != '0' {
			return s
		}
	}
	// Anything after the zeros (a zone suffix) survives.
	if end < len(s) && s[end] >= '0' && s[end] <= '9' {
		return s
	}
	return s[:dot] + s[end:]
}

// formatComposite renders arrays as {e1,e2,...} and structs as
// Typename(e1,e2,...). Numbers use canonical decimal form, temporals are
// quoted and formatted, strings are single-quoted with embedded quotes
// doubled. Nested composites start on a fresh line indented two spaces per
// level.
func (e *Encoder) formatComposite(v any, level int) string {
	switch c := v.(type) {
	case StructValue:
		return c.TypeName + "(" + e.joinComposite(c.Fields, level) + ")"
	case *StructValue:
		return c.TypeName + "(" + e.joinComposite(c.Fields, level) + ")"
	case []any:
		return "{" + e.joinComposite(c, level) + "}"
	case []string:
		vs := make([]any, len(c))
		for i := range c {
			vs[i] = c[i]
		}
		return "{" + e.joinComposite(vs, level) + "}"
	case []int64:
		vs := make([]any, len(c))
		for i := range c {
			vs[i] = c[i]
		}
		return "{" + e.joinComposite(vs, level) + "}"
	case []float64:
		vs := make([]any, len(c))
		for i := range c {
			vs[i] = c[i]
		}
		return "{" + e.joinComposite(vs, level) + "}"
	default:
		return e.compositeElem(v, level)
	}
}

func (e *Encoder) joinComposite(elems []any, level int) string {
	var b strings.Builder
	for i, el := range elems {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.compositeElem(el, level))
	}
	return b.String()
}

// compositeElem renders one element inside a composite.
func (e *Encoder) compositeElem(v any, level int) string {
	switch el := v.(type) {
	case nil:
		return "null"
	case StructValue, *StructValue, []any, []string, []int64, []float64:
		return "\n" + strings.Repeat("  ", level+1) + e.formatComposite(el, level+1)
	case string:
		return "'" + strings.ReplaceAll(el, "'", "''") + "'"
	case time.Time:
		return "'" + stripZeroFraction(el.Format(e.cfg.TimestampFormat)) + "'"
	case bool:
		return strconv.FormatBool(el)
	default:
		return CanonicalNumericString(el)
	}
}

// formatVector renders float vectors as [v0,v1,...] with a line break every
// four elements, matching the export form for VECTOR columns.
func formatVector(v any) string {
	var elems []float64
	switch vec := v.(type) {
	case []float64:
		elems = vec
	case []float32:
		elems = make([]float64, len(vec))
		for i, f := range vec {
			elems[i] = float64(f)
		}
	case []any:
		elems = make([]float64, 0, len(vec))
		for _, el := range vec {
			switch f := el.(type) {
			case float64:
				elems = append(elems, f)
			case float32:
				elems = append(elems, float64(f))
			case int64:
				elems = append(elems, float64(f))
			}
		}
	default:
		return toString(v)
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, f := range elems {
		if i > 0 {
			b.WriteByte(',')
			if i%4 == 0 {
				b.WriteByte('\n')
			}
		}
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// toString is the fallback textualisation for values with no dedicated rule.
func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
