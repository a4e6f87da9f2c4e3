package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"csvflow/internal/config"
)

func newTestDecoder() *Decoder { return NewDecoder(config.DefaultCodecConfig()) }

func TestKindForTypeName(t *testing.T) {
	t.Parallel()

	cases := map[string]DecodeKind{
		"VARCHAR":        KindString,
		"varchar2":       KindString,
		"TINYINT":        KindTinyInt,
		"SMALLINT":       KindSmallInt,
		"INTEGER":        KindInt,
		"INT4":           KindInt,
		"BIGINT":         KindBigInt,
		"NUMERIC":        KindDecimal,
		"DECIMAL":        KindDecimal,
		"REAL":           KindFloat,
		"FLOAT8":         KindDouble,
		"DATE":           KindDate,
		"TIME":           KindTime,
		"TIMETZ":         KindTimeTZ,
		"TIMESTAMP":      KindTimestamp,
		"TIMESTAMPTZ":    KindTimestampTZ,
		"DATETIMEOFFSET": KindTimestampTZ,
		"BOOLEAN":        KindBoolean,
		"BYTEA":          KindBinary,
		"BLOB":           KindBinary,
		"CLOB":           KindString,
	}
	for name, want := range cases {
		if got := KindForTypeName(name); got != want {
			t.Fatalf("KindForTypeName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDecodeStringWhitespaceBindsNull(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	got, err := d.Decode("   ", KindString)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil bind", got)
	}
}

func TestDecodeStringUnescapesNewlines(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	got, err := d.Decode(`line1\nline2\rtail`, KindString)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "line1\nline2\rtail" {
		t.Fatalf("got %q", got)
	}

	cfg := config.DefaultCodecConfig()
	cfg.UnescapeNewline = false
	d2 := NewDecoder(cfg)
	got, err = d2.Decode(`a\nb`, KindString)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != `a\nb` {
		t.Fatalf("unescape disabled: got %q", got)
	}
}

func TestDecodeIntegerWidths(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()

	if v, err := d.Decode("127", KindTinyInt); err != nil || v != int64(127) {
		t.Fatalf("tinyint: %v, %v", v, err)
	}
	if _, err := d.Decode("128", KindTinyInt); err == nil {
		t.Fatal("tinyint overflow must fail")
	}
	if v, err := d.Decode("32767", KindSmallInt); err != nil || v != int64(32767) {
		t.Fatalf("smallint: %v, %v", v, err)
	}
	if _, err := d.Decode("2147483648", KindInt); err == nil {
		t.Fatal("int overflow must fail")
	}
	if v, err := d.Decode("2147483648", KindBigInt); err != nil || v != int64(2147483648) {
		t.Fatalf("bigint: %v, %v", v, err)
	}
	if _, err := d.Decode("99999999999999999999", KindBigInt); err == nil {
		t.Fatal("bigint magnitude must fail")
	}

	var tm *TypeMismatchError
	_, err := d.Decode("not_a_number", KindInt)
	if !errors.As(err, &tm) {
		t.Fatalf("want TypeMismatchError, got %v", err)
	}
}

func TestDecodeDecimal(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	v, err := d.Decode("10.50", KindDecimal)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != Decimal("10.5") {
		t.Fatalf("decimal = %v (%T)", v, v)
	}
	if v, err = d.Decode("3", KindDecimal); err != nil || v != Decimal("3") {
		t.Fatalf("integer decimal = %v, %v", v, err)
	}
}

func TestDecodeFloats(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	if v, err := d.Decode("2.5", KindDouble); err != nil || v != float64(2.5) {
		t.Fatalf("double = %v, %v", v, err)
	}
	if v, err := d.Decode("2.5", KindFloat); err != nil || v != float32(2.5) {
		t.Fatalf("float = %v, %v", v, err)
	}
	// An integer too wide for a lossless float64 round-trip fails.
	if _, err := d.Decode("99999999999999999999", KindDouble); err == nil {
		t.Fatal("lossy big integer must fail for double")
	}
	// 2^60 survives exactly.
	if v, err := d.Decode("1152921504606846976", KindDouble); err != nil || v != float64(1152921504606846976) {
		t.Fatalf("2^60 = %v, %v", v, err)
	}
}

func TestDecodeTemporalRecordsRuntimeCache(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	v, err := d.Decode("2024-01-02 03:04:05", KindTimestamp)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ts := v.(time.Time)
	if ts.Hour() != 3 || ts.Day() != 2 {
		t.Fatalf("parsed %v", ts)
	}
	if d.DateTime.Hits() != 1 {
		t.Fatalf("hits = %d, want 1", d.DateTime.Hits())
	}
}

func TestDecodeTemporalCompactionViaRowDone(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	for i := 0; i < 100; i++ {
		if _, err := d.Decode("2024-01-02", KindDate); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		d.RowDone()
	}
	if !d.DateTime.Swapped() {
		t.Fatal("cache must be compacted after 100 rows with 100 hits")
	}
}

func TestDecodeTimeKinds(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	v, err := d.Decode("13:45:09", KindTime)
	if err != nil {
		t.Fatalf("time: %v", err)
	}
	if v.(time.Time).Hour() != 13 {
		t.Fatalf("time = %v", v)
	}
	v, err = d.Decode("13:45:09+02:00", KindTimeTZ)
	if err != nil {
		t.Fatalf("timetz: %v", err)
	}
	if _, off := v.(time.Time).Zone(); off != 2*3600 {
		t.Fatalf("timetz offset = %v", v)
	}
}

func TestDecodeBoolean(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	for _, s := range []string{"TRUE", "true", "1", "YES", "y"} {
		v, err := d.Decode(s, KindBoolean)
		if err != nil || v != true {
			t.Fatalf("%q -> %v, %v", s, v, err)
		}
	}
	for _, s := range []string{"FALSE", "no", "N", "0"} {
		v, err := d.Decode(s, KindBoolean)
		if err != nil || v != false {
			t.Fatalf("%q -> %v, %v", s, v, err)
		}
	}
	if _, err := d.Decode("maybe", KindBoolean); err == nil {
		t.Fatal("want error for unrecognised boolean")
	}
}

func TestDecodeBinaryForms(t *testing.T) {
	t.Parallel()

	d := newTestDecoder()
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	v, err := d.Decode("DEADBEEF", KindBinary)
	if err != nil || !bytes.Equal(v.([]byte), want) {
		t.Fatalf("hex: %v, %v", v, err)
	}
	v, err = d.Decode("0xdeadbeef", KindBinary)
	if err != nil || !bytes.Equal(v.([]byte), want) {
		t.Fatalf("0x hex: %v, %v", v, err)
	}
	// Not valid hex, so it falls through to base64: "3q2+7w==" is the same bytes.
	v, err = d.Decode("3q2+7w==", KindBinary)
	if err != nil || !bytes.Equal(v.([]byte), want) {
		t.Fatalf("base64: %v, %v", v, err)
	}
	if _, err := d.Decode("zz!", KindBinary); err == nil {
		t.Fatal("want error for undecodable binary")
	}
}

func TestParseBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte{0x00, 0x01, 0xAB, 0xFF}
	got, err := ParseBinary(HexUpper(raw))
	if err != nil || !bytes.Equal(got, raw) {
		t.Fatalf("round-trip: %v, %v", got, err)
	}
	got2, err := ParseBinary("0x" + HexUpper(raw))
	if err != nil || !bytes.Equal(got2, raw) {
		t.Fatalf("0x round-trip: %v, %v", got2, err)
	}
}
