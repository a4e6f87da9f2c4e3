// Package config defines the canonical configuration model for the csvflow
// pipelines. It is intentionally small, explicit, and dependency-free so that
// option bags can be built from CLI flags (or decoded from disk) and passed
// through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: Changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: Loader option names mirror the documented option table
//     (BATCH_ROWS, ERRORS, DELIMITER, ...); both keys and enumerated string
//     values are matched case-insensitively.
//  3. Minimalism: No third-party config libraries; decoding is performed by the
//     standard library, with a light Options helper for typed access.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Options is a small helper to fetch typed values from arbitrary option maps
// without introducing third-party configuration libraries. Keys are folded
// case-insensitively; values decoded from JSON or supplied as CLI strings are
// coerced only minimally, and the provided default is returned when a key is
// absent or of an unexpected type.
type Options map[string]any

// normKey folds an option key to its canonical lookup form.
func normKey(k string) string { return strings.ToUpper(strings.TrimSpace(k)) }

// lookup returns the raw value for key, matching case-insensitively.
func (o Options) lookup(key string) (any, bool) {
	if v, ok := o[key]; ok {
		return v, true
	}
	want := normKey(key)
	for k, v := range o {
		if normKey(k) == want {
			return v, true
		}
	}
	return nil, false
}

// Set stores a value under the canonical form of key.
func (o Options) Set(key string, v any) { o[normKey(key)] = v }

// String returns the string value for key or def if key is missing or not a
// string.
func (o Options) String(key, def string) string {
	if v, ok := o.lookup(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def. String values are accepted
// case-insensitively: true/on/yes/y/1 and false/off/no/n/0.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o.lookup(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "yes", "y", "1":
			return true
		case "false", "off", "no", "n", "0":
			return false
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// and CLI values arrive as strings, so both are accepted and converted.
func (o Options) Int(key string, def int) int {
	v, ok := o.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. This is useful for single-character settings such as the
// CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o.lookup(key); ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored. Returns an empty
// map when the key is missing or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o.lookup(key); ok {
		switch m := v.(type) {
		case map[string]any:
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		case map[string]string:
			for k, vv := range m {
				res[k] = vv
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of
// strings (or an array of interface values containing strings). A plain
// string of the form "(a,b,c)" or "a,b,c" is split on commas. Returns nil
// when the key is missing.
func (o Options) StringSlice(key string) []string {
	v, ok := o.lookup(key)
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	case string:
		s := strings.TrimSpace(vv)
		s = strings.TrimPrefix(s, "(")
		s = strings.TrimSuffix(s, ")")
		if s == "" {
			return nil
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}

// Any returns the raw value for key (which may itself be a nested map, slice,
// or primitive).
func (o Options) Any(key string) any {
	if v, ok := o.lookup(key); ok {
		return v
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null options
// object decodes to a non-nil, empty Options map. This simplifies call sites
// by removing the need to nil-check Options values.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

// ShowMode selects the dry-run behavior of the loader: OFF executes
// everything, DDL/DML print the respective statements to the logger and skip
// their execution, ALL prints and skips both.
type ShowMode int

const (
	ShowOff ShowMode = iota
	ShowDDL
	ShowDML
	ShowAll
)

// ShowsDDL reports whether generated DDL should be printed instead of executed.
func (m ShowMode) ShowsDDL() bool { return m == ShowDDL || m == ShowAll }

// ShowsDML reports whether generated DML should be printed instead of executed.
func (m ShowMode) ShowsDML() bool { return m == ShowDML || m == ShowAll }

func (m ShowMode) String() string {
	switch m {
	case ShowDDL:
		return "DDL"
	case ShowDML:
		return "DML"
	case ShowAll:
		return "ALL"
	default:
		return "OFF"
	}
}

// ColumnSizeMode selects whether generated DDL uses the observed maximum
// value length (ACTUAL) or the dialect's maximum column size (MAXIMUM).
type ColumnSizeMode int

const (
	ColumnSizeMaximum ColumnSizeMode = iota
	ColumnSizeActual
)

// SkipColumnsAuto is the sentinel entry meaning "silently drop CSV columns
// that match no database column".
const SkipColumnsAuto = "__AUTO__"

// CodecConfig carries the value-codec settings. It is built once per run and
// never re-read while a load or export is in flight, so a running job cannot
// observe configuration changes.
//
// Format fields hold Go time layouts. An empty layout means "auto": the
// encoder falls back to the documented defaults and the decoder detects the
// format from the data.
type CodecConfig struct {
	// Trim applies a final TrimSpace to every encoded cell.
	Trim bool

	// DateFormat is the layout for DATE columns. Default "2006-01-02".
	DateFormat string

	// TimestampFormat is the layout for TIMESTAMP columns.
	// Default "2006-01-02 15:04:05.000"; a trailing ".000"/".0" is stripped
	// from the rendered text.
	TimestampFormat string

	// TimestampTZFormat is the layout for TIMESTAMP WITH TIME ZONE columns.
	// Default appends a short ISO zone ("Z07") to TimestampFormat.
	TimestampTZFormat string

	// UnescapeNewline converts literal \n and \r sequences in text cells to
	// the corresponding control characters during decode.
	UnescapeNewline bool
}

// Default layouts used when CodecConfig fields are left as "auto".
const (
	DefaultDateFormat        = "2006-01-02"
	DefaultTimestampFormat   = "2006-01-02 15:04:05.000"
	DefaultTimestampTZFormat = "2006-01-02 15:04:05.000Z07"
)

// DefaultCodecConfig returns the CodecConfig used when no overrides are set.
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{
		DateFormat:        DefaultDateFormat,
		TimestampFormat:   DefaultTimestampFormat,
		TimestampTZFormat: DefaultTimestampTZFormat,
		UnescapeNewline:   true,
	}
}

// LoadOptions is the fully-resolved loader configuration. It is produced by
// ParseLoadOptions from an Options bag and is immutable for the duration of a
// load.
type LoadOptions struct {
	BatchRows  int // rows per commit (BATCH_ROWS, default 2048)
	RowLimit   int // 0 = unlimited (ROW_LIMIT)
	ErrorLimit int // per-row error cap; -1 = unlimited (ERRORS)
	ReportMB   int // progress cadence in MiB; -1 disables (REPORT_MB)

	Delimiter rune // DELIMITER, default ','
	Enclosure rune // ENCLOSURE, default '"'
	Escape    rune // ESCAPE, default '\\'

	SkipRows  int  // lines skipped before the header (SKIP_ROWS)
	HasHeader bool // HAS_HEADER, default true; adds 1 to the skip count

	Encoding       string // ENCODING; "auto" or "" = detect
	VariableFormat string // VARIABLE_FORMAT: "?" or ":"

	Show     ShowMode
	Create   bool
	Truncate bool

	Platform string // PLATFORM; "auto" = derive from the driver
	ScanRows int    // rows sampled for DDL inference (SCAN_ROWS, default 200)

	ColumnSize ColumnSizeMode

	DateFormat        string // pinned Go layout or "" for auto
	TimestampFormat   string
	TimestampTZFormat string

	MapColumnNames  map[string]string // CSV name (lower-cased) -> DB name
	UnescapeNewline bool

	// SkipColumns lists CSV columns to drop (lower-cased). The
	// SkipColumnsAuto sentinel enables auto-skip of unmatched columns; an
	// empty map disables skipping entirely.
	SkipColumns map[string]bool

	ColumnInfoSQL string // overrides the metadata fetch; see resolveSchema

	Logger *log.Logger // progress sink; nil = stdout
}

// DefaultLoadOptions returns the option defaults from the documented table.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		BatchRows:       2048,
		RowLimit:        0,
		ErrorLimit:      -1,
		ReportMB:        10,
		Delimiter:       ',',
		Enclosure:       '"',
		Escape:          '\\',
		SkipRows:        0,
		HasHeader:       true,
		Encoding:        "auto",
		VariableFormat:  "?",
		Show:            ShowOff,
		Platform:        "auto",
		ScanRows:        200,
		ColumnSize:      ColumnSizeMaximum,
		UnescapeNewline: true,
		SkipColumns:     map[string]bool{SkipColumnsAuto: true},
	}
}

// ParseLoadOptions resolves an Options bag against the defaults. Unknown keys
// are rejected so that typos fail fast rather than silently loading with
// defaults. Both option names and enumerated string values are matched
// case-insensitively.
func ParseLoadOptions(o Options) (LoadOptions, error) {
	opt := DefaultLoadOptions()
	if o == nil {
		return opt, nil
	}

	known := map[string]bool{
		"BATCH_ROWS": true, "ROW_LIMIT": true, "ERRORS": true, "REPORT_MB": true,
		"DELIMITER": true, "ENCLOSURE": true, "ESCAPE": true,
		"SKIP_ROWS": true, "HAS_HEADER": true, "ENCODING": true,
		"VARIABLE_FORMAT": true, "SHOW": true, "CREATE": true, "TRUNCATE": true,
		"PLATFORM": true, "SCAN_ROWS": true, "COLUMN_SIZE": true,
		"DATE_FORMAT": true, "TIMESTAMP_FORMAT": true, "TIMESTAMPTZ_FORMAT": true,
		"MAP_COLUMN_NAMES": true, "UNESCAPE_NEWLINE": true, "SKIP_COLUMNS": true,
		"COLUMN_INFO_SQL": true, "LOGGER": true,
	}
	for k := range o {
		if !known[normKey(k)] {
			return opt, fmt.Errorf("unknown option %q", k)
		}
	}

	opt.BatchRows = o.Int("BATCH_ROWS", opt.BatchRows)
	if opt.BatchRows <= 0 {
		return opt, fmt.Errorf("BATCH_ROWS must be > 0")
	}
	opt.RowLimit = o.Int("ROW_LIMIT", opt.RowLimit)
	opt.ErrorLimit = o.Int("ERRORS", opt.ErrorLimit)
	opt.ReportMB = o.Int("REPORT_MB", opt.ReportMB)
	opt.Delimiter = o.Rune("DELIMITER", opt.Delimiter)
	opt.Enclosure = o.Rune("ENCLOSURE", opt.Enclosure)
	opt.Escape = o.Rune("ESCAPE", opt.Escape)
	opt.SkipRows = o.Int("SKIP_ROWS", opt.SkipRows)
	opt.HasHeader = o.Bool("HAS_HEADER", opt.HasHeader)
	opt.Encoding = strings.ToLower(o.String("ENCODING", opt.Encoding))

	switch vf := strings.TrimSpace(o.String("VARIABLE_FORMAT", opt.VariableFormat)); vf {
	case "?", ":":
		opt.VariableFormat = vf
	default:
		return opt, fmt.Errorf("VARIABLE_FORMAT must be %q or %q, got %q", "?", ":", vf)
	}

	if b, isBool := o.Any("SHOW").(bool); isBool {
		if b {
			opt.Show = ShowAll
		}
	} else {
		switch s := strings.ToUpper(strings.TrimSpace(o.String("SHOW", "OFF"))); s {
		case "", "OFF", "FALSE", "NO", "N", "0":
			opt.Show = ShowOff
		case "DDL":
			opt.Show = ShowDDL
		case "DML":
			opt.Show = ShowDML
		case "ALL", "ON", "TRUE", "YES", "Y", "1":
			opt.Show = ShowAll
		default:
			return opt, fmt.Errorf("SHOW must be OFF, DDL, DML or ALL, got %q", s)
		}
	}

	opt.Create = o.Bool("CREATE", opt.Create)
	opt.Truncate = o.Bool("TRUNCATE", opt.Truncate)
	opt.Platform = strings.ToLower(o.String("PLATFORM", opt.Platform))
	opt.ScanRows = o.Int("SCAN_ROWS", opt.ScanRows)

	switch cs := strings.ToUpper(o.String("COLUMN_SIZE", "MAXIMUM")); cs {
	case "MAXIMUM":
		opt.ColumnSize = ColumnSizeMaximum
	case "ACTUAL":
		opt.ColumnSize = ColumnSizeActual
	default:
		return opt, fmt.Errorf("COLUMN_SIZE must be ACTUAL or MAXIMUM, got %q", cs)
	}

	opt.DateFormat = autoEmpty(o.String("DATE_FORMAT", ""))
	opt.TimestampFormat = autoEmpty(o.String("TIMESTAMP_FORMAT", ""))
	opt.TimestampTZFormat = autoEmpty(o.String("TIMESTAMPTZ_FORMAT", ""))

	if m := o.StringMap("MAP_COLUMN_NAMES"); len(m) > 0 {
		opt.MapColumnNames = make(map[string]string, len(m))
		for k, v := range m {
			opt.MapColumnNames[strings.ToLower(k)] = v
		}
	}
	opt.UnescapeNewline = o.Bool("UNESCAPE_NEWLINE", opt.UnescapeNewline)

	if v, ok := o.lookup("SKIP_COLUMNS"); ok {
		opt.SkipColumns = map[string]bool{}
		if s, isStr := v.(string); isStr {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "auto", "":
				opt.SkipColumns[SkipColumnsAuto] = true
			case "off":
				// explicit empty set: unmatched columns are an error
			default:
				for _, c := range o.StringSlice("SKIP_COLUMNS") {
					opt.SkipColumns[strings.ToLower(c)] = true
				}
			}
		} else {
			for _, c := range o.StringSlice("SKIP_COLUMNS") {
				opt.SkipColumns[strings.ToLower(c)] = true
			}
		}
	}

	opt.ColumnInfoSQL = o.String("COLUMN_INFO_SQL", "")

	if logger, err := parseLogger(o.String("LOGGER", "")); err != nil {
		return opt, err
	} else if logger != nil {
		opt.Logger = logger
	}

	return opt, nil
}

// parseLogger resolves the LOGGER option: "" and "stdout" select standard
// output (the loader's default), "stderr" selects standard error, and any
// other value is treated as a file path opened in append mode. The file stays
// open for the remainder of the process, like any other log destination.
func parseLogger(dest string) (*log.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(dest)) {
	case "":
		return nil, nil
	case "stdout":
		return log.New(os.Stdout, "", log.LstdFlags), nil
	case "stderr":
		return log.New(os.Stderr, "", log.LstdFlags), nil
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("LOGGER: %w", err)
	}
	return log.New(f, "", log.LstdFlags), nil
}

// autoEmpty maps the "auto" marker (any case) to the empty string so callers
// only need to test for "".
func autoEmpty(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "auto") {
		return ""
	}
	return s
}

// Codec derives the CodecConfig implied by the loader options.
func (opt LoadOptions) Codec() CodecConfig {
	cc := DefaultCodecConfig()
	if opt.DateFormat != "" {
		cc.DateFormat = opt.DateFormat
	}
	if opt.TimestampFormat != "" {
		cc.TimestampFormat = opt.TimestampFormat
	}
	if opt.TimestampTZFormat != "" {
		cc.TimestampTZFormat = opt.TimestampTZFormat
	}
	cc.UnescapeNewline = opt.UnescapeNewline
	return cc
}
