package loader

import (
	"math/big"
	"strings"

	"csvflow/internal/codec"
	"csvflow/internal/config"
	"csvflow/internal/dialect"
)

// ColumnDef describes one column of a generated table definition.
type ColumnDef struct {
	Name      string
	Kind      string // boolean, int, bigint, decimal, date, time, timestamp, timestamptz, binary, string
	Size      int    // observed maximum text length
	Precision int    // decimal: longest integer+fraction digits
	Scale     int    // decimal: longest fraction digits
}

// electThreshold is the share of non-empty sample values a candidate type
// must reach to win a column.
const electThreshold = 0.8

// candidateKinds orders the vote from most to least specific, so a column
// that is all "1"s elects boolean over int deterministically.
var candidateKinds = []string{
	"boolean", "int", "bigint", "decimal", "time", "date", "timestamp", "timestamptz", "binary",
}

// typeVote counts which candidate types a single value satisfies.
type typeVote struct {
	counts   map[string]int
	nonEmpty int
	maxLen   int
	maxPrec  int
	maxScale int
}

func newTypeVote() *typeVote { return &typeVote{counts: map[string]int{}} }

// observe records one sample value into the vote.
func (v *typeVote) observe(s string, dtCache, tCache *codec.FormatCache) {
	t := strings.TrimSpace(s)
	if t == "" {
		return
	}
	v.nonEmpty++
	if len(t) > v.maxLen {
		v.maxLen = len(t)
	}

	switch strings.ToUpper(t) {
	case "TRUE", "FALSE", "YES", "NO", "Y", "N", "0", "1":
		v.counts["boolean"]++
	}

	if n, err := codec.ParseNumeric(t); err == nil {
		switch n.(type) {
		case int8, int16, int32:
			v.counts["int"]++
			v.counts["bigint"]++
			v.counts["decimal"]++
		case int64:
			v.counts["bigint"]++
			v.counts["decimal"]++
		case *big.Int, float64, codec.Decimal:
			v.counts["decimal"]++
		}
		ip, fp := decimalParts(t)
		intDigits := v.maxPrec - v.maxScale
		if ip > intDigits {
			intDigits = ip
		}
		if fp > v.maxScale {
			v.maxScale = fp
		}
		v.maxPrec = intDigits + v.maxScale
	}

	if _, p, ok := dtCache.Parse(t); ok {
		switch {
		case !strings.Contains(p.Layout, ":"):
			v.counts["date"]++
		case p.HasZone:
			v.counts["timestamptz"]++
		default:
			v.counts["timestamp"]++
		}
	} else if _, _, ok := tCache.Parse(t); ok {
		v.counts["time"]++
	}

	// Bare hex is only a credible binary signal with some length behind it;
	// otherwise ordinary words like "cafe" would vote.
	if len(t)%2 == 0 && len(t) >= 8 && isHexString(t) {
		v.counts["binary"]++
	}
}

func isHexString(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// decimalParts returns the digit counts of the integer and fractional parts.
func decimalParts(s string) (int, int) {
	s = strings.TrimLeft(s, "+-")
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	ip, fp := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		ip, fp = s[:i], s[i+1:]
	}
	ip = strings.TrimLeft(ip, "0")
	return len(ip), len(fp)
}

// elect picks the column kind: the first candidate (in precedence order)
// whose count reaches the threshold over non-empty values; string otherwise.
func (v *typeVote) elect() string {
	if v.nonEmpty == 0 {
		return "string"
	}
	need := int(float64(v.nonEmpty)*electThreshold + 0.5)
	if need < 1 {
		need = 1
	}
	for _, k := range candidateKinds {
		if v.counts[k] >= need {
			return k
		}
	}
	return "string"
}

// InferTable votes over the sample rows and produces one ColumnDef per
// header slot. rows hold raw CSV fields aligned with header.
func InferTable(header []string, rows [][]string) []ColumnDef {
	votes := make([]*typeVote, len(header))
	for i := range votes {
		votes[i] = newTypeVote()
	}
	// Fresh caches so inference cannot be skewed by an earlier load's
	// runtime patterns.
	dtCache := codec.NewFormatCache(codec.DateTimeLibrary())
	tCache := codec.NewFormatCache(codec.TimeLibrary())

	for _, row := range rows {
		for i := range header {
			if i < len(row) {
				votes[i].observe(row[i], dtCache, tCache)
			}
		}
	}

	defs := make([]ColumnDef, len(header))
	for i, name := range header {
		v := votes[i]
		defs[i] = ColumnDef{
			Name:      strings.TrimSpace(name),
			Kind:      v.elect(),
			Size:      v.maxLen,
			Precision: v.maxPrec,
			Scale:     v.maxScale,
		}
	}
	return defs
}

// CreateTableSQL renders the CREATE TABLE statement for the definitions on
// the given platform. sizeMode selects observed (ACTUAL) or dialect-maximum
// column lengths for string columns.
func CreateTableSQL(p dialect.Platform, table string, defs []ColumnDef, sizeMode config.ColumnSizeMode) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(p.QuoteFQN(table))
	b.WriteString(" (\n")
	for i, d := range defs {
		if i > 0 {
			b.WriteString(",\n")
		}
		size := 0
		if d.Kind == "string" && sizeMode == config.ColumnSizeActual {
			size = d.Size
		}
		b.WriteString("    ")
		b.WriteString(p.QuoteIdent(d.Name))
		b.WriteString(" ")
		b.WriteString(p.TypeName(d.Kind, size, d.Precision, d.Scale))
	}
	b.WriteString("\n)")
	return b.String()
}
