// Package charset implements best-effort character-set detection for input
// files and provides a decoding reader for the detected (or pinned) encoding.
//
// Detection is a pure function over the first few KiB of a file: a BOM wins
// outright; otherwise every candidate encoding decodes the sample and the
// decoded text is scored by character class (CJK, kana, Cyrillic, extended
// Latin, printable ASCII), with heavy penalties for replacement runes. UTF-8
// is the default on ties and on empty input.
package charset

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// SampleSize is the number of leading bytes Detect expects; callers may pass
// fewer (e.g. for small files).
const SampleSize = 8192

// candidate pairs a canonical name with its x/text encoding. Order matters:
// earlier candidates win score ties, so UTF-8 stays the default.
type candidate struct {
	name string
	enc  encoding.Encoding
}

var candidates = []candidate{
	{"utf-8", unicode.UTF8},
	{"gbk", simplifiedchinese.GBK},
	{"gb18030", simplifiedchinese.GB18030},
	{"big5", traditionalchinese.Big5},
	{"iso-8859-1", charmap.ISO8859_1},
	{"iso-8859-15", charmap.ISO8859_15},
	{"windows-1252", charmap.Windows1252},
	{"shift_jis", japanese.ShiftJIS},
	{"euc-jp", japanese.EUCJP},
	{"windows-1251", charmap.Windows1251},
	{"koi8-r", charmap.KOI8R},
	{"iso-8859-5", charmap.ISO8859_5},
}

// Detect returns the best-guess charset name for the given leading sample.
// The result is always a name accepted by NewReader.
func Detect(sample []byte) string {
	if name := fromBOM(sample); name != "" {
		return name
	}
	if len(sample) == 0 {
		return "utf-8"
	}

	best := "utf-8"
	bestScore := -1 << 30
	for _, c := range candidates {
		s := score(sample, c.enc)
		if s > bestScore {
			bestScore = s
			best = c.name
		}
	}
	if bestScore < 0 {
		return "utf-8"
	}
	return best
}

// fromBOM recognizes UTF-8/UTF-16 byte-order marks.
func fromBOM(b []byte) string {
	switch {
	case len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF:
		return "utf-8"
	case len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF:
		return "utf-16be"
	case len(b) >= 2 && b[0] == 0xFF && b[1] == 0xFE:
		return "utf-16le"
	}
	return ""
}

// score decodes the sample with enc and rates the result. Replacement runes
// are punished hard; CJK/kana/Cyrillic runes score highest because a decoder
// producing them from multi-byte sequences is very unlikely to be wrong.
func score(sample []byte, enc encoding.Encoding) int {
	decoded, _, err := transform.Bytes(enc.NewDecoder(), sample)
	if err != nil {
		return -1 << 20
	}

	var s, total, invalid int
	for _, r := range string(decoded) {
		total++
		switch {
		case r == utf8.RuneError:
			invalid++
		case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
			s += 3
		case (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3400 && r <= 0x4DBF): // CJK
			s += 3
		case r >= 0x0400 && r <= 0x04FF: // Cyrillic
			s += 3
		case r >= 0x00C0 && r <= 0x017F: // extended Latin
			s += 2
		case r == ' ' || r == ',' || r == ';' || r == '\t' || r == '"' ||
			(r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			s += 2
		case r >= 0x20 && r < 0x7F:
			s++
		case r == '\n' || r == '\r':
			// line structure is neutral
		case r < 0x20:
			s--
		}
	}
	s -= invalid * 15
	if total > 0 && invalid*10 > total {
		s -= 1000
	}
	return s
}

// Lookup resolves a charset name (case-insensitive, common aliases accepted)
// to its encoding. The boolean is false for unknown names.
func Lookup(name string) (encoding.Encoding, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-")) {
	case "", "auto", "utf-8", "utf8", "us-ascii", "ascii":
		return unicode.UTF8, true
	case "utf-16", "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), true
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), true
	case "gbk":
		return simplifiedchinese.GBK, true
	case "gb18030":
		return simplifiedchinese.GB18030, true
	case "big5", "big5-hkscs":
		return traditionalchinese.Big5, true
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1, true
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15, true
	case "iso-8859-5":
		return charmap.ISO8859_5, true
	case "windows-1251", "cp1251":
		return charmap.Windows1251, true
	case "windows-1252", "cp1252":
		return charmap.Windows1252, true
	case "koi8-r":
		return charmap.KOI8R, true
	case "shift-jis", "shift.jis", "sjis":
		return japanese.ShiftJIS, true
	case "euc-jp":
		return japanese.EUCJP, true
	}
	return nil, false
}

// NewReader wraps r so that its bytes are decoded from the named charset into
// UTF-8. A UTF-8 BOM is stripped. Unknown names return an error rather than
// silently passing bytes through.
func NewReader(r io.Reader, name string) (io.Reader, error) {
	enc, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	dec := transform.NewReader(r, enc.NewDecoder())
	return transform.NewReader(dec, unicode.BOMOverride(transform.Nop)), nil
}

// DetectReader reads up to SampleSize bytes from r, detects the charset, and
// returns the detected name plus a reader that yields the complete decoded
// stream (sample included).
func DetectReader(r io.Reader) (string, io.Reader, error) {
	sample := make([]byte, SampleSize)
	n, err := io.ReadFull(r, sample)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, err
	}
	sample = sample[:n]
	name := Detect(sample)
	full := io.MultiReader(bytes.NewReader(sample), r)
	dec, err := NewReader(full, name)
	if err != nil {
		return "", nil, err
	}
	return name, dec, nil
}
