package codec

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// MaxBinarySize caps decoded binary parameters at 10 MiB. Larger cells are a
// data error, not a streaming concern: the loader binds whole values.
const MaxBinarySize = 10 << 20

// ParseBinary converts a textual cell to raw bytes. Accepted forms, in order:
//
//   - "0x"/"0X"-prefixed hexadecimal
//   - bare hexadecimal when the length is even and every nibble is valid
//   - base64 otherwise
//
// Inputs whose decoded size would exceed MaxBinarySize are rejected before
// decoding.
func ParseBinary(s string) ([]byte, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, nil
	}

	if strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") {
		body := t[2:]
		if len(body)/2 > MaxBinarySize {
			return nil, mismatch("binary", truncateForError(s), "exceeds 10 MiB limit")
		}
		b, err := hex.DecodeString(body)
		if err != nil {
			return nil, mismatch("binary", truncateForError(s), "bad hex digit")
		}
		return b, nil
	}

	if len(t)%2 == 0 && isHex(t) {
		if len(t)/2 > MaxBinarySize {
			return nil, mismatch("binary", truncateForError(s), "exceeds 10 MiB limit")
		}
		b, err := hex.DecodeString(t)
		if err == nil {
			return b, nil
		}
	}

	if base64.StdEncoding.DecodedLen(len(t)) > MaxBinarySize {
		return nil, mismatch("binary", truncateForError(s), "exceeds 10 MiB limit")
	}
	b, err := base64.StdEncoding.DecodeString(t)
	if err != nil {
		return nil, mismatch("binary", truncateForError(s), "neither hex nor base64")
	}
	return b, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// truncateForError keeps error messages readable for huge cells.
func truncateForError(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// HexUpper renders bytes as upper-case hexadecimal, the canonical export form
// for RAW/BLOB columns.
func HexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
