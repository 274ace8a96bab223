package fat

import (
	"golang.org/x/text/encoding/charmap"
)

// Encoding identifies the byte encoding used for 8.3 short filenames
// (default: ISO-8859-1), via golang.org/x/text instead of a hand-rolled
// code-page table.
type Encoding int

const (
	EncodingISO88591 Encoding = iota
)

func decodeSFNBytes(raw []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func encodeSFNBytes(s string) []byte {
	out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}
