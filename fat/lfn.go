package fat

import (
	"encoding/binary"

	"github.com/netbootd/netbootd/internal/utf16x"
	"github.com/netbootd/netbootd/internal/wire"
)

// lfnChecksum computes the one-byte rotation checksum over the 11 raw
// bytes of a short entry's name+ext.
func lfnChecksum(nameExt [11]byte) uint8 {
	var sum uint8
	for _, b := range nameExt {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// splitLongName splits name into 13-UCS2-code-unit fragments in character
// order (fragment 1, holding the first 13 units, first), padding the final fragment with a trailing 0x0000 and
// then 0xFFFF.
func splitLongName(name []uint16) [][13]uint16 {
	n := len(name)
	count := (n + maxLFNFragmentChars) / maxLFNFragmentChars
	if count == 0 {
		count = 1
	}
	out := make([][13]uint16, count)
	pos := 0
	for i := 0; i < count; i++ {
		var frag [13]uint16
		for j := 0; j < maxLFNFragmentChars; j++ {
			switch {
			case pos < n:
				frag[j] = name[pos]
				pos++
			case pos == n:
				frag[j] = 0
				pos++
			default:
				frag[j] = 0xFFFF
			}
		}
		out[i] = frag
	}
	return out
}

// lfnRun is a directory's accumulated run of LongFilenameEntry fragments,
// highest sequence number first as encountered on disk.
type lfnRun struct {
	entries []wire.LongFilenameEntry
}

// assemble validates the run (sequence numbers form k,k-1,...,1; checksum
// matches shortNameExt on every fragment) and, if valid, returns the
// decoded name. Any violation is reported via ok=false and the caller
// falls back to the short name.
func (r *lfnRun) assemble(shortNameExt [11]byte) (name string, ok bool) {
	if len(r.entries) == 0 {
		return "", false
	}
	checksum := lfnChecksum(shortNameExt)
	expectSeq := len(r.entries)
	var units []uint16
	for i, e := range r.entries {
		if e.Checksum != checksum {
			return "", false
		}
		if e.FirstCluster != 0 {
			return "", false
		}
		wantSeq := expectSeq - i
		if e.Index() != wantSeq {
			return "", false
		}
		if i == 0 && !e.IsLast() {
			return "", false
		}
		if i != 0 && e.IsLast() {
			return "", false
		}
		chars := e.Chars()
		units = append(chars[:], units...)
	}
	return decodeLFNUnits(units), true
}

// decodeLFNUnits trims at the first U+0000 then strips trailing U+FFFF,
// decoding the remaining UTF-16 units to a Go string.
func decodeLFNUnits(units []uint16) string {
	end := len(units)
	for i, u := range units {
		if u == 0 {
			end = i
			break
		}
	}
	trimmed := units[:end]
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == 0xFFFF {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return utf16ToString(trimmed)
}

// utf16ToString and stringToUTF16 convert between LFN code-unit slices and Go
// strings via the shared UTF-16 surrogate-pair codec in internal/utf16x.
func utf16ToString(units []uint16) string {
	src := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(src[i*2:], u)
	}
	dst := make([]byte, len(units)*4)
	n, err := utf16x.ToUTF8(dst, src, binary.LittleEndian)
	if err != nil {
		return string([]rune{0xFFFD})
	}
	return string(dst[:n])
}

func stringToUTF16(s string) []uint16 {
	src := []byte(s)
	dst := make([]byte, len(src)*4)
	n, err := utf16x.FromUTF8(dst, src, binary.LittleEndian)
	if err != nil {
		return nil
	}
	out := make([]uint16, n/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(dst[i*2:])
	}
	return out
}
