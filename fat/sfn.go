package fat

import (
	"fmt"
	"strings"
)

// forbiddenSFNChars are stripped/replaced with '_' when building a short
// name's basis.
const forbiddenSFNChars = "+,;=[]"

func isPrintableASCII(r rune) bool { return r >= 0x20 && r < 0x7F }

func sfnChar(r rune) byte {
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}
	if !isPrintableASCII(r) || strings.ContainsRune(forbiddenSFNChars, r) || r == ' ' {
		return '_'
	}
	return byte(r)
}

// splitBasisExt splits a long name into an uppercased basis (spaces
// dropped, forbidden chars replaced, not truncated) and an extension cut to
// 3 chars. Neither is padded; generateSFN truncates the basis for a ~N
// suffix and rawShortName pads to the raw 8+3 layout.
func splitBasisExt(name string) (basis string, ext string) {
	base := name
	dot := strings.LastIndexByte(name, '.')
	if dot > 0 {
		base = name[:dot]
		ext = name[dot+1:]
	}
	var b strings.Builder
	for _, r := range base {
		if r == ' ' {
			continue
		}
		b.WriteByte(sfnChar(r))
	}
	basis = b.String()
	var e strings.Builder
	for _, r := range ext {
		if r == ' ' {
			continue
		}
		e.WriteByte(sfnChar(r))
	}
	ext = e.String()
	if len(ext) > 3 {
		ext = ext[:3]
	}
	return basis, ext
}

// isValidExactSFN reports whether name is already a valid bare 8.3 name
// with no casing/character mismatch against its basis+ext form, allowing
// the LFN prefix to be omitted entirely.
func isValidExactSFN(name, basis, ext string) bool {
	dot := strings.LastIndexByte(name, '.')
	namePart := name
	extPart := ""
	if dot > 0 {
		namePart = name[:dot]
		extPart = name[dot+1:]
	}
	if len(namePart) > 8 || len(extPart) > 3 {
		return false
	}
	return strings.EqualFold(namePart, basis) && strings.EqualFold(extPart, ext) &&
		strings.ToUpper(namePart) == namePart && strings.ToUpper(extPart) == extPart
}

// rawShortName packs basis+ext (already uppercased ASCII) into the fixed
// 8+3 byte fields, space-padded.
func rawShortName(basis, ext string) (name [8]byte, extb [3]byte) {
	for i := range name {
		name[i] = ' '
	}
	for i := range extb {
		extb[i] = ' '
	}
	copy(name[:], basis)
	copy(extb[:], ext)
	return name, extb
}

// generateSFN produces a unique 8.3 short name for name within a directory
// whose existing short names are exists (upper-cased "NAME.EXT" strings,
// or "NAME" with no dot). Returns the chosen short name in "NAME.EXT" form,
// the raw 8+3 bytes, and whether an LFN prefix is needed at all.
func generateSFN(name string, exists map[string]bool) (short string, rawName [8]byte, rawExt [3]byte, needLFN bool) {
	basis, ext := splitBasisExt(name)
	if isValidExactSFN(name, basis, ext) && !exists[strings.ToUpper(name)] {
		rawName, rawExt = rawShortName(basis, ext)
		return strings.ToUpper(name), rawName, rawExt, false
	}

	truncBasis := basis
	if len(truncBasis) > 6 {
		truncBasis = truncBasis[:6]
	}
	for n := 1; n < 1_000_000; n++ {
		suffix := fmt.Sprintf("~%d", n)
		candidateBasis := truncBasis
		if len(candidateBasis)+len(suffix) > 8 {
			candidateBasis = candidateBasis[:8-len(suffix)]
		}
		candidate := candidateBasis + suffix
		key := candidate
		if ext != "" {
			key += "." + ext
		}
		if !exists[strings.ToUpper(key)] {
			rawName, rawExt = rawShortName(candidate, ext)
			return key, rawName, rawExt, true
		}
	}
	// Unreachable in practice: 999999 collisions in one directory.
	rawName, rawExt = rawShortName(truncBasis+"~1", ext)
	return truncBasis + "~1." + ext, rawName, rawExt, true
}
