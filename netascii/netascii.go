// Package netascii implements the TFTP "netascii" line-ending codec: a
// stateful, incremental bijection between a host byte stream and the wire
// form, where CR LF encodes a logical newline, CR NUL encodes a literal CR,
// and all other bytes pass through unchanged.
package netascii

import (
	"io"

	goerrors "github.com/go-errors/errors"
)

const (
	cr = '\r'
	lf = '\n'
)

// Encoder incrementally rewrites host bytes into netascii wire form. A
// bare '\n' becomes CR LF and every literal CR becomes CR NUL, whatever
// follows it, so a host CR LF pair encodes as CR NUL CR LF.
type Encoder struct{}

// Encode appends the netascii encoding of p to dst and returns the result.
// final has no effect on encoding (only decode defers a decision on a
// trailing CR); it is accepted for symmetry with Decoder.
func (Encoder) Encode(dst, p []byte, final bool) []byte {
	for _, b := range p {
		switch b {
		case lf:
			dst = append(dst, cr, lf)
		case cr:
			dst = append(dst, cr, 0)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// Decoder incrementally parses netascii wire bytes back into host bytes,
// carrying a one-byte "pending CR" state across calls so a CR that lands
// at the end of one chunk and its following LF/NUL in the next chunk still
// decode correctly.
type Decoder struct {
	pendingCR bool
}

// Decode appends the host-form decoding of p to dst. With final=false, a
// trailing lone CR defers its decision to the next call (it might be
// followed by LF or NUL). With final=true, a still-pending CR is fatal:
// netascii never terminates mid-CR.
func (d *Decoder) Decode(dst, p []byte, final bool) ([]byte, error) {
	for _, b := range p {
		if d.pendingCR {
			d.pendingCR = false
			switch b {
			case lf:
				dst = append(dst, lf)
			case 0:
				dst = append(dst, cr)
			default:
				return dst, goerrors.Errorf("netascii: CR followed by unexpected byte %#x", b)
			}
			continue
		}
		if b == cr {
			d.pendingCR = true
			continue
		}
		dst = append(dst, b)
	}
	if final && d.pendingCR {
		return dst, goerrors.New("netascii: truncated stream ends in a bare CR")
	}
	return dst, nil
}

// Reset clears any pending decoder state, for reuse across transfers.
func (d *Decoder) Reset() { d.pendingCR = false }

// EncodingReader wraps an io.Reader, presenting its netascii encoding to
// callers of Read. Since encoding can expand one source byte into two wire
// bytes, a small internal buffer absorbs the overrun between what was read
// from the source and what fits in the caller's slice.
type EncodingReader struct {
	src Encoder
	r   io.Reader
	buf []byte
}

// NewEncodingReader constructs an EncodingReader around r.
func NewEncodingReader(r io.Reader) *EncodingReader {
	return &EncodingReader{r: r}
}

// Read fills p with as much netascii-encoded data as is available, reading
// from the underlying source in 4096-byte chunks until p is full or the
// source is exhausted.
func (e *EncodingReader) Read(p []byte) (int, error) {
	chunk := make([]byte, 4096)
	for len(e.buf) < len(p) {
		n, err := e.r.Read(chunk)
		if n > 0 {
			e.buf = e.src.Encode(e.buf, chunk[:n], err == io.EOF)
		}
		if err != nil {
			break
		}
	}
	n := len(p)
	if n > len(e.buf) {
		n = len(e.buf)
	}
	copy(p, e.buf[:n])
	e.buf = e.buf[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
