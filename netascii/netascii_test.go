package netascii

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeNewlineAndCR(t *testing.T) {
	var enc Encoder
	out := enc.Encode(nil, []byte("foo\nbar\r"), true)
	require.Equal(t, []byte("foo\r\nbar\r\x00"), out)
}

func TestDecodeRoundTrip(t *testing.T) {
	var dec Decoder
	out, err := dec.Decode(nil, []byte("foo\r\nbar\r\x00"), true)
	require.NoError(t, err)
	require.Equal(t, "foo\nbar\r", string(out))
}

func TestDecodeSplitAcrossChunks(t *testing.T) {
	var dec Decoder
	out, err := dec.Decode(nil, []byte("foo\r"), false)
	require.NoError(t, err)
	out, err = dec.Decode(out, []byte("\nbar"), true)
	require.NoError(t, err)
	require.Equal(t, "foo\nbar", string(out))
}

func TestDecodeTruncatedCRIsFatalOnFinal(t *testing.T) {
	var dec Decoder
	_, err := dec.Decode(nil, []byte("foo\r"), true)
	require.Error(t, err)
}

func TestDecodeUnexpectedByteAfterCR(t *testing.T) {
	var dec Decoder
	_, err := dec.Decode(nil, []byte("foo\rX"), true)
	require.Error(t, err)
}
