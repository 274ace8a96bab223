package tftp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRRQWithOptions(t *testing.T) {
	raw := []byte("boot.img\x00octet\x00blksize\x001024\x00tsize\x000\x00")
	rrq, err := ParseRRQ(raw)
	require.NoError(t, err)
	require.Equal(t, "boot.img", rrq.Filename)
	require.Equal(t, ModeOctet, rrq.Mode)
	require.Equal(t, "1024", rrq.Options[OptBlksize])
	require.Equal(t, "0", rrq.Options[OptTsize])
}

func TestParseRRQRejectsUnknownMode(t *testing.T) {
	_, err := ParseRRQ([]byte("boot.img\x00carrierpigeon\x00"))
	require.Error(t, err)
}

func TestMarshalAndParseDATA(t *testing.T) {
	raw, err := Marshal(DATA{Block: 7, Data: []byte("hello")})
	require.NoError(t, err)

	op, err := ParseOpCode(raw)
	require.NoError(t, err)
	require.Equal(t, OpDATA, op)

	pkt, err := ParseDATA(raw[2:])
	require.NoError(t, err)
	require.Equal(t, uint16(7), pkt.Block)
	require.Equal(t, []byte("hello"), pkt.Data)
}

func TestMarshalAndParseACK(t *testing.T) {
	raw, err := Marshal(ACK{Block: 42})
	require.NoError(t, err)
	pkt, err := ParseACK(raw[2:])
	require.NoError(t, err)
	require.Equal(t, uint16(42), pkt.Block)
}

func TestMarshalAndParseERROR(t *testing.T) {
	raw, err := Marshal(NewError(ErrNotFound))
	require.NoError(t, err)
	pkt, err := ParseERROR(raw[2:])
	require.NoError(t, err)
	require.Equal(t, ErrNotFound, pkt.Code)
	require.Equal(t, "File not found", pkt.Message)
}

func TestMarshalAndParseOACK(t *testing.T) {
	raw, err := Marshal(OACK{Options: map[string]string{OptBlksize: "1024", OptTsize: "4096"}})
	require.NoError(t, err)
	pkt, err := ParseOACK(raw[2:])
	require.NoError(t, err)
	require.Equal(t, "1024", pkt.Options[OptBlksize])
	require.Equal(t, "4096", pkt.Options[OptTsize])
}
