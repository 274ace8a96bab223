package config

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleCSV = `serial,image,partition,ip
1234abcd,/srv/images/pi4.img,1,
deadbeef,/srv/images/pi3.img,2,192.168.1.50
`

func TestLoadFromParsesRows(t *testing.T) {
	bm, err := LoadFrom(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Equal(t, 2, bm.Len())

	board, err := bm.Lookup("1234ABCD")
	require.NoError(t, err)
	require.Equal(t, "/srv/images/pi4.img", board.Image)
	require.Equal(t, 1, board.Partition)
}

func TestLookupMissingSerialIsNotFound(t *testing.T) {
	bm, err := LoadFrom(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	_, err = bm.Lookup("ffffffff")
	require.Error(t, err)
}

func TestLookupMalformedSerialIsInvalidFormat(t *testing.T) {
	bm, err := LoadFrom(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	_, err = bm.Lookup("not-hex")
	require.Error(t, err)
}

func TestCheckIPAllowsAnyWhenUnset(t *testing.T) {
	bm, err := LoadFrom(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	board, err := bm.Lookup("1234abcd")
	require.NoError(t, err)
	require.NoError(t, board.CheckIP(net.ParseIP("10.0.0.1")))
}

func TestCheckIPRejectsMismatch(t *testing.T) {
	bm, err := LoadFrom(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	board, err := bm.Lookup("deadbeef")
	require.NoError(t, err)
	require.NoError(t, board.CheckIP(net.ParseIP("192.168.1.50")))
	require.Error(t, board.CheckIP(net.ParseIP("192.168.1.51")))
}

func TestLoadFromRejectsDuplicateSerial(t *testing.T) {
	const dup = `serial,image,partition,ip
1234abcd,/a.img,1,
1234ABCD,/b.img,2,
`
	_, err := LoadFrom(strings.NewReader(dup))
	require.Error(t, err)
}
