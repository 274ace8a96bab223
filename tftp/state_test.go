package tftp

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type memSource struct {
	*bytes.Reader
}

func (memSource) Close() error { return nil }

func newMemSource(data []byte) Source {
	return memSource{bytes.NewReader(data)}
}

func TestClientStateGetBlockReadsSequentially(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6969}
	st := NewClientState(addr, newMemSource(bytes.Repeat([]byte("x"), 600)), ModeOctet)

	b1, err := st.GetBlock(1)
	require.NoError(t, err)
	require.Len(t, b1, DefaultBlockSize)

	st.Ack(1)
	b2, err := st.GetBlock(2)
	require.NoError(t, err)
	require.Len(t, b2, 600-DefaultBlockSize)
	require.False(t, st.Finished())

	st.Ack(2)
	require.True(t, st.Finished())
}

func TestClientStateGetBlockRetransmitsUnacked(t *testing.T) {
	addr := &net.UDPAddr{}
	st := NewClientState(addr, newMemSource([]byte("hello world")), ModeOctet)

	b1, err := st.GetBlock(1)
	require.NoError(t, err)

	again, err := st.GetBlock(1)
	require.NoError(t, err)
	require.Equal(t, b1, again)
}

func TestClientStateGetBlockRejectsFutureBlock(t *testing.T) {
	addr := &net.UDPAddr{}
	st := NewClientState(addr, newMemSource([]byte("hello world")), ModeOctet)
	_, err := st.GetBlock(5)
	require.Error(t, err)
}

func TestClientStateGetBlockAfterFinishedIsTransferDone(t *testing.T) {
	addr := &net.UDPAddr{}
	st := NewClientState(addr, newMemSource([]byte("hi")), ModeOctet)

	_, err := st.GetBlock(1)
	require.NoError(t, err)
	st.Ack(1)
	require.True(t, st.Finished())

	_, err = st.GetBlock(2)
	require.Equal(t, ErrTransferDone, err)
}

func TestClientStateNegotiateClampsBlksize(t *testing.T) {
	addr := &net.UDPAddr{}
	st := NewClientState(addr, newMemSource([]byte("hi")), ModeOctet)

	accepted, err := st.Negotiate(map[string]string{OptBlksize: "999999"})
	require.NoError(t, err)
	require.Equal(t, "65464", accepted[OptBlksize])
	require.Equal(t, MaxBlockSize, st.BlockSize())
}

func TestClientStateNegotiateRejectsTinyBlksize(t *testing.T) {
	addr := &net.UDPAddr{}
	st := NewClientState(addr, newMemSource([]byte("hi")), ModeOctet)

	_, err := st.Negotiate(map[string]string{OptBlksize: "2"})
	require.Error(t, err)
}

func TestClientStateNegotiateTsize(t *testing.T) {
	addr := &net.UDPAddr{}
	st := NewClientState(addr, newMemSource([]byte("hello world")), ModeOctet)

	accepted, err := st.Negotiate(map[string]string{OptTsize: "0"})
	require.NoError(t, err)
	require.Equal(t, "11", accepted[OptTsize])
}

func TestClientStateNegotiateUtimeoutTakesPrecedence(t *testing.T) {
	addr := &net.UDPAddr{}
	st := NewClientState(addr, newMemSource([]byte("hi")), ModeOctet)

	accepted, err := st.Negotiate(map[string]string{OptTimeout: "3", OptUtimeout: "1500000"})
	require.NoError(t, err)
	_, hasTimeout := accepted[OptTimeout]
	require.False(t, hasTimeout)
	require.Equal(t, "1500000", accepted[OptUtimeout])
}

func TestClientStateTransferredTracksAckedBytes(t *testing.T) {
	addr := &net.UDPAddr{}
	st := NewClientState(addr, newMemSource(bytes.Repeat([]byte("x"), 600)), ModeOctet)

	_, err := st.GetBlock(1)
	require.NoError(t, err)
	st.Ack(1)
	require.Equal(t, int64(DefaultBlockSize), st.Transferred())

	_, err = st.GetBlock(2)
	require.NoError(t, err)
	st.Ack(2)
	require.Equal(t, int64(600), st.Transferred())
}
