package tftp

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/netascii"
)

// Block size and timeout bounds.
const (
	DefaultBlockSize = 512
	MinBlockSize     = 8
	MaxBlockSize     = 65464

	DefaultTimeout = time.Second
	MinTimeout     = 10 * time.Millisecond
	MaxTimeout     = 255 * time.Second
)

// Source is a seekable, closeable byte stream a ClientState reads blocks
// from. *fat.File, as returned by fatpath.Path.Open, satisfies this.
type Source interface {
	io.ReadSeeker
	io.Closer
}

// Resolver turns an RRQ filename into a Source. remote is the requesting
// client's address, so a Resolver can apply a per-board IP allow-list.
// Returning an *errs.Error with Kind NotFound or PermissionDenied maps to
// the matching TFTP error code; any other error maps to Undefined.
type Resolver interface {
	Resolve(filename string, remote net.Addr) (Source, error)
}

var (
	// ErrTransferDone signals that GetBlock was asked for a block past the
	// final (short) one already sent and acknowledged.
	ErrTransferDone = errs.New(errs.InternalError, "tftp: transfer already completed")
	// ErrAlreadyAcknowledged signals a re-request of an already-ACKed
	// block; the caller should silently ignore it rather than respond.
	ErrAlreadyAcknowledged = errs.New(errs.InternalError, "tftp: block already acknowledged")
)

// ClientState tracks a single in-flight transfer One is
// created per RRQ and handed off to the ephemeral sub-server that owns it
// for the rest of the exchange.
type ClientState struct {
	mu sync.Mutex

	Address net.Addr
	source  Source
	reader  io.Reader // source, or a netascii.EncodingReader wrapping it
	mode    string

	blocks     map[uint16][]byte
	blocksRead uint16
	blockSize  int
	lastAck    *int // size of the last acknowledged block, nil until one arrives

	Timeout time.Duration

	Started, LastRecv, LastSend time.Time
}

// NewClientState opens src (already resolved by a Resolver) for a transfer
// in mode (ModeOctet or ModeNetascii).
func NewClientState(addr net.Addr, src Source, mode string) *ClientState {
	st := &ClientState{
		Address:   addr,
		source:    src,
		mode:      mode,
		blocks:    make(map[uint16][]byte),
		blockSize: DefaultBlockSize,
		Timeout:   DefaultTimeout,
	}
	if mode == ModeNetascii {
		st.reader = netascii.NewEncodingReader(src)
	} else {
		st.reader = src
	}
	now := time.Now()
	st.Started, st.LastRecv = now, now
	return st
}

// Close closes the underlying source. Idempotent.
func (st *ClientState) Close() error {
	if st.source == nil {
		return nil
	}
	err := st.source.Close()
	st.source = nil
	return err
}

// Negotiate filters requested into the subset of options this transfer
// accepts, adjusting ClientState fields (block size, timeout) as a side
// effect. Returns the options to echo back in an OACK, or an error if a
// requested value is nonsensical.
func (st *ClientState) Negotiate(requested map[string]string) (map[string]string, error) {
	known := map[string]bool{OptBlksize: true, OptTsize: true, OptTimeout: true, OptUtimeout: true}
	accepted := map[string]string{}
	for name, value := range requested {
		if known[name] {
			accepted[name] = value
		}
	}

	if v, ok := accepted[OptBlksize]; ok {
		size, err := parsePositiveInt(v)
		if err != nil {
			return nil, errs.Newf(errs.BadOptions, "bad blksize option %q", v)
		}
		if size > MaxBlockSize {
			size = MaxBlockSize
		}
		if size < MinBlockSize {
			return nil, errs.Newf(errs.BadOptions, "silly block size %d", size)
		}
		st.blockSize = size
		accepted[OptBlksize] = itoa(size)
	}

	if _, ok := accepted[OptTsize]; ok {
		if size, ok := st.Size(); ok {
			accepted[OptTsize] = itoa64(size)
		} else {
			delete(accepted, OptTsize)
		}
	}

	if v, ok := accepted[OptTimeout]; ok {
		if d, err := parseSeconds(v); err == nil {
			st.Timeout = d
		}
	}
	if v, ok := accepted[OptUtimeout]; ok {
		if us, err := parsePositiveInt(v); err == nil {
			st.Timeout = time.Duration(us) * time.Microsecond
			delete(accepted, OptTimeout)
		}
	}
	if st.Timeout < MinTimeout || st.Timeout > MaxTimeout {
		return nil, errs.Newf(errs.BadOptions, "silly timeout %s", st.Timeout)
	}

	return accepted, nil
}

// Ack records that block has been received by the client and can be
// evicted from the retransmit cache.
func (st *ClientState) Ack(block uint16) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if data, ok := st.blocks[block]; ok {
		n := len(data)
		st.lastAck = &n
		delete(st.blocks, block)
	}
}

// GetBlock returns the bytes of block, reading from the source the first
// time a block is requested and caching it (keyed by block number) until
// acknowledged, so retransmits of a lost DATA packet don't re-read the
// source.
func (st *ClientState) GetBlock(block uint16) ([]byte, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.blocksRead+1 == block {
		if st.Finished() {
			return nil, ErrTransferDone
		}
		buf := make([]byte, st.blockSize)
		n, err := io.ReadFull(st.reader, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, err
		}
		data := buf[:n]
		st.blocks[block] = data
		st.blocksRead++
		return data, nil
	}
	if data, ok := st.blocks[block]; ok {
		return data, nil
	}
	if block <= st.blocksRead {
		return nil, ErrAlreadyAcknowledged
	}
	return nil, errs.Newf(errs.InvalidFormat, "invalid block number %d requested", block)
}

// Size attempts to determine the total transfer size via Seek, as used to
// answer the tsize option. Returns false if the source isn't seekable in a
// way that cheaply yields a size (or in netascii mode, where the encoded
// size can't be known without transcoding the whole file).
func (st *ClientState) Size() (int64, bool) {
	if st.mode == ModeNetascii {
		return 0, false
	}
	pos, err := st.source.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false
	}
	size, err := st.source.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, false
	}
	st.source.Seek(pos, io.SeekStart)
	return size, true
}

// Transferred returns the number of bytes transferred and acknowledged so
// far.
func (st *ClientState) Transferred() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastAck == nil {
		return 0
	}
	return int64(st.blocksRead-1)*int64(st.blockSize) + int64(*st.lastAck)
}

// Finished reports whether the final (short, possibly zero-length) block
// has been sent and acknowledged.
func (st *ClientState) Finished() bool {
	return st.lastAck != nil && *st.lastAck < st.blockSize
}

// BlockSize returns the negotiated block size.
func (st *ClientState) BlockSize() int { return st.blockSize }
