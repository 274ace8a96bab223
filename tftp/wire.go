// Package tftp implements the wire protocol, transfer state machine, and
// server topology for TFTP: RFC 1350 read requests plus the
// blksize/tsize/timeout/utimeout option extensions.
package tftp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/noxer/bytewriter"

	"github.com/netbootd/netbootd/errs"
)

// OpCode identifies a TFTP packet type.
type OpCode uint16

const (
	OpRRQ   OpCode = 1
	OpWRQ   OpCode = 2
	OpDATA  OpCode = 3
	OpACK   OpCode = 4
	OpERROR OpCode = 5
	OpOACK  OpCode = 6
)

// ErrorCode is the two-byte code carried by an ERROR packet.
type ErrorCode uint16

const (
	ErrUndefined    ErrorCode = 0
	ErrNotFound     ErrorCode = 1
	ErrNotAuth      ErrorCode = 2
	ErrDiskFull     ErrorCode = 3
	ErrBadOp        ErrorCode = 4
	ErrUnknownID    ErrorCode = 5
	ErrFileExists   ErrorCode = 6
	ErrUnknownUser  ErrorCode = 7
	ErrInvalidOpt   ErrorCode = 8
)

var errorMessages = map[ErrorCode]string{
	ErrUndefined:   "Undefined error",
	ErrNotFound:    "File not found",
	ErrNotAuth:     "Access violation",
	ErrDiskFull:    "Disk full or allocation exceeded",
	ErrBadOp:       "Illegal TFTP operation",
	ErrUnknownID:   "Unknown transfer ID",
	ErrFileExists:  "File already exists",
	ErrUnknownUser: "No such user",
}

const (
	ModeOctet    = "octet"
	ModeNetascii = "netascii"
)

// Known option names.
const (
	OptBlksize  = "blksize"
	OptTsize    = "tsize"
	OptTimeout  = "timeout"
	OptUtimeout = "utimeout"
)

// RRQ is a parsed read-request packet.
type RRQ struct {
	Filename string
	Mode     string
	Options  map[string]string
}

// DATA is a parsed/constructed data packet.
type DATA struct {
	Block uint16
	Data  []byte
}

// ACK is a parsed/constructed acknowledgement packet.
type ACK struct {
	Block uint16
}

// ERRORPacket is a parsed/constructed error packet.
type ERRORPacket struct {
	Code    ErrorCode
	Message string
}

// NewError builds an ERRORPacket with the canonical message for code.
func NewError(code ErrorCode) ERRORPacket {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "Undefined error"
	}
	return ERRORPacket{Code: code, Message: msg}
}

// OACK is a parsed/constructed option-acknowledgement packet.
type OACK struct {
	Options map[string]string
}

// ParseOpCode reads the 2-byte big-endian opcode prefix of a packet.
func ParseOpCode(raw []byte) (OpCode, error) {
	if len(raw) < 2 {
		return 0, errs.New(errs.InvalidFormat, "packet shorter than opcode")
	}
	return OpCode(binary.BigEndian.Uint16(raw)), nil
}

// ParseRRQ parses the body of an RRQ packet (raw without its opcode
// prefix): filename\0mode\0(name\0value\0)*.
func ParseRRQ(raw []byte) (RRQ, error) {
	parts := bytes.SplitN(raw, []byte{0}, 3)
	if len(parts) < 2 {
		return RRQ{}, errs.New(errs.InvalidFormat, "malformed RRQ: missing filename/mode terminator")
	}
	filename := string(parts[0])
	mode := strings.ToLower(string(parts[1]))
	if mode != ModeOctet && mode != ModeNetascii {
		return RRQ{}, errs.Newf(errs.InvalidFormat, "unsupported TFTP mode %q", mode)
	}
	options := map[string]string{}
	if len(parts) == 3 {
		fields := bytes.Split(bytes.TrimRight(parts[2], "\x00"), []byte{0})
		for i := 0; i+1 < len(fields); i += 2 {
			name := strings.ToLower(string(fields[i]))
			options[name] = strings.ToLower(string(fields[i+1]))
		}
	}
	return RRQ{Filename: filename, Mode: mode, Options: options}, nil
}

// ParseDATA parses the body of a DATA packet.
func ParseDATA(raw []byte) (DATA, error) {
	if len(raw) < 2 {
		return DATA{}, errs.New(errs.InvalidFormat, "DATA packet missing block number")
	}
	return DATA{Block: binary.BigEndian.Uint16(raw), Data: raw[2:]}, nil
}

// ParseACK parses the body of an ACK packet.
func ParseACK(raw []byte) (ACK, error) {
	if len(raw) < 2 {
		return ACK{}, errs.New(errs.InvalidFormat, "ACK packet missing block number")
	}
	return ACK{Block: binary.BigEndian.Uint16(raw)}, nil
}

// ParseERROR parses the body of an ERROR packet. An unrecognized code is
// kept as-is, not rejected.
func ParseERROR(raw []byte) (ERRORPacket, error) {
	if len(raw) < 2 {
		return ERRORPacket{}, errs.New(errs.InvalidFormat, "ERROR packet missing code")
	}
	code := ErrorCode(binary.BigEndian.Uint16(raw))
	msg := string(bytes.TrimRight(raw[2:], "\x00"))
	return ERRORPacket{Code: code, Message: msg}, nil
}

// ParseOACK parses the body of an OACK packet.
func ParseOACK(raw []byte) (OACK, error) {
	fields := bytes.Split(bytes.TrimRight(raw, "\x00"), []byte{0})
	options := map[string]string{}
	for i := 0; i+1 < len(fields); i += 2 {
		options[strings.ToLower(string(fields[i]))] = strings.ToLower(string(fields[i+1]))
	}
	return OACK{Options: options}, nil
}

// sortedOptionNames returns name in a stable order so encoded packets are
// deterministic and easy to test; a server that always originates its own
// option set has no client order to preserve in the first place.
func sortedOptionNames(options map[string]string) []string {
	names := make([]string, 0, len(options))
	for k := range options {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func writeOptions(buf *bytes.Buffer, options map[string]string) {
	for _, name := range sortedOptionNames(options) {
		buf.WriteString(name)
		buf.WriteByte(0)
		buf.WriteString(options[name])
		buf.WriteByte(0)
	}
}

// Marshal encodes pkt (one of DATA, ACK, ERRORPacket, OACK) to wire bytes.
// DATA is the hot path: it uses github.com/noxer/bytewriter over a
// pre-sized buffer instead of allocating through bytes.Buffer, since a
// sub-server marshals one DATA packet per block for the life of a
// transfer.
func Marshal(pkt interface{}) ([]byte, error) {
	switch p := pkt.(type) {
	case DATA:
		buf := make([]byte, 4+len(p.Data))
		w := bytewriter.New(buf)
		binary.Write(w, binary.BigEndian, uint16(OpDATA))
		binary.Write(w, binary.BigEndian, p.Block)
		w.Write(p.Data)
		return buf, nil
	case ACK:
		buf := make([]byte, 4)
		w := bytewriter.New(buf)
		binary.Write(w, binary.BigEndian, uint16(OpACK))
		binary.Write(w, binary.BigEndian, p.Block)
		return buf, nil
	case ERRORPacket:
		var buf bytes.Buffer
		binary.Write(&buf, binary.BigEndian, uint16(OpERROR))
		binary.Write(&buf, binary.BigEndian, uint16(p.Code))
		buf.WriteString(p.Message)
		buf.WriteByte(0)
		return buf.Bytes(), nil
	case OACK:
		var buf bytes.Buffer
		binary.Write(&buf, binary.BigEndian, uint16(OpOACK))
		writeOptions(&buf, p.Options)
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("tftp: cannot marshal %T", pkt)
	}
}
