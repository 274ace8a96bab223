// Package wire is the packed-struct codec for every fixed-layout on-disk
// record (MBR, GPT, BPB/EBPB/FSInfo, FAT directory entries): each is a
// plain Go struct decoded and encoded through github.com/go-restruct/restruct,
// which derives the layout from the structs' field order and types (no
// struct tags are used here) in place of a declarative layout language.
//
// Decode/encode helpers follow a panic-recover-and-wrap idiom: internal
// parse functions call log.PanicIf on any error, and a deferred recover at
// the exported boundary turns that back into a normal Go error. This keeps
// the hot decode path free of repeated `if err != nil` chains while never
// letting a panic escape the package.
package wire

import (
	"encoding/binary"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// byteOrder is the order of every on-disk structure this codec handles; FAT,
// MBR and GPT are all little-endian, including on big-endian hosts.
var byteOrder = binary.LittleEndian

// Unpack decodes v's fields from raw, which must be at least SizeOf(v)
// bytes, recovering any restruct panic into a plain error.
func Unpack(raw []byte, v interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = log.Wrap(e)
			} else {
				err = log.Errorf("wire: panic during unpack: %v", r)
			}
		}
	}()
	err = restruct.Unpack(raw, byteOrder, v)
	log.PanicIf(err)
	return nil
}

// UnpackAt decodes v from buf starting at offset.
func UnpackAt(buf []byte, offset int, v interface{}) error {
	size, err := SizeOf(v)
	if err != nil {
		return err
	}
	if offset < 0 || offset+size > len(buf) {
		return log.Errorf("wire: UnpackAt: offset %d + size %d exceeds buffer of %d bytes", offset, size, len(buf))
	}
	return Unpack(buf[offset:offset+size], v)
}

// Pack encodes v into a freshly allocated byte slice.
func Pack(v interface{}) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = log.Wrap(e)
			} else {
				err = log.Errorf("wire: panic during pack: %v", r)
			}
		}
	}()
	size, err := SizeOf(v)
	log.PanicIf(err)
	raw = make([]byte, size)
	err = restruct.Pack(raw, byteOrder, v)
	log.PanicIf(err)
	return raw, nil
}

// PackAt encodes v into buf starting at offset, growing buf if necessary is
// not supported -- buf must already be large enough; this matches the FAT
// directory/allocation-table usage where slots are fixed-size windows into
// an existing mmap'd region.
func PackAt(buf []byte, offset int, v interface{}) error {
	raw, err := Pack(v)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(raw) > len(buf) {
		return log.Errorf("wire: PackAt: offset %d + size %d exceeds buffer of %d bytes", offset, len(raw), len(buf))
	}
	copy(buf[offset:offset+len(raw)], raw)
	return nil
}

// SizeOf returns the encoded size, in bytes, of v.
func SizeOf(v interface{}) (int, error) {
	n, err := restruct.SizeOf(v)
	if err != nil {
		return 0, log.Wrap(err)
	}
	return n, nil
}
