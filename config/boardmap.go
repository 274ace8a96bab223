// Package config loads the board map: the serial -> (image, partition, ip)
// table the TFTP handler consults to resolve an incoming request to a FAT
// partition within an image file.
package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/netbootd/netbootd/errs"
)

// Board is one row of the board map: a Raspberry Pi (or similar) serial
// number, the image file it should boot, the partition within that image
// holding its FAT boot volume, and an optional IP allow-list entry.
type Board struct {
	Serial    string `csv:"serial"`
	Image     string `csv:"image"`
	Partition int    `csv:"partition"`
	IP        string `csv:"ip"`
}

// serialKey normalizes a serial number string to the lowercase hex form used
// as the BoardMap's lookup key.
func serialKey(s string) (string, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return "", errs.Wrap(errs.InvalidFormat, err, "board serial is not valid hex")
	}
	return fmt.Sprintf("%x", v), nil
}

// BoardMap is the loaded, serial-indexed board table.
type BoardMap struct {
	boards map[string]Board
}

// Load reads a board-map CSV file (columns serial,image,partition,ip) from
// path.
func Load(path string) (*BoardMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "open board map")
	}
	defer f.Close()
	return LoadFrom(f)
}

// LoadFrom reads a board-map CSV from an already-open reader, validating and
// indexing each row by its normalized serial number. A duplicate serial is a
// load-time error, matching the section-per-board uniqueness the original
// config format enforces.
func LoadFrom(r io.Reader) (*BoardMap, error) {
	bm := &BoardMap{boards: make(map[string]Board)}
	err := gocsv.UnmarshalToCallback(r, func(row Board) error {
		key, err := serialKey(row.Serial)
		if err != nil {
			return err
		}
		if _, exists := bm.boards[key]; exists {
			return errs.Newf(errs.InvalidFormat, "duplicate board serial %q in board map", key)
		}
		if row.IP != "" && net.ParseIP(row.IP) == nil {
			return errs.Newf(errs.InvalidFormat, "board %q has invalid ip %q", key, row.IP)
		}
		bm.boards[key] = row
		return nil
	})
	if err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.InvalidFormat, err, "parse board map")
	}
	return bm, nil
}

// Lookup finds the board registered under serial (any hex case/format
// acceptable to strconv.ParseUint), returning NotFound if none matches.
func (bm *BoardMap) Lookup(serial string) (Board, error) {
	key, err := serialKey(serial)
	if err != nil {
		return Board{}, err
	}
	board, ok := bm.boards[key]
	if !ok {
		return Board{}, errs.Newf(errs.NotFound, "no board registered for serial %q", key)
	}
	return board, nil
}

// CheckIP enforces board's IP allow-list, if one is set: an empty IP field
// means any client may request this board's image.
func (b Board) CheckIP(remote net.IP) error {
	if b.IP == "" {
		return nil
	}
	allowed := net.ParseIP(b.IP)
	if allowed == nil || !allowed.Equal(remote) {
		return errs.Newf(errs.PermissionDenied, "client %s is not permitted to request board %s", remote, b.Serial)
	}
	return nil
}

// Len returns the number of registered boards.
func (bm *BoardMap) Len() int { return len(bm.boards) }
