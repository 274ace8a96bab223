// Package boot wires the board map, disk images, and the FAT path facade
// into a tftp.Resolver: serial -> image -> partition -> FAT -> path
// resolution, with per-serial memoization of the opened image and file
// system.
package boot

import (
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/netbootd/netbootd/config"
	"github.com/netbootd/netbootd/diskimage"
	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/fat"
	"github.com/netbootd/netbootd/fatpath"
	"github.com/netbootd/netbootd/tftp"
)

// mounted is one board's opened-and-memoized image/file system pair.
type mounted struct {
	image *diskimage.DiskImage
	fs    *fat.FileSystem
}

// Handler resolves TFTP RRQ filenames of the form "<hex serial>/<path>"
// against the board map, opening and memoizing each board's image and FAT
// file system for the life of the Handler.
type Handler struct {
	Boards *config.BoardMap
	Log    *slog.Logger

	mu     sync.Mutex
	mounts map[string]*mounted
}

// NewHandler constructs a Handler over boards. log is nil-safe, defaulting
// to slog.Default().
func NewHandler(boards *config.BoardMap, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Boards: boards, Log: log, mounts: make(map[string]*mounted)}
}

// Resolve implements tftp.Resolver: it parses filename's leading hex serial,
// looks up the board, enforces its IP allow-list against remote, then
// resolves the remaining path against the board's FAT file system. remote
// may be nil to skip the allow-list check (used by tests that don't care
// about it).
func (h *Handler) Resolve(filename string, remote net.Addr) (tftp.Source, error) {
	filename = strings.TrimPrefix(filename, "/")
	serial, rest, _ := strings.Cut(filename, "/")
	if serial == "" {
		return nil, errs.New(errs.NotFound, "no board serial in request path")
	}

	board, err := h.Boards.Lookup(serial)
	if err != nil {
		if errs.IsKind(err, errs.InvalidFormat) {
			return nil, errs.Wrap(errs.NotFound, err, "board serial is not valid hex")
		}
		return nil, err
	}
	if remote != nil {
		if ip := remoteIP(remote); ip != nil {
			if err := board.CheckIP(ip); err != nil {
				return nil, err
			}
		}
	}

	m, err := h.mount(serial, board)
	if err != nil {
		return nil, err
	}

	p := fatpath.FromSlash(m.fs, rest)
	if !p.Exists() {
		return nil, errs.Newf(errs.NotFound, "%q not found on board %s", rest, serial)
	}
	if p.IsDir() {
		return nil, errs.Newf(errs.InternalError, "%q is a directory", rest)
	}
	return p.Open("r")
}

// mount opens (or returns the memoized) image and file system for serial.
func (h *Handler) mount(serial string, board config.Board) (*mounted, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m, ok := h.mounts[serial]; ok {
		return m, nil
	}

	image, err := diskimage.Open(board.Image, diskimage.ReadOnly)
	if err != nil {
		return nil, err
	}
	parts, err := image.Partitions()
	if err != nil {
		image.Close()
		return nil, err
	}
	part, err := parts.Get(board.Partition)
	if err != nil {
		image.Close()
		return nil, err
	}
	fs, err := fat.Open(part.Data, true, fat.WithLogger(h.Log))
	if err != nil {
		image.Close()
		return nil, err
	}

	m := &mounted{image: image, fs: fs}
	h.mounts[serial] = m
	h.Log.Info("boot: mounted board image", "serial", serial, "image", board.Image, "partition", board.Partition, "fat_type", fs.Type())
	return m, nil
}

// remoteIP extracts the IP from a net.Addr as returned by net.UDPConn
// (*net.UDPAddr in practice), falling back to nil for any other type.
func remoteIP(addr net.Addr) net.IP {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Close closes every memoized image, releasing their mmaps. Call once at
// server shutdown.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var first error
	for serial, m := range h.mounts {
		if err := m.image.Close(); err != nil && first == nil {
			first = err
		}
		delete(h.mounts, serial)
	}
	return first
}
