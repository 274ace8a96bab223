// Package fat implements a read/write FAT12/FAT16/FAT32 engine: BPB/EBPB/
// FSInfo decoding and FAT-type detection, the cluster allocation table,
// the cluster data region, cluster-chain files, and directories with
// short-name/LFN overlays.
package fat

import (
	"log/slog"
	"strings"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/internal/wire"
)

// Type identifies the FAT width.
type Type int

const (
	Unknown Type = iota
	FAT12
	FAT16
	FAT32
)

func (t Type) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// Microsoft's canonical cluster-count thresholds.
const (
	maxFAT12Clusters = 4085
	maxFAT16Clusters = 65525
)

// FileSystem is a FAT volume mounted over a partition's byte slice. It owns
// no memory of its own: every view it hands out borrows from the partition
// slice it was built from.
type FileSystem struct {
	log      *slog.Logger
	readOnly bool

	fatType Type
	label   string

	bytesPerSector    int
	sectorsPerCluster int
	clusterSize       int
	fatOffset         int
	rootOffset        int // FAT12/16 only
	dataOffset        int
	maxRootEntries    int
	rootCluster       uint32 // FAT32 only

	sfnEncoding Encoding
	atimeOff    bool // atime policy: default off

	table   *Table
	region  *ClusterRegion
	fatSize int // sectors per fat
}

// Option configures Open.
type Option func(*FileSystem)

// WithLogger attaches a logger; nil-safe default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(fs *FileSystem) {
		if l != nil {
			fs.log = l
		}
	}
}

// WithAtime turns on access-time writes (off by default).
func WithAtime(on bool) Option {
	return func(fs *FileSystem) { fs.atimeOff = !on }
}

// Open parses the BPB/EBPB/FSInfo out of partition and constructs the
// FileSystem views over it. partition must be writable (as produced by a
// ReadWrite DiskImage) for readOnly to be false; readOnly true additionally
// rejects all mutating operations at the outer boundary regardless of the
// slice's own mutability.
func Open(partition []byte, readOnly bool, opts ...Option) (*FileSystem, error) {
	var bpb wire.BIOSParameterBlock
	if err := wire.UnpackAt(partition, 0, &bpb); err != nil {
		return nil, errs.Wrap(errs.InvalidFormat, err, "decode BPB")
	}

	fs := &FileSystem{
		log:               slog.Default(),
		readOnly:          readOnly,
		bytesPerSector:    int(bpb.BytesPerSector),
		sectorsPerCluster: int(bpb.SectorsPerCluster),
		sfnEncoding:       EncodingISO88591,
	}
	for _, o := range opts {
		o(fs)
	}
	if fs.bytesPerSector == 0 || fs.sectorsPerCluster == 0 {
		return nil, errs.New(errs.InvalidFormat, "zero bytes-per-sector or sectors-per-cluster")
	}
	fs.clusterSize = fs.bytesPerSector * fs.sectorsPerCluster

	ebpbOffset := wire.BIOSParameterBlockSize
	var fat32bpb wire.FAT32BIOSParameterBlock
	haveFAT32BPB := false
	if int(bpb.MaxRootEntries) == 0 {
		if err := wire.UnpackAt(partition, ebpbOffset, &fat32bpb); err != nil {
			return nil, errs.Wrap(errs.InvalidFormat, err, "decode FAT32 BPB")
		}
		haveFAT32BPB = true
		ebpbOffset += wire.FAT32BIOSParameterBlockSize
	}

	var ebpb wire.ExtendedBIOSParameterBlock
	if err := wire.UnpackAt(partition, ebpbOffset, &ebpb); err != nil {
		return nil, errs.Wrap(errs.InvalidFormat, err, "decode EBPB")
	}

	sectorsPerFAT := int(bpb.SectorsPerFAT)
	if sectorsPerFAT == 0 && haveFAT32BPB {
		sectorsPerFAT = int(fat32bpb.SectorsPerFAT)
	}
	if sectorsPerFAT <= 0 {
		return nil, errs.New(errs.InvalidFormat, "sectors_per_fat is zero")
	}

	totalSectors := int(bpb.FAT16TotalSectors)
	if totalSectors == 0 {
		totalSectors = int(bpb.FAT32TotalSectors)
	}
	dataSectors := totalSectors - int(bpb.ReservedSectors) - int(bpb.FATCount)*sectorsPerFAT -
		roundUpDiv(int(bpb.MaxRootEntries)*wire.DirectoryEntrySize, fs.bytesPerSector)
	clusterCount := dataSectors / fs.sectorsPerCluster

	fatType, err := detectType(ebpb.FileSystem[:], ebpb.ExtendedBootSig, clusterCount, haveFAT32BPB)
	if err != nil {
		return nil, err
	}

	if fatType == FAT32 && int(bpb.MaxRootEntries) != 0 {
		return nil, errs.New(errs.InvalidFormat, "FAT32 volume has non-zero max_root_entries")
	}
	if fatType != FAT32 && int(bpb.MaxRootEntries) == 0 {
		return nil, errs.New(errs.InvalidFormat, "FAT12/16 volume has zero max_root_entries")
	}

	fs.fatType = fatType
	fs.maxRootEntries = int(bpb.MaxRootEntries)
	fs.fatSize = sectorsPerFAT
	fs.fatOffset = int(bpb.ReservedSectors) * fs.bytesPerSector
	fs.rootOffset = fs.fatOffset + int(bpb.FATCount)*sectorsPerFAT*fs.bytesPerSector
	rootRegionBytes := roundUpDiv(fs.maxRootEntries*wire.DirectoryEntrySize, fs.bytesPerSector) * fs.bytesPerSector
	fs.dataOffset = fs.rootOffset + rootRegionBytes

	fs.label = decodeLabel(ebpb.VolumeLabel[:])

	var fsinfo *wire.FSInfo
	fsinfoOffset := -1
	if fatType == FAT32 {
		fs.rootCluster = fat32bpb.RootDirCluster
		if fat32bpb.InfoSector != 0 && int(fat32bpb.InfoSector) != 0xFFFF {
			fsinfoOffset = int(fat32bpb.InfoSector) * fs.bytesPerSector
			var info wire.FSInfo
			if err := wire.UnpackAt(partition, fsinfoOffset, &info); err == nil && info.Valid() {
				fsinfo = &info
			}
		}
	}

	table, err := newTable(partition, fs.fatOffset, int(bpb.FATCount), sectorsPerFAT, fs.bytesPerSector,
		fatType, clusterCount, fsinfoOffset, fsinfo, readOnly)
	if err != nil {
		return nil, err
	}
	fs.table = table
	fs.region = newClusterRegion(partition[fs.dataOffset:], fs.clusterSize)

	return fs, nil
}

func roundUpDiv(n, d int) int {
	return (n + d - 1) / d
}

// decodeLabel strips trailing spaces from the raw 11-byte EBPB label field.
func decodeLabel(raw []byte) string {
	return strings.TrimRight(string(raw), " ")
}

// detectType implements FAT-type determination: the EBPB string
// first, falling back to the cluster-count heuristic when the string is
// absent or ambiguous ("FAT     ").
func detectType(fsString []byte, extBootSig uint8, clusterCount int, haveFAT32BPB bool) (Type, error) {
	switch strings.TrimRight(string(fsString), " ") {
	case "FAT12":
		return FAT12, nil
	case "FAT16":
		return FAT16, nil
	case "FAT32":
		return FAT32, nil
	}
	if extBootSig != 0x28 && extBootSig != 0x29 {
		return Unknown, errs.New(errs.InvalidFormat, "cannot determine FAT type: no string match, no valid extended boot signature")
	}
	return typeFromClusterCount(clusterCount), nil
}

func typeFromClusterCount(clusterCount int) Type {
	switch {
	case clusterCount < maxFAT12Clusters:
		return FAT12
	case clusterCount < maxFAT16Clusters:
		return FAT16
	default:
		return FAT32
	}
}

// Type returns the detected FAT width.
func (fs *FileSystem) Type() Type { return fs.fatType }

// Label returns the ASCII volume label with trailing spaces stripped.
func (fs *FileSystem) Label() string { return fs.label }

// ClusterSize returns the size, in bytes, of one cluster.
func (fs *FileSystem) ClusterSize() int { return fs.clusterSize }

// ReadOnly reports whether mutating operations are rejected.
func (fs *FileSystem) ReadOnly() bool { return fs.readOnly }

// Table returns the allocation table view.
func (fs *FileSystem) Table() *Table { return fs.table }

// Clusters returns the cluster data region view.
func (fs *FileSystem) Clusters() *ClusterRegion { return fs.region }

// AtimeEnabled reports whether access-date writes are permitted.
func (fs *FileSystem) AtimeEnabled() bool { return !fs.atimeOff }

// SFNEncoding returns the configured short-filename byte encoding.
func (fs *FileSystem) SFNEncoding() Encoding { return fs.sfnEncoding }

// OpenDir opens the directory rooted at cluster. cluster == 0 means the
// fixed root directory on FAT12/16; on FAT32 the caller should pass
// fs.RootCluster().
func (fs *FileSystem) OpenDir(cluster uint32) (*Directory, error) {
	if cluster == 0 && fs.fatType != FAT32 {
		return newFixedRootDirectory(fs), nil
	}
	if cluster == 0 {
		cluster = fs.rootCluster
	}
	file, err := fs.OpenFile(cluster, nil)
	if err != nil {
		return nil, err
	}
	return newClusterDirectory(fs, file), nil
}

// RootCluster returns the FAT32 root directory's first cluster (0 on
// FAT12/16, where the root is a fixed region instead).
func (fs *FileSystem) RootCluster() uint32 {
	if fs.fatType == FAT32 {
		return fs.rootCluster
	}
	return 0
}

// OpenFile constructs a File over the cluster chain starting at
// startCluster. size, if non-nil, fixes the logical length (directories
// pass nil: their effective size is len(chain)*clusterSize).
func (fs *FileSystem) OpenFile(startCluster uint32, size *int64) (*File, error) {
	chain, err := fs.table.Chain(startCluster)
	if err != nil {
		return nil, err
	}
	return newFile(fs, chain, size), nil
}

// OpenEntry opens e (found via dir.Find/List) as a File whose metadata is
// written back to dir's slot on Close. Zero-length files with no allocated
// cluster get an empty chain rather than failing.
func (fs *FileSystem) OpenEntry(dir *Directory, e Entry) (*File, error) {
	var chain []uint32
	if e.FirstCluster != 0 {
		c, err := fs.table.Chain(e.FirstCluster)
		if err != nil {
			return nil, err
		}
		chain = c
	}
	size := int64(e.Size)
	f := newFile(fs, chain, &size)
	f.setOwner(dir.refFor(e.index))
	return f, nil
}
