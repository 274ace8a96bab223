package wire

// BIOSParameterBlock is the DOS 3.31 BPB found at the very start of every
// FAT partition. Field order and sizes follow the canonical layout
// described on the Wikipedia "Design of the FAT file system" page.
type BIOSParameterBlock struct {
	JumpInstruction   [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	MaxRootEntries    uint16
	FAT16TotalSectors uint16
	MediaDescriptor   uint8
	SectorsPerFAT     uint16
	SectorsPerTrack   uint16
	HeadsPerDisk      uint16
	HiddenSectors     uint32
	FAT32TotalSectors uint32
}

const BIOSParameterBlockSize = 36

// ExtendedBIOSParameterBlock follows the BPB directly on FAT12/16, or the
// FAT32BIOSParameterBlock on FAT32. The FileSystem string is the primary
// means of identifying the FAT width.
type ExtendedBIOSParameterBlock struct {
	DriveNumber      uint8
	Reserved1        uint8
	ExtendedBootSig  uint8
	VolumeID         [4]byte
	VolumeLabel      [11]byte
	FileSystem       [8]byte
}

const ExtendedBIOSParameterBlockSize = 26

// FAT32BIOSParameterBlock is the additional header FAT32 inserts between the
// BPB and EBPB, carrying the sectors-per-FAT32 value, the root directory's
// starting cluster, and the FSInfo/backup sector numbers.
type FAT32BIOSParameterBlock struct {
	SectorsPerFAT uint32
	MirrorFlags   uint16
	Version       uint16
	RootDirCluster uint32
	InfoSector    uint16
	BackupSector  uint16
	Reserved      [12]byte
}

const FAT32BIOSParameterBlockSize = 28

// FSInfo is the FAT32 "FS Information Sector": a free-cluster count and
// last-allocated-cluster hint, validated by two magic signatures and a
// trailing 0xAA55 word.
type FSInfo struct {
	LeadSignature    uint32
	Reserved1        [480]byte
	StructSignature  uint32
	FreeClusterCount uint32
	LastAllocated    uint32
	Reserved2        [12]byte
	TrailSignature   uint32
}

const (
	FSInfoLeadSignature   = 0x41615252 // "RRaA"
	FSInfoStructSignature = 0x61417272 // "rrAa"
	FSInfoTrailSignature  = 0xAA550000
)

// Valid reports whether both FSInfo magic signatures and the trailing word
// match, i.e. whether FreeClusterCount/LastAllocated can be trusted.
func (f *FSInfo) Valid() bool {
	return f.LeadSignature == FSInfoLeadSignature &&
		f.StructSignature == FSInfoStructSignature &&
		f.TrailSignature == FSInfoTrailSignature
}
