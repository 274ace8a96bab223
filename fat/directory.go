package fat

import (
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/netbootd/netbootd/errs"
	"github.com/netbootd/netbootd/internal/wire"
)

// Entry is one logical (LFN-run + short) directory entry as returned by
// iteration.
type Entry struct {
	Name         string // long name if present and valid, else the short name
	ShortName    string // always the "NAME.EXT" short form
	Attr         uint8
	FirstCluster uint32
	Size         uint32
	CreateTime   time.Time
	ModifyTime   time.Time
	AccessDate   time.Time

	index int // slot index of the short entry, for Open/Unlink/Rename
}

func (e *Entry) IsDir() bool   { return e.Attr&wire.AttrDirectory != 0 }
func (e *Entry) IsLabel() bool { return e.Attr&wire.AttrVolumeID != 0 }

// Directory is a byte stream of 32-byte slots: either the fixed FAT12/16
// root region or a cluster-chain stream (FAT32 root or any sub-directory).
type Directory struct {
	fs *FileSystem

	fixed       []byte // non-nil for the FAT12/16 fixed root
	file        *File  // non-nil for a cluster-chain directory
	slotsPerCls int
}

func newFixedRootDirectory(fs *FileSystem) *Directory {
	region := fs.table.partition[fs.rootOffset:fs.dataOffset]
	return &Directory{fs: fs, fixed: region}
}

func newClusterDirectory(fs *FileSystem, file *File) *Directory {
	return &Directory{fs: fs, file: file, slotsPerCls: fs.clusterSize / wire.DirectoryEntrySize}
}

// Chain returns the cluster chain backing a cluster-chain directory (FAT32
// root or any sub-directory), or nil for the fixed FAT12/16 root, which
// occupies no cluster chain of its own.
func (d *Directory) Chain() []uint32 {
	if d.file == nil {
		return nil
	}
	return d.file.Chain()
}

// slotCount returns the number of 32-byte slots currently backing the
// directory.
func (d *Directory) slotCount() int {
	if d.fixed != nil {
		return len(d.fixed) / wire.DirectoryEntrySize
	}
	return len(d.file.chain) * d.slotsPerCls
}

// slot returns the 32-byte window for slot i, aliasing the underlying
// mapping so writes persist immediately.
func (d *Directory) slot(i int) ([]byte, error) {
	if d.fixed != nil {
		off := i * wire.DirectoryEntrySize
		if off+wire.DirectoryEntrySize > len(d.fixed) {
			return nil, errs.Newf(errs.InvalidFormat, "slot %d out of fixed root range", i)
		}
		return d.fixed[off : off+wire.DirectoryEntrySize], nil
	}
	clusterIdx := i / d.slotsPerCls
	within := (i % d.slotsPerCls) * wire.DirectoryEntrySize
	if clusterIdx >= len(d.file.chain) {
		return nil, errs.Newf(errs.InvalidFormat, "slot %d out of chain range", i)
	}
	cluster, err := d.fs.region.Cluster(d.file.chain[clusterIdx])
	if err != nil {
		return nil, err
	}
	return cluster[within : within+wire.DirectoryEntrySize], nil
}

// grow extends a cluster-chain directory by one cluster, zeroing it so
// findFreeRun sees every new slot as free; fixed roots can never grow.
func (d *Directory) grow() error {
	if d.fixed != nil {
		return errs.New(errs.NoSpace, "fixed root directory is full")
	}
	chain, err := d.fs.table.LinkExtend(d.file.chain)
	d.file.chain = chain
	if err != nil {
		return err
	}
	cluster, err := d.fs.region.Cluster(chain[len(chain)-1])
	if err != nil {
		return err
	}
	for i := range cluster {
		cluster[i] = 0
	}
	return nil
}

// List returns every logical entry, skipping deleted slots, volume labels,
// and "."/".." entries. warnings accumulates non-fatal LFN-corruption
// findings rather than aborting.
func (d *Directory) List() ([]Entry, *multierror.Error) {
	var out []Entry
	var warnings *multierror.Error
	var run lfnRun

	n := d.slotCount()
	for i := 0; i < n; i++ {
		raw, err := d.slot(i)
		if err != nil {
			break
		}
		if raw[0] == wire.TerminatorMarker {
			break
		}
		if raw[0] == wire.DeletedMarker {
			run.entries = nil
			continue
		}

		var probe wire.DirectoryEntry
		if err := wire.Unpack(raw, &probe); err != nil {
			warnings = multierror.Append(warnings, err)
			continue
		}

		if probe.IsLongName() {
			var lfn wire.LongFilenameEntry
			if err := wire.Unpack(raw, &lfn); err != nil {
				warnings = multierror.Append(warnings, err)
				continue
			}
			run.entries = append(run.entries, lfn)
			continue
		}

		shortName := shortEntryName(&probe)
		if probe.IsVolumeLabel() {
			run.entries = nil
			continue
		}
		if shortName == "." || shortName == ".." {
			run.entries = nil
			continue
		}

		e := Entry{
			ShortName:    shortName,
			Attr:         probe.Attr,
			FirstCluster: probe.FirstCluster(),
			Size:         probe.Size,
			CreateTime:   unpackDateTime(probe.CreateDate, probe.CreateTime),
			ModifyTime:   unpackDateTime(probe.ModifyDate, probe.ModifyTime),
			AccessDate:   unpackDateTime(probe.AccessDate, 0),
			index:        i,
		}

		if len(run.entries) > 0 {
			var nameExt [11]byte
			copy(nameExt[0:8], probe.Name[:])
			copy(nameExt[8:11], probe.Ext[:])
			if name, ok := run.assemble(nameExt); ok {
				e.Name = name
			} else {
				warnings = multierror.Append(warnings,
					errs.New(errs.IntegrityWarning, "LFN checksum/sequence mismatch, falling back to short name"))
				e.Name = shortName
			}
		} else {
			e.Name = shortName
		}
		run.entries = nil
		out = append(out, e)
	}
	if len(run.entries) > 0 {
		warnings = multierror.Append(warnings,
			errs.New(errs.IntegrityWarning, "orphan LFN fragment(s) at end of directory"))
	}
	return out, warnings
}

// shortEntryName reconstructs the "NAME.EXT" form (or "NAME" with no
// extension) from an entry's raw 8+3 fields.
func shortEntryName(e *wire.DirectoryEntry) string {
	name := strings.TrimRight(decodeSFNBytes(e.Name[:]), " ")
	ext := strings.TrimRight(decodeSFNBytes(e.Ext[:]), " ")
	if name != "" && name[0] == wire.ReplacementForE5 {
		name = string(rune(wire.DeletedMarker)) + name[1:]
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// Find looks up name case-insensitively against the long name (falling
// back to the short name when no LFN was present).
func (d *Directory) Find(name string) (Entry, bool) {
	entries, _ := d.List()
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) || strings.EqualFold(e.ShortName, name) {
			return e, true
		}
	}
	return Entry{}, false
}

// direntRef is the live reference a File keeps to its owning directory
// slot, used to flush metadata on Close.
type direntRef struct {
	dir   *Directory
	index int
}

func (d *Directory) refFor(index int) *direntRef { return &direntRef{dir: d, index: index} }

func (r *direntRef) updateAfterWrite(f *File, now time.Time) error {
	raw, err := r.dir.slot(r.index)
	if err != nil {
		return err
	}
	var e wire.DirectoryEntry
	if err := wire.Unpack(raw, &e); err != nil {
		return err
	}
	e.Size = uint32(f.logicalSize())
	if len(f.chain) > 0 {
		e.SetFirstCluster(f.chain[0])
	}
	e.ModifyDate, e.ModifyTime = packDate(now), packTime(now)
	if r.dir.fs.AtimeEnabled() {
		today := now.Truncate(24 * time.Hour)
		e.AccessDate = packDate(today)
	}
	return wire.PackAt(raw, 0, &e)
}

// Insert adds a new entry named name with the given attr/cluster/size,
// generating SFN (and LFN fragments if needed).
func (d *Directory) Insert(name string, attr uint8, firstCluster uint32, size uint32) (Entry, error) {
	if d.fs.readOnly {
		return Entry{}, errs.New(errs.PermissionDenied, "file system is read-only")
	}
	existing, _ := d.List()
	exists := make(map[string]bool, len(existing))
	for _, e := range existing {
		exists[strings.ToUpper(e.ShortName)] = true
	}

	short, rawName, rawExt, needLFN := generateSFN(name, exists)

	var fragments [][13]uint16
	var checksum uint8
	if needLFN {
		nameExt := [11]byte{}
		copy(nameExt[0:8], rawName[:])
		copy(nameExt[8:11], rawExt[:])
		checksum = lfnChecksum(nameExt)
		units := stringToUTF16(name)
		fragments = splitLongName(units)
	}

	slotsNeeded := len(fragments) + 1
	start, err := d.findFreeRun(slotsNeeded)
	if err != nil {
		return Entry{}, err
	}

	now := time.Now()
	for i := len(fragments) - 1; i >= 0; i-- {
		seq := uint8(i + 1)
		if i == len(fragments)-1 {
			seq |= wire.LastLongEntry
		}
		lfn := wire.LongFilenameEntry{
			Sequence: seq,
			Attr:     wire.AttrLongName,
			Checksum: checksum,
		}
		lfn.SetChars(fragments[i])
		slotIdx := start + (len(fragments) - 1 - i)
		raw, err := d.slot(slotIdx)
		if err != nil {
			return Entry{}, err
		}
		if err := wire.PackAt(raw, 0, &lfn); err != nil {
			return Entry{}, err
		}
	}

	shortSlot := start + len(fragments)
	raw, err := d.slot(shortSlot)
	if err != nil {
		return Entry{}, err
	}
	entry := wire.DirectoryEntry{
		Name:            rawName,
		Ext:             rawExt,
		Attr:            attr,
		Size:            size,
		CreateDate:      packDate(now),
		CreateTime:      packTime(now),
		CreateTimeTenth: 0,
		ModifyDate:      packDate(now),
		ModifyTime:      packTime(now),
		AccessDate:      packDate(now),
	}
	entry.SetFirstCluster(firstCluster)
	if err := wire.PackAt(raw, 0, &entry); err != nil {
		return Entry{}, err
	}

	return Entry{
		Name: name, ShortName: short, Attr: attr, FirstCluster: firstCluster,
		Size: size, CreateTime: now, ModifyTime: now, AccessDate: now, index: shortSlot,
	}, nil
}

// findFreeRun finds the leftmost run of n consecutive free slots, growing
// the directory by one cluster at a time if necessary.
func (d *Directory) findFreeRun(n int) (int, error) {
	run := 0
	start := 0
	i := 0
	for {
		for i >= d.slotCount() {
			if err := d.grow(); err != nil {
				return 0, err
			}
		}
		raw, err := d.slot(i)
		if err != nil {
			return 0, err
		}
		free := raw[0] == wire.TerminatorMarker || raw[0] == wire.DeletedMarker
		if free {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				return start, nil
			}
		} else {
			run = 0
		}
		i++
		if i > d.slotCount()*4 {
			return 0, errs.New(errs.InternalError, "free-run search did not converge")
		}
	}
}

// Delete overwrites every slot in the group belonging to the entry at
// index with the deleted marker. The caller is responsible for freeing the
// entry's cluster chain.
func (d *Directory) Delete(e Entry) error {
	if d.fs.readOnly {
		return errs.New(errs.PermissionDenied, "file system is read-only")
	}
	// Walk backward from the short entry while the preceding slot is an
	// LFN fragment belonging to the same run.
	slots := []int{e.index}
	for i := e.index - 1; i >= 0; i-- {
		raw, err := d.slot(i)
		if err != nil {
			break
		}
		if raw[0] == wire.TerminatorMarker || raw[0] == wire.DeletedMarker {
			break
		}
		var probe wire.DirectoryEntry
		if err := wire.Unpack(raw, &probe); err != nil || !probe.IsLongName() {
			break
		}
		slots = append(slots, i)
	}
	for _, idx := range slots {
		raw, err := d.slot(idx)
		if err != nil {
			return err
		}
		raw[0] = wire.DeletedMarker
	}
	return nil
}

// CreateSubdir allocates a new cluster, writes the "." and ".." sentinel
// entries into it (".." points at cluster 0 when the parent is the root),
// and inserts name into d pointing at the new cluster.
func (d *Directory) CreateSubdir(name string) (Entry, error) {
	if d.fs.readOnly {
		return Entry{}, errs.New(errs.PermissionDenied, "file system is read-only")
	}
	cluster, err := d.fs.table.Alloc()
	if err != nil {
		return Entry{}, err
	}
	data, err := d.fs.region.Cluster(uint32(cluster))
	if err != nil {
		return Entry{}, err
	}
	for i := range data {
		data[i] = 0
	}

	parentCluster := uint32(0)
	if d.file != nil && len(d.file.chain) > 0 && d.file.chain[0] != d.fs.RootCluster() {
		parentCluster = d.file.chain[0]
	}

	now := time.Now()
	writeDotEntry := func(slot []byte, name [8]byte, firstCluster uint32) error {
		e := wire.DirectoryEntry{
			Name: name, Ext: [3]byte{' ', ' ', ' '},
			Attr:       wire.AttrDirectory,
			CreateDate: packDate(now), CreateTime: packTime(now),
			ModifyDate: packDate(now), ModifyTime: packTime(now),
			AccessDate: packDate(now),
		}
		e.SetFirstCluster(firstCluster)
		return wire.PackAt(slot, 0, &e)
	}
	if err := writeDotEntry(data[0:wire.DirectoryEntrySize], [8]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' '}, uint32(cluster)); err != nil {
		return Entry{}, err
	}
	if err := writeDotEntry(data[wire.DirectoryEntrySize:2*wire.DirectoryEntrySize], [8]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' '}, parentCluster); err != nil {
		return Entry{}, err
	}

	return d.Insert(name, wire.AttrDirectory, uint32(cluster), 0)
}
