// Package hugecatalog implements the filesystem metadata catalog: a
// relational schema of Inodes, DirEntries, Symlinks and a single Root
// row, mutated one transaction per operation.
package hugecatalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jacobsa/timeutil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestore"
)

// Ino is an inode number. Ino 0 is never valid; the root directory's
// inode number is assigned on first open and recorded in the Root
// table.
type Ino uint64

// FileKind discriminates the four kinds of inode the catalog can
// hold, matching fs_sqlite.rs's integer file_type column (1-4).
type FileKind int

const (
	KindMutableRegular FileKind = iota + 1
	KindImmutableRegular
	KindDirectory
	KindSymlink
)

// inodeRow is the Inodes table. Ptr holds the mutable file ID (as
// bytes) for KindMutableRegular rows, or the content hash bytes for
// KindImmutableRegular rows; it is unused otherwise.
type inodeRow struct {
	Ino     uint64 `gorm:"primaryKey;autoIncrement"`
	Type    int
	Perm    uint32
	UID     uint32
	GID     uint32
	NLink   uint32
	CrTime  int64
	MTime   int64
	Length  uint64
	Ptr     []byte
	StoreID string // which store a KindImmutableRegular's hash was last known mirrored from; advisory only
}

func (inodeRow) TableName() string { return "inodes" }

// dirEntryRow is the DirEntries table: (dir, name) -> ino, with the
// child's kind duplicated for fast ReadDir without a join.
type dirEntryRow struct {
	Dir  uint64 `gorm:"primaryKey"`
	Name string `gorm:"primaryKey"`
	Ino  uint64
	Type int
}

func (dirEntryRow) TableName() string { return "dir_entries" }

// symlinkRow is the Symlinks table: ino -> link target.
type symlinkRow struct {
	Ino    uint64 `gorm:"primaryKey"`
	Target string
}

func (symlinkRow) TableName() string { return "symlinks" }

// rootRow is the single-row Root table recording the bootstrap
// directory's inode number.
type rootRow struct {
	ID   int `gorm:"primaryKey"`
	Root uint64
}

func (rootRow) TableName() string { return "root" }

// Catalog is the filesystem metadata store.
type Catalog struct {
	db      *gorm.DB
	rootIno Ino
	clock   timeutil.Clock
}

// Option configures a Catalog at Open time.
type Option func(*Catalog)

// WithClock overrides the clock used to stamp CrTime/MTime, letting
// tests inject a fake clock for deterministic ordering assertions.
// Production callers should leave this unset, which defaults to
// timeutil.RealClock().
func WithClock(clock timeutil.Clock) Option {
	return func(c *Catalog) { c.clock = clock }
}

// Open opens (creating and migrating if necessary) a Catalog using
// dialector, bootstrapping a root directory inode on first use.
// Passing sqlite.Open(path) gives the default local embedding;
// postgres.Open(dsn) points the same schema at a Postgres server.
func Open(dialector gorm.Dialector, opts ...Option) (*Catalog, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}

	if err := db.AutoMigrate(&inodeRow{}, &dirEntryRow{}, &symlinkRow{}, &rootRow{}); err != nil {
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	c := &Catalog{db: db, clock: timeutil.RealClock()}
	for _, opt := range opts {
		opt(c)
	}

	var root rootRow
	err = db.First(&root).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		if err := db.Transaction(func(tx *gorm.DB) error {
			ino, err := createInode(tx, c.clock, newFileInfo{kind: KindDirectory, perm: 0o700})
			if err != nil {
				return err
			}
			if err := tx.Create(&rootRow{ID: 1, Root: ino}).Error; err != nil {
				return err
			}
			return incNlink(tx, Ino(ino))
		}); err != nil {
			return nil, fmt.Errorf("bootstrapping root inode: %w", err)
		}
		if err := db.First(&root).Error; err != nil {
			return nil, fmt.Errorf("reading bootstrapped root: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading root row: %w", err)
	}

	c.rootIno = Ino(root.Root)
	return c, nil
}

// OpenSQLite is a convenience wrapper around Open(sqlite.Open(path)).
func OpenSQLite(path string, opts ...Option) (*Catalog, error) {
	return Open(sqlite.Open(path), opts...)
}

// RootIno returns the root directory's inode number.
func (c *Catalog) RootIno() Ino {
	return c.rootIno
}

// Stat describes an inode's current metadata, mirroring
// fs_sqlite.rs's Stat struct.
type Stat struct {
	Ino    Ino
	Kind   FileKind
	Perm   uint32
	UID    uint32
	GID    uint32
	NLink  uint32
	CrTime time.Time
	MTime  time.Time

	// Length is the byte length for regular files and symlinks, or the
	// live directory-entry count for directories.
	Length uint64

	// MutableFileID is set iff Kind == KindMutableRegular.
	MutableFileID hugestore.MutableFileID

	// Hash is set iff Kind == KindImmutableRegular.
	Hash hugehash.Hash
}

func rowToStat(row inodeRow) (Stat, error) {
	st := Stat{
		Ino:    Ino(row.Ino),
		Kind:   FileKind(row.Type),
		Perm:   row.Perm,
		UID:    row.UID,
		GID:    row.GID,
		NLink:  row.NLink,
		CrTime: time.Unix(0, row.CrTime),
		MTime:  time.Unix(0, row.MTime),
		Length: row.Length,
	}

	switch st.Kind {
	case KindMutableRegular:
		st.MutableFileID = hugestore.MutableFileID(row.Ptr)
	case KindImmutableRegular:
		h, err := hugehash.FromBytes(row.Ptr)
		if err != nil {
			return Stat{}, fmt.Errorf("decoding stored hash for inode %d: %w", row.Ino, err)
		}
		st.Hash = h
	}

	return st, nil
}

// Stat reads an inode's current metadata.
func (c *Catalog) Stat(_ context.Context, ino Ino) (Stat, error) {
	var row inodeRow
	if err := c.db.First(&row, "ino = ?", uint64(ino)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Stat{}, hugeerr.New(hugeerr.KindNoSuchInode, fmt.Sprint(ino))
		}
		return Stat{}, hugeerr.Wrap(hugeerr.KindStorageError, "stat", err)
	}
	return rowToStat(row)
}

// Lookup resolves a single path component within dir.
func (c *Catalog) Lookup(_ context.Context, dir Ino, name string) (Stat, error) {
	var entry dirEntryRow
	if err := c.db.First(&entry, "dir = ? and name = ?", uint64(dir), name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Stat{}, hugeerr.New(hugeerr.KindNoSuchEntry, name)
		}
		return Stat{}, hugeerr.Wrap(hugeerr.KindStorageError, "lookup", err)
	}

	var row inodeRow
	if err := c.db.First(&row, "ino = ?", entry.Ino).Error; err != nil {
		return Stat{}, hugeerr.Wrap(hugeerr.KindStorageError, "lookup", err)
	}
	return rowToStat(row)
}

// LookupPath resolves a slash-separated path (already split by the
// caller into components, with no "." or ".." components permitted)
// starting from the root inode.
func (c *Catalog) LookupPath(ctx context.Context, components []string) (Ino, error) {
	cur := c.rootIno
	for _, comp := range components {
		st, err := c.Lookup(ctx, cur, comp)
		if err != nil {
			return 0, err
		}
		cur = st.Ino
	}
	return cur, nil
}

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name string
	Ino  Ino
	Kind FileKind
}

// ReadDirectory lists dir's entries, lexically ordered by name.
func (c *Catalog) ReadDirectory(_ context.Context, dir Ino) ([]DirEntry, error) {
	var rows []dirEntryRow
	if err := c.db.Where("dir = ?", uint64(dir)).Order("name").Find(&rows).Error; err != nil {
		return nil, hugeerr.Wrap(hugeerr.KindStorageError, "readdir", err)
	}

	entries := make([]DirEntry, len(rows))
	for i, r := range rows {
		entries[i] = DirEntry{Name: r.Name, Ino: Ino(r.Ino), Kind: FileKind(r.Type)}
	}
	return entries, nil
}

// NewFileKind describes what kind of inode CreateInode should
// create.
type NewFileKind struct {
	Kind          FileKind
	MutableFileID hugestore.MutableFileID // set iff Kind == KindMutableRegular
	Hash          hugehash.Hash           // set iff Kind == KindImmutableRegular
	Length        uint64                  // set iff Kind == KindImmutableRegular or KindSymlink
	SymlinkTarget string                  // set iff Kind == KindSymlink
}

type newFileInfo struct {
	kind   FileKind
	perm   uint32
	uid    uint32
	gid    uint32
	ptr    []byte
	length uint64
	target string
}

func createInode(tx *gorm.DB, clock timeutil.Clock, info newFileInfo) (uint64, error) {
	now := clock.Now().UnixNano()

	row := inodeRow{
		Type:   int(info.kind),
		Perm:   info.perm,
		UID:    info.uid,
		GID:    info.gid,
		NLink:  0,
		CrTime: now,
		MTime:  now,
		Length: info.length,
		Ptr:    info.ptr,
	}

	if err := tx.Create(&row).Error; err != nil {
		return 0, hugeerr.Wrap(hugeerr.KindStorageError, "create inode", err)
	}

	if info.kind == KindSymlink {
		if err := tx.Create(&symlinkRow{Ino: row.Ino, Target: info.target}).Error; err != nil {
			return 0, hugeerr.Wrap(hugeerr.KindStorageError, "create symlink", err)
		}
	}

	return row.Ino, nil
}

// CreateInode allocates a new inode of the given kind and links it
// into parent under name. If exclusive is true, an existing entry
// with that name is an error rather than being silently replaced.
func (c *Catalog) CreateInode(ctx context.Context, parent Ino, name string, exclusive bool, perm, uid, gid uint32, info NewFileKind) (Stat, error) {
	var result Stat

	err := c.db.Transaction(func(tx *gorm.DB) error {
		nfi := newFileInfo{kind: info.Kind, perm: perm, uid: uid, gid: gid}
		switch info.Kind {
		case KindMutableRegular:
			nfi.ptr = []byte(info.MutableFileID)
		case KindImmutableRegular:
			nfi.ptr = info.Hash[:]
			nfi.length = info.Length
		case KindSymlink:
			nfi.target = info.SymlinkTarget
			nfi.length = uint64(len(info.SymlinkTarget))
		}

		ino, err := createInode(tx, c.clock, nfi)
		if err != nil {
			return err
		}

		if err := linkFile(tx, parent, exclusive, name, ino, info.Kind); err != nil {
			return err
		}

		var row inodeRow
		if err := tx.First(&row, "ino = ?", ino).Error; err != nil {
			return hugeerr.Wrap(hugeerr.KindStorageError, "create inode", err)
		}
		result, err = rowToStat(row)
		return err
	})

	return result, err
}

// linkFile links ino into parent under name, incrementing nlink and,
// when name is new in parent, bumping parent's directory entry count.
// If name already refers to a different inode the old link is
// replaced (unless exclusive).
func linkFile(tx *gorm.DB, parent Ino, exclusive bool, name string, ino uint64, kind FileKind) error {
	var existing dirEntryRow
	err := tx.First(&existing, "dir = ? and name = ?", uint64(parent), name).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		// fall through to insert below
	case err != nil:
		return hugeerr.Wrap(hugeerr.KindStorageError, "link", err)
	case existing.Ino == ino:
		return nil
	case exclusive:
		return hugeerr.New(hugeerr.KindEntryExists, name)
	}

	if err := tx.Save(&dirEntryRow{Dir: uint64(parent), Name: name, Ino: ino, Type: int(kind)}).Error; err != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, "link", err)
	}

	if err := incNlink(tx, Ino(ino)); err != nil {
		return err
	}

	if existing.Ino == 0 {
		if err := bumpDirLength(tx, parent, 1); err != nil {
			return err
		}
	}

	if existing.Ino != 0 {
		if err := decNlinkAndMaybeDelete(tx, Ino(existing.Ino)); err != nil {
			return err
		}
	}

	return nil
}

func unlinkFile(tx *gorm.DB, parent Ino, name string) error {
	var entry dirEntryRow
	if err := tx.First(&entry, "dir = ? and name = ?", uint64(parent), name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return hugeerr.New(hugeerr.KindNoSuchEntry, name)
		}
		return hugeerr.Wrap(hugeerr.KindStorageError, "unlink", err)
	}

	res := tx.Delete(&dirEntryRow{}, "dir = ? and name = ?", uint64(parent), name)
	if res.Error != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, "unlink", res.Error)
	}
	if res.RowsAffected != 1 {
		return hugeerr.New(hugeerr.KindNoSuchEntry, name)
	}

	if err := bumpDirLength(tx, parent, -1); err != nil {
		return err
	}

	return decNlinkAndMaybeDelete(tx, Ino(entry.Ino))
}

func incNlink(tx *gorm.DB, ino Ino) error {
	res := tx.Model(&inodeRow{}).Where("ino = ?", uint64(ino)).
		UpdateColumn("n_link", gorm.Expr("n_link + 1"))
	if res.Error != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, "inc nlink", res.Error)
	}
	if res.RowsAffected != 1 {
		return hugeerr.New(hugeerr.KindNoSuchInode, fmt.Sprint(ino))
	}
	return nil
}

func decNlinkAndMaybeDelete(tx *gorm.DB, ino Ino) error {
	res := tx.Model(&inodeRow{}).Where("ino = ? and n_link > 0", uint64(ino)).
		UpdateColumn("n_link", gorm.Expr("n_link - 1"))
	if res.Error != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, "dec nlink", res.Error)
	}

	var row inodeRow
	if err := tx.First(&row, "ino = ?", uint64(ino)).Error; err != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, "dec nlink", err)
	}

	if row.NLink == 0 {
		if FileKind(row.Type) == KindDirectory && row.Length > 0 {
			return hugeerr.New(hugeerr.KindNotEmpty, fmt.Sprint(ino))
		}
		if err := tx.Delete(&inodeRow{}, "ino = ?", uint64(ino)).Error; err != nil {
			return hugeerr.Wrap(hugeerr.KindStorageError, "delete inode", err)
		}
		if FileKind(row.Type) == KindSymlink {
			tx.Delete(&symlinkRow{}, "ino = ?", uint64(ino))
		}
	}

	return nil
}

func bumpDirLength(tx *gorm.DB, dir Ino, delta int) error {
	res := tx.Model(&inodeRow{}).Where("ino = ? and type = ?", uint64(dir), int(KindDirectory)).
		UpdateColumn("length", gorm.Expr("length + ?", delta))
	if res.Error != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, "bump dir length", res.Error)
	}
	return nil
}

// RemoveEntry removes the entry named name from parent.
func (c *Catalog) RemoveEntry(_ context.Context, parent Ino, name string) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		return unlinkFile(tx, parent, name)
	})
}

// Rename moves the entry named fromName in fromDir to toName in
// toDir, replacing any existing toName entry.
func (c *Catalog) Rename(_ context.Context, fromDir Ino, fromName string, toDir Ino, toName string) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		var entry dirEntryRow
		if err := tx.First(&entry, "dir = ? and name = ?", uint64(fromDir), fromName).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return hugeerr.New(hugeerr.KindNoSuchEntry, fromName)
			}
			return hugeerr.Wrap(hugeerr.KindStorageError, "rename", err)
		}

		if fromDir == toDir && fromName == toName {
			return nil
		}

		if err := linkFile(tx, toDir, false, toName, entry.Ino, FileKind(entry.Type)); err != nil {
			return err
		}
		return unlinkFile(tx, fromDir, fromName)
	})
}

// Link creates an additional directory entry pointing at an existing
// inode (hardlink semantics); only meaningful for immutable regular
// files, enforced by the caller.
func (c *Catalog) Link(ctx context.Context, ino Ino, dir Ino, name string) (Stat, error) {
	var result Stat
	err := c.db.Transaction(func(tx *gorm.DB) error {
		var row inodeRow
		if err := tx.First(&row, "ino = ?", uint64(ino)).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return hugeerr.New(hugeerr.KindNoSuchInode, fmt.Sprint(ino))
			}
			return hugeerr.Wrap(hugeerr.KindStorageError, "link", err)
		}

		if err := linkFile(tx, dir, false, name, uint64(ino), FileKind(row.Type)); err != nil {
			return err
		}

		if err := tx.First(&row, "ino = ?", uint64(ino)).Error; err != nil {
			return hugeerr.Wrap(hugeerr.KindStorageError, "link", err)
		}
		var err error
		result, err = rowToStat(row)
		return err
	})
	return result, err
}

// Readlink returns a symlink's target.
func (c *Catalog) Readlink(_ context.Context, ino Ino) (string, error) {
	var row symlinkRow
	if err := c.db.First(&row, "ino = ?", uint64(ino)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", hugeerr.New(hugeerr.KindNotSymlink, fmt.Sprint(ino))
		}
		return "", hugeerr.Wrap(hugeerr.KindStorageError, "readlink", err)
	}
	return row.Target, nil
}

// SetAttributes is the mutable subset of an inode's metadata that
// SetInodeAttributes may change.
type SetAttributes struct {
	Length *uint64
	Perm   *uint32
	UID    *uint32
	GID    *uint32
	CrTime *time.Time
	MTime  *time.Time
}

// SetAttributes applies attrs to ino, returning the updated Stat.
// Setting Length is only valid for a KindMutableRegular inode.
func (c *Catalog) SetAttributes(_ context.Context, ino Ino, attrs SetAttributes) (Stat, error) {
	var result Stat

	err := c.db.Transaction(func(tx *gorm.DB) error {
		var row inodeRow
		if err := tx.First(&row, "ino = ?", uint64(ino)).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return hugeerr.New(hugeerr.KindNoSuchInode, fmt.Sprint(ino))
			}
			return hugeerr.Wrap(hugeerr.KindStorageError, "setattr", err)
		}

		if attrs.Length != nil {
			if FileKind(row.Type) != KindMutableRegular {
				return hugeerr.New(hugeerr.KindNotMutableFile, fmt.Sprint(ino))
			}
			row.Length = *attrs.Length
		}
		if attrs.Perm != nil {
			row.Perm = *attrs.Perm
		}
		if attrs.UID != nil {
			row.UID = *attrs.UID
		}
		if attrs.GID != nil {
			row.GID = *attrs.GID
		}
		if attrs.CrTime != nil {
			row.CrTime = attrs.CrTime.UnixNano()
		}
		if attrs.MTime != nil {
			row.MTime = attrs.MTime.UnixNano()
		}

		if err := tx.Save(&row).Error; err != nil {
			return hugeerr.Wrap(hugeerr.KindStorageError, "setattr", err)
		}

		var err error
		result, err = rowToStat(row)
		return err
	})

	return result, err
}

// UpdateLengthAtLeast raises a KindMutableRegular inode's recorded
// length to max(current, length), used after a write extends the
// file without going through SetAttributes.
func (c *Catalog) UpdateLengthAtLeast(_ context.Context, ino Ino, length uint64) error {
	res := c.db.Model(&inodeRow{}).
		Where("ino = ? and type = ?", uint64(ino), int(KindMutableRegular)).
		UpdateColumn("length", gorm.Expr("max(?, length)", length))
	if res.Error != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, "update length", res.Error)
	}
	if res.RowsAffected != 1 {
		return hugeerr.New(hugeerr.KindNotMutableFile, fmt.Sprint(ino))
	}
	return nil
}

// Finalize converts a KindMutableRegular inode into a
// KindImmutableRegular inode pointing at hash, once its mutable file
// has been hashed and moved into a store's content-addressed area.
func (c *Catalog) Finalize(_ context.Context, ino Ino, length uint64, hash hugehash.Hash) error {
	res := c.db.Model(&inodeRow{}).
		Where("ino = ? and type = ?", uint64(ino), int(KindMutableRegular)).
		Updates(map[string]any{
			"type":   int(KindImmutableRegular),
			"length": length,
			"ptr":    hash[:],
		})
	if res.Error != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, "finalize", res.Error)
	}
	if res.RowsAffected != 1 {
		return hugeerr.New(hugeerr.KindNotMutableFile, fmt.Sprint(ino))
	}
	return nil
}

// Aggregates summarizes the whole catalog for StatFS, computed from
// live row counts per fs_sqlite.rs's FIXME-turned-real implementation.
type Aggregates struct {
	InodeCount     uint64
	TotalFileBytes uint64
}

// Aggregates computes filesystem-wide totals.
func (c *Catalog) Aggregates(_ context.Context) (Aggregates, error) {
	var agg Aggregates

	var inodeCount int64
	if err := c.db.Model(&inodeRow{}).Count(&inodeCount).Error; err != nil {
		return Aggregates{}, hugeerr.Wrap(hugeerr.KindStorageError, "aggregates", err)
	}
	agg.InodeCount = uint64(inodeCount)

	var totalBytes struct{ Total uint64 }
	if err := c.db.Model(&inodeRow{}).
		Where("type in ?", []int{int(KindMutableRegular), int(KindImmutableRegular)}).
		Select("coalesce(sum(length), 0) as total").Scan(&totalBytes).Error; err != nil {
		return Aggregates{}, hugeerr.Wrap(hugeerr.KindStorageError, "aggregates", err)
	}
	agg.TotalFileBytes = totalBytes.Total

	return agg, nil
}

// Close releases the underlying database connection.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
