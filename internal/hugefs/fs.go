package hugefs

import (
	"context"
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugecontrol"
	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugelog"
	"github.com/hugefs/hugefs/internal/hugemetrics"
	"github.com/hugefs/hugefs/internal/hugestate"
	"github.com/hugefs/hugefs/internal/hugestore"
	"github.com/hugefs/hugefs/internal/hugetrace"
)

var log = hugelog.New("hugefs")

// controlIno and controlName locate the pseudo-file through which the
// hugefsctl client speaks the JSON control protocol, grounded on
// fusefs.rs's reserved CONTROL_INODE/CONTROL_NAME constants.
const (
	controlIno  = fuseops.InodeID(0xfffffff0)
	controlName = ".hugefsctl1"
)

// ServerConfig configures a mounted hugefs server.
type ServerConfig struct {
	State *hugestate.State

	UID, GID          uint32
	FilePerm, DirPerm os.FileMode
}

// server implements fuseutil.FileSystem against a *hugestate.State. Unlike a
// GCS-object-backed filesystem, it keeps no in-memory inode cache:
// every operation reads or writes the catalog directly, so the lock
// ordering concerns that drive most of an inode-caching filesystem
// don't apply here. The only state this layer owns is the table of
// currently-open handles.
type server struct {
	fuseutil.NotImplementedFileSystem

	state    *hugestate.State
	uid, gid uint32
	filePerm os.FileMode
	dirPerm  os.FileMode

	handles *handleTable
}

// NewServer builds a fuse.Server for cfg.State.
func NewServer(cfg ServerConfig) (fuse.Server, error) {
	if cfg.FilePerm&^os.ModePerm != 0 {
		return nil, hugeerr.New(hugeerr.KindBadPath, "illegal file perm bits")
	}
	if cfg.DirPerm&^os.ModePerm != 0 {
		return nil, hugeerr.New(hugeerr.KindBadPath, "illegal dir perm bits")
	}

	s := &server{
		state:    cfg.State,
		uid:      cfg.UID,
		gid:      cfg.GID,
		filePerm: cfg.FilePerm,
		dirPerm:  cfg.DirPerm | os.ModeDir,
		handles:  newHandleTable(),
	}
	return fuseutil.NewFileSystemServer(s), nil
}

func (s *server) attrsFor(st hugecatalog.Stat) fuseops.InodeAttributes {
	mode := s.filePerm
	if st.Kind == hugecatalog.KindDirectory {
		mode = s.dirPerm
	}
	if st.Kind == hugecatalog.KindSymlink {
		mode = os.ModeSymlink | s.filePerm
	}

	return fuseops.InodeAttributes{
		Size:   st.Length,
		Nlink:  st.NLink,
		Mode:   mode,
		Atime:  st.MTime,
		Mtime:  st.MTime,
		Ctime:  st.MTime,
		Crtime: st.CrTime,
		Uid:    s.uid,
		Gid:    s.gid,
	}
}

// controlAttrs returns fixed attributes for the control pseudo-file: a
// regular file owned by the mount's configured uid/gid, readable and
// writable only by its owner, with a zero size since its content is
// computed per-session rather than stored.
func (s *server) controlAttrs() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0o600,
		Uid:   s.uid,
		Gid:   s.gid,
	}
}

func timed(op string) hugemetrics.Timer { return hugemetrics.Start(op) }

func (s *server) Init(op *fuseops.InitOp) error {
	return nil
}

func (s *server) StatFS(op *fuseops.StatFSOp) error {
	t := timed(hugemetrics.OpStatFS)
	agg, err := s.state.Catalog.Aggregates(context.Background())
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}

	const blockSize = 4096
	op.BlockSize = blockSize
	op.Blocks = agg.TotalFileBytes/blockSize + 1
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.Inodes = agg.InodeCount + 1<<20
	op.InodesFree = 1 << 20
	op.IoSize = 1 << 20
	return nil
}

func (s *server) LookUpInode(op *fuseops.LookUpInodeOp) error {
	t := timed(hugemetrics.OpLookUpInode)
	if op.Parent == fuseops.RootInodeID && op.Name == controlName {
		op.Entry.Child = controlIno
		op.Entry.Attributes = s.controlAttrs()
		t.Observe(nil)
		return nil
	}

	st, err := s.state.Catalog.Lookup(op.Context(), hugecatalog.Ino(op.Parent), op.Name)
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}

	op.Entry.Child = fuseops.InodeID(st.Ino)
	op.Entry.Attributes = s.attrsFor(st)
	return nil
}

func (s *server) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	t := timed(hugemetrics.OpGetInodeAttributes)
	if op.Inode == controlIno {
		op.Attributes = s.controlAttrs()
		t.Observe(nil)
		return nil
	}

	st, err := s.state.Catalog.Stat(op.Context(), hugecatalog.Ino(op.Inode))
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}
	op.Attributes = s.attrsFor(st)
	return nil
}

func (s *server) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	t := timed(hugemetrics.OpSetInodeAttributes)
	ctx := op.Context()

	var attrs hugecatalog.SetAttributes
	if op.Size != nil {
		size := *op.Size
		attrs.Length = &size

		if err := s.truncateStoreHandle(ctx, hugecatalog.Ino(op.Inode), size); err != nil {
			t.Observe(err)
			return hugeerr.Errno(err)
		}
	}

	st, err := s.state.Catalog.SetAttributes(ctx, hugecatalog.Ino(op.Inode), attrs)
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}
	op.Attributes = s.attrsFor(st)
	return nil
}

// truncateStoreHandle resolves ino's mutable file across the
// configured stores and applies SetLength to the underlying bytes, so
// the store and the catalog's recorded length stay consistent after a
// truncate(2)/ftruncate(2).
func (s *server) truncateStoreHandle(ctx context.Context, ino hugecatalog.Ino, size uint64) error {
	st, err := s.state.Catalog.Stat(ctx, ino)
	if err != nil {
		return err
	}
	if st.Kind != hugecatalog.KindMutableRegular {
		return nil
	}

	for _, store := range s.state.Stores {
		f, ok, err := store.OpenFile(ctx, st.MutableFileID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		err = f.SetLength(ctx, size)
		f.Keep()
		closeErr := f.Close()
		if err != nil {
			return err
		}
		return closeErr
	}
	return hugeerr.New(hugeerr.KindNoSuchMutableFile, string(st.MutableFileID))
}

func (s *server) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return nil
}

func (s *server) MkDir(op *fuseops.MkDirOp) error {
	t := timed(hugemetrics.OpMkDir)
	st, err := s.state.Catalog.CreateInode(op.Context(), hugecatalog.Ino(op.Parent), op.Name, true,
		uint32(op.Mode.Perm()), s.uid, s.gid, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}
	op.Entry.Child = fuseops.InodeID(st.Ino)
	op.Entry.Attributes = s.attrsFor(st)
	return nil
}

func (s *server) CreateFile(op *fuseops.CreateFileOp) error {
	t := timed(hugemetrics.OpCreateFile)
	ctx := op.Context()

	var chosen hugestore.MutableFile
	for _, store := range s.state.Stores {
		f, ok, err := store.CreateFile(ctx)
		if err != nil {
			t.Observe(err)
			return hugeerr.Errno(err)
		}
		if ok {
			chosen = f
			break
		}
	}
	if chosen == nil {
		err := hugeerr.New(hugeerr.KindNoWritableStore, "")
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	st, err := s.state.Catalog.CreateInode(ctx, hugecatalog.Ino(op.Parent), op.Name, true,
		uint32(op.Mode.Perm()), s.uid, s.gid,
		hugecatalog.NewFileKind{Kind: hugecatalog.KindMutableRegular, MutableFileID: chosen.ID()})
	if err != nil {
		chosen.Close()
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	op.Entry.Child = fuseops.InodeID(st.Ino)
	op.Entry.Attributes = s.attrsFor(st)
	op.Handle = s.handles.add(&mutableHandle{ino: st.Ino, file: chosen})
	t.Observe(nil)
	return nil
}

func (s *server) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	t := timed(hugemetrics.OpCreateSymlink)
	st, err := s.state.Catalog.CreateInode(op.Context(), hugecatalog.Ino(op.Parent), op.Name, true,
		0o777, s.uid, s.gid,
		hugecatalog.NewFileKind{Kind: hugecatalog.KindSymlink, SymlinkTarget: op.Target})
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}
	op.Entry.Child = fuseops.InodeID(st.Ino)
	op.Entry.Attributes = s.attrsFor(st)
	return nil
}

func (s *server) CreateLink(op *fuseops.CreateLinkOp) error {
	t := timed(hugemetrics.OpCreateLink)
	target, err := s.state.Catalog.Stat(op.Context(), hugecatalog.Ino(op.Target))
	if err == nil && target.Kind != hugecatalog.KindImmutableRegular {
		err = hugeerr.New(hugeerr.KindNotImmutableFile, "")
	}
	if err != nil {
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	st, err := s.state.Catalog.Link(op.Context(), hugecatalog.Ino(op.Target), hugecatalog.Ino(op.Parent), op.Name)
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}
	op.Entry.Child = fuseops.InodeID(st.Ino)
	op.Entry.Attributes = s.attrsFor(st)
	return nil
}

func (s *server) Rename(op *fuseops.RenameOp) error {
	t := timed(hugemetrics.OpRename)
	err := s.state.Catalog.Rename(op.Context(),
		hugecatalog.Ino(op.OldParent), op.OldName,
		hugecatalog.Ino(op.NewParent), op.NewName)
	t.Observe(err)
	return hugeerr.Errno(err)
}

func (s *server) RmDir(op *fuseops.RmDirOp) error {
	t := timed(hugemetrics.OpRmDir)
	ctx := op.Context()

	child, err := s.state.Catalog.Lookup(ctx, hugecatalog.Ino(op.Parent), op.Name)
	if err == nil && child.Kind != hugecatalog.KindDirectory {
		err = hugeerr.New(hugeerr.KindNotDirectory, op.Name)
	}
	if err != nil {
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	err = s.state.Catalog.RemoveEntry(ctx, hugecatalog.Ino(op.Parent), op.Name)
	t.Observe(err)
	return hugeerr.Errno(err)
}

func (s *server) Unlink(op *fuseops.UnlinkOp) error {
	t := timed(hugemetrics.OpUnlink)
	ctx := op.Context()

	child, err := s.state.Catalog.Lookup(ctx, hugecatalog.Ino(op.Parent), op.Name)
	if err == nil && child.Kind == hugecatalog.KindDirectory {
		err = hugeerr.New(hugeerr.KindIsDirectory, op.Name)
	}
	if err != nil {
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	err = s.state.Catalog.RemoveEntry(ctx, hugecatalog.Ino(op.Parent), op.Name)
	t.Observe(err)
	return hugeerr.Errno(err)
}

func (s *server) OpenDir(op *fuseops.OpenDirOp) error {
	t := timed(hugemetrics.OpOpenDir)
	entries, err := s.state.Catalog.ReadDirectory(op.Context(), hugecatalog.Ino(op.Inode))
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}
	op.Handle = s.handles.add(&dirHandle{entries: entries})
	return nil
}

func directEntType(kind hugecatalog.FileKind) fuseutil.DirentType {
	switch kind {
	case hugecatalog.KindDirectory:
		return fuseutil.DT_Directory
	case hugecatalog.KindSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func (s *server) ReadDir(op *fuseops.ReadDirOp) error {
	t := timed(hugemetrics.OpReadDir)
	dh, err := s.handles.dirHandle(op.Handle)
	if err != nil {
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	idx := int(op.Offset)
	for idx < len(dh.entries) {
		e := dh.entries[idx]
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(idx + 1),
			Inode:  fuseops.InodeID(e.Ino),
			Name:   e.Name,
			Type:   directEntType(e.Kind),
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
		idx++
	}

	t.Observe(nil)
	return nil
}

func (s *server) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	s.handles.remove(op.Handle)
	return nil
}

func (s *server) OpenFile(op *fuseops.OpenFileOp) error {
	t := timed(hugemetrics.OpOpenFile)
	ctx := op.Context()

	if op.Inode == controlIno {
		op.Handle = s.handles.add(&controlHandle{})
		op.KeepPageCache = false
		op.UseDirectIO = true
		t.Observe(nil)
		return nil
	}

	st, err := s.state.Catalog.Stat(ctx, hugecatalog.Ino(op.Inode))
	if err != nil {
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	switch st.Kind {
	case hugecatalog.KindMutableRegular:
		for _, store := range s.state.Stores {
			f, ok, err := store.OpenFile(ctx, st.MutableFileID)
			if err != nil {
				t.Observe(err)
				return hugeerr.Errno(err)
			}
			if ok {
				op.Handle = s.handles.add(&mutableHandle{ino: st.Ino, file: f})
				op.KeepPageCache = false
				t.Observe(nil)
				return nil
			}
		}
		err := hugeerr.New(hugeerr.KindNoSuchMutableFile, string(st.MutableFileID))
		t.Observe(err)
		return hugeerr.Errno(err)

	case hugecatalog.KindImmutableRegular:
		op.Handle = s.handles.add(&immutableHandle{hash: st.Hash})
		op.KeepPageCache = true
		t.Observe(nil)
		return nil

	default:
		err := hugeerr.New(hugeerr.KindNotImmutableFile, "")
		t.Observe(err)
		return hugeerr.Errno(err)
	}
}

func (s *server) ReadFile(op *fuseops.ReadFileOp) error {
	t := timed(hugemetrics.OpReadFile)
	ctx := op.Context()

	v, ok := s.handles.get(op.Handle)
	if !ok {
		err := hugeerr.New(hugeerr.KindBadFileHandle, "")
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	var data []byte
	var err error
	switch h := v.(type) {
	case *mutableHandle:
		data, err = h.read(ctx, op.Offset, uint32(len(op.Dst)))
	case *immutableHandle:
		data, err = s.readImmutable(ctx, h, uint64(op.Offset), len(op.Dst))
	case *controlHandle:
		data = h.read(int(op.Offset), len(op.Dst), func(request []byte) []byte {
			return hugecontrol.Handle(ctx, s.state, request)
		})
	default:
		err = hugeerr.New(hugeerr.KindBadFileHandle, "not a file handle")
	}

	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

// readImmutable reads size bytes at offset out of h's content, per
// the NoSticky/Sticky(store) state machine: if a store is already
// latched, go straight there; otherwise probe s.state.Stores in
// order, treating KindNoSuchHash as a fail-over signal to try the
// next store, and latch the first store that answers successfully so
// later reads on this handle skip the probe.
func (s *server) readImmutable(ctx context.Context, h *immutableHandle, offset uint64, size int) ([]byte, error) {
	hash := hugehash.Hash(h.hash)
	ctx, span := hugetrace.Span(ctx, "store.get")
	var err error
	defer func() { hugetrace.End(span, err) }()

	if store := h.stickyStore(); store != nil {
		var data []byte
		data, err = store.Get(ctx, hash, offset, size)
		if err == nil {
			hugemetrics.AddStoreBytes(hugemetrics.OpStoreGet, store.URL(), len(data))
		}
		return data, err
	}

	for _, store := range s.state.Stores {
		var data []byte
		data, err = store.Get(ctx, hash, offset, size)
		if err == nil {
			h.latch(store)
			hugemetrics.AddStoreBytes(hugemetrics.OpStoreGet, store.URL(), len(data))
			return data, nil
		}
		if hugeerr.KindOf(err) != hugeerr.KindNoSuchHash {
			return nil, err
		}
	}

	if err == nil {
		err = hugeerr.New(hugeerr.KindNoSuchHash, hash.Hex())
	}
	return nil, err
}

func (s *server) WriteFile(op *fuseops.WriteFileOp) error {
	t := timed(hugemetrics.OpWriteFile)
	ctx := op.Context()

	v, ok := s.handles.get(op.Handle)
	if !ok {
		err := hugeerr.New(hugeerr.KindBadFileHandle, "")
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	if ch, ok := v.(*controlHandle); ok {
		ch.write(op.Data)
		t.Observe(nil)
		return nil
	}

	h, ok := v.(*mutableHandle)
	if !ok {
		err := hugeerr.New(hugeerr.KindNotMutableFile, "")
		t.Observe(err)
		return hugeerr.Errno(err)
	}

	writeCtx, span := hugetrace.Span(ctx, "store.write")
	writeErr := h.write(writeCtx, op.Offset, op.Data)
	hugetrace.End(span, writeErr)
	if writeErr != nil {
		t.Observe(writeErr)
		return hugeerr.Errno(writeErr)
	}

	newLen := uint64(op.Offset) + uint64(len(op.Data))
	err := s.state.Catalog.UpdateLengthAtLeast(ctx, h.ino, newLen)
	t.Observe(err)
	return hugeerr.Errno(err)
}

func (s *server) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	t := timed(hugemetrics.OpReadSymlink)
	target, err := s.state.Catalog.Readlink(op.Context(), hugecatalog.Ino(op.Inode))
	t.Observe(err)
	if err != nil {
		return hugeerr.Errno(err)
	}
	op.Target = target
	return nil
}

func (s *server) FlushFile(op *fuseops.FlushFileOp) error {
	return nil
}

func (s *server) SyncFile(op *fuseops.SyncFileOp) error {
	return nil
}

func (s *server) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	t := timed(hugemetrics.OpReleaseFileHandle)
	v, ok := s.handles.remove(op.Handle)
	if !ok {
		t.Observe(nil)
		return nil
	}

	var err error
	switch h := v.(type) {
	case *mutableHandle:
		err = h.release()
	case *immutableHandle:
		// Nothing to release: reads against an immutable store don't
		// hold a persistent descriptor between calls.
	case *controlHandle:
		// Nothing to release: the session's state lives only in the
		// handle itself, already removed from the table above.
	}

	if err != nil {
		log.Errorf("releasing file handle: %v", err)
	}
	t.Observe(err)
	return hugeerr.Errno(err)
}
