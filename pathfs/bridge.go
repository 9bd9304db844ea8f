// Copyright 2025 The fusekit Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pathfs

import (
	"context"
	"syscall"

	"github.com/jacobsa/syncutil"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/fuseutil"
)

// nameKey identifies one kernel-visible name: a link to an inode from a
// parent directory.
type nameKey struct {
	parent fuseops.InodeID
	name   string
}

// bridge translates the inode-flavored interface the kernel speaks into
// the path-flavored interface the user implements. It owns the
// bidirectional index between inode numbers and names:
//
//   - forward: inode → the set of names it is currently known by. Multiple
//     names per inode arise from hard links. The set is non-empty while
//     the inode is live.
//
//   - reverse: (parent, name) → inode, consulted on the lookup fast path.
//
// Invariants, checked by the mutex on every acquisition:
//
//   - Every reverse key appears in the forward set of its value, and vice
//     versa.
//
//   - The root (inode 1) is always live, and is its own parent.
type bridge struct {
	fs FileSystem

	// Read operations take the read side; anything that can change the
	// name index takes the write side.
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	forward map[fuseops.InodeID]map[nameKey]struct{}

	// GUARDED_BY(mu)
	reverse map[nameKey]fuseops.InodeID

	// GUARDED_BY(mu)
	alloc *inodeAllocator
}

// NewBridge wraps a path-based file system in the inode bookkeeping the
// kernel requires, yielding an inode-based file system.
func NewBridge(fs FileSystem) fuseutil.FileSystem {
	b := &bridge{
		fs:      fs,
		forward: make(map[fuseops.InodeID]map[nameKey]struct{}),
		reverse: make(map[nameKey]fuseops.InodeID),
		alloc:   newInodeAllocator(),
	}

	// The root is its own parent and exists from the start.
	rootKey := nameKey{parent: fuseops.RootInodeID, name: ""}
	b.forward[fuseops.RootInodeID] = map[nameKey]struct{}{rootKey: {}}
	b.reverse[rootKey] = fuseops.RootInodeID

	b.mu = syncutil.NewInvariantMutex(b.checkInvariants)
	return b
}

// NewServer is shorthand for serving a path-based file system.
func NewServer(fs FileSystem) fuse.Server {
	return fuseutil.NewFileSystemServer(NewBridge(fs))
}

func (b *bridge) checkInvariants() {
	for k, ino := range b.reverse {
		set := b.forward[ino]
		if _, ok := set[k]; !ok {
			panic("reverse entry missing from forward set")
		}
	}

	for ino, set := range b.forward {
		if len(set) == 0 {
			panic("empty name set in forward map")
		}
		for k := range set {
			if b.reverse[k] != ino {
				panic("forward entry missing from reverse index")
			}
		}
	}

	if _, ok := b.forward[fuseops.RootInodeID]; !ok {
		panic("root inode not live")
	}

	b.alloc.checkInvariants()
}

////////////////////////////////////////////////////////////////////////
// Index helpers
////////////////////////////////////////////////////////////////////////

// pathLocked resolves an inode to an absolute path by walking the forward
// map up to the root. Any alias of a multiply-linked inode serves.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) pathLocked(ino fuseops.InodeID) (string, error) {
	if ino == fuseops.RootInodeID {
		return "/", nil
	}

	set := b.forward[ino]
	if len(set) == 0 {
		return "", fuse.ENOENT
	}

	var k nameKey
	for k = range set {
		break
	}

	parentPath, err := b.pathLocked(k.parent)
	if err != nil {
		return "", err
	}

	return joinChild(parentPath, k.name), nil
}

func joinChild(parentPath string, name string) string {
	if parentPath == "/" {
		return "/" + name
	}

	return parentPath + "/" + name
}

// parentOfLocked returns the recorded parent of a directory inode, for
// filling in "..". The root's parent is itself.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) parentOfLocked(ino fuseops.InodeID) fuseops.InodeID {
	if ino == fuseops.RootInodeID {
		return fuseops.RootInodeID
	}

	for k := range b.forward[ino] {
		return k.parent
	}

	return fuseops.RootInodeID
}

// ensureMappingLocked returns the inode behind (parent, name), minting one
// if the name has not been seen before.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) ensureMappingLocked(
	parent fuseops.InodeID,
	name string) fuseops.InodeID {
	k := nameKey{parent: parent, name: name}
	if ino, ok := b.reverse[k]; ok {
		return ino
	}

	ino := b.alloc.Allocate()
	b.attachNameLocked(ino, parent, name)
	return ino
}

// attachNameLocked records (parent, name) as a name for ino.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) attachNameLocked(
	ino fuseops.InodeID,
	parent fuseops.InodeID,
	name string) {
	k := nameKey{parent: parent, name: name}
	b.reverse[k] = ino

	set := b.forward[ino]
	if set == nil {
		set = make(map[nameKey]struct{}, 1)
		b.forward[ino] = set
	}
	set[k] = struct{}{}
}

// detachNameLocked removes (parent, name) from both indices without
// releasing the inode number, so the caller can decide whether the
// detachment sticks.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) detachNameLocked(
	parent fuseops.InodeID,
	name string) (ino fuseops.InodeID, had bool) {
	k := nameKey{parent: parent, name: name}
	ino, had = b.reverse[k]
	if !had {
		return 0, false
	}

	delete(b.reverse, k)
	delete(b.forward[ino], k)
	return ino, true
}

// maybeReleaseLocked recycles ino's number if its last name is gone. The
// root is never recycled.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) maybeReleaseLocked(ino fuseops.InodeID) {
	if ino == fuseops.RootInodeID {
		return
	}

	if set, ok := b.forward[ino]; ok && len(set) == 0 {
		delete(b.forward, ino)
		b.alloc.Release(ino)
	}
}

// restoreNameLocked undoes a detachNameLocked.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) restoreNameLocked(
	ino fuseops.InodeID,
	parent fuseops.InodeID,
	name string) {
	b.attachNameLocked(ino, parent, name)
}

func childEntry(ino fuseops.InodeID, info EntryInfo) fuseops.ChildInodeEntry {
	return fuseops.ChildInodeEntry{
		Child:                ino,
		Attributes:           info.Attributes,
		AttributesExpiration: info.AttributesExpiration,
		EntryExpiration:      info.EntryExpiration,
	}
}

////////////////////////////////////////////////////////////////////////
// fuseutil.FileSystem implementation
////////////////////////////////////////////////////////////////////////

func (b *bridge) Init(ctx context.Context, op *fuseops.InitOp) error {
	return b.fs.Init(ctx, op)
}

func (b *bridge) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return b.fs.StatFS(ctx, op)
}

func (b *bridge) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	parentPath, err := b.pathLocked(op.Parent)
	if err != nil {
		return err
	}

	info, err := b.fs.Lookup(ctx, parentPath, op.Name)
	if err != nil {
		// The name is gone; drop whatever we believed about it.
		if err == syscall.ENOENT {
			if ino, had := b.detachNameLocked(op.Parent, op.Name); had {
				b.maybeReleaseLocked(ino)
			}
		}

		return err
	}

	ino := b.ensureMappingLocked(op.Parent, op.Name)
	op.Entry = childEntry(ino, info)
	return nil
}

func (b *bridge) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	info, err := b.fs.GetAttr(ctx, path, op.Handle)
	if err != nil {
		return err
	}

	op.Attributes = info.Attributes
	op.AttributesExpiration = info.AttributesExpiration
	return nil
}

func (b *bridge) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	req := &SetAttrRequest{
		Handle: op.Handle,
		Size:   op.Size,
		Mode:   op.Mode,
		Uid:    op.Uid,
		Gid:    op.Gid,
		Atime:  op.Atime,
		Mtime:  op.Mtime,
		Ctime:  op.Ctime,
	}

	info, err := b.fs.SetAttr(ctx, path, req)
	if err != nil {
		return err
	}

	op.Attributes = info.Attributes
	op.AttributesExpiration = info.AttributesExpiration
	return nil
}

// forgetLocked drops all names for an inode and recycles its number. The
// kernel only sends a forget once its own reference count for the inode
// has hit zero.
//
// Forgetting a directory that still has children leaves the children's
// recorded parent dangling; their paths stop resolving, which is the
// protocol's known cost of this operation.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) forgetLocked(ino fuseops.InodeID) {
	if ino == fuseops.RootInodeID {
		return
	}

	set, ok := b.forward[ino]
	if !ok {
		return
	}

	for k := range set {
		delete(b.reverse, k)
	}

	delete(b.forward, ino)
	b.alloc.Release(ino)
}

func (b *bridge) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.forgetLocked(op.Inode)
	return nil
}

func (b *bridge) BatchForget(
	ctx context.Context,
	op *fuseops.BatchForgetOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range op.Entries {
		b.forgetLocked(e.Inode)
	}

	return nil
}

// createCommon handles the shared tail of the create-family ops: register
// the new name on success, repair the index when the name turns out to
// already exist.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) createCommonLocked(
	parent fuseops.InodeID,
	name string,
	info EntryInfo,
	err error) (fuseops.ChildInodeEntry, error) {
	if err != nil {
		if err == syscall.EEXIST {
			// The name does correspond to a live object; make sure we know
			// about it.
			b.ensureMappingLocked(parent, name)
		}

		return fuseops.ChildInodeEntry{}, err
	}

	ino := b.ensureMappingLocked(parent, name)
	return childEntry(ino, info), nil
}

func (b *bridge) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	parentPath, err := b.pathLocked(op.Parent)
	if err != nil {
		return err
	}

	info, err := b.fs.MkDir(ctx, parentPath, op.Name, op.Mode)
	op.Entry, err = b.createCommonLocked(op.Parent, op.Name, info, err)
	return err
}

func (b *bridge) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	parentPath, err := b.pathLocked(op.Parent)
	if err != nil {
		return err
	}

	info, err := b.fs.MkNode(ctx, parentPath, op.Name, op.Mode, op.Rdev)
	op.Entry, err = b.createCommonLocked(op.Parent, op.Name, info, err)
	return err
}

func (b *bridge) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	parentPath, err := b.pathLocked(op.Parent)
	if err != nil {
		return err
	}

	info, handle, err := b.fs.CreateFile(ctx, parentPath, op.Name, op.Mode, op.Flags)
	op.Entry, err = b.createCommonLocked(op.Parent, op.Name, info, err)
	if err != nil {
		return err
	}

	op.Handle = handle
	return nil
}

func (b *bridge) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	parentPath, err := b.pathLocked(op.Parent)
	if err != nil {
		return err
	}

	info, err := b.fs.CreateSymlink(ctx, parentPath, op.Name, op.Target)
	op.Entry, err = b.createCommonLocked(op.Parent, op.Name, info, err)
	return err
}

func (b *bridge) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	parentPath, err := b.pathLocked(op.Parent)
	if err != nil {
		return err
	}

	targetPath, err := b.pathLocked(op.Target)
	if err != nil {
		return err
	}

	info, err := b.fs.CreateLink(ctx, parentPath, op.Name, targetPath)
	if err != nil {
		if err == syscall.EEXIST {
			b.ensureMappingLocked(op.Parent, op.Name)
		}
		return err
	}

	// The new name is an alias of the existing inode, not a fresh one.
	b.attachNameLocked(op.Target, op.Parent, op.Name)
	op.Entry = childEntry(op.Target, info)
	return nil
}

func (b *bridge) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	// One write lock covers both parent chains, keeping the index
	// consistent for concurrent resolvers.
	b.mu.Lock()
	defer b.mu.Unlock()

	oldParentPath, err := b.pathLocked(op.OldParent)
	if err != nil {
		return err
	}

	newParentPath, err := b.pathLocked(op.NewParent)
	if err != nil {
		return err
	}

	err = b.fs.Rename(
		ctx, oldParentPath, op.OldName, newParentPath, op.NewName, op.Flags)
	if err != nil {
		return err
	}

	// An overwritten target loses its name, and possibly its number.
	if target, had := b.detachNameLocked(op.NewParent, op.NewName); had {
		b.maybeReleaseLocked(target)
	}

	if ino, had := b.detachNameLocked(op.OldParent, op.OldName); had {
		b.attachNameLocked(ino, op.NewParent, op.NewName)
	} else {
		b.ensureMappingLocked(op.NewParent, op.NewName)
	}

	return nil
}

// removeCommon handles unlink and rmdir: the mapping is detached up
// front, and restored when the error says the entity still exists.
//
// LOCKS_REQUIRED(b.mu)
func (b *bridge) removeCommonLocked(
	ctx context.Context,
	parent fuseops.InodeID,
	name string,
	remove func(parentPath string) error) error {
	parentPath, err := b.pathLocked(parent)
	if err != nil {
		return err
	}

	ino, had := b.detachNameLocked(parent, name)

	err = remove(parentPath)
	if err != nil {
		// Anything other than "it doesn't exist" means the entity is still
		// there under this name; put the mapping back. EISDIR and ENOTDIR
		// are the interesting cases, where the caller used the wrong
		// operation for the entity's kind.
		if had {
			if err == syscall.ENOENT {
				b.maybeReleaseLocked(ino)
			} else {
				b.restoreNameLocked(ino, parent, name)
			}
		}

		return err
	}

	if had {
		b.maybeReleaseLocked(ino)
	}

	return nil
}

func (b *bridge) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeCommonLocked(ctx, op.Parent, op.Name,
		func(parentPath string) error {
			return b.fs.RmDir(ctx, parentPath, op.Name)
		})
}

func (b *bridge) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.removeCommonLocked(ctx, op.Parent, op.Name,
		func(parentPath string) error {
			return b.fs.Unlink(ctx, parentPath, op.Name)
		})
}

func (b *bridge) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	op.Handle, err = b.fs.OpenDir(ctx, path, op.Flags)
	return err
}

func (b *bridge) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	// Write side: emitting an entry may insert a fresh (parent, name)
	// mapping.
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	sink := &direntSink{
		bridge: b,
		dir:    op.Inode,
		parent: b.parentOfLocked(op.Inode),
		dst:    op.Dst,
	}

	err = b.fs.ReadDir(ctx, path, op.Handle, op.Offset, sink)
	op.BytesRead = sink.bytesWritten
	return err
}

func (b *bridge) ReadDirPlus(ctx context.Context, op *fuseops.ReadDirPlusOp) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	sink := &direntSink{
		bridge: b,
		dir:    op.Inode,
		parent: b.parentOfLocked(op.Inode),
		dst:    op.Dst,
		plus:   true,
	}

	err = b.fs.ReadDirPlus(ctx, path, op.Handle, op.Offset, sink)
	op.BytesRead = sink.bytesWritten
	return err
}

func (b *bridge) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return b.fs.ReleaseDirHandle(ctx, op.Handle)
}

func (b *bridge) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	op.Handle, err = b.fs.OpenFile(ctx, path, op.Flags)
	return err
}

func (b *bridge) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	op.BytesRead, err = b.fs.ReadFile(ctx, path, op.Handle, op.Offset, op.Dst)
	return err
}

func (b *bridge) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	return b.fs.WriteFile(ctx, path, op.Handle, op.Offset, op.Data)
}

func (b *bridge) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	return b.fs.SyncFile(ctx, path, op.Handle, op.Datasync)
}

func (b *bridge) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	return b.fs.FlushFile(ctx, path, op.Handle)
}

func (b *bridge) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return b.fs.ReleaseFileHandle(ctx, op.Handle)
}

func (b *bridge) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	op.Target, err = b.fs.ReadSymlink(ctx, path)
	return err
}

func (b *bridge) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	op.BytesRead, err = b.fs.GetXattr(ctx, path, op.Name, op.Dst)
	return err
}

func (b *bridge) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	op.BytesRead, err = b.fs.ListXattr(ctx, path, op.Dst)
	return err
}

func (b *bridge) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	return b.fs.SetXattr(ctx, path, op.Name, op.Value, op.Flags)
}

func (b *bridge) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	return b.fs.RemoveXattr(ctx, path, op.Name)
}

func (b *bridge) Access(ctx context.Context, op *fuseops.AccessOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	return b.fs.Access(ctx, path, op.Mask)
}

func (b *bridge) Poll(ctx context.Context, op *fuseops.PollOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	op.Revents, err = b.fs.Poll(ctx, path, op.Handle, op.Kh, op.Flags, op.Events)
	return err
}

func (b *bridge) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	return b.fs.Fallocate(ctx, path, op.Handle, op.Offset, op.Length, op.Mode)
}

func (b *bridge) Lseek(ctx context.Context, op *fuseops.LseekOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path, err := b.pathLocked(op.Inode)
	if err != nil {
		return err
	}

	op.Result, err = b.fs.Lseek(ctx, path, op.Handle, op.Offset, op.Whence)
	return err
}

func (b *bridge) CopyFileRange(ctx context.Context, op *fuseops.CopyFileRangeOp) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	srcPath, err := b.pathLocked(op.SrcInode)
	if err != nil {
		return err
	}

	dstPath, err := b.pathLocked(op.DstInode)
	if err != nil {
		return err
	}

	op.BytesCopied, err = b.fs.CopyFileRange(
		ctx,
		srcPath, op.SrcHandle, op.SrcOffset,
		dstPath, op.DstHandle, op.DstOffset,
		op.Size, op.Flags)
	return err
}

func (b *bridge) SyncDir(ctx context.Context, op *fuseops.SyncDirOp) error {
	// No path-flavored fsyncdir; syncing file data covers the common case
	// and directories have nothing else to flush here.
	return nil
}

// Block maps and POSIX locks are inherently inode/handle-centric; the
// path interface doesn't carry them.
func (b *bridge) Bmap(ctx context.Context, op *fuseops.BmapOp) error {
	return fuse.ENOSYS
}

func (b *bridge) GetLk(ctx context.Context, op *fuseops.GetLkOp) error {
	return fuse.ENOSYS
}

func (b *bridge) SetLk(ctx context.Context, op *fuseops.SetLkOp) error {
	return fuse.ENOSYS
}

func (b *bridge) Interrupt(ctx context.Context, op *fuseops.InterruptOp) error {
	return b.fs.Interrupt(ctx, op.FuseID)
}

func (b *bridge) Destroy() {
	b.fs.Destroy()
}

////////////////////////////////////////////////////////////////////////
// Dirent sink
////////////////////////////////////////////////////////////////////////

// direntSink packs entries into the kernel's reply buffer as the file
// system emits them, substituting inode numbers: the directory's own for
// ".", its recorded parent's for "..", and a looked-up-or-minted one for
// everything else.
type direntSink struct {
	bridge *bridge
	dir    fuseops.InodeID
	parent fuseops.InodeID
	dst    []byte
	plus   bool

	bytesWritten int
}

var _ DirentSink = &direntSink{}

func (s *direntSink) Add(e DirEntry) bool {
	var ino fuseops.InodeID
	switch e.Name {
	case ".":
		ino = s.dir
	case "..":
		ino = s.parent
	default:
		ino = s.bridge.ensureMappingLocked(s.dir, e.Name)
	}

	d := fuseutil.Dirent{
		Offset: e.Offset,
		Inode:  ino,
		Name:   e.Name,
		Type:   e.Type,
	}

	var n int
	if s.plus {
		entry := childEntry(ino, e.Entry)

		// Dot entries must not count as lookups; a zero node ID tells the
		// kernel so.
		if e.Name == "." || e.Name == ".." {
			entry = fuseops.ChildInodeEntry{}
		}

		n = fuseutil.WriteDirentPlus(s.dst[s.bytesWritten:], &entry, d)
	} else {
		n = fuseutil.WriteDirent(s.dst[s.bytesWritten:], d)
	}

	if n == 0 {
		return false
	}

	s.bytesWritten += n
	return true
}
