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

// Package memfs provides an in-memory file system kept entirely in
// process memory: a tree of directories, files, and symlinks with full
// create/rename/unlink support. Useful as an example and as a scratch
// file system in tests.
package memfs

import (
	"context"
	"fmt"
	"os"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/fuseutil"
)

type memFS struct {
	fuseutil.NotImplementedFileSystem

	// The UID and GID that every inode receives.
	uid uint32
	gid uint32

	clock timeutil.Clock

	// The collection of live inodes, indexed by ID. IDs of free inodes that
	// may be reused have nil entries.
	//
	// INVARIANT: inodes[0] == nil
	// INVARIANT: inodes[fuseops.RootInodeID] != nil
	// INVARIANT: inodes[fuseops.RootInodeID].isDir()
	//
	// GUARDED_BY(mu)
	inodes []*inode

	// A list of inode IDs within inodes available for reuse, not including
	// the reserved IDs less than fuseops.RootInodeID.
	//
	// INVARIANT: for each x in freeInodes: inodes[x] == nil
	//
	// GUARDED_BY(mu)
	freeInodes []fuseops.InodeID

	mu syncutil.InvariantMutex
}

// NewMemFS creates a file system that lives in memory, with a root
// directory owned by the given uid/gid.
func NewMemFS(
	uid uint32,
	gid uint32,
	clock timeutil.Clock) fuse.Server {
	fs := &memFS{
		uid:    uid,
		gid:    gid,
		clock:  clock,
		inodes: make([]*inode, fuseops.RootInodeID+1),
	}

	// Set up the root inode.
	rootAttrs := fuseops.InodeAttributes{
		Mode:  0700 | os.ModeDir,
		Nlink: 1,
		Uid:   uid,
		Gid:   gid,
	}

	fs.inodes[fuseops.RootInodeID] = newInode(clock, rootAttrs)

	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fuseutil.NewFileSystemServer(fs)
}

func (fs *memFS) checkInvariants() {
	// Check reserved inodes.
	for i := fuseops.InodeID(0); i < fuseops.RootInodeID; i++ {
		if fs.inodes[i] != nil {
			panic(fmt.Sprintf("non-nil reserved inode: %d", i))
		}
	}

	// Check the root.
	root := fs.inodes[fuseops.RootInodeID]
	if root == nil || !root.isDir() {
		panic("broken root inode")
	}

	// Check each free inode slot.
	for _, id := range fs.freeInodes {
		if fs.inodes[id] != nil {
			panic(fmt.Sprintf("free inode %d is still live", id))
		}
	}

	// Check each inode.
	for _, in := range fs.inodes {
		if in != nil {
			in.checkInvariants()
		}
	}
}

// getInodeOrDie returns the live inode for an ID the kernel has no
// business getting wrong.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *memFS) getInodeOrDie(id fuseops.InodeID) *inode {
	in := fs.inodes[id]
	if in == nil {
		panic(fmt.Sprintf("unknown inode: %d", id))
	}

	return in
}

// allocateInode mints an ID for a fresh inode with the supplied
// attributes.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *memFS) allocateInode(
	attrs fuseops.InodeAttributes) (fuseops.InodeID, *inode) {
	in := newInode(fs.clock, attrs)

	// Reuse a free slot when we can.
	if n := len(fs.freeInodes); n != 0 {
		id := fs.freeInodes[n-1]
		fs.freeInodes = fs.freeInodes[:n-1]
		fs.inodes[id] = in
		return id, in
	}

	fs.inodes = append(fs.inodes, in)
	return fuseops.InodeID(len(fs.inodes) - 1), in
}

// LOCKS_REQUIRED(fs.mu)
func (fs *memFS) deallocateInode(id fuseops.InodeID) {
	fs.freeInodes = append(fs.freeInodes, id)
	fs.inodes[id] = nil
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *memFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	return nil
}

func (fs *memFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	parent := fs.getInodeOrDie(op.Parent)

	childID, _, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuse.ENOENT
	}

	child := fs.getInodeOrDie(childID)

	op.Entry.Child = childID
	op.Entry.Attributes = child.attrs
	return nil
}

func (fs *memFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeOrDie(op.Inode)
	op.Attributes = in.attrs
	return nil
}

func (fs *memFS) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.getInodeOrDie(op.Inode)
	in.SetAttributes(op.Size, op.Mode, op.Mtime, fs.clock)

	op.Attributes = in.attrs
	return nil
}

func (fs *memFS) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.getInodeOrDie(op.Parent)

	if _, _, exists := parent.LookUpChild(op.Name); exists {
		return fuse.EEXIST
	}

	childAttrs := fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  op.Mode,
		Uid:   op.OpContext.Uid,
		Gid:   op.OpContext.Gid,
	}

	childID, child := fs.allocateInode(childAttrs)
	parent.AddChild(childID, op.Name, fuseutil.DT_Directory)

	op.Entry.Child = childID
	op.Entry.Attributes = child.attrs
	return nil
}

func (fs *memFS) MkNode(
	ctx context.Context,
	op *fuseops.MkNodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entry, err := fs.createFileLocked(op.Parent, op.Name, op.Mode)
	if err != nil {
		return err
	}

	op.Entry = entry
	return nil
}

// LOCKS_REQUIRED(fs.mu)
func (fs *memFS) createFileLocked(
	parentID fuseops.InodeID,
	name string,
	mode os.FileMode) (fuseops.ChildInodeEntry, error) {
	parent := fs.getInodeOrDie(parentID)

	if _, _, exists := parent.LookUpChild(name); exists {
		return fuseops.ChildInodeEntry{}, fuse.EEXIST
	}

	childAttrs := fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  mode,
	}

	childID, child := fs.allocateInode(childAttrs)
	parent.AddChild(childID, name, fuseutil.DT_File)

	return fuseops.ChildInodeEntry{
		Child:      childID,
		Attributes: child.attrs,
	}, nil
}

func (fs *memFS) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entry, err := fs.createFileLocked(op.Parent, op.Name, op.Mode)
	if err != nil {
		return err
	}

	op.Entry = entry
	return nil
}

func (fs *memFS) CreateSymlink(
	ctx context.Context,
	op *fuseops.CreateSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.getInodeOrDie(op.Parent)

	if _, _, exists := parent.LookUpChild(op.Name); exists {
		return fuse.EEXIST
	}

	childAttrs := fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0444 | os.ModeSymlink,
	}

	childID, child := fs.allocateInode(childAttrs)
	child.target = op.Target
	parent.AddChild(childID, op.Name, fuseutil.DT_Link)

	op.Entry.Child = childID
	op.Entry.Attributes = child.attrs
	return nil
}

func (fs *memFS) CreateLink(
	ctx context.Context,
	op *fuseops.CreateLinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.getInodeOrDie(op.Parent)

	if _, _, exists := parent.LookUpChild(op.Name); exists {
		return fuse.EEXIST
	}

	target := fs.getInodeOrDie(op.Target)
	target.attrs.Nlink++

	parent.AddChild(op.Target, op.Name, fuseutil.DT_File)

	op.Entry.Child = op.Target
	op.Entry.Attributes = target.attrs
	return nil
}

func (fs *memFS) Rename(
	ctx context.Context,
	op *fuseops.RenameOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParent := fs.getInodeOrDie(op.OldParent)
	childID, childType, ok := oldParent.LookUpChild(op.OldName)
	if !ok {
		return fuse.ENOENT
	}

	// An existing target is overwritten, as rename(2) promises.
	newParent := fs.getInodeOrDie(op.NewParent)
	existingID, _, exists := newParent.LookUpChild(op.NewName)
	if exists {
		existing := fs.getInodeOrDie(existingID)

		if existing.isDir() {
			if fs.getInodeOrDie(childID).isDir() {
				if existing.Len() != 0 {
					return fuse.ENOTEMPTY
				}
			} else {
				return fuse.EISDIR
			}
		}

		newParent.RemoveChild(op.NewName)
		existing.attrs.Nlink--
		if existing.attrs.Nlink == 0 {
			fs.deallocateInode(existingID)
		}
	}

	newParent.AddChild(childID, op.NewName, childType)
	oldParent.RemoveChild(op.OldName)
	return nil
}

func (fs *memFS) RmDir(
	ctx context.Context,
	op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.getInodeOrDie(op.Parent)

	childID, _, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuse.ENOENT
	}

	child := fs.getInodeOrDie(childID)
	if !child.isDir() {
		return fuse.ENOTDIR
	}

	if child.Len() != 0 {
		return fuse.ENOTEMPTY
	}

	parent.RemoveChild(op.Name)

	child.attrs.Nlink--
	if child.attrs.Nlink == 0 {
		fs.deallocateInode(childID)
	}

	return nil
}

func (fs *memFS) Unlink(
	ctx context.Context,
	op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.getInodeOrDie(op.Parent)

	childID, _, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuse.ENOENT
	}

	child := fs.getInodeOrDie(childID)
	if child.isDir() {
		return fuse.EISDIR
	}

	parent.RemoveChild(op.Name)

	child.attrs.Nlink--
	if child.attrs.Nlink == 0 {
		fs.deallocateInode(childID)
	}

	return nil
}

func (fs *memFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	// We don't mutate spontaneously, so any cached information the kernel
	// has is valid, and handles carry no state.
	in := fs.getInodeOrDie(op.Inode)
	if !in.isDir() {
		panic("found non-dir in OpenDir")
	}

	return nil
}

func (fs *memFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeOrDie(op.Inode)
	op.BytesRead = in.ReadDir(op.Dst, int(op.Offset))
	return nil
}

func (fs *memFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeOrDie(op.Inode)
	if !in.isFile() {
		panic("found non-file in OpenFile")
	}

	return nil
}

func (fs *memFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeOrDie(op.Inode)
	op.BytesRead = in.ReadAt(op.Dst, op.Offset)
	return nil
}

func (fs *memFS) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.getInodeOrDie(op.Inode)
	in.WriteAt(op.Data, op.Offset, fs.clock)
	return nil
}

func (fs *memFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *memFS) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *memFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *memFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *memFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *memFS) BatchForget(
	ctx context.Context,
	op *fuseops.BatchForgetOp) error {
	return nil
}

func (fs *memFS) ReadSymlink(
	ctx context.Context,
	op *fuseops.ReadSymlinkOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeOrDie(op.Inode)
	op.Target = in.target
	return nil
}

func (fs *memFS) GetXattr(
	ctx context.Context,
	op *fuseops.GetXattrOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeOrDie(op.Inode)

	value, ok := in.xattrs[op.Name]
	if !ok {
		return fuse.ENODATA
	}

	op.BytesRead = len(value)
	if len(op.Dst) != 0 {
		if len(op.Dst) < len(value) {
			return fuse.ERANGE
		}
		copy(op.Dst, value)
	}

	return nil
}

func (fs *memFS) ListXattr(
	ctx context.Context,
	op *fuseops.ListXattrOp) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	in := fs.getInodeOrDie(op.Inode)

	dst := op.Dst
	for name := range in.xattrs {
		// Each name is NUL-terminated in the listing.
		op.BytesRead += len(name) + 1

		if len(op.Dst) != 0 {
			if len(dst) < len(name)+1 {
				return fuse.ERANGE
			}

			n := copy(dst, name)
			dst[n] = 0
			dst = dst[n+1:]
		}
	}

	return nil
}

func (fs *memFS) SetXattr(
	ctx context.Context,
	op *fuseops.SetXattrOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.getInodeOrDie(op.Inode)

	_, exists := in.xattrs[op.Name]
	switch op.Flags {
	case 0x1: // XATTR_CREATE
		if exists {
			return fuse.EEXIST
		}
	case 0x2: // XATTR_REPLACE
		if !exists {
			return fuse.ENODATA
		}
	}

	value := make([]byte, len(op.Value))
	copy(value, op.Value)
	in.xattrs[op.Name] = value
	return nil
}

func (fs *memFS) RemoveXattr(
	ctx context.Context,
	op *fuseops.RemoveXattrOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.getInodeOrDie(op.Inode)

	if _, ok := in.xattrs[op.Name]; !ok {
		return fuse.ENODATA
	}

	delete(in.xattrs, op.Name)
	return nil
}

func (fs *memFS) Fallocate(
	ctx context.Context,
	op *fuseops.FallocateOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in := fs.getInodeOrDie(op.Inode)
	if err := in.Fallocate(op.Mode, op.Offset, op.Length); err != nil {
		return fuse.ENOSYS
	}

	return nil
}
