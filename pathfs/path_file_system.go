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

// Package pathfs presents a file system author with paths instead of inode
// numbers. A bridge maintains the bidirectional mapping between the inode
// namespace the kernel sees and the absolute paths the file system sees,
// allocating inode numbers as names are discovered and recycling them as
// the kernel forgets them.
package pathfs

import (
	"context"
	"os"
	"time"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/fuseutil"
)

// EntryInfo is what a path-based file system reports for a name it has
// resolved or created: attributes and cache lifetimes. The bridge supplies
// the inode number.
type EntryInfo struct {
	Attributes           fuseops.InodeAttributes
	AttributesExpiration time.Time
	EntryExpiration      time.Time
}

// AttrInfo is what a path-based file system reports for attribute reads
// and writes.
type AttrInfo struct {
	Attributes           fuseops.InodeAttributes
	AttributesExpiration time.Time
}

// SetAttrRequest carries the optional-per-field attribute changes of a
// setattr. Nil means "leave this field alone".
type SetAttrRequest struct {
	Handle *fuseops.HandleID

	Size  *uint64
	Mode  *os.FileMode
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time
}

// DirEntry is one directory entry emitted through a DirentSink. For
// readdirplus listings, Entry must be filled for every name other than
// "." and "..".
type DirEntry struct {
	// The offset of the entry following this one, quoted back by the
	// kernel to resume the listing.
	Offset fuseops.DirOffset

	Name string
	Type fuseutil.DirentType

	// Attribute information, consumed only by readdirplus.
	Entry EntryInfo
}

// A DirentSink receives directory entries lazily from ReadDir and
// ReadDirPlus implementations.
type DirentSink interface {
	// Add emits one entry. It returns false when the kernel's size budget
	// is exhausted, after which the caller should stop emitting; the
	// rejected entry is not recorded and will be asked for again at its
	// offset.
	Add(e DirEntry) bool
}

// FileSystem is the path-flavored capability interface. Each method
// receives absolute paths (or a parent path plus a name) where the inode
// interface receives inode numbers. Methods that are not supported should
// return ENOSYS.
//
// See NotImplementedFileSystem for a convenient way to embed default
// implementations for methods you don't care about.
type FileSystem interface {
	Init(ctx context.Context, op *fuseops.InitOp) error
	StatFS(ctx context.Context, op *fuseops.StatFSOp) error

	Lookup(ctx context.Context, parent string, name string) (EntryInfo, error)
	GetAttr(ctx context.Context, path string, handle *fuseops.HandleID) (AttrInfo, error)
	SetAttr(ctx context.Context, path string, req *SetAttrRequest) (AttrInfo, error)

	MkDir(ctx context.Context, parent string, name string, mode os.FileMode) (EntryInfo, error)
	MkNode(ctx context.Context, parent string, name string, mode os.FileMode, rdev uint32) (EntryInfo, error)
	CreateFile(ctx context.Context, parent string, name string, mode os.FileMode, flags uint32) (EntryInfo, fuseops.HandleID, error)
	CreateSymlink(ctx context.Context, parent string, name string, target string) (EntryInfo, error)
	CreateLink(ctx context.Context, parent string, name string, target string) (EntryInfo, error)

	Rename(ctx context.Context, oldParent string, oldName string, newParent string, newName string, flags uint32) error
	RmDir(ctx context.Context, parent string, name string) error
	Unlink(ctx context.Context, parent string, name string) error

	OpenDir(ctx context.Context, path string, flags uint32) (fuseops.HandleID, error)
	ReadDir(ctx context.Context, path string, handle fuseops.HandleID, offset fuseops.DirOffset, sink DirentSink) error
	ReadDirPlus(ctx context.Context, path string, handle fuseops.HandleID, offset fuseops.DirOffset, sink DirentSink) error
	ReleaseDirHandle(ctx context.Context, handle fuseops.HandleID) error

	OpenFile(ctx context.Context, path string, flags uint32) (fuseops.HandleID, error)
	ReadFile(ctx context.Context, path string, handle fuseops.HandleID, offset int64, dst []byte) (int, error)
	WriteFile(ctx context.Context, path string, handle fuseops.HandleID, offset int64, data []byte) error
	SyncFile(ctx context.Context, path string, handle fuseops.HandleID, datasync bool) error
	FlushFile(ctx context.Context, path string, handle fuseops.HandleID) error
	ReleaseFileHandle(ctx context.Context, handle fuseops.HandleID) error

	ReadSymlink(ctx context.Context, path string) (string, error)

	GetXattr(ctx context.Context, path string, name string, dst []byte) (int, error)
	ListXattr(ctx context.Context, path string, dst []byte) (int, error)
	SetXattr(ctx context.Context, path string, name string, value []byte, flags uint32) error
	RemoveXattr(ctx context.Context, path string, name string) error

	Access(ctx context.Context, path string, mask uint32) error
	Poll(ctx context.Context, path string, handle fuseops.HandleID, kh uint64, flags uint32, events uint32) (revents uint32, err error)
	Fallocate(ctx context.Context, path string, handle fuseops.HandleID, offset uint64, length uint64, mode uint32) error
	Lseek(ctx context.Context, path string, handle fuseops.HandleID, offset uint64, whence uint32) (uint64, error)
	CopyFileRange(ctx context.Context, srcPath string, srcHandle fuseops.HandleID, srcOffset uint64, dstPath string, dstHandle fuseops.HandleID, dstOffset uint64, size uint64, flags uint64) (int, error)

	// Advisory, as in fuseutil.FileSystem.
	Interrupt(ctx context.Context, fuseID uint64) error

	Destroy()
}

// NotImplementedFileSystem embeds default implementations that return
// ENOSYS for every method of FileSystem, except the lifecycle hooks and
// Interrupt, which succeed trivially.
type NotImplementedFileSystem struct {
}

var _ FileSystem = &NotImplementedFileSystem{}

func (fs *NotImplementedFileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *NotImplementedFileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) Lookup(ctx context.Context, parent string, name string) (EntryInfo, error) {
	return EntryInfo{}, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) GetAttr(ctx context.Context, path string, handle *fuseops.HandleID) (AttrInfo, error) {
	return AttrInfo{}, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) SetAttr(ctx context.Context, path string, req *SetAttrRequest) (AttrInfo, error) {
	return AttrInfo{}, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) MkDir(ctx context.Context, parent string, name string, mode os.FileMode) (EntryInfo, error) {
	return EntryInfo{}, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) MkNode(ctx context.Context, parent string, name string, mode os.FileMode, rdev uint32) (EntryInfo, error) {
	return EntryInfo{}, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) CreateFile(ctx context.Context, parent string, name string, mode os.FileMode, flags uint32) (EntryInfo, fuseops.HandleID, error) {
	return EntryInfo{}, 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) CreateSymlink(ctx context.Context, parent string, name string, target string) (EntryInfo, error) {
	return EntryInfo{}, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) CreateLink(ctx context.Context, parent string, name string, target string) (EntryInfo, error) {
	return EntryInfo{}, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) Rename(ctx context.Context, oldParent string, oldName string, newParent string, newName string, flags uint32) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) RmDir(ctx context.Context, parent string, name string) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) Unlink(ctx context.Context, parent string, name string) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) OpenDir(ctx context.Context, path string, flags uint32) (fuseops.HandleID, error) {
	return 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) ReadDir(ctx context.Context, path string, handle fuseops.HandleID, offset fuseops.DirOffset, sink DirentSink) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) ReadDirPlus(ctx context.Context, path string, handle fuseops.HandleID, offset fuseops.DirOffset, sink DirentSink) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) ReleaseDirHandle(ctx context.Context, handle fuseops.HandleID) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) OpenFile(ctx context.Context, path string, flags uint32) (fuseops.HandleID, error) {
	return 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) ReadFile(ctx context.Context, path string, handle fuseops.HandleID, offset int64, dst []byte) (int, error) {
	return 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) WriteFile(ctx context.Context, path string, handle fuseops.HandleID, offset int64, data []byte) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) SyncFile(ctx context.Context, path string, handle fuseops.HandleID, datasync bool) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) FlushFile(ctx context.Context, path string, handle fuseops.HandleID) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) ReleaseFileHandle(ctx context.Context, handle fuseops.HandleID) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) ReadSymlink(ctx context.Context, path string) (string, error) {
	return "", fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) GetXattr(ctx context.Context, path string, name string, dst []byte) (int, error) {
	return 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) ListXattr(ctx context.Context, path string, dst []byte) (int, error) {
	return 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) SetXattr(ctx context.Context, path string, name string, value []byte, flags uint32) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) RemoveXattr(ctx context.Context, path string, name string) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) Access(ctx context.Context, path string, mask uint32) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) Poll(ctx context.Context, path string, handle fuseops.HandleID, kh uint64, flags uint32, events uint32) (uint32, error) {
	return 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) Fallocate(ctx context.Context, path string, handle fuseops.HandleID, offset uint64, length uint64, mode uint32) error {
	return fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) Lseek(ctx context.Context, path string, handle fuseops.HandleID, offset uint64, whence uint32) (uint64, error) {
	return 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) CopyFileRange(ctx context.Context, srcPath string, srcHandle fuseops.HandleID, srcOffset uint64, dstPath string, dstHandle fuseops.HandleID, dstOffset uint64, size uint64, flags uint64) (int, error) {
	return 0, fuse.ENOSYS
}

func (fs *NotImplementedFileSystem) Interrupt(ctx context.Context, fuseID uint64) error {
	return nil
}

func (fs *NotImplementedFileSystem) Destroy() {
}
