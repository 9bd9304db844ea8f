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

//go:build linux

// Package pathloopbackfs mirrors a directory of the underlying file
// system through the path-based interface: every operation is forwarded
// to the real directory tree rooted at a given path. It exists mostly as
// a demonstration of the pathfs package, since it needs no inode
// bookkeeping of its own.
package pathloopbackfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	fallocate "github.com/detailyang/go-fallocate"
	"golang.org/x/sys/unix"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/fuseutil"
	"github.com/fusekit/fuse/pathfs"
)

// NewPathLoopbackFS mirrors the tree rooted at realRoot.
func NewPathLoopbackFS(realRoot string) fuse.Server {
	fs := &loopbackFS{
		root:    realRoot,
		handles: make(map[fuseops.HandleID]*os.File),
	}

	return pathfs.NewServer(fs)
}

type loopbackFS struct {
	pathfs.NotImplementedFileSystem

	root string

	mu         sync.Mutex
	nextHandle fuseops.HandleID
	handles    map[fuseops.HandleID]*os.File // GUARDED_BY(mu)
}

// real maps a mount-relative absolute path to the underlying tree.
func (fs *loopbackFS) real(path string) string {
	return filepath.Join(fs.root, path)
}

func (fs *loopbackFS) addHandle(f *os.File) fuseops.HandleID {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.nextHandle++
	h := fs.nextHandle
	fs.handles[h] = f
	return h
}

func (fs *loopbackFS) getHandle(h fuseops.HandleID) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.handles[h]
	if !ok {
		return nil, fuse.EIO
	}

	return f, nil
}

func (fs *loopbackFS) dropHandle(h fuseops.HandleID) *os.File {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f := fs.handles[h]
	delete(fs.handles, h)
	return f
}

// attributesFromStat converts what lstat reports.
func attributesFromStat(st *syscall.Stat_t) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(st.Size),
		Nlink: uint32(st.Nlink),
		Mode:  fuseops.ConvertFileMode(uint32(st.Mode)),
		Atime: time.Unix(st.Atim.Sec, st.Atim.Nsec),
		Mtime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		Ctime: time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		Uid:   st.Uid,
		Gid:   st.Gid,
		Rdev:  uint32(st.Rdev),
	}
}

func statEntry(realPath string) (pathfs.EntryInfo, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(realPath, &st); err != nil {
		return pathfs.EntryInfo{}, asErrno(err)
	}

	return pathfs.EntryInfo{
		Attributes: attributesFromStat(&st),
	}, nil
}

func direntTypeFromMode(m os.FileMode) fuseutil.DirentType {
	switch {
	case m.IsDir():
		return fuseutil.DT_Directory
	case m&os.ModeSymlink != 0:
		return fuseutil.DT_Link
	case m.IsRegular():
		return fuseutil.DT_File
	default:
		return fuseutil.DT_Unknown
	}
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *loopbackFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.root, &st); err != nil {
		return err
	}

	op.BlockSize = uint32(st.Bsize)
	op.IoSize = uint32(st.Bsize)
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.Inodes = st.Files
	op.InodesFree = st.Ffree
	return nil
}

func (fs *loopbackFS) Lookup(
	ctx context.Context,
	parent string,
	name string) (pathfs.EntryInfo, error) {
	return statEntry(fs.real(filepath.Join(parent, name)))
}

func (fs *loopbackFS) GetAttr(
	ctx context.Context,
	path string,
	handle *fuseops.HandleID) (pathfs.AttrInfo, error) {
	info, err := statEntry(fs.real(path))
	if err != nil {
		return pathfs.AttrInfo{}, err
	}

	return pathfs.AttrInfo{Attributes: info.Attributes}, nil
}

func (fs *loopbackFS) SetAttr(
	ctx context.Context,
	path string,
	req *pathfs.SetAttrRequest) (pathfs.AttrInfo, error) {
	realPath := fs.real(path)

	if req.Size != nil {
		if err := os.Truncate(realPath, int64(*req.Size)); err != nil {
			return pathfs.AttrInfo{}, asErrno(err)
		}
	}

	if req.Mode != nil {
		if err := os.Chmod(realPath, *req.Mode); err != nil {
			return pathfs.AttrInfo{}, asErrno(err)
		}
	}

	if req.Uid != nil || req.Gid != nil {
		uid, gid := -1, -1
		if req.Uid != nil {
			uid = int(*req.Uid)
		}
		if req.Gid != nil {
			gid = int(*req.Gid)
		}

		if err := os.Lchown(realPath, uid, gid); err != nil {
			return pathfs.AttrInfo{}, asErrno(err)
		}
	}

	if req.Atime != nil || req.Mtime != nil {
		now := time.Now()
		atime, mtime := now, now
		if req.Atime != nil {
			atime = *req.Atime
		}
		if req.Mtime != nil {
			mtime = *req.Mtime
		}

		if err := os.Chtimes(realPath, atime, mtime); err != nil {
			return pathfs.AttrInfo{}, asErrno(err)
		}
	}

	info, err := statEntry(realPath)
	if err != nil {
		return pathfs.AttrInfo{}, err
	}

	return pathfs.AttrInfo{Attributes: info.Attributes}, nil
}

func (fs *loopbackFS) MkDir(
	ctx context.Context,
	parent string,
	name string,
	mode os.FileMode) (pathfs.EntryInfo, error) {
	realPath := fs.real(filepath.Join(parent, name))
	if err := os.Mkdir(realPath, mode); err != nil {
		return pathfs.EntryInfo{}, asErrno(err)
	}

	return statEntry(realPath)
}

func (fs *loopbackFS) MkNode(
	ctx context.Context,
	parent string,
	name string,
	mode os.FileMode,
	rdev uint32) (pathfs.EntryInfo, error) {
	realPath := fs.real(filepath.Join(parent, name))
	if err := unix.Mknod(realPath, fuseops.ConvertGoMode(mode), int(rdev)); err != nil {
		return pathfs.EntryInfo{}, err
	}

	return statEntry(realPath)
}

func (fs *loopbackFS) CreateFile(
	ctx context.Context,
	parent string,
	name string,
	mode os.FileMode,
	flags uint32) (pathfs.EntryInfo, fuseops.HandleID, error) {
	realPath := fs.real(filepath.Join(parent, name))

	f, err := os.OpenFile(realPath, int(flags)|os.O_CREATE, mode)
	if err != nil {
		return pathfs.EntryInfo{}, 0, asErrno(err)
	}

	info, err := statEntry(realPath)
	if err != nil {
		f.Close()
		return pathfs.EntryInfo{}, 0, err
	}

	return info, fs.addHandle(f), nil
}

func (fs *loopbackFS) CreateSymlink(
	ctx context.Context,
	parent string,
	name string,
	target string) (pathfs.EntryInfo, error) {
	realPath := fs.real(filepath.Join(parent, name))
	if err := os.Symlink(target, realPath); err != nil {
		return pathfs.EntryInfo{}, asErrno(err)
	}

	return statEntry(realPath)
}

func (fs *loopbackFS) CreateLink(
	ctx context.Context,
	parent string,
	name string,
	target string) (pathfs.EntryInfo, error) {
	realPath := fs.real(filepath.Join(parent, name))
	if err := os.Link(fs.real(target), realPath); err != nil {
		return pathfs.EntryInfo{}, asErrno(err)
	}

	return statEntry(realPath)
}

func (fs *loopbackFS) Rename(
	ctx context.Context,
	oldParent string,
	oldName string,
	newParent string,
	newName string,
	flags uint32) error {
	oldPath := fs.real(filepath.Join(oldParent, oldName))
	newPath := fs.real(filepath.Join(newParent, newName))

	if flags != 0 {
		return unix.Renameat2(
			unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, uint(flags))
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		return asErrno(err)
	}

	return nil
}

func (fs *loopbackFS) RmDir(
	ctx context.Context,
	parent string,
	name string) error {
	if err := unix.Rmdir(fs.real(filepath.Join(parent, name))); err != nil {
		return err
	}

	return nil
}

func (fs *loopbackFS) Unlink(
	ctx context.Context,
	parent string,
	name string) error {
	if err := unix.Unlink(fs.real(filepath.Join(parent, name))); err != nil {
		return err
	}

	return nil
}

func (fs *loopbackFS) OpenDir(
	ctx context.Context,
	path string,
	flags uint32) (fuseops.HandleID, error) {
	f, err := os.Open(fs.real(path))
	if err != nil {
		return 0, asErrno(err)
	}

	return fs.addHandle(f), nil
}

func (fs *loopbackFS) ReadDir(
	ctx context.Context,
	path string,
	handle fuseops.HandleID,
	offset fuseops.DirOffset,
	sink pathfs.DirentSink) error {
	entries, err := os.ReadDir(fs.real(path))
	if err != nil {
		return asErrno(err)
	}

	for i := int(offset); i < len(entries); i++ {
		e := entries[i]
		ok := sink.Add(pathfs.DirEntry{
			Offset: fuseops.DirOffset(i + 1),
			Name:   e.Name(),
			Type:   direntTypeFromMode(e.Type()),
		})
		if !ok {
			break
		}
	}

	return nil
}

func (fs *loopbackFS) ReadDirPlus(
	ctx context.Context,
	path string,
	handle fuseops.HandleID,
	offset fuseops.DirOffset,
	sink pathfs.DirentSink) error {
	entries, err := os.ReadDir(fs.real(path))
	if err != nil {
		return asErrno(err)
	}

	for i := int(offset); i < len(entries); i++ {
		e := entries[i]

		info, err := statEntry(fs.real(filepath.Join(path, e.Name())))
		if err != nil {
			continue
		}

		ok := sink.Add(pathfs.DirEntry{
			Offset: fuseops.DirOffset(i + 1),
			Name:   e.Name(),
			Type:   direntTypeFromMode(e.Type()),
			Entry:  info,
		})
		if !ok {
			break
		}
	}

	return nil
}

func (fs *loopbackFS) ReleaseDirHandle(
	ctx context.Context,
	handle fuseops.HandleID) error {
	if f := fs.dropHandle(handle); f != nil {
		f.Close()
	}

	return nil
}

func (fs *loopbackFS) OpenFile(
	ctx context.Context,
	path string,
	flags uint32) (fuseops.HandleID, error) {
	f, err := os.OpenFile(fs.real(path), int(flags), 0)
	if err != nil {
		return 0, asErrno(err)
	}

	return fs.addHandle(f), nil
}

func (fs *loopbackFS) ReadFile(
	ctx context.Context,
	path string,
	handle fuseops.HandleID,
	offset int64,
	dst []byte) (int, error) {
	f, err := fs.getHandle(handle)
	if err != nil {
		return 0, err
	}

	n, err := f.ReadAt(dst, offset)
	if err == io.EOF {
		err = nil
	}

	return n, err
}

func (fs *loopbackFS) WriteFile(
	ctx context.Context,
	path string,
	handle fuseops.HandleID,
	offset int64,
	data []byte) error {
	f, err := fs.getHandle(handle)
	if err != nil {
		return err
	}

	_, err = f.WriteAt(data, offset)
	return asErrno(err)
}

func (fs *loopbackFS) SyncFile(
	ctx context.Context,
	path string,
	handle fuseops.HandleID,
	datasync bool) error {
	f, err := fs.getHandle(handle)
	if err != nil {
		return err
	}

	return asErrno(f.Sync())
}

func (fs *loopbackFS) FlushFile(
	ctx context.Context,
	path string,
	handle fuseops.HandleID) error {
	return nil
}

func (fs *loopbackFS) ReleaseFileHandle(
	ctx context.Context,
	handle fuseops.HandleID) error {
	if f := fs.dropHandle(handle); f != nil {
		f.Close()
	}

	return nil
}

func (fs *loopbackFS) ReadSymlink(
	ctx context.Context,
	path string) (string, error) {
	target, err := os.Readlink(fs.real(path))
	return target, asErrno(err)
}

func (fs *loopbackFS) GetXattr(
	ctx context.Context,
	path string,
	name string,
	dst []byte) (int, error) {
	n, err := unix.Lgetxattr(fs.real(path), name, dst)
	if err != nil {
		return 0, err
	}

	return n, nil
}

func (fs *loopbackFS) ListXattr(
	ctx context.Context,
	path string,
	dst []byte) (int, error) {
	n, err := unix.Llistxattr(fs.real(path), dst)
	if err != nil {
		return 0, err
	}

	return n, nil
}

func (fs *loopbackFS) SetXattr(
	ctx context.Context,
	path string,
	name string,
	value []byte,
	flags uint32) error {
	return unix.Lsetxattr(fs.real(path), name, value, int(flags))
}

func (fs *loopbackFS) RemoveXattr(
	ctx context.Context,
	path string,
	name string) error {
	return unix.Lremovexattr(fs.real(path), name)
}

func (fs *loopbackFS) Access(
	ctx context.Context,
	path string,
	mask uint32) error {
	return unix.Access(fs.real(path), mask)
}

func (fs *loopbackFS) Fallocate(
	ctx context.Context,
	path string,
	handle fuseops.HandleID,
	offset uint64,
	length uint64,
	mode uint32) error {
	f, err := fs.getHandle(handle)
	if err != nil {
		return err
	}

	if mode != 0 {
		return unix.Fallocate(int(f.Fd()), mode, int64(offset), int64(length))
	}

	return asErrno(fallocate.Fallocate(f, int64(offset), int64(length)))
}

func (fs *loopbackFS) Lseek(
	ctx context.Context,
	path string,
	handle fuseops.HandleID,
	offset uint64,
	whence uint32) (uint64, error) {
	f, err := fs.getHandle(handle)
	if err != nil {
		return 0, err
	}

	n, err := unix.Seek(int(f.Fd()), int64(offset), int(whence))
	if err != nil {
		return 0, err
	}

	return uint64(n), nil
}

func (fs *loopbackFS) CopyFileRange(
	ctx context.Context,
	srcPath string,
	srcHandle fuseops.HandleID,
	srcOffset uint64,
	dstPath string,
	dstHandle fuseops.HandleID,
	dstOffset uint64,
	size uint64,
	flags uint64) (int, error) {
	src, err := fs.getHandle(srcHandle)
	if err != nil {
		return 0, err
	}

	dst, err := fs.getHandle(dstHandle)
	if err != nil {
		return 0, err
	}

	srcOff := int64(srcOffset)
	dstOff := int64(dstOffset)
	n, err := unix.CopyFileRange(
		int(src.Fd()), &srcOff, int(dst.Fd()), &dstOff, int(size), int(flags))
	if err != nil {
		return 0, err
	}

	return n, nil
}

func (fs *loopbackFS) Destroy() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, f := range fs.handles {
		f.Close()
	}
	fs.handles = make(map[fuseops.HandleID]*os.File)
}

// asErrno strips the os-package wrapping so only an errno crosses the
// reply boundary.
func asErrno(err error) error {
	if err == nil {
		return nil
	}

	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	if le, ok := err.(*os.LinkError); ok {
		return le.Err
	}
	if se, ok := err.(*os.SyscallError); ok {
		return se.Err
	}

	return err
}
