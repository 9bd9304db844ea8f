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

package memfs

import (
	"fmt"
	"os"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/fuseutil"
)

// inode is a file, directory, or symlink within the tree. Its
// synchronization is the file system's: all access goes through the
// fs-wide lock.
type inode struct {
	// The current attributes of this inode.
	//
	// INVARIANT: attrs.Mode &^ (os.ModePerm|os.ModeDir|os.ModeSymlink|
	// os.ModeNamedPipe|os.ModeSocket|os.ModeDevice|os.ModeCharDevice) == 0
	// INVARIANT: !(isDir() && isSymlink())
	// INVARIANT: attrs.Size == len(contents)
	attrs fuseops.InodeAttributes

	// For directories, entries describing the children of the directory.
	// Unused entries are of type DT_Unknown.
	//
	// This array can never be shortened, nor can its elements be moved,
	// because we use its indices for Dirent.Offset, which is exposed to the
	// user who might be calling readdir in a loop while concurrently
	// modifying the directory. Unused entries can, however, be reused.
	//
	// INVARIANT: If !isDir(), this is nil
	entries []fuseutil.Dirent

	// For files, the current contents of the file.
	//
	// INVARIANT: If !isFile(), this is nil
	contents []byte

	// For symlinks, the target of the symlink.
	//
	// INVARIANT: If !isSymlink(), this is ""
	target string

	// extended attributes
	xattrs map[string][]byte
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func newInode(
	clock timeutil.Clock,
	attrs fuseops.InodeAttributes) *inode {
	now := clock.Now()
	attrs.Mtime = now
	attrs.Crtime = now

	return &inode{
		attrs:  attrs,
		xattrs: make(map[string][]byte),
	}
}

func (in *inode) checkInvariants() {
	// No non-permission mode bits beyond the type.
	if in.attrs.Mode&^(os.ModePerm|os.ModeDir|os.ModeSymlink|os.ModeNamedPipe|os.ModeSocket|os.ModeDevice|os.ModeCharDevice) != 0 {
		panic(fmt.Sprintf("unexpected mode: %v", in.attrs.Mode))
	}

	if in.isDir() && in.isSymlink() {
		panic("inode is both directory and symlink")
	}

	if !in.isDir() && in.entries != nil {
		panic("non-directory with entries")
	}

	if !in.isFile() && in.contents != nil {
		panic("non-file with contents")
	}

	if !in.isSymlink() && in.target != "" {
		panic("non-symlink with target")
	}

	if in.isFile() && in.attrs.Size != uint64(len(in.contents)) {
		panic(fmt.Sprintf(
			"size mismatch: %d vs. %d", in.attrs.Size, len(in.contents)))
	}
}

func (in *inode) isDir() bool {
	return in.attrs.Mode&os.ModeDir != 0
}

func (in *inode) isSymlink() bool {
	return in.attrs.Mode&os.ModeSymlink != 0
}

func (in *inode) isFile() bool {
	return !(in.isDir() || in.isSymlink())
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

// LookUpChild finds an entry for the given child name and returns its
// inode ID.
//
// REQUIRES: in.isDir()
func (in *inode) LookUpChild(name string) (
	id fuseops.InodeID,
	typ fuseutil.DirentType,
	ok bool) {
	index, ok := in.findChild(name)
	if ok {
		id = in.entries[index].Inode
		typ = in.entries[index].Type
	}

	return id, typ, ok
}

// REQUIRES: in.isDir()
func (in *inode) findChild(name string) (i int, ok bool) {
	if !in.isDir() {
		panic("findChild called on non-directory")
	}

	var e fuseutil.Dirent
	for i, e = range in.entries {
		if e.Name == name && e.Type != fuseutil.DT_Unknown {
			return i, true
		}
	}

	return 0, false
}

// Len returns the number of children of the directory.
//
// REQUIRES: in.isDir()
func (in *inode) Len() int {
	var n int
	for _, e := range in.entries {
		if e.Type != fuseutil.DT_Unknown {
			n++
		}
	}

	return n
}

// AddChild adds a child to the directory, overwriting nothing.
//
// REQUIRES: in.isDir()
// REQUIRES: the name doesn't already exist
func (in *inode) AddChild(
	id fuseops.InodeID,
	name string,
	typ fuseutil.DirentType) {
	var index int

	// The mtime of the directory changes when its entries do.
	in.attrs.Mtime = time.Now()

	// No matter where we place the entry, make sure it has the correct
	// Offset field.
	defer func() {
		in.entries[index].Offset = fuseops.DirOffset(index + 1)
	}()

	// Is there a free slot to reuse?
	for index = range in.entries {
		if in.entries[index].Type == fuseutil.DT_Unknown {
			in.entries[index] = fuseutil.Dirent{
				Inode: id,
				Name:  name,
				Type:  typ,
			}
			return
		}
	}

	// Append a new entry.
	index = len(in.entries)
	in.entries = append(in.entries, fuseutil.Dirent{
		Inode: id,
		Name:  name,
		Type:  typ,
	})
}

// RemoveChild removes an entry for a child, panicking if it is missing.
//
// REQUIRES: in.isDir()
func (in *inode) RemoveChild(name string) {
	in.attrs.Mtime = time.Now()

	index, ok := in.findChild(name)
	if !ok {
		panic(fmt.Sprintf("unknown child: %s", name))
	}

	// Mark the entry as unused, leaving its slot in place so offsets stay
	// stable.
	in.entries[index] = fuseutil.Dirent{
		Type:   fuseutil.DT_Unknown,
		Offset: fuseops.DirOffset(index + 1),
	}
}

// ReadDir serializes directory entries beginning at the given offset into
// the supplied buffer, returning the number of bytes written.
//
// REQUIRES: in.isDir()
func (in *inode) ReadDir(buf []byte, offset int) int {
	if !in.isDir() {
		panic("ReadDir called on non-directory")
	}

	var n int
	for i := offset; i < len(in.entries); i++ {
		e := in.entries[i]

		// Skip holes left by removed children.
		if e.Type == fuseutil.DT_Unknown {
			continue
		}

		written := fuseutil.WriteDirent(buf[n:], e)
		if written == 0 {
			break
		}

		n += written
	}

	return n
}

////////////////////////////////////////////////////////////////////////
// Files
////////////////////////////////////////////////////////////////////////

// ReadAt reads from the file's contents, returning io.EOF-free counts the
// way FUSE wants them.
//
// REQUIRES: in.isFile()
func (in *inode) ReadAt(p []byte, off int64) int {
	if !in.isFile() {
		panic("ReadAt called on non-file")
	}

	if off >= int64(len(in.contents)) {
		return 0
	}

	return copy(p, in.contents[off:])
}

// WriteAt writes to the file's contents, extending them if necessary.
//
// REQUIRES: in.isFile()
func (in *inode) WriteAt(p []byte, off int64, clock timeutil.Clock) int {
	if !in.isFile() {
		panic("WriteAt called on non-file")
	}

	in.attrs.Mtime = clock.Now()

	// Ensure that the contents slice is long enough.
	newLen := int(off) + len(p)
	if len(in.contents) < newLen {
		padding := make([]byte, newLen-len(in.contents))
		in.contents = append(in.contents, padding...)
		in.attrs.Size = uint64(newLen)
	}

	n := copy(in.contents[off:], p)
	if n != len(p) {
		panic(fmt.Sprintf("short copy: %d vs. %d", n, len(p)))
	}

	return n
}

// SetAttributes applies the non-nil fields.
func (in *inode) SetAttributes(
	size *uint64,
	mode *os.FileMode,
	mtime *time.Time,
	clock timeutil.Clock) {
	in.attrs.Ctime = clock.Now()

	if size != nil {
		intSize := int(*size)

		// Truncate or extend.
		if intSize <= len(in.contents) {
			in.contents = in.contents[:intSize]
		} else {
			padding := make([]byte, intSize-len(in.contents))
			in.contents = append(in.contents, padding...)
		}

		in.attrs.Size = *size
	}

	if mode != nil {
		in.attrs.Mode = (in.attrs.Mode &^ os.ModePerm) | (*mode & os.ModePerm)
	}

	if mtime != nil {
		in.attrs.Mtime = *mtime
	}
}

// Fallocate grows the file to at least offset+length when mode is zero,
// mirroring posix_fallocate.
//
// REQUIRES: in.isFile()
func (in *inode) Fallocate(mode uint32, offset uint64, length uint64) error {
	if mode != 0 {
		return fmt.Errorf("unsupported fallocate mode: %d", mode)
	}

	newLen := int(offset + length)
	if len(in.contents) < newLen {
		padding := make([]byte, newLen-len(in.contents))
		in.contents = append(in.contents, padding...)
		in.attrs.Size = uint64(newLen)
	}

	return nil
}
