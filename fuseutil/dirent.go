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

package fuseutil

import (
	"syscall"
	"unsafe"

	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/internal/fusekernel"
)

// DirentType is the kind nibble of a directory entry, as in the d_type
// field of struct dirent.
type DirentType uint32

const (
	DT_Unknown   DirentType = 0
	DT_Socket    DirentType = syscall.DT_SOCK
	DT_Link      DirentType = syscall.DT_LNK
	DT_File      DirentType = syscall.DT_REG
	DT_Block     DirentType = syscall.DT_BLK
	DT_Directory DirentType = syscall.DT_DIR
	DT_Char      DirentType = syscall.DT_CHR
	DT_FIFO      DirentType = syscall.DT_FIFO
)

// A Dirent is a single entry within a directory, to be packed into a
// ReadDirOp's buffer.
type Dirent struct {
	// The (opaque) offset within the directory file of the entry following
	// this one. The kernel quotes it back in a later ReadDirOp to resume
	// the listing.
	Offset fuseops.DirOffset

	// The inode of the child file or directory, and its name within the
	// parent.
	Inode fuseops.InodeID
	Name  string

	// The type of the child.
	Type DirentType
}

// WriteDirent writes the supplied directory entry into the given buffer in
// the format expected in fuseops.ReadDirOp.Dst, returning the number of
// bytes written. It returns zero if the entry would not fit; the entry
// must then be carried over to the listing's next request.
func WriteDirent(buf []byte, d Dirent) int {
	record := fusekernel.Dirent{
		Ino:     uint64(d.Inode),
		Off:     uint64(d.Offset),
		Namelen: uint32(len(d.Name)),
		Type:    uint32(d.Type),
	}

	const recordSize = int(unsafe.Sizeof(fusekernel.Dirent{}))

	// Each entry is padded with zero bytes up to the next 8-byte boundary.
	padLen := 0
	if (recordSize+len(d.Name))%fusekernel.DirentAlignment != 0 {
		padLen = fusekernel.DirentAlignment -
			(recordSize+len(d.Name))%fusekernel.DirentAlignment
	}

	totalLen := recordSize + len(d.Name) + padLen
	if totalLen > len(buf) {
		return 0
	}

	var n int
	n += copy(buf[n:], (*[recordSize]byte)(unsafe.Pointer(&record))[:])
	n += copy(buf[n:], d.Name)

	var padding [fusekernel.DirentAlignment]byte
	n += copy(buf[n:], padding[:padLen])

	return n
}

// WriteDirentPlus writes the supplied directory entry and the full
// attribute record for its inode into the given buffer, in the format
// expected in fuseops.ReadDirPlusOp.Dst, returning the number of bytes
// written. It returns zero if the entry would not fit.
//
// Every entry written this way (other than "." and "..") counts as a
// lookup in the kernel's bookkeeping, to be balanced by a later forget.
func WriteDirentPlus(buf []byte, e *fuseops.ChildInodeEntry, d Dirent) int {
	record := fusekernel.DirentPlus{
		Dirent: fusekernel.Dirent{
			Ino:     uint64(d.Inode),
			Off:     uint64(d.Offset),
			Namelen: uint32(len(d.Name)),
			Type:    uint32(d.Type),
		},
	}
	fuseops.ConvertChildInodeEntry(e, &record.EntryOut)

	const recordSize = int(unsafe.Sizeof(fusekernel.DirentPlus{}))

	padLen := 0
	if (recordSize+len(d.Name))%fusekernel.DirentAlignment != 0 {
		padLen = fusekernel.DirentAlignment -
			(recordSize+len(d.Name))%fusekernel.DirentAlignment
	}

	totalLen := recordSize + len(d.Name) + padLen
	if totalLen > len(buf) {
		return 0
	}

	var n int
	n += copy(buf[n:], (*[recordSize]byte)(unsafe.Pointer(&record))[:])
	n += copy(buf[n:], d.Name)

	var padding [fusekernel.DirentAlignment]byte
	n += copy(buf[n:], padding[:padLen])

	return n
}
