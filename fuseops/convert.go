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

package fuseops

import (
	"os"
	"syscall"
	"time"

	"github.com/fusekit/fuse/internal/fusekernel"
)

// ConvertTime splits t into the seconds/nanoseconds representation used on
// the wire.
func ConvertTime(t time.Time) (secs uint64, nsec uint32) {
	totalNano := t.UnixNano()
	secs = uint64(totalNano / 1e9)
	nsec = uint32(totalNano % 1e9)
	return secs, nsec
}

// ConvertExpirationTime converts an absolute cache expiration time into
// the relative form the kernel wants. Expirations in the past become zero.
func ConvertExpirationTime(t time.Time) (secs uint64, nsecs uint32) {
	// The kernel is looking for a duration. There is no need to cap the
	// magnitude: 2^64 seconds is longer than the lifetime of anyone's
	// kernel.
	d := time.Until(t)
	if d > 0 {
		secs = uint64(d / time.Second)
		nsecs = uint32((d % time.Second) / time.Nanosecond)
	}

	return secs, nsecs
}

// ConvertAttributes fills a wire attribute record from an
// InodeAttributes.
func ConvertAttributes(
	inodeID uint64,
	in *InodeAttributes,
	out *fusekernel.Attr) {
	out.Ino = inodeID
	out.Size = in.Size
	out.Blocks = (in.Size + 511) / 512
	out.Atime, out.AtimeNsec = ConvertTime(in.Atime)
	out.Mtime, out.MtimeNsec = ConvertTime(in.Mtime)
	out.Ctime, out.CtimeNsec = ConvertTime(in.Ctime)
	out.Mode = ConvertGoMode(in.Mode)
	out.Nlink = in.Nlink
	out.Uid = in.Uid
	out.Gid = in.Gid
	out.Rdev = in.Rdev
	out.Blksize = 4096
}

// ConvertChildInodeEntry fills a wire entry record from a
// ChildInodeEntry.
func ConvertChildInodeEntry(
	in *ChildInodeEntry,
	out *fusekernel.EntryOut) {
	out.Nodeid = uint64(in.Child)
	out.Generation = uint64(in.Generation)
	out.EntryValid, out.EntryValidNsec = ConvertExpirationTime(in.EntryExpiration)
	out.AttrValid, out.AttrValidNsec = ConvertExpirationTime(in.AttributesExpiration)
	ConvertAttributes(uint64(in.Child), &in.Attributes, &out.Attr)
}

// ConvertFileMode turns kernel mode bits into an os.FileMode.
func ConvertFileMode(unixMode uint32) os.FileMode {
	mode := os.FileMode(unixMode & 0777)

	switch unixMode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		mode |= os.ModeDir
	case syscall.S_IFLNK:
		mode |= os.ModeSymlink
	case syscall.S_IFIFO:
		mode |= os.ModeNamedPipe
	case syscall.S_IFSOCK:
		mode |= os.ModeSocket
	case syscall.S_IFBLK:
		mode |= os.ModeDevice
	case syscall.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	}

	if unixMode&syscall.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if unixMode&syscall.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if unixMode&syscall.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}

	return mode
}

// ConvertGoMode turns an os.FileMode into kernel mode bits.
func ConvertGoMode(m os.FileMode) uint32 {
	mode := uint32(m & os.ModePerm)

	switch {
	case m&os.ModeDir != 0:
		mode |= syscall.S_IFDIR
	case m&os.ModeSymlink != 0:
		mode |= syscall.S_IFLNK
	case m&os.ModeNamedPipe != 0:
		mode |= syscall.S_IFIFO
	case m&os.ModeSocket != 0:
		mode |= syscall.S_IFSOCK
	case m&os.ModeCharDevice != 0:
		mode |= syscall.S_IFCHR
	case m&os.ModeDevice != 0:
		mode |= syscall.S_IFBLK
	default:
		mode |= syscall.S_IFREG
	}

	if m&os.ModeSetuid != 0 {
		mode |= syscall.S_ISUID
	}
	if m&os.ModeSetgid != 0 {
		mode |= syscall.S_ISGID
	}
	if m&os.ModeSticky != 0 {
		mode |= syscall.S_ISVTX
	}

	return mode
}
