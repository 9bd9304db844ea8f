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

// Package fuseops contains the typed records handed to a file system for
// each operation the kernel requests, along with the common attribute and
// entry types they share.
package fuseops

import (
	"fmt"
	"os"
	"time"
)

// InodeID is a 64-bit number identifying a file system object to the
// kernel.
//
// When a file system is mounted, the kernel begins by asking about the
// inode with ID RootInodeID. Further inodes are minted by the file system
// itself, in the entries it returns for lookup-family operations.
type InodeID uint64

// RootInodeID is the inode ID of a file system's root. It is guaranteed to
// be the subject of the first lookup-family request.
const RootInodeID InodeID = 1

// GenerationNumber distinguishes reincarnations of an inode ID, for file
// systems that hand IDs out more than once over their lifetime. NFS
// exporting needs (ID, generation) pairs to be unique forever. File systems
// that never reuse IDs can leave it zero.
type GenerationNumber uint64

// HandleID is an opaque 64-bit token minted by the file system in response
// to open and create operations and quoted back by the kernel on the
// operations that follow. Zero conventionally means "stateless".
type HandleID uint64

// DirOffset is an offset within an open directory handle, quoted back by
// the kernel to continue a listing where the previous one left off.
type DirOffset uint64

// InodeAttributes holds attributes for a file or directory inode. It
// corresponds to struct inode in the Linux kernel.
type InodeAttributes struct {
	Size uint64

	// The number of incoming hard links to this inode.
	Nlink uint32

	// The mode of the inode: both the permission bits and the kind of the
	// object, as in os.FileMode.
	Mode os.FileMode

	// Time information. See `man 2 stat` for full details.
	Atime  time.Time // Time of last access
	Mtime  time.Time // Time of last modification
	Ctime  time.Time // Time of last modification to inode
	Crtime time.Time // Time of creation (OS X only)

	// Ownership information.
	Uid uint32
	Gid uint32

	// Device number, for device special files.
	Rdev uint32
}

func (a *InodeAttributes) DebugString() string {
	return fmt.Sprintf(
		"%d %d %v %d %d",
		a.Size,
		a.Nlink,
		a.Mode,
		a.Uid,
		a.Gid)
}

// ChildInodeEntry holds information about a child inode within its parent
// directory, produced by lookup-family operations and serialized into the
// kernel's entry record.
type ChildInodeEntry struct {
	// The ID of the child inode. The file system must remember it, since it
	// will be the subject of later operations, until a forget for it
	// arrives.
	Child InodeID

	// A generation number for this incarnation of the inode ID. See the
	// comments on GenerationNumber.
	Generation GenerationNumber

	// Current attributes for the child inode, and the time until which the
	// kernel may cache them.
	//
	// If the caching time is in the future, the kernel will not re-ask for
	// the attributes before it passes; a change made through some other
	// channel in the meantime will not be visible.
	Attributes           InodeAttributes
	AttributesExpiration time.Time

	// The time until which the kernel may cache the (name, ID) mapping
	// itself, saving future lookup-family requests for the name entirely.
	EntryExpiration time.Time
}

// OpContext contains the state of the request that produced an operation:
// the kernel-assigned unique ID and the credentials of the calling process.
type OpContext struct {
	// FuseID is the unique identifier of the request, as assigned by the
	// kernel. It is also the value an interrupt for this operation quotes.
	FuseID uint64

	Uid uint32
	Gid uint32

	// Pid of the process that is invoking the operation. Not filled in for
	// forget-family operations, which do not originate in a process.
	Pid uint32
}
