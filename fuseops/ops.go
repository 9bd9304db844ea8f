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
	"time"
)

////////////////////////////////////////////////////////////////////////
// Setup and teardown
////////////////////////////////////////////////////////////////////////

// Sent once, before any other operation, when mounting the file system.
// The connection fills in the negotiated reply fields before handing the op
// to the file system; most file systems need only return nil. Returning an
// error aborts the mount.
type InitOp struct {
	OpContext OpContext

	// The protocol version spoken by the kernel, and the version we will
	// actually speak (the smaller of the two maxima).
	Kernel  InitVersion
	Library InitVersion

	// Readahead ceiling requested by the kernel, echoed back.
	MaxReadahead uint32

	// Capability flags offered by the kernel, and the negotiated subset that
	// will be sent back.
	KernelFlags uint32
	Flags       uint32

	// Negotiated limits, pre-filled by the connection.
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
}

// InitVersion is a (major, minor) protocol version pair as seen in INIT.
type InitVersion struct {
	Major uint32
	Minor uint32
}

// Sent when the kernel's DESTROY request arrives as the file system is
// being torn down. No reply fields.
type DestroyOp struct {
	OpContext OpContext
}

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

// Look up a child by name within a parent directory. The kernel sends this
// when resolving user paths to dentry structs, which are then cached.
type LookUpInodeOp struct {
	OpContext OpContext

	// The ID of the directory inode to which the child belongs.
	Parent InodeID

	// The name of the child of interest, relative to the parent.
	Name string

	// The resulting entry. Must be filled out by the file system.
	Entry ChildInodeEntry
}

// Refresh the attributes for an inode whose ID was previously returned in a
// LookUpInodeOp. The kernel sends this when its cache of inode attributes
// is stale, controlled by the AttributesExpiration field of
// ChildInodeEntry, etc.
type GetInodeAttributesOp struct {
	OpContext OpContext

	// The inode of interest.
	Inode InodeID

	// An open handle for the inode, if the kernel supplied one.
	Handle *HandleID

	// Set by the file system: attributes for the inode, and the time at
	// which they should expire.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// Change attributes for an inode.
//
// The kernel sends this for obvious cases like chmod(2), and for less
// obvious cases like ftruncate(2). A nil pointer means "leave this field
// alone".
type SetInodeAttributesOp struct {
	OpContext OpContext

	// The inode of interest.
	Inode InodeID

	// If the change was initiated through an open handle, that handle.
	Handle *HandleID

	// The attributes to modify, or nil for attributes that don't need a
	// change.
	Size  *uint64
	Mode  *os.FileMode
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time

	// The lock owner associated with a truncate through an open handle, when
	// the kernel offers one.
	LockOwner *uint64

	// Set by the file system: the new attributes for the inode, and the time
	// at which they should expire.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// Decrement the kernel's reference count for an inode ID previously minted
// by a lookup-family reply. When the count hits zero the kernel forgets the
// ID entirely and the file system may reuse it.
//
// The protocol does not allow a reply to this op.
type ForgetInodeOp struct {
	OpContext OpContext

	// The inode whose reference count should be decremented.
	Inode InodeID

	// The amount to decrement the reference count by.
	N uint64
}

// A single record within a BatchForgetOp.
type BatchForgetEntry struct {
	// The inode whose reference count should be decremented.
	Inode InodeID

	// The amount to decrement the reference count by.
	N uint64
}

// Decrement the reference counts for several inodes at once. Equivalent to
// a sequence of ForgetInodeOps; the protocol does not allow a reply.
type BatchForgetOp struct {
	OpContext OpContext

	// Entries to forget, in kernel order.
	Entries []BatchForgetEntry
}

////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////

// Create a directory inode as a child of an existing directory inode. The
// kernel sends this in response to a mkdir(2) call.
type MkDirOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name string
	Mode os.FileMode

	// The umask of the calling process. Only meaningful when the kernel was
	// told not to apply it itself (the dont-mask mount option).
	Umask uint32

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry
}

// Create a file inode or device special inode as a child of an existing
// directory inode. The kernel sends this in response to a mknod(2) call,
// and on Linux also for creat(2) when CreateFileOp is unimplemented.
type MkNodeOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name string
	Mode os.FileMode

	// The device number, for device special files.
	Rdev uint32

	// The umask of the calling process, as in MkDirOp.
	Umask uint32

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry
}

// Create a file inode and open it.
//
// The kernel sends this when the user asks to open a file with the O_CREAT
// flag and the kernel has observed that the file doesn't exist.
type CreateFileOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child
	// file.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name string
	Mode os.FileMode

	// The umask of the calling process, as in MkDirOp.
	Umask uint32

	// Flags for the open operation that accompanies the create.
	Flags uint32

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this file using the same struct file in the kernel.
	Handle HandleID
}

// Create a symlink inode as a child of an existing directory inode.
type CreateSymlinkOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the child
	// symlink.
	Parent InodeID

	// The name of the symlink to create.
	Name string

	// The target of the symlink.
	Target string

	// Set by the file system: information about the symlink inode that was
	// created.
	Entry ChildInodeEntry
}

// Create a hard link to an inode.
type CreateLinkOp struct {
	OpContext OpContext

	// The ID of parent directory inode within which to create the new name.
	Parent InodeID

	// The name of the new link.
	Name string

	// The ID of the inode to gain the new name.
	Target InodeID

	// Set by the file system: information about the inode behind the new
	// name. Nlink should reflect the link just created.
	Entry ChildInodeEntry
}

////////////////////////////////////////////////////////////////////////
// Unlinking and renaming
////////////////////////////////////////////////////////////////////////

// Rename a file or directory, given the IDs of the original parent
// directory and the new one (which may be the same).
//
// Flags carries RENAME_NOREPLACE/RENAME_EXCHANGE semantics when the
// request arrived as RENAME2; it is zero for plain RENAME. A file system
// that does not support the requested flags should return EINVAL.
type RenameOp struct {
	OpContext OpContext

	// The old parent directory, and the name of the entry within it to be
	// relocated.
	OldParent InodeID
	OldName   string

	// The new parent directory, and the name of the entry to be created or
	// overwritten within it.
	NewParent InodeID
	NewName   string

	// RENAME2 flags, or zero.
	Flags uint32
}

// Unlink a directory from its parent. Because directories cannot have hard
// links, this means the directory is gone once the kernel's references
// lapse.
//
// Sample implementations return ENOTEMPTY when the directory still has
// children.
type RmDirOp struct {
	OpContext OpContext

	// The ID of parent directory inode, and the name of the directory being
	// removed within it.
	Parent InodeID
	Name   string
}

// Unlink a file or symlink from its parent.
type UnlinkOp struct {
	OpContext OpContext

	// The ID of parent directory inode, and the name of the entry being
	// removed within it.
	Parent InodeID
	Name   string
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

// Open a directory inode. The kernel sends this before reading entries, and
// uses the returned handle ID in the reads that follow.
type OpenDirOp struct {
	OpContext OpContext

	// The ID of the inode to be opened.
	Inode InodeID

	// Mode and option flags from the underlying open call.
	Flags uint32

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this directory using the same struct file in the kernel.
	//
	// The handle may be supplied in future ops like ReadDirOp that contain a
	// directory handle. The file system must ensure this ID remains valid
	// until a later ReleaseDirHandleOp.
	Handle HandleID
}

// Read entries from a directory previously opened with OpenDirOp.
type ReadDirOp struct {
	OpContext OpContext

	// The directory inode that we are reading, and the handle previously
	// returned by OpenDirOp when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset within the directory at which to read, as previously
	// emitted in a dirent record (zero for a fresh listing).
	Offset DirOffset

	// The destination buffer, whose length gives the size of the read. The
	// file system packs dirent records into it with fuseutil.WriteDirent and
	// sets BytesRead; a record that does not fit must be left for a later
	// read at its offset.
	Dst       []byte
	BytesRead int
}

// Read entries from a directory, combined with an implicit lookup of each
// entry. Like ReadDirOp, but records are packed with
// fuseutil.WriteDirentPlus and carry full attributes; every entry emitted
// (other than "." and "..") increments the kernel's lookup count for its
// inode, exactly as a LookUpInodeOp reply would.
type ReadDirPlusOp struct {
	OpContext OpContext

	Inode  InodeID
	Handle HandleID
	Offset DirOffset

	Dst       []byte
	BytesRead int
}

// Release a previously-minted directory handle. The kernel sends this when
// there are no more references to an open directory: all file descriptors
// are closed and all memory mappings are unmapped.
type ReleaseDirHandleOp struct {
	OpContext OpContext

	// The handle ID to be released. The kernel guarantees that this ID will
	// not be used in further ops.
	Handle HandleID
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

// Open a file inode.
type OpenFileOp struct {
	OpContext OpContext

	// The ID of the inode to be opened.
	Inode InodeID

	// Mode and option flags from the underlying open call.
	Flags uint32

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this file using the same struct file in the kernel.
	Handle HandleID

	// By default, the kernel drops its page cache for the inode when a new
	// handle is opened. Setting this keeps it, for file systems whose
	// contents only change through the kernel.
	KeepPageCache bool

	// Setting this bypasses the page cache entirely for this handle.
	UseDirectIO bool
}

// Read data from a file previously opened with CreateFileOp or OpenFileOp.
//
// Note that this op is not sent for every call to read(2) by the end user;
// some reads may be served by the page cache.
type ReadFileOp struct {
	OpContext OpContext

	// The file inode that we are reading, and the handle previously returned
	// when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset within the file at which to read, and the size of the read.
	Offset int64
	Size   int64

	// The destination buffer provided by the connection, of length Size. The
	// file system fills it and sets BytesRead. A read that returns fewer
	// bytes than requested (other than at EOF) is treated by the kernel as
	// end of file.
	Dst       []byte
	BytesRead int

	// Alternatively the file system may set Data to buffers it owns, which
	// take precedence over Dst; the total is truncated to Size when writing
	// the reply.
	Data [][]byte

	// If set, the connection invokes this after the reply has been written,
	// so buffers placed in Data can be recycled.
	Callback func()
}

// Write data to a file previously opened with CreateFileOp or OpenFileOp.
//
// When the user writes data using write(2), the write goes into the page
// cache and the page is marked dirty. Later the kernel may write back the
// page via the FUSE VFS layer, causing this op to be sent.
type WriteFileOp struct {
	OpContext OpContext

	// The file inode that we are modifying, and the handle previously
	// returned when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset at which to write the data below.
	Offset int64

	// The data to write. The file system must write all of it; short writes
	// cannot be expressed in the reply.
	Data []byte

	// If set, the connection invokes this after the reply has been written.
	Callback func()
}

// Synchronize the current contents of an open file to storage.
type SyncFileOp struct {
	OpContext OpContext

	// The file and handle being sync'd.
	Inode  InodeID
	Handle HandleID

	// If set, only the file contents need be flushed, not the metadata.
	Datasync bool
}

// Flush the current state of an open file to storage upon closing a file
// descriptor. The kernel sends one of these for each descriptor that
// referred to the handle, at close time.
type FlushFileOp struct {
	OpContext OpContext

	// The file and handle being flushed.
	Inode  InodeID
	Handle HandleID

	// The lock owner of the closing descriptor, for file systems doing
	// POSIX lock bookkeeping.
	LockOwner uint64
}

// Release a previously-minted file handle. The kernel sends this when there
// are no more references to an open file: all file descriptors are closed
// and all memory mappings are unmapped.
type ReleaseFileHandleOp struct {
	OpContext OpContext

	// The handle ID to be released. The kernel guarantees that this ID will
	// not be used in further calls.
	Handle HandleID
}

////////////////////////////////////////////////////////////////////////
// Reading symlinks
////////////////////////////////////////////////////////////////////////

// Read the target of a symlink inode.
type ReadSymlinkOp struct {
	OpContext OpContext

	// The symlink inode that we are reading.
	Inode InodeID

	// Set by the file system: the target of the symlink.
	Target string
}

////////////////////////////////////////////////////////////////////////
// Extended attributes
////////////////////////////////////////////////////////////////////////

// Remove an extended attribute.
type RemoveXattrOp struct {
	OpContext OpContext

	// The inode whose attribute is being removed.
	Inode InodeID

	// The name of the attribute.
	Name string
}

// Get an extended attribute.
//
// When Dst is empty the caller only wants the size: set BytesRead to the
// length of the value and return nil. When Dst is too small, return ERANGE.
type GetXattrOp struct {
	OpContext OpContext

	// The inode whose attribute is being read.
	Inode InodeID

	// The name of the attribute.
	Name string

	// The destination buffer; its length is the size requested.
	Dst []byte

	// Set by the file system: the length of the value.
	BytesRead int
}

// List all the extended attributes for a file, as a sequence of
// NUL-terminated names packed into Dst. Size-probe and ERANGE semantics
// are the same as GetXattrOp's.
type ListXattrOp struct {
	OpContext OpContext

	// The inode whose attributes are being listed.
	Inode InodeID

	Dst       []byte
	BytesRead int
}

// Set an extended attribute.
//
// Flags carry XATTR_CREATE/XATTR_REPLACE: with XATTR_CREATE, return EEXIST
// if the attribute exists; with XATTR_REPLACE, return ENODATA if it does
// not.
type SetXattrOp struct {
	OpContext OpContext

	// The inode whose attribute is being set.
	Inode InodeID

	// The name of the attribute, and its value.
	Name  string
	Value []byte

	Flags uint32
}

////////////////////////////////////////////////////////////////////////
// Miscellaneous
////////////////////////////////////////////////////////////////////////

// Return statistics about the file system's capacity and available
// resources, as in statfs(2).
type StatFSOp struct {
	OpContext OpContext

	// The size of the file system's blocks, and the preferred size of reads
	// and writes.
	BlockSize uint32
	IoSize    uint32

	// Block counts, in units of BlockSize.
	Blocks          uint64
	BlocksFree      uint64
	BlocksAvailable uint64

	// Inode counts.
	Inodes     uint64
	InodesFree uint64
}

// Check whether the calling process may access an inode with the given
// mask, as in access(2). Not sent when the default-permissions mount option
// is in effect, since then the kernel checks itself.
type AccessOp struct {
	OpContext OpContext

	// The inode being checked.
	Inode InodeID

	// The access mask being tested.
	Mask uint32
}

// Poll an open file for readiness, as in poll(2).
//
// If PollScheduleNotify is set in Flags, the kernel wants a wakeup
// notification (via Notifier.PollWakeup, quoting Kh) when the file becomes
// ready, in addition to the immediate reply.
type PollOp struct {
	OpContext OpContext

	// The file and handle being polled.
	Inode  InodeID
	Handle HandleID

	// The kernel's token for this poll registration. It has no meaning to
	// the file system other than to be quoted in a later wakeup
	// notification.
	Kh uint64

	Flags uint32

	// The requested events.
	Events uint32

	// Set by the file system: the events currently ready.
	Revents uint32
}

// Map a block index within a file to a block index within its backing
// device, as in the FIBMAP ioctl. Only makes sense for block-device-backed
// file systems.
type BmapOp struct {
	OpContext OpContext

	// The inode being mapped.
	Inode InodeID

	// The block size in use, and the block index being queried.
	BlockSize uint32
	Block     uint64

	// Set by the file system: the resulting device block index.
	Result uint64
}

// Manipulate the allocated extent of a file, as in fallocate(2).
type FallocateOp struct {
	OpContext OpContext

	// The file and handle being operated on.
	Inode  InodeID
	Handle HandleID

	// The range and mode of the allocation request.
	Offset uint64
	Length uint64
	Mode   uint32
}

// Reposition within a file to the next data or hole, as in lseek(2) with
// SEEK_DATA or SEEK_HOLE.
type LseekOp struct {
	OpContext OpContext

	// The file and handle being repositioned.
	Inode  InodeID
	Handle HandleID

	// The starting offset and the whence value (SEEK_DATA or SEEK_HOLE).
	Offset uint64
	Whence uint32

	// Set by the file system: the resulting offset.
	Result uint64
}

// Copy a range of data from one open file to another without passing it
// through the client, as in copy_file_range(2).
type CopyFileRangeOp struct {
	OpContext OpContext

	// The source file, handle, and offset.
	SrcInode  InodeID
	SrcHandle HandleID
	SrcOffset uint64

	// The destination file, handle, and offset.
	DstInode  InodeID
	DstHandle HandleID
	DstOffset uint64

	// The number of bytes to copy, and flags (currently always zero).
	Size  uint64
	Flags uint64

	// Set by the file system: the number of bytes actually copied.
	BytesCopied int
}

// Synchronize an open directory, as in fsync(2) on a directory descriptor.
type SyncDirOp struct {
	OpContext OpContext

	// The directory and handle being sync'd.
	Inode  InodeID
	Handle HandleID

	// If set, only directory contents need be flushed, not metadata.
	Datasync bool
}

////////////////////////////////////////////////////////////////////////
// POSIX file locks
////////////////////////////////////////////////////////////////////////

// FileLockInfo describes a POSIX advisory lock or lock query, mirroring
// struct flock.
type FileLockInfo struct {
	// The byte range covered by the lock. End is inclusive, with math.MaxUint64
	// meaning "to end of file".
	Start uint64
	End   uint64

	// F_RDLCK, F_WRLCK, or F_UNLCK.
	Type uint32

	// The pid holding a conflicting lock, in GetLkOp replies.
	Pid uint32
}

// Test for the existence of a conflicting POSIX lock, as in fcntl(2) with
// F_GETLK. Sent only when the posix-locks capability was negotiated.
type GetLkOp struct {
	OpContext OpContext

	// The file and handle being queried.
	Inode  InodeID
	Handle HandleID

	// The lock owner token from the kernel.
	Owner uint64

	// The lock being tested; overwritten by the file system with the
	// conflicting lock, or with Type F_UNLCK when there is none.
	Lock FileLockInfo
}

// Acquire or release a POSIX lock, as in fcntl(2) with F_SETLK or F_SETLKW.
// Sent only when the posix-locks capability was negotiated.
type SetLkOp struct {
	OpContext OpContext

	// The file and handle being locked.
	Inode  InodeID
	Handle HandleID

	// The lock owner token from the kernel.
	Owner uint64

	// The lock being acquired or released.
	Lock FileLockInfo

	// Whether the caller is willing to wait (F_SETLKW). A non-sleeping
	// request that conflicts should return EAGAIN.
	Sleep bool
}

////////////////////////////////////////////////////////////////////////
// Interrupts
////////////////////////////////////////////////////////////////////////

// Advise the file system that the process waiting on a previously-issued
// operation has given up on it. FuseID names the operation to abandon; the
// file system is free to ignore the advice, and must still reply to the
// original operation either way. The protocol does not allow a reply to
// this op itself.
type InterruptOp struct {
	OpContext OpContext

	// The unique ID of the operation being interrupted.
	FuseID uint64
}
