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

// Package fusekernel contains the definitions of the structures that the
// Linux kernel reads from and writes to /dev/fuse, matching the layout of
// the C structs in include/uapi/linux/fuse.h. All integers are in host
// order, which on every platform we support is little-endian; the structs
// are read and written by type punning, so the layouts below must match the
// kernel's bit for bit.
package fusekernel

import "fmt"

// The protocol version spoken by this library, and the oldest kernel
// version we are willing to talk to. Fields added after 7.19 are negotiated
// during INIT and simply unused when the kernel is older.
const (
	ProtoVersionMinMajor = 7
	ProtoVersionMinMinor = 19

	ProtoVersionMaxMajor = 7
	ProtoVersionMaxMinor = 31
)

// Version is a FUSE protocol version pair.
type Version struct {
	Major uint32
	Minor uint32
}

func (v Version) LT(other Version) bool {
	return v.Major < other.Major ||
		(v.Major == other.Major && v.Minor < other.Minor)
}

func (v Version) GE(other Version) bool {
	return !v.LT(other)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// RootID is the node ID of the root of a mounted file system.
const RootID = 1

// MaxWriteSize is the maximum write payload we tell the kernel we accept
// during INIT, and therefore the largest request body it will ever send.
const MaxWriteSize = 1 << 24

// RequestBufferSize is the size of the buffer a single read from the device
// must be able to fill: the largest write request plus slack for its
// headers.
const RequestBufferSize = MaxWriteSize + 4096

// InHeader leads every request arriving from the kernel. Len counts the
// header itself plus the opcode-specific body and any trailing data.
type InHeader struct {
	Len     uint32
	Opcode  uint32
	Unique  uint64
	Nodeid  uint64
	Uid     uint32
	Gid     uint32
	Pid     uint32
	Padding uint32
}

// OutHeader leads every reply we write. Error is zero or a negated errno;
// Unique echoes the request being answered, or is zero for notifications,
// in which case Error holds the notify code.
type OutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

// Opcode identifies the operation requested by an InHeader.
type Opcode uint32

const (
	OpLookup        Opcode = 1
	OpForget        Opcode = 2
	OpGetattr       Opcode = 3
	OpSetattr       Opcode = 4
	OpReadlink      Opcode = 5
	OpSymlink       Opcode = 6
	OpMknod         Opcode = 8
	OpMkdir         Opcode = 9
	OpUnlink        Opcode = 10
	OpRmdir         Opcode = 11
	OpRename        Opcode = 12
	OpLink          Opcode = 13
	OpOpen          Opcode = 14
	OpRead          Opcode = 15
	OpWrite         Opcode = 16
	OpStatfs        Opcode = 17
	OpRelease       Opcode = 18
	OpFsync         Opcode = 20
	OpSetxattr      Opcode = 21
	OpGetxattr      Opcode = 22
	OpListxattr     Opcode = 23
	OpRemovexattr   Opcode = 24
	OpFlush         Opcode = 25
	OpInit          Opcode = 26
	OpOpendir       Opcode = 27
	OpReaddir       Opcode = 28
	OpReleasedir    Opcode = 29
	OpFsyncdir      Opcode = 30
	OpGetlk         Opcode = 31
	OpSetlk         Opcode = 32
	OpSetlkw        Opcode = 33
	OpAccess        Opcode = 34
	OpCreate        Opcode = 35
	OpInterrupt     Opcode = 36
	OpBmap          Opcode = 37
	OpDestroy       Opcode = 38
	OpIoctl         Opcode = 39
	OpPoll          Opcode = 40
	OpNotifyReply   Opcode = 41
	OpBatchForget   Opcode = 42
	OpFallocate     Opcode = 43
	OpReaddirplus   Opcode = 44
	OpRename2       Opcode = 45
	OpLseek         Opcode = 46
	OpCopyFileRange Opcode = 47

	// Reserved for CUSE, which we do not implement.
	OpCuseInit Opcode = 4096
)

var opcodeNames = map[Opcode]string{
	OpLookup:        "OpLookup",
	OpForget:        "OpForget",
	OpGetattr:       "OpGetattr",
	OpSetattr:       "OpSetattr",
	OpReadlink:      "OpReadlink",
	OpSymlink:       "OpSymlink",
	OpMknod:         "OpMknod",
	OpMkdir:         "OpMkdir",
	OpUnlink:        "OpUnlink",
	OpRmdir:         "OpRmdir",
	OpRename:        "OpRename",
	OpLink:          "OpLink",
	OpOpen:          "OpOpen",
	OpRead:          "OpRead",
	OpWrite:         "OpWrite",
	OpStatfs:        "OpStatfs",
	OpRelease:       "OpRelease",
	OpFsync:         "OpFsync",
	OpSetxattr:      "OpSetxattr",
	OpGetxattr:      "OpGetxattr",
	OpListxattr:     "OpListxattr",
	OpRemovexattr:   "OpRemovexattr",
	OpFlush:         "OpFlush",
	OpInit:          "OpInit",
	OpOpendir:       "OpOpendir",
	OpReaddir:       "OpReaddir",
	OpReleasedir:    "OpReleasedir",
	OpFsyncdir:      "OpFsyncdir",
	OpGetlk:         "OpGetlk",
	OpSetlk:         "OpSetlk",
	OpSetlkw:        "OpSetlkw",
	OpAccess:        "OpAccess",
	OpCreate:        "OpCreate",
	OpInterrupt:     "OpInterrupt",
	OpBmap:          "OpBmap",
	OpDestroy:       "OpDestroy",
	OpIoctl:         "OpIoctl",
	OpPoll:          "OpPoll",
	OpNotifyReply:   "OpNotifyReply",
	OpBatchForget:   "OpBatchForget",
	OpFallocate:     "OpFallocate",
	OpReaddirplus:   "OpReaddirplus",
	OpRename2:       "OpRename2",
	OpLseek:         "OpLseek",
	OpCopyFileRange: "OpCopyFileRange",
	OpCuseInit:      "OpCuseInit",
}

// Known tells whether o is an opcode this library understands. The
// dispatcher answers unknown opcodes with ENOSYS, per the protocol's
// forward-compatibility convention.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Opcode(%d)", uint32(o))
}

// NotifyCode identifies an out-of-band notification sent to the kernel. It
// is carried in the OutHeader's Error field of a frame with Unique == 0.
type NotifyCode int32

const (
	NotifyCodePoll       NotifyCode = 1
	NotifyCodeInvalInode NotifyCode = 2
	NotifyCodeInvalEntry NotifyCode = 3
	NotifyCodeStore      NotifyCode = 4
	NotifyCodeRetrieve   NotifyCode = 5
	NotifyCodeDelete     NotifyCode = 6
)

// Attr mirrors fuse_attr.
type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint32
	Blksize   uint32
	Padding   uint32
}

// EntryOut mirrors fuse_entry_out, the body of LOOKUP/MKNOD/MKDIR/SYMLINK/
// LINK replies and the prefix of CREATE and READDIRPLUS records.
type EntryOut struct {
	Nodeid         uint64
	Generation     uint64
	EntryValid     uint64
	AttrValid      uint64
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

// GetattrIn mirrors fuse_getattr_in.
type GetattrIn struct {
	GetattrFlags uint32
	Dummy        uint32
	Fh           uint64
}

const GetattrFh = 1 << 0

// AttrOut mirrors fuse_attr_out.
type AttrOut struct {
	AttrValid     uint64
	AttrValidNsec uint32
	Dummy         uint32
	Attr          Attr
}

// SetattrIn mirrors fuse_setattr_in. Valid's bits say which fields are
// present.
type SetattrIn struct {
	Valid     uint32
	Padding   uint32
	Fh        uint64
	Size      uint64
	LockOwner uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Unused4   uint32
	Uid       uint32
	Gid       uint32
	Unused5   uint32
}

const (
	SetattrMode      = 1 << 0
	SetattrUid       = 1 << 1
	SetattrGid       = 1 << 2
	SetattrSize      = 1 << 3
	SetattrAtime     = 1 << 4
	SetattrMtime     = 1 << 5
	SetattrFh        = 1 << 6
	SetattrAtimeNow  = 1 << 7
	SetattrMtimeNow  = 1 << 8
	SetattrLockOwner = 1 << 9
	SetattrCtime     = 1 << 10
)

// MknodIn mirrors fuse_mknod_in (protocol >= 7.12 layout).
type MknodIn struct {
	Mode    uint32
	Rdev    uint32
	Umask   uint32
	Padding uint32
}

// MkdirIn mirrors fuse_mkdir_in.
type MkdirIn struct {
	Mode  uint32
	Umask uint32
}

// RenameIn mirrors fuse_rename_in.
type RenameIn struct {
	Newdir uint64
}

// CreateIn mirrors fuse_create_in (protocol >= 7.12 layout).
type CreateIn struct {
	Flags   uint32
	Mode    uint32
	Umask   uint32
	Padding uint32
}

// Rename2In mirrors fuse_rename2_in.
type Rename2In struct {
	Newdir  uint64
	Flags   uint32
	Padding uint32
}

const (
	RenameNoreplace = 1 << 0
	RenameExchange  = 1 << 1
	RenameWhiteout  = 1 << 2
)

// LinkIn mirrors fuse_link_in.
type LinkIn struct {
	Oldnodeid uint64
}

// OpenIn mirrors fuse_open_in.
type OpenIn struct {
	Flags     uint32
	OpenFlags uint32
}

// OpenOut mirrors fuse_open_out.
type OpenOut struct {
	Fh        uint64
	OpenFlags uint32
	Padding   uint32
}

const (
	FopenDirectIO    = 1 << 0
	FopenKeepCache   = 1 << 1
	FopenNonseekable = 1 << 2
	FopenCacheDir    = 1 << 3
)

// ReleaseIn mirrors fuse_release_in.
type ReleaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
	LockOwner    uint64
}

const ReleaseFlushFlag = 1 << 0

// FlushIn mirrors fuse_flush_in.
type FlushIn struct {
	Fh        uint64
	Unused    uint32
	Padding   uint32
	LockOwner uint64
}

// ReadIn mirrors fuse_read_in (protocol >= 7.9 layout).
type ReadIn struct {
	Fh        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
	Padding   uint32
}

const ReadLockOwnerFlag = 1 << 1

// WriteIn mirrors fuse_write_in (protocol >= 7.9 layout). Size counts the
// data bytes that follow the struct.
type WriteIn struct {
	Fh         uint64
	Offset     uint64
	Size       uint32
	WriteFlags uint32
	LockOwner  uint64
	Flags      uint32
	Padding    uint32
}

const (
	WriteCache       = 1 << 0
	WriteLockOwner   = 1 << 1
	WriteKillSuidgid = 1 << 2
)

// WriteOut mirrors fuse_write_out.
type WriteOut struct {
	Size    uint32
	Padding uint32
}

// Kstatfs mirrors fuse_kstatfs.
type Kstatfs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
	Padding uint32
	Spare   [6]uint32
}

// StatfsOut mirrors fuse_statfs_out.
type StatfsOut struct {
	St Kstatfs
}

// FsyncIn mirrors fuse_fsync_in. FsyncFlags bit 0 means "datasync only".
type FsyncIn struct {
	Fh         uint64
	FsyncFlags uint32
	Padding    uint32
}

// SetxattrIn mirrors fuse_setxattr_in. Size counts the value bytes that
// follow the name.
type SetxattrIn struct {
	Size  uint32
	Flags uint32
}

// GetxattrIn mirrors fuse_getxattr_in. A Size of zero asks only for the
// length of the value.
type GetxattrIn struct {
	Size    uint32
	Padding uint32
}

// GetxattrOut mirrors fuse_getxattr_out, used for the size-probe form of
// GETXATTR and LISTXATTR.
type GetxattrOut struct {
	Size    uint32
	Padding uint32
}

// FileLock mirrors fuse_file_lock.
type FileLock struct {
	Start uint64
	End   uint64
	Type  uint32
	Pid   uint32
}

// LkIn mirrors fuse_lk_in.
type LkIn struct {
	Fh      uint64
	Owner   uint64
	Lk      FileLock
	LkFlags uint32
	Padding uint32
}

// LkOut mirrors fuse_lk_out.
type LkOut struct {
	Lk FileLock
}

// AccessIn mirrors fuse_access_in.
type AccessIn struct {
	Mask    uint32
	Padding uint32
}

// InitIn mirrors fuse_init_in.
type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
}

// InitOut mirrors fuse_init_out, including the reserved tail words the
// kernel insists on receiving since 7.23.
type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
	MapAlignment        uint16
	Unused              [8]uint32
}

// INIT capability flags.
const (
	InitAsyncRead         = 1 << 0
	InitPosixLocks        = 1 << 1
	InitFileOps           = 1 << 2
	InitAtomicTrunc       = 1 << 3
	InitExportSupport     = 1 << 4
	InitBigWrites         = 1 << 5
	InitDontMask          = 1 << 6
	InitSpliceWrite       = 1 << 7
	InitSpliceMove        = 1 << 8
	InitSpliceRead        = 1 << 9
	InitFlockLocks        = 1 << 10
	InitHasIoctlDir       = 1 << 11
	InitAutoInvalData     = 1 << 12
	InitDoReaddirplus     = 1 << 13
	InitReaddirplusAuto   = 1 << 14
	InitAsyncDIO          = 1 << 15
	InitWritebackCache    = 1 << 16
	InitNoOpenSupport     = 1 << 17
	InitParallelDirOps    = 1 << 18
	InitHandleKillpriv    = 1 << 19
	InitPosixACL          = 1 << 20
	InitAbortError        = 1 << 21
	InitMaxPages          = 1 << 22
	InitCacheSymlinks     = 1 << 23
	InitNoOpendirSupport  = 1 << 24
	InitExplicitInvalData = 1 << 25
	InitMapAlignment      = 1 << 26
)

// InterruptIn mirrors fuse_interrupt_in. Unique names the request to be
// interrupted, not this one.
type InterruptIn struct {
	Unique uint64
}

// BmapIn mirrors fuse_bmap_in.
type BmapIn struct {
	Block     uint64
	BlockSize uint32
	Padding   uint32
}

// BmapOut mirrors fuse_bmap_out.
type BmapOut struct {
	Block uint64
}

// PollIn mirrors fuse_poll_in.
type PollIn struct {
	Fh     uint64
	Kh     uint64
	Flags  uint32
	Events uint32
}

// PollOut mirrors fuse_poll_out.
type PollOut struct {
	Revents uint32
	Padding uint32
}

// PollScheduleNotify asks us to remember Kh and send a wakeup notification
// when the file becomes ready.
const PollScheduleNotify = 1 << 0

// ForgetIn mirrors fuse_forget_in.
type ForgetIn struct {
	Nlookup uint64
}

// ForgetOne mirrors fuse_forget_one.
type ForgetOne struct {
	Nodeid  uint64
	Nlookup uint64
}

// BatchForgetIn mirrors fuse_batch_forget_in; Count ForgetOne records
// follow.
type BatchForgetIn struct {
	Count uint32
	Dummy uint32
}

// FallocateIn mirrors fuse_fallocate_in.
type FallocateIn struct {
	Fh      uint64
	Offset  uint64
	Length  uint64
	Mode    uint32
	Padding uint32
}

// LseekIn mirrors fuse_lseek_in.
type LseekIn struct {
	Fh      uint64
	Offset  uint64
	Whence  uint32
	Padding uint32
}

// LseekOut mirrors fuse_lseek_out.
type LseekOut struct {
	Offset uint64
}

// CopyFileRangeIn mirrors fuse_copy_file_range_in.
type CopyFileRangeIn struct {
	FhIn      uint64
	OffIn     uint64
	NodeidOut uint64
	FhOut     uint64
	OffOut    uint64
	Len       uint64
	Flags     uint64
}

// Dirent mirrors fuse_dirent; the name follows, padded with zeros to an
// 8-byte boundary.
type Dirent struct {
	Ino     uint64
	Off     uint64
	Namelen uint32
	Type    uint32
}

// DirentPlus mirrors fuse_direntplus.
type DirentPlus struct {
	EntryOut EntryOut
	Dirent   Dirent
}

// DirentAlignment is the alignment required between successive dirent
// records in a READDIR/READDIRPLUS reply.
const DirentAlignment = 8

// NotifyInvalInodeOut mirrors fuse_notify_inval_inode_out.
type NotifyInvalInodeOut struct {
	Ino uint64
	Off int64
	Len int64
}

// NotifyInvalEntryOut mirrors fuse_notify_inval_entry_out; the name
// follows, without a trailing NUL.
type NotifyInvalEntryOut struct {
	Parent  uint64
	Namelen uint32
	Padding uint32
}

// NotifyDeleteOut mirrors fuse_notify_delete_out; the name follows,
// without a trailing NUL.
type NotifyDeleteOut struct {
	Parent  uint64
	Child   uint64
	Namelen uint32
	Padding uint32
}

// NotifyStoreOut mirrors fuse_notify_store_out; Size data bytes follow.
type NotifyStoreOut struct {
	Nodeid  uint64
	Offset  uint64
	Size    uint32
	Padding uint32
}

// NotifyRetrieveOut mirrors fuse_notify_retrieve_out. The kernel answers
// with an OpNotifyReply request quoting NotifyUnique.
type NotifyRetrieveOut struct {
	NotifyUnique uint64
	Nodeid       uint64
	Offset       uint64
	Size         uint32
	Padding      uint32
}

// NotifyRetrieveIn mirrors fuse_notify_retrieve_in, the body of the
// kernel's OpNotifyReply; the page data follows.
type NotifyRetrieveIn struct {
	Dummy1 uint64
	Offset uint64
	Size   uint32
	Dummy2 uint32
	Dummy3 uint64
	Dummy4 uint64
}

// NotifyPollWakeupOut mirrors fuse_notify_poll_wakeup_out.
type NotifyPollWakeupOut struct {
	Kh uint64
}
