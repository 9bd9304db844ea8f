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

package fuse

import (
	"bytes"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/internal/buffer"
	"github.com/fusekit/fuse/internal/fusekernel"
)

// An error reported by convertInMessage when the kernel sends an opcode the
// library does not know. Answered with ENOSYS, never fatal.
type unknownOpcodeError struct {
	opcode fusekernel.Opcode
}

func (e *unknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode: %v", e.opcode)
}

// An error reported by convertInMessage when a request body doesn't have
// the shape its opcode promises. Answered with EINVAL, never fatal.
type malformedMessageError struct {
	opcode fusekernel.Opcode
	detail string
}

func (e *malformedMessageError) Error() string {
	return fmt.Sprintf("malformed %v request: %s", e.opcode, e.detail)
}

func malformed(opcode fusekernel.Opcode, detail string) error {
	return &malformedMessageError{opcode: opcode, detail: detail}
}

// extractName splits b at its first NUL byte. Several request bodies end
// with one or two NUL-terminated names.
func extractName(b []byte) (name []byte, remaining []byte, ok bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return nil, nil, false
	}

	return b[:i], b[i+1:], true
}

// createMode derives the mode for a create-family op. With the dont-mask
// option the file system wants the raw mode and applies its own policy;
// otherwise the calling process's umask is honored here.
func createMode(cfg *MountConfig, mode uint32, umask uint32) os.FileMode {
	m := fuseops.ConvertFileMode(mode)
	if cfg != nil && cfg.DontMask {
		return m
	}

	return m &^ os.FileMode(umask)
}

// opContext derives the request context recorded on every op.
func opContext(h *fusekernel.InHeader) fuseops.OpContext {
	return fuseops.OpContext{
		FuseID: h.Unique,
		Uid:    h.Uid,
		Gid:    h.Gid,
		Pid:    h.Pid,
	}
}

// convertInMessage decodes a request read from the kernel into the
// appropriate op struct. The returned op never aliases the message storage;
// names are copied into strings and write payloads into fresh buffers,
// since the message buffer is reused for the next request while the op is
// still being served.
func convertInMessage(cfg *MountConfig, inMsg *buffer.InMessage) (interface{}, error) {
	h := inMsg.Header()
	opcode := fusekernel.Opcode(h.Opcode)

	switch opcode {
	case fusekernel.OpInit:
		in := (*fusekernel.InitIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.InitIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.InitOp{
			OpContext:    opContext(h),
			Kernel:       fuseops.InitVersion{Major: in.Major, Minor: in.Minor},
			MaxReadahead: in.MaxReadahead,
			KernelFlags:  in.Flags,
		}, nil

	case fusekernel.OpDestroy:
		return &fuseops.DestroyOp{OpContext: opContext(h)}, nil

	case fusekernel.OpLookup:
		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.LookUpInodeOp{
			OpContext: opContext(h),
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      string(name),
		}, nil

	case fusekernel.OpGetattr:
		in := (*fusekernel.GetattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.GetattrIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		op := &fuseops.GetInodeAttributesOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
		}
		if in.GetattrFlags&fusekernel.GetattrFh != 0 {
			fh := fuseops.HandleID(in.Fh)
			op.Handle = &fh
		}

		return op, nil

	case fusekernel.OpSetattr:
		in := (*fusekernel.SetattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.SetattrIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		op := &fuseops.SetInodeAttributesOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
		}

		valid := in.Valid
		if valid&fusekernel.SetattrFh != 0 {
			fh := fuseops.HandleID(in.Fh)
			op.Handle = &fh
		}
		if valid&fusekernel.SetattrMode != 0 {
			mode := fuseops.ConvertFileMode(in.Mode)
			op.Mode = &mode
		}
		if valid&fusekernel.SetattrUid != 0 {
			uid := in.Uid
			op.Uid = &uid
		}
		if valid&fusekernel.SetattrGid != 0 {
			gid := in.Gid
			op.Gid = &gid
		}
		if valid&fusekernel.SetattrSize != 0 {
			size := in.Size
			op.Size = &size
		}
		if valid&fusekernel.SetattrAtime != 0 {
			t := time.Unix(int64(in.Atime), int64(in.AtimeNsec))
			op.Atime = &t
		}
		if valid&fusekernel.SetattrAtimeNow != 0 {
			t := time.Now()
			op.Atime = &t
		}
		if valid&fusekernel.SetattrMtime != 0 {
			t := time.Unix(int64(in.Mtime), int64(in.MtimeNsec))
			op.Mtime = &t
		}
		if valid&fusekernel.SetattrMtimeNow != 0 {
			t := time.Now()
			op.Mtime = &t
		}
		if valid&fusekernel.SetattrCtime != 0 {
			t := time.Unix(int64(in.Ctime), int64(in.CtimeNsec))
			op.Ctime = &t
		}
		if valid&fusekernel.SetattrLockOwner != 0 {
			owner := in.LockOwner
			op.LockOwner = &owner
		}

		return op, nil

	case fusekernel.OpForget:
		in := (*fusekernel.ForgetIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ForgetIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.ForgetInodeOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			N:         in.Nlookup,
		}, nil

	case fusekernel.OpBatchForget:
		in := (*fusekernel.BatchForgetIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.BatchForgetIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		entries := make([]fuseops.BatchForgetEntry, 0, in.Count)
		for i := uint32(0); i < in.Count; i++ {
			one := (*fusekernel.ForgetOne)(inMsg.Consume(unsafe.Sizeof(fusekernel.ForgetOne{})))
			if one == nil {
				return nil, malformed(opcode, "truncated forget records")
			}

			entries = append(entries, fuseops.BatchForgetEntry{
				Inode: fuseops.InodeID(one.Nodeid),
				N:     one.Nlookup,
			})
		}

		return &fuseops.BatchForgetOp{
			OpContext: opContext(h),
			Entries:   entries,
		}, nil

	case fusekernel.OpMkdir:
		in := (*fusekernel.MkdirIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.MkdirIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.MkDirOp{
			OpContext: opContext(h),
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      string(name),
			Mode:      createMode(cfg, in.Mode, in.Umask),
			Umask:     in.Umask,
		}, nil

	case fusekernel.OpMknod:
		in := (*fusekernel.MknodIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.MknodIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.MkNodeOp{
			OpContext: opContext(h),
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      string(name),
			Mode:      createMode(cfg, in.Mode, in.Umask),
			Rdev:      in.Rdev,
			Umask:     in.Umask,
		}, nil

	case fusekernel.OpCreate:
		in := (*fusekernel.CreateIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.CreateIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.CreateFileOp{
			OpContext: opContext(h),
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      string(name),
			Mode:      createMode(cfg, in.Mode, in.Umask),
			Umask:     in.Umask,
			Flags:     in.Flags,
		}, nil

	case fusekernel.OpSymlink:
		// The body is two successive NUL-terminated strings: the new name,
		// then the target.
		name, rest, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		target, _, ok := extractName(rest)
		if !ok {
			return nil, malformed(opcode, "target not NUL-terminated")
		}

		return &fuseops.CreateSymlinkOp{
			OpContext: opContext(h),
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      string(name),
			Target:    string(target),
		}, nil

	case fusekernel.OpLink:
		in := (*fusekernel.LinkIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.LinkIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.CreateLinkOp{
			OpContext: opContext(h),
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      string(name),
			Target:    fuseops.InodeID(in.Oldnodeid),
		}, nil

	case fusekernel.OpRename:
		in := (*fusekernel.RenameIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.RenameIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		oldName, rest, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "old name not NUL-terminated")
		}

		newName, _, ok := extractName(rest)
		if !ok {
			return nil, malformed(opcode, "new name not NUL-terminated")
		}

		return &fuseops.RenameOp{
			OpContext: opContext(h),
			OldParent: fuseops.InodeID(h.Nodeid),
			OldName:   string(oldName),
			NewParent: fuseops.InodeID(in.Newdir),
			NewName:   string(newName),
		}, nil

	case fusekernel.OpRename2:
		in := (*fusekernel.Rename2In)(inMsg.Consume(unsafe.Sizeof(fusekernel.Rename2In{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		oldName, rest, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "old name not NUL-terminated")
		}

		newName, _, ok := extractName(rest)
		if !ok {
			return nil, malformed(opcode, "new name not NUL-terminated")
		}

		return &fuseops.RenameOp{
			OpContext: opContext(h),
			OldParent: fuseops.InodeID(h.Nodeid),
			OldName:   string(oldName),
			NewParent: fuseops.InodeID(in.Newdir),
			NewName:   string(newName),
			Flags:     in.Flags,
		}, nil

	case fusekernel.OpRmdir:
		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.RmDirOp{
			OpContext: opContext(h),
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      string(name),
		}, nil

	case fusekernel.OpUnlink:
		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.UnlinkOp{
			OpContext: opContext(h),
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      string(name),
		}, nil

	case fusekernel.OpOpendir:
		in := (*fusekernel.OpenIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.OpenIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.OpenDirOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Flags:     in.Flags,
		}, nil

	case fusekernel.OpReaddir:
		in := (*fusekernel.ReadIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReadIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.ReadDirOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    fuseops.DirOffset(in.Offset),
			Dst:       make([]byte, in.Size),
		}, nil

	case fusekernel.OpReaddirplus:
		in := (*fusekernel.ReadIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReadIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.ReadDirPlusOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    fuseops.DirOffset(in.Offset),
			Dst:       make([]byte, in.Size),
		}, nil

	case fusekernel.OpReleasedir:
		in := (*fusekernel.ReleaseIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReleaseIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.ReleaseDirHandleOp{
			OpContext: opContext(h),
			Handle:    fuseops.HandleID(in.Fh),
		}, nil

	case fusekernel.OpOpen:
		in := (*fusekernel.OpenIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.OpenIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.OpenFileOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Flags:     in.Flags,
		}, nil

	case fusekernel.OpRead:
		in := (*fusekernel.ReadIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReadIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.ReadFileOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    int64(in.Offset),
			Size:      int64(in.Size),
			Dst:       make([]byte, in.Size),
		}, nil

	case fusekernel.OpWrite:
		in := (*fusekernel.WriteIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.WriteIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		payload := inMsg.ConsumeBytes(inMsg.Len())
		if uint32(len(payload)) != in.Size {
			return nil, malformed(
				opcode,
				fmt.Sprintf("declared %d data bytes, carried %d", in.Size, len(payload)))
		}

		// Copy out of the reusable read buffer; the op outlives this request
		// slot.
		data := make([]byte, len(payload))
		copy(data, payload)

		return &fuseops.WriteFileOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    int64(in.Offset),
			Data:      data,
		}, nil

	case fusekernel.OpFsync:
		in := (*fusekernel.FsyncIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.FsyncIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.SyncFileOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Datasync:  in.FsyncFlags&1 != 0,
		}, nil

	case fusekernel.OpFsyncdir:
		in := (*fusekernel.FsyncIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.FsyncIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.SyncDirOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Datasync:  in.FsyncFlags&1 != 0,
		}, nil

	case fusekernel.OpFlush:
		in := (*fusekernel.FlushIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.FlushIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.FlushFileOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			LockOwner: in.LockOwner,
		}, nil

	case fusekernel.OpRelease:
		in := (*fusekernel.ReleaseIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReleaseIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.ReleaseFileHandleOp{
			OpContext: opContext(h),
			Handle:    fuseops.HandleID(in.Fh),
		}, nil

	case fusekernel.OpReadlink:
		return &fuseops.ReadSymlinkOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
		}, nil

	case fusekernel.OpStatfs:
		return &fuseops.StatFSOp{OpContext: opContext(h)}, nil

	case fusekernel.OpRemovexattr:
		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.RemoveXattrOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Name:      string(name),
		}, nil

	case fusekernel.OpGetxattr:
		in := (*fusekernel.GetxattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.GetxattrIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		name, _, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		return &fuseops.GetXattrOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Name:      string(name),
			Dst:       make([]byte, in.Size),
		}, nil

	case fusekernel.OpListxattr:
		in := (*fusekernel.GetxattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.GetxattrIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.ListXattrOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Dst:       make([]byte, in.Size),
		}, nil

	case fusekernel.OpSetxattr:
		in := (*fusekernel.SetxattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.SetxattrIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		name, rest, ok := extractName(inMsg.ConsumeBytes(inMsg.Len()))
		if !ok {
			return nil, malformed(opcode, "name not NUL-terminated")
		}

		if uint32(len(rest)) != in.Size {
			return nil, malformed(
				opcode,
				fmt.Sprintf("declared %d value bytes, carried %d", in.Size, len(rest)))
		}

		value := make([]byte, len(rest))
		copy(value, rest)

		return &fuseops.SetXattrOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Name:      string(name),
			Value:     value,
			Flags:     in.Flags,
		}, nil

	case fusekernel.OpAccess:
		in := (*fusekernel.AccessIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.AccessIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.AccessOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Mask:      in.Mask,
		}, nil

	case fusekernel.OpPoll:
		in := (*fusekernel.PollIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.PollIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.PollOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Kh:        in.Kh,
			Flags:     in.Flags,
			Events:    in.Events,
		}, nil

	case fusekernel.OpBmap:
		in := (*fusekernel.BmapIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.BmapIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.BmapOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			BlockSize: in.BlockSize,
			Block:     in.Block,
		}, nil

	case fusekernel.OpFallocate:
		in := (*fusekernel.FallocateIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.FallocateIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.FallocateOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    in.Offset,
			Length:    in.Length,
			Mode:      in.Mode,
		}, nil

	case fusekernel.OpLseek:
		in := (*fusekernel.LseekIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.LseekIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.LseekOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    in.Offset,
			Whence:    in.Whence,
		}, nil

	case fusekernel.OpCopyFileRange:
		in := (*fusekernel.CopyFileRangeIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.CopyFileRangeIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.CopyFileRangeOp{
			OpContext: opContext(h),
			SrcInode:  fuseops.InodeID(h.Nodeid),
			SrcHandle: fuseops.HandleID(in.FhIn),
			SrcOffset: in.OffIn,
			DstInode:  fuseops.InodeID(in.NodeidOut),
			DstHandle: fuseops.HandleID(in.FhOut),
			DstOffset: in.OffOut,
			Size:      in.Len,
			Flags:     in.Flags,
		}, nil

	case fusekernel.OpGetlk:
		in := (*fusekernel.LkIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.LkIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.GetLkOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Owner:     in.Owner,
			Lock:      convertFileLock(&in.Lk),
		}, nil

	case fusekernel.OpSetlk, fusekernel.OpSetlkw:
		in := (*fusekernel.LkIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.LkIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.SetLkOp{
			OpContext: opContext(h),
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Owner:     in.Owner,
			Lock:      convertFileLock(&in.Lk),
			Sleep:     opcode == fusekernel.OpSetlkw,
		}, nil

	case fusekernel.OpInterrupt:
		in := (*fusekernel.InterruptIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.InterruptIn{})))
		if in == nil {
			return nil, malformed(opcode, "short body")
		}

		return &fuseops.InterruptOp{
			OpContext: opContext(h),
			FuseID:    in.Unique,
		}, nil

	case fusekernel.OpNotifyReply:
		// The kernel's answer to a retrieve notification. It must never be
		// replied to; the session drops it after logging.
		return &notifyReplyOp{context: opContext(h)}, nil

	default:
		return nil, &unknownOpcodeError{opcode: opcode}
	}
}

// notifyReplyOp marks an OpNotifyReply request, which is itself a reply and
// therefore consumes no response slot.
type notifyReplyOp struct {
	context fuseops.OpContext
}

////////////////////////////////////////////////////////////////////////
// Replies
////////////////////////////////////////////////////////////////////////

const entryOutSize = int(unsafe.Sizeof(fusekernel.EntryOut{}))
const attrOutSize = int(unsafe.Sizeof(fusekernel.AttrOut{}))
const openOutSize = int(unsafe.Sizeof(fusekernel.OpenOut{}))

// kernelResponse formats the reply frame for an op previously produced by
// convertInMessage. noResponse is true for ops the protocol forbids
// replying to.
func kernelResponse(
	fuseID uint64,
	op interface{},
	opErr error,
	protocol fusekernel.Version) (m *buffer.OutMessage, noResponse bool) {
	switch op.(type) {
	case *fuseops.ForgetInodeOp, *fuseops.BatchForgetOp, *fuseops.InterruptOp,
		*notifyReplyOp:
		return nil, true
	}

	if opErr != nil {
		m = buffer.NewOutMessage(0)
		m.OutHeader().Error = -errno(opErr)
	} else {
		m = kernelResponseForOp(op, protocol)
	}

	m.OutHeader().Unique = fuseID
	return m, false
}

// kernelResponseForOp formats the success reply for an op, pre-sizing the
// message by the op's fixed payload.
func kernelResponseForOp(
	op interface{},
	protocol fusekernel.Version) *buffer.OutMessage {
	var m *buffer.OutMessage

	switch o := op.(type) {
	case *fuseops.InitOp:
		m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.InitOut{})))
		out := (*fusekernel.InitOut)(m.Grow(int(unsafe.Sizeof(fusekernel.InitOut{}))))
		out.Major = o.Library.Major
		out.Minor = o.Library.Minor
		out.MaxReadahead = o.MaxReadahead
		out.Flags = o.Flags
		out.MaxBackground = o.MaxBackground
		out.CongestionThreshold = o.CongestionThreshold
		out.MaxWrite = o.MaxWrite
		out.TimeGran = o.TimeGran
		out.MaxPages = o.MaxPages

		// Old kernels expect the pre-7.23 24-byte struct.
		if o.Library.Minor < 23 {
			m.ShrinkTo(buffer.OutMessageHeaderSize + 24)
		}

	case *fuseops.LookUpInodeOp:
		m = buffer.NewOutMessage(entryOutSize)
		out := (*fusekernel.EntryOut)(m.Grow(entryOutSize))
		fuseops.ConvertChildInodeEntry(&o.Entry, out)

	case *fuseops.GetInodeAttributesOp:
		m = buffer.NewOutMessage(attrOutSize)
		out := (*fusekernel.AttrOut)(m.Grow(attrOutSize))
		out.AttrValid, out.AttrValidNsec = fuseops.ConvertExpirationTime(o.AttributesExpiration)
		fuseops.ConvertAttributes(uint64(o.Inode), &o.Attributes, &out.Attr)

	case *fuseops.SetInodeAttributesOp:
		m = buffer.NewOutMessage(attrOutSize)
		out := (*fusekernel.AttrOut)(m.Grow(attrOutSize))
		out.AttrValid, out.AttrValidNsec = fuseops.ConvertExpirationTime(o.AttributesExpiration)
		fuseops.ConvertAttributes(uint64(o.Inode), &o.Attributes, &out.Attr)

	case *fuseops.MkDirOp:
		m = buffer.NewOutMessage(entryOutSize)
		out := (*fusekernel.EntryOut)(m.Grow(entryOutSize))
		fuseops.ConvertChildInodeEntry(&o.Entry, out)

	case *fuseops.MkNodeOp:
		m = buffer.NewOutMessage(entryOutSize)
		out := (*fusekernel.EntryOut)(m.Grow(entryOutSize))
		fuseops.ConvertChildInodeEntry(&o.Entry, out)

	case *fuseops.CreateFileOp:
		m = buffer.NewOutMessage(entryOutSize + openOutSize)
		eOut := (*fusekernel.EntryOut)(m.Grow(entryOutSize))
		fuseops.ConvertChildInodeEntry(&o.Entry, eOut)

		oOut := (*fusekernel.OpenOut)(m.Grow(openOutSize))
		oOut.Fh = uint64(o.Handle)

	case *fuseops.CreateSymlinkOp:
		m = buffer.NewOutMessage(entryOutSize)
		out := (*fusekernel.EntryOut)(m.Grow(entryOutSize))
		fuseops.ConvertChildInodeEntry(&o.Entry, out)

	case *fuseops.CreateLinkOp:
		m = buffer.NewOutMessage(entryOutSize)
		out := (*fusekernel.EntryOut)(m.Grow(entryOutSize))
		fuseops.ConvertChildInodeEntry(&o.Entry, out)

	case *fuseops.RenameOp, *fuseops.RmDirOp, *fuseops.UnlinkOp,
		*fuseops.ReleaseDirHandleOp, *fuseops.FlushFileOp,
		*fuseops.ReleaseFileHandleOp, *fuseops.SyncFileOp, *fuseops.SyncDirOp,
		*fuseops.RemoveXattrOp, *fuseops.SetXattrOp, *fuseops.AccessOp,
		*fuseops.FallocateOp, *fuseops.SetLkOp, *fuseops.DestroyOp:
		// Bare acknowledgement.
		m = buffer.NewOutMessage(0)

	case *fuseops.OpenDirOp:
		m = buffer.NewOutMessage(openOutSize)
		out := (*fusekernel.OpenOut)(m.Grow(openOutSize))
		out.Fh = uint64(o.Handle)

	case *fuseops.ReadDirOp:
		m = buffer.NewOutMessage(o.BytesRead)
		m.Append(o.Dst[:o.BytesRead])

	case *fuseops.ReadDirPlusOp:
		m = buffer.NewOutMessage(o.BytesRead)
		m.Append(o.Dst[:o.BytesRead])

	case *fuseops.OpenFileOp:
		m = buffer.NewOutMessage(openOutSize)
		out := (*fusekernel.OpenOut)(m.Grow(openOutSize))
		out.Fh = uint64(o.Handle)

		if o.KeepPageCache {
			out.OpenFlags |= fusekernel.FopenKeepCache
		}

		if o.UseDirectIO {
			out.OpenFlags |= fusekernel.FopenDirectIO
		}

	case *fuseops.ReadFileOp:
		m = buffer.NewOutMessage(0)

		// Truncate to the kernel's budget; short reads are EOF to it.
		budget := o.Size
		if o.Data != nil {
			for _, b := range o.Data {
				if int64(len(b)) > budget {
					b = b[:budget]
				}
				m.Sglist = append(m.Sglist, b)
				budget -= int64(len(b))
				if budget == 0 {
					break
				}
			}
		} else {
			n := int64(o.BytesRead)
			if n > budget {
				n = budget
			}
			m.Sglist = append(m.Sglist, o.Dst[:n])
		}

	case *fuseops.WriteFileOp:
		m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.WriteOut{})))
		out := (*fusekernel.WriteOut)(m.Grow(int(unsafe.Sizeof(fusekernel.WriteOut{}))))
		out.Size = uint32(len(o.Data))

	case *fuseops.ReadSymlinkOp:
		m = buffer.NewOutMessage(len(o.Target))
		m.AppendString(o.Target)

	case *fuseops.StatFSOp:
		m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.StatfsOut{})))
		out := (*fusekernel.StatfsOut)(m.Grow(int(unsafe.Sizeof(fusekernel.StatfsOut{}))))
		out.St.Blocks = o.Blocks
		out.St.Bfree = o.BlocksFree
		out.St.Bavail = o.BlocksAvailable
		out.St.Files = o.Inodes
		out.St.Ffree = o.InodesFree
		// The kernel maps frsize to the block-count unit and bsize to the
		// preferred I/O size.
		out.St.Frsize = o.BlockSize
		out.St.Bsize = o.IoSize
		out.St.Namelen = 255

	case *fuseops.GetXattrOp:
		if len(o.Dst) == 0 {
			// Size probe.
			m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.GetxattrOut{})))
			out := (*fusekernel.GetxattrOut)(m.Grow(int(unsafe.Sizeof(fusekernel.GetxattrOut{}))))
			out.Size = uint32(o.BytesRead)
		} else {
			m = buffer.NewOutMessage(o.BytesRead)
			m.Append(o.Dst[:o.BytesRead])
		}

	case *fuseops.ListXattrOp:
		if len(o.Dst) == 0 {
			m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.GetxattrOut{})))
			out := (*fusekernel.GetxattrOut)(m.Grow(int(unsafe.Sizeof(fusekernel.GetxattrOut{}))))
			out.Size = uint32(o.BytesRead)
		} else {
			m = buffer.NewOutMessage(o.BytesRead)
			m.Append(o.Dst[:o.BytesRead])
		}

	case *fuseops.PollOp:
		m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.PollOut{})))
		out := (*fusekernel.PollOut)(m.Grow(int(unsafe.Sizeof(fusekernel.PollOut{}))))
		out.Revents = o.Revents

	case *fuseops.BmapOp:
		m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.BmapOut{})))
		out := (*fusekernel.BmapOut)(m.Grow(int(unsafe.Sizeof(fusekernel.BmapOut{}))))
		out.Block = o.Result

	case *fuseops.LseekOp:
		m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.LseekOut{})))
		out := (*fusekernel.LseekOut)(m.Grow(int(unsafe.Sizeof(fusekernel.LseekOut{}))))
		out.Offset = o.Result

	case *fuseops.CopyFileRangeOp:
		m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.WriteOut{})))
		out := (*fusekernel.WriteOut)(m.Grow(int(unsafe.Sizeof(fusekernel.WriteOut{}))))
		out.Size = uint32(o.BytesCopied)

	case *fuseops.GetLkOp:
		m = buffer.NewOutMessage(int(unsafe.Sizeof(fusekernel.LkOut{})))
		out := (*fusekernel.LkOut)(m.Grow(int(unsafe.Sizeof(fusekernel.LkOut{}))))
		out.Lk.Start = o.Lock.Start
		out.Lk.End = o.Lock.End
		out.Lk.Type = o.Lock.Type
		out.Lk.Pid = o.Lock.Pid

	default:
		panic(fmt.Sprintf("unexpected op: %#v", op))
	}

	return m
}

////////////////////////////////////////////////////////////////////////
// Conversions
////////////////////////////////////////////////////////////////////////

func convertFileLock(in *fusekernel.FileLock) fuseops.FileLockInfo {
	return fuseops.FileLockInfo{
		Start: in.Start,
		End:   in.End,
		Type:  in.Type,
		Pid:   in.Pid,
	}
}
