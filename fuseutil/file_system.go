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

// Package fuseutil offers a way to implement a file system in terms of
// typed method calls, one per operation, instead of a hand-written
// dispatch loop.
package fuseutil

import (
	"context"
	"io"
	"sync"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/fuseops"
)

// An interface with a method for each op type in the fuseops package. This
// can be used in conjunction with NewFileSystemServer to avoid writing a
// "dispatch loop" that switches on op types, instead receiving typed
// method calls directly.
//
// The FileSystem implementation should not call Connection.Reply; the
// server does so with the method's return value. Methods that are not
// supported should return ENOSYS.
//
// See NotImplementedFileSystem for a convenient way to embed default
// implementations for methods you don't care about.
type FileSystem interface {
	Init(context.Context, *fuseops.InitOp) error
	StatFS(context.Context, *fuseops.StatFSOp) error
	LookUpInode(context.Context, *fuseops.LookUpInodeOp) error
	GetInodeAttributes(context.Context, *fuseops.GetInodeAttributesOp) error
	SetInodeAttributes(context.Context, *fuseops.SetInodeAttributesOp) error
	ForgetInode(context.Context, *fuseops.ForgetInodeOp) error
	BatchForget(context.Context, *fuseops.BatchForgetOp) error
	MkDir(context.Context, *fuseops.MkDirOp) error
	MkNode(context.Context, *fuseops.MkNodeOp) error
	CreateFile(context.Context, *fuseops.CreateFileOp) error
	CreateLink(context.Context, *fuseops.CreateLinkOp) error
	CreateSymlink(context.Context, *fuseops.CreateSymlinkOp) error
	Rename(context.Context, *fuseops.RenameOp) error
	RmDir(context.Context, *fuseops.RmDirOp) error
	Unlink(context.Context, *fuseops.UnlinkOp) error
	OpenDir(context.Context, *fuseops.OpenDirOp) error
	ReadDir(context.Context, *fuseops.ReadDirOp) error
	ReadDirPlus(context.Context, *fuseops.ReadDirPlusOp) error
	ReleaseDirHandle(context.Context, *fuseops.ReleaseDirHandleOp) error
	OpenFile(context.Context, *fuseops.OpenFileOp) error
	ReadFile(context.Context, *fuseops.ReadFileOp) error
	WriteFile(context.Context, *fuseops.WriteFileOp) error
	SyncFile(context.Context, *fuseops.SyncFileOp) error
	FlushFile(context.Context, *fuseops.FlushFileOp) error
	ReleaseFileHandle(context.Context, *fuseops.ReleaseFileHandleOp) error
	ReadSymlink(context.Context, *fuseops.ReadSymlinkOp) error
	RemoveXattr(context.Context, *fuseops.RemoveXattrOp) error
	GetXattr(context.Context, *fuseops.GetXattrOp) error
	ListXattr(context.Context, *fuseops.ListXattrOp) error
	SetXattr(context.Context, *fuseops.SetXattrOp) error
	Access(context.Context, *fuseops.AccessOp) error
	Poll(context.Context, *fuseops.PollOp) error
	Fallocate(context.Context, *fuseops.FallocateOp) error
	Lseek(context.Context, *fuseops.LseekOp) error
	CopyFileRange(context.Context, *fuseops.CopyFileRangeOp) error
	SyncDir(context.Context, *fuseops.SyncDirOp) error
	Bmap(context.Context, *fuseops.BmapOp) error
	GetLk(context.Context, *fuseops.GetLkOp) error
	SetLk(context.Context, *fuseops.SetLkOp) error

	// Advisory: a process has abandoned the op named by the argument. The
	// file system may use this to abort in-flight work; the original op
	// must still be replied to either way.
	Interrupt(context.Context, *fuseops.InterruptOp) error

	// Regard all inodes (including the root) as having their lookup counts
	// decremented to zero, and clean up any resources associated with the
	// file system. No further calls will be received.
	Destroy()
}

// NewFileSystemServer creates a fuse.Server that handles ops by calling
// the associated FileSystem method and responding with the result.
//
// Each call to a FileSystem method is made on its own goroutine, and is
// free to block. The exceptions are Init and Destroy, which are handled
// inline before the loop continues, and which bracket all other calls.
//
// (It is safe to naively process ops concurrently because the kernel
// guarantees to serialize operations that the user expects to happen in
// order.)
func NewFileSystemServer(fs FileSystem) fuse.Server {
	return &fileSystemServer{
		impl: fs,
	}
}

type fileSystemServer struct {
	impl        FileSystem
	opsInFlight sync.WaitGroup
	destroyOnce sync.Once
}

func (s *fileSystemServer) destroy() {
	s.destroyOnce.Do(s.impl.Destroy)
}

func (s *fileSystemServer) ServeOps(c *fuse.Connection) {
	// When this function returns, wait for all in-flight ops, then
	// destroy the file system.
	defer s.destroy()
	defer s.opsInFlight.Wait()

	for {
		ctx, op, err := c.ReadOp()
		if err == io.EOF {
			return
		}

		if err != nil {
			return
		}

		switch op.(type) {
		case *fuseops.InitOp, *fuseops.DestroyOp:
			// The handshake happens before anything else is in flight, and
			// teardown after; both run inline.
			s.opsInFlight.Add(1)
			s.handleOp(c, ctx, op)

			if _, isDestroy := op.(*fuseops.DestroyOp); isDestroy {
				return
			}

		default:
			s.opsInFlight.Add(1)
			go s.handleOp(c, ctx, op)
		}
	}
}

func (s *fileSystemServer) handleOp(
	c *fuse.Connection,
	ctx context.Context,
	op interface{}) {
	defer s.opsInFlight.Done()

	// Dispatch to the file system.
	var err error
	switch typed := op.(type) {
	case *fuseops.InitOp:
		err = s.impl.Init(ctx, typed)

	case *fuseops.DestroyOp:
		s.destroy()

	case *fuseops.StatFSOp:
		err = s.impl.StatFS(ctx, typed)

	case *fuseops.LookUpInodeOp:
		err = s.impl.LookUpInode(ctx, typed)

	case *fuseops.GetInodeAttributesOp:
		err = s.impl.GetInodeAttributes(ctx, typed)

	case *fuseops.SetInodeAttributesOp:
		err = s.impl.SetInodeAttributes(ctx, typed)

	case *fuseops.ForgetInodeOp:
		err = s.impl.ForgetInode(ctx, typed)

	case *fuseops.BatchForgetOp:
		err = s.impl.BatchForget(ctx, typed)

	case *fuseops.MkDirOp:
		err = s.impl.MkDir(ctx, typed)

	case *fuseops.MkNodeOp:
		err = s.impl.MkNode(ctx, typed)

	case *fuseops.CreateFileOp:
		err = s.impl.CreateFile(ctx, typed)

	case *fuseops.CreateLinkOp:
		err = s.impl.CreateLink(ctx, typed)

	case *fuseops.CreateSymlinkOp:
		err = s.impl.CreateSymlink(ctx, typed)

	case *fuseops.RenameOp:
		err = s.impl.Rename(ctx, typed)

	case *fuseops.RmDirOp:
		err = s.impl.RmDir(ctx, typed)

	case *fuseops.UnlinkOp:
		err = s.impl.Unlink(ctx, typed)

	case *fuseops.OpenDirOp:
		err = s.impl.OpenDir(ctx, typed)

	case *fuseops.ReadDirOp:
		err = s.impl.ReadDir(ctx, typed)

	case *fuseops.ReadDirPlusOp:
		err = s.impl.ReadDirPlus(ctx, typed)

	case *fuseops.ReleaseDirHandleOp:
		err = s.impl.ReleaseDirHandle(ctx, typed)

	case *fuseops.OpenFileOp:
		err = s.impl.OpenFile(ctx, typed)

	case *fuseops.ReadFileOp:
		err = s.impl.ReadFile(ctx, typed)

	case *fuseops.WriteFileOp:
		err = s.impl.WriteFile(ctx, typed)

	case *fuseops.SyncFileOp:
		err = s.impl.SyncFile(ctx, typed)

	case *fuseops.FlushFileOp:
		err = s.impl.FlushFile(ctx, typed)

	case *fuseops.ReleaseFileHandleOp:
		err = s.impl.ReleaseFileHandle(ctx, typed)

	case *fuseops.ReadSymlinkOp:
		err = s.impl.ReadSymlink(ctx, typed)

	case *fuseops.RemoveXattrOp:
		err = s.impl.RemoveXattr(ctx, typed)

	case *fuseops.GetXattrOp:
		err = s.impl.GetXattr(ctx, typed)

	case *fuseops.ListXattrOp:
		err = s.impl.ListXattr(ctx, typed)

	case *fuseops.SetXattrOp:
		err = s.impl.SetXattr(ctx, typed)

	case *fuseops.AccessOp:
		err = s.impl.Access(ctx, typed)

	case *fuseops.PollOp:
		err = s.impl.Poll(ctx, typed)

	case *fuseops.FallocateOp:
		err = s.impl.Fallocate(ctx, typed)

	case *fuseops.LseekOp:
		err = s.impl.Lseek(ctx, typed)

	case *fuseops.CopyFileRangeOp:
		err = s.impl.CopyFileRange(ctx, typed)

	case *fuseops.SyncDirOp:
		err = s.impl.SyncDir(ctx, typed)

	case *fuseops.BmapOp:
		err = s.impl.Bmap(ctx, typed)

	case *fuseops.GetLkOp:
		err = s.impl.GetLk(ctx, typed)

	case *fuseops.SetLkOp:
		err = s.impl.SetLk(ctx, typed)

	case *fuseops.InterruptOp:
		err = s.impl.Interrupt(ctx, typed)

	default:
		err = fuse.ENOSYS
	}

	c.Reply(ctx, err)
}
