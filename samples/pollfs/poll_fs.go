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

// Package pollfs demonstrates poll support and the out-of-band
// notification channel. It serves a single file, "events", that polls as
// unreadable until Trigger is called; pollers that asked for a wakeup get
// one through the notifier.
package pollfs

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/fuseutil"
)

const (
	rootInode fuseops.InodeID = fuseops.RootInodeID + iota
	eventsInode
)

const eventsName = "events"

// POLLIN, as the kernel spells it.
const pollIn = 0x1

// PollFS is the file system itself; use Trigger to make the events file
// readable.
type PollFS struct {
	fuseutil.NotImplementedFileSystem

	mu sync.Mutex

	// The notifier for poll wakeups, set once the mount is up.
	//
	// GUARDED_BY(mu)
	notifier *fuse.Notifier

	// Whether the events file currently has data, and the pending content.
	//
	// GUARDED_BY(mu)
	ready   bool
	counter int

	// Kernel handles waiting on a wakeup.
	//
	// GUARDED_BY(mu)
	waiters map[uint64]struct{}
}

// NewPollFS creates the file system and a server for it.
func NewPollFS() (*PollFS, fuse.Server) {
	fs := &PollFS{
		waiters: make(map[uint64]struct{}),
	}

	return fs, fuseutil.NewFileSystemServer(fs)
}

// SetNotifier wires in the mount's notifier. Must be called before the
// first Trigger.
func (fs *PollFS) SetNotifier(n *fuse.Notifier) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.notifier = n
}

// Trigger makes the events file readable and wakes every poller that
// requested a notification.
func (fs *PollFS) Trigger() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.ready = true
	fs.counter++

	for kh := range fs.waiters {
		if err := fs.notifier.PollWakeup(kh); err != nil {
			return err
		}
		delete(fs.waiters, kh)
	}

	return nil
}

func (fs *PollFS) contentLocked() []byte {
	return []byte(fmt.Sprintf("event %d\n", fs.counter))
}

////////////////////////////////////////////////////////////////////////
// File system methods
////////////////////////////////////////////////////////////////////////

func (fs *PollFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	return nil
}

func (fs *PollFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	if op.Parent != rootInode || op.Name != eventsName {
		return fuse.ENOENT
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	op.Entry.Child = eventsInode
	op.Entry.Attributes = fs.eventsAttrsLocked()
	return nil
}

func (fs *PollFS) eventsAttrsLocked() fuseops.InodeAttributes {
	var size uint64
	if fs.ready {
		size = uint64(len(fs.contentLocked()))
	}

	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0444,
		Size:  size,
	}
}

func (fs *PollFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch op.Inode {
	case rootInode:
		op.Attributes = fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  0555 | os.ModeDir,
		}

	case eventsInode:
		op.Attributes = fs.eventsAttrsLocked()

	default:
		return fuse.ENOENT
	}

	return nil
}

func (fs *PollFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	return nil
}

func (fs *PollFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	if op.Inode != rootInode {
		return fuse.ENOTDIR
	}

	entries := []fuseutil.Dirent{
		{Offset: 1, Inode: eventsInode, Name: eventsName, Type: fuseutil.DT_File},
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}

	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}

		op.BytesRead += n
	}

	return nil
}

func (fs *PollFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	if op.Inode != eventsInode {
		return fuse.ENOENT
	}

	// The file's readiness changes out of band; don't let the page cache
	// hide that.
	op.UseDirectIO = true
	return nil
}

func (fs *PollFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.ready {
		return nil
	}

	content := fs.contentLocked()
	if op.Offset >= int64(len(content)) {
		return nil
	}

	op.BytesRead = copy(op.Dst, content[op.Offset:])

	// One read consumes the event.
	fs.ready = false
	return nil
}

func (fs *PollFS) Poll(
	ctx context.Context,
	op *fuseops.PollOp) error {
	if op.Inode != eventsInode {
		return fuse.ENOENT
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.ready {
		op.Revents = op.Events & pollIn
		return nil
	}

	// Not ready; remember the kernel handle if a wakeup was requested.
	if op.Flags&pollScheduleNotify != 0 {
		fs.waiters[op.Kh] = struct{}{}
	}

	return nil
}

// The kernel's FUSE_POLL_SCHEDULE_NOTIFY flag.
const pollScheduleNotify = 0x1

func (fs *PollFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *PollFS) BatchForget(
	ctx context.Context,
	op *fuseops.BatchForgetOp) error {
	return nil
}

func (fs *PollFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *PollFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *PollFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	return nil
}
