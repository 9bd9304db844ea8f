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
	"fmt"
	"unsafe"

	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/internal/buffer"
	"github.com/fusekit/fuse/internal/fusekernel"
)

// A Notifier sends out-of-band notification frames to the kernel: poll
// wakeups, cache invalidations, stores, retrieves, and entry deletions.
//
// Frames are encoded on the caller's goroutine and handed to the same
// writer that carries replies, so notifications and replies are mutually
// ordered by enqueue time. All methods are safe for concurrent use.
type Notifier struct {
	c *Connection
}

// Notifier returns a handle for sending notifications on this connection.
// The handle remains valid until the connection is torn down, after which
// sends fail with *NotifierClosedError.
func (c *Connection) Notifier() *Notifier {
	return &Notifier{c: c}
}

// NotifierClosedError is returned by Notifier methods when the session has
// been torn down. Kind names the notification that was not sent, so the
// caller can retry on a new session if it cares.
type NotifierClosedError struct {
	Kind string
}

func (e *NotifierClosedError) Error() string {
	return fmt.Sprintf("notifier closed; %s notification dropped", e.Kind)
}

// send stamps the notify code and enqueues the frame. Notifications carry
// a zero unique ID and the notify code in the error field.
func (n *Notifier) send(kind string, code fusekernel.NotifyCode, m *buffer.OutMessage) error {
	m.OutHeader().Error = int32(code)

	if !n.c.frames.Push(outFrame{msg: m}) {
		return &NotifierClosedError{Kind: kind}
	}

	return nil
}

// PollWakeup tells the kernel that a file previously polled with
// PollScheduleNotify has become ready. kh quotes the kernel handle from
// the PollOp.
func (n *Notifier) PollWakeup(kh uint64) error {
	size := int(unsafe.Sizeof(fusekernel.NotifyPollWakeupOut{}))
	m := buffer.NewOutMessage(size)
	out := (*fusekernel.NotifyPollWakeupOut)(m.Grow(size))
	out.Kh = kh

	return n.send("poll wakeup", fusekernel.NotifyCodePoll, m)
}

// InvalidateInode invalidates the kernel's cache of data for an inode.
// offset and length bound the range to drop; a length of zero means "to
// the end of the file" and an offset of zero with length -1 means
// everything, per the kernel's convention.
func (n *Notifier) InvalidateInode(inode fuseops.InodeID, offset int64, length int64) error {
	size := int(unsafe.Sizeof(fusekernel.NotifyInvalInodeOut{}))
	m := buffer.NewOutMessage(size)
	out := (*fusekernel.NotifyInvalInodeOut)(m.Grow(size))
	out.Ino = uint64(inode)
	out.Off = offset
	out.Len = length

	return n.send("invalidate inode", fusekernel.NotifyCodeInvalInode, m)
}

// InvalidateEntry invalidates the kernel's cached (parent, name) dentry,
// forcing a fresh lookup the next time the name is touched.
//
// The name travels without a trailing NUL, matching kernel behaviour.
func (n *Notifier) InvalidateEntry(parent fuseops.InodeID, name string) error {
	size := int(unsafe.Sizeof(fusekernel.NotifyInvalEntryOut{}))
	m := buffer.NewOutMessage(size + len(name))
	out := (*fusekernel.NotifyInvalEntryOut)(m.Grow(size))
	out.Parent = uint64(parent)
	out.Namelen = uint32(len(name))
	m.AppendString(name)

	return n.send("invalidate entry", fusekernel.NotifyCodeInvalEntry, m)
}

// Delete tells the kernel that (parent, name), currently resolving to
// child, has been deleted by the file system itself. Like
// InvalidateEntry, but additionally makes open descriptors observe the
// deletion.
func (n *Notifier) Delete(parent fuseops.InodeID, child fuseops.InodeID, name string) error {
	size := int(unsafe.Sizeof(fusekernel.NotifyDeleteOut{}))
	m := buffer.NewOutMessage(size + len(name))
	out := (*fusekernel.NotifyDeleteOut)(m.Grow(size))
	out.Parent = uint64(parent)
	out.Child = uint64(child)
	out.Namelen = uint32(len(name))
	m.AppendString(name)

	return n.send("delete", fusekernel.NotifyCodeDelete, m)
}

// Store injects data into the kernel's page cache for an inode, without
// waiting for it to be read.
func (n *Notifier) Store(inode fuseops.InodeID, offset uint64, data []byte) error {
	size := int(unsafe.Sizeof(fusekernel.NotifyStoreOut{}))
	m := buffer.NewOutMessage(size + len(data))
	out := (*fusekernel.NotifyStoreOut)(m.Grow(size))
	out.Nodeid = uint64(inode)
	out.Offset = offset
	out.Size = uint32(len(data))
	m.Append(data)

	return n.send("store", fusekernel.NotifyCodeStore, m)
}

// Retrieve asks the kernel for the contents of its page cache for an
// inode. The kernel answers with a NOTIFY_REPLY request quoting
// notifyUnique.
func (n *Notifier) Retrieve(notifyUnique uint64, inode fuseops.InodeID, offset uint64, size uint32) error {
	outSize := int(unsafe.Sizeof(fusekernel.NotifyRetrieveOut{}))
	m := buffer.NewOutMessage(outSize)
	out := (*fusekernel.NotifyRetrieveOut)(m.Grow(outSize))
	out.NotifyUnique = notifyUnique
	out.Nodeid = uint64(inode)
	out.Offset = offset
	out.Size = size

	return n.send("retrieve", fusekernel.NotifyCodeRetrieve, m)
}
