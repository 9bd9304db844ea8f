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

package fuse_test

import (
	"encoding/binary"
	"os"
	"syscall"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/fusekit/fuse"
	"github.com/fusekit/fuse/internal/fusekernel"
	"github.com/fusekit/fuse/samples/hellofs"
	"github.com/fusekit/fuse/samples/pollfs"
)

// A harness stands in for the kernel: a seqpacket socketpair replaces
// /dev/fuse, preserving the one-request-per-read framing the device
// guarantees.
type harness struct {
	t      *testing.T
	kernel *os.File
	conn   *fuse.Connection
	served chan struct{}

	unique uint64
}

func newHarness(t *testing.T, server fuse.Server, cfg fuse.MountConfig) *harness {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)

	dev := os.NewFile(uintptr(fds[0]), "fuse-dev")
	kernel := os.NewFile(uintptr(fds[1]), "fuse-kernel")

	conn := fuse.NewConnection(cfg, dev)

	h := &harness{
		t:      t,
		kernel: kernel,
		conn:   conn,
		served: make(chan struct{}),
	}

	go func() {
		server.ServeOps(conn)
		close(h.served)
	}()

	return h
}

func (h *harness) destroy() {
	h.kernel.Close()
	<-h.served
	h.conn.Close()
}

// request sends one framed request and returns its unique ID.
func (h *harness) request(opcode fusekernel.Opcode, nodeid uint64, body []byte) uint64 {
	h.unique++

	buf := make([]byte, 40+len(body))
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(opcode))
	binary.LittleEndian.PutUint64(buf[8:], h.unique)
	binary.LittleEndian.PutUint64(buf[16:], nodeid)
	binary.LittleEndian.PutUint32(buf[24:], 501)
	binary.LittleEndian.PutUint32(buf[28:], 20)
	binary.LittleEndian.PutUint32(buf[32:], 1234)
	copy(buf[40:], body)

	_, err := h.kernel.Write(buf)
	require.NoError(h.t, err)

	return h.unique
}

type replyFrame struct {
	Len    uint32
	Error  int32
	Unique uint64
	Body   []byte
}

// reply reads one frame from the device.
func (h *harness) reply() replyFrame {
	buf := make([]byte, 1<<20)
	n, err := h.kernel.Read(buf)
	require.NoError(h.t, err)
	require.GreaterOrEqual(h.t, n, 16)

	f := replyFrame{
		Len:    binary.LittleEndian.Uint32(buf[0:]),
		Error:  int32(binary.LittleEndian.Uint32(buf[4:])),
		Unique: binary.LittleEndian.Uint64(buf[8:]),
		Body:   buf[16:n],
	}

	// The header's len field must equal the actual frame length.
	require.Equal(h.t, uint32(n), f.Len)
	return f
}

func initBody(major, minor, maxReadahead, flags uint32) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], major)
	binary.LittleEndian.PutUint32(b[4:], minor)
	binary.LittleEndian.PutUint32(b[8:], maxReadahead)
	binary.LittleEndian.PutUint32(b[12:], flags)
	return b
}

func readBody(fh uint64, offset uint64, size uint32) []byte {
	b := make([]byte, 40)
	binary.LittleEndian.PutUint64(b[0:], fh)
	binary.LittleEndian.PutUint64(b[8:], offset)
	binary.LittleEndian.PutUint32(b[16:], size)
	return b
}

// doInit performs the handshake every session must start with.
func (h *harness) doInit(flags uint32) replyFrame {
	unique := h.request(
		fusekernel.OpInit, 0, initBody(7, 31, 131072, flags))

	f := h.reply()
	require.Equal(h.t, unique, f.Unique)
	require.Equal(h.t, int32(0), f.Error)
	return f
}

func newHelloHarness(t *testing.T) *harness {
	server, err := hellofs.NewHelloFS(timeutil.RealClock())
	require.NoError(t, err)

	h := newHarness(t, server, fuse.MountConfig{})
	h.doInit(fusekernel.InitAsyncRead | fusekernel.InitBigWrites |
		fusekernel.InitDoReaddirplus)
	return h
}

////////////////////////////////////////////////////////////////////////
// Scenarios
////////////////////////////////////////////////////////////////////////

func TestInitHandshake(t *testing.T) {
	server, err := hellofs.NewHelloFS(timeutil.RealClock())
	require.NoError(t, err)

	h := newHarness(t, server, fuse.MountConfig{})
	defer h.destroy()

	f := h.doInit(fusekernel.InitAsyncRead | fusekernel.InitBigWrites |
		fusekernel.InitDoReaddirplus)

	require.Len(t, f.Body, 64)

	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(f.Body[0:]))
	assert.Equal(t, uint32(31), binary.LittleEndian.Uint32(f.Body[4:]))
	assert.Equal(t, uint32(131072), binary.LittleEndian.Uint32(f.Body[8:]))

	flags := binary.LittleEndian.Uint32(f.Body[12:])
	assert.Equal(t,
		uint32(fusekernel.InitAsyncRead|fusekernel.InitBigWrites|
			fusekernel.InitDoReaddirplus),
		flags)

	assert.Equal(t, uint16(12), binary.LittleEndian.Uint16(f.Body[16:]))
	assert.Equal(t, uint16(9), binary.LittleEndian.Uint16(f.Body[18:]))
	assert.Equal(t, uint32(1<<24), binary.LittleEndian.Uint32(f.Body[20:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(f.Body[24:]))
	assert.Equal(t, uint16(65535), binary.LittleEndian.Uint16(f.Body[28:]))
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(f.Body[30:]))
}

func TestHelloWorldRead(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	// Look up the file within the root.
	unique := h.request(fusekernel.OpLookup, 1, []byte("hello\x00"))
	f := h.reply()
	require.Equal(t, unique, f.Unique)
	require.Equal(t, int32(0), f.Error)
	require.Len(t, f.Body, 128)

	inode := binary.LittleEndian.Uint64(f.Body[0:])
	size := binary.LittleEndian.Uint64(f.Body[48:])
	mode := binary.LittleEndian.Uint32(f.Body[100:])

	assert.Equal(t, uint64(2), inode)
	assert.Equal(t, uint64(len("Hello, world!")), size)
	assert.Equal(t, uint32(0444|syscall.S_IFREG), mode)

	// Open it.
	unique = h.request(fusekernel.OpOpen, inode, make([]byte, 8))
	f = h.reply()
	require.Equal(t, unique, f.Unique)
	require.Equal(t, int32(0), f.Error)
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(f.Body[0:]))

	// Read it.
	unique = h.request(fusekernel.OpRead, inode, readBody(0, 0, 4096))
	f = h.reply()
	require.Equal(t, unique, f.Unique)
	require.Equal(t, int32(0), f.Error)
	assert.Equal(t, "Hello, world!", string(f.Body))
}

func TestReadAtEOFReturnsEmpty(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	unique := h.request(fusekernel.OpRead, 2, readBody(0, 100, 4096))
	f := h.reply()
	require.Equal(t, unique, f.Unique)
	assert.Equal(t, int32(0), f.Error)
	assert.Empty(t, f.Body)
}

func TestUnknownOpcode(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	unique := h.request(fusekernel.Opcode(999), 1, nil)
	f := h.reply()

	assert.Equal(t, unique, f.Unique)
	assert.Equal(t, -int32(syscall.ENOSYS), f.Error)
	assert.Empty(t, f.Body)
}

func TestMalformedLookupName(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	// No NUL terminator.
	unique := h.request(fusekernel.OpLookup, 1, []byte("hello"))
	f := h.reply()

	assert.Equal(t, unique, f.Unique)
	assert.Equal(t, -int32(syscall.EINVAL), f.Error)
}

func TestWriteSizeMismatch(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	// Declare ten bytes, carry five.
	body := make([]byte, 40+5)
	binary.LittleEndian.PutUint64(body[8:], 0)  // offset
	binary.LittleEndian.PutUint32(body[16:], 10) // size
	copy(body[40:], "tacos")

	unique := h.request(fusekernel.OpWrite, 2, body)
	f := h.reply()

	assert.Equal(t, unique, f.Unique)
	assert.Equal(t, -int32(syscall.EINVAL), f.Error)
}

// parseDirentNames walks a readdir reply body.
func parseDirentNames(t *testing.T, body []byte) []string {
	var names []string
	for len(body) > 0 {
		require.GreaterOrEqual(t, len(body), 24)
		namelen := int(binary.LittleEndian.Uint32(body[16:]))
		names = append(names, string(body[24:24+namelen]))

		total := 24 + namelen
		if total%8 != 0 {
			total += 8 - total%8
		}
		body = body[total:]
	}

	return names
}

func TestReadDirOffsets(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	// The whole listing.
	unique := h.request(fusekernel.OpReaddir, 1, readBody(0, 0, 4096))
	f := h.reply()
	require.Equal(t, unique, f.Unique)
	require.Equal(t, int32(0), f.Error)
	assert.Equal(t, []string{"hello", "dir"}, parseDirentNames(t, f.Body))

	// Resume past the first entry.
	unique = h.request(fusekernel.OpReaddir, 1, readBody(0, 1, 4096))
	f = h.reply()
	require.Equal(t, unique, f.Unique)
	assert.Equal(t, []string{"dir"}, parseDirentNames(t, f.Body))

	// Resume past the end.
	unique = h.request(fusekernel.OpReaddir, 1, readBody(0, 2, 4096))
	f = h.reply()
	require.Equal(t, unique, f.Unique)
	assert.Empty(t, f.Body)
}

func TestReadDirBudgetTooSmallForFirstEntry(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	unique := h.request(fusekernel.OpReaddir, 1, readBody(0, 0, 8))
	f := h.reply()

	require.Equal(t, unique, f.Unique)
	assert.Equal(t, int32(0), f.Error)
	assert.Empty(t, f.Body)
}

func TestForgetGetsNoReply(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	// A forget, then a lookup. The only reply must belong to the lookup.
	nlookup := make([]byte, 8)
	binary.LittleEndian.PutUint64(nlookup, 1)
	h.request(fusekernel.OpForget, 2, nlookup)

	unique := h.request(fusekernel.OpLookup, 1, []byte("dir\x00"))
	f := h.reply()

	assert.Equal(t, unique, f.Unique)
	assert.Equal(t, int32(0), f.Error)
}

func TestPollWakeupNotification(t *testing.T) {
	fs, server := pollfs.NewPollFS()

	h := newHarness(t, server, fuse.MountConfig{})
	defer h.destroy()

	h.doInit(fusekernel.InitAsyncRead)
	fs.SetNotifier(h.conn.Notifier())

	// Poll with SCHEDULE_NOTIFY; nothing is ready yet.
	body := make([]byte, 24)
	binary.LittleEndian.PutUint64(body[0:], 0)  // fh
	binary.LittleEndian.PutUint64(body[8:], 42) // kh
	binary.LittleEndian.PutUint32(body[16:], fusekernel.PollScheduleNotify)
	binary.LittleEndian.PutUint32(body[20:], 0x1) // POLLIN

	unique := h.request(fusekernel.OpPoll, 2, body)
	f := h.reply()
	require.Equal(t, unique, f.Unique)
	require.Equal(t, int32(0), f.Error)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(f.Body[0:]))

	// Trigger an event; a wakeup frame must arrive, addressed to no
	// request and carrying the poll notify code.
	require.NoError(t, fs.Trigger())

	f = h.reply()
	assert.Equal(t, uint64(0), f.Unique)
	assert.Equal(t, int32(fusekernel.NotifyCodePoll), f.Error)
	require.Len(t, f.Body, 8)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(f.Body[0:]))
}

func TestInvalidateEntryNotification(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	require.NoError(t, h.conn.Notifier().InvalidateEntry(1, "hello"))

	f := h.reply()
	assert.Equal(t, uint64(0), f.Unique)
	assert.Equal(t, int32(fusekernel.NotifyCodeInvalEntry), f.Error)

	require.Len(t, f.Body, 16+len("hello"))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(f.Body[0:]))
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(f.Body[8:]))

	// The name travels without a trailing NUL.
	assert.Equal(t, "hello", string(f.Body[16:]))
}

func TestStoreNotification(t *testing.T) {
	h := newHelloHarness(t)
	defer h.destroy()

	require.NoError(t, h.conn.Notifier().Store(2, 512, []byte("cached")))

	f := h.reply()
	assert.Equal(t, uint64(0), f.Unique)
	assert.Equal(t, int32(fusekernel.NotifyCodeStore), f.Error)

	require.Len(t, f.Body, 24+len("cached"))
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(f.Body[0:]))
	assert.Equal(t, uint64(512), binary.LittleEndian.Uint64(f.Body[8:]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(f.Body[16:]))
	assert.Equal(t, "cached", string(f.Body[24:]))
}

func TestDestroyStopsServing(t *testing.T) {
	server, err := hellofs.NewHelloFS(timeutil.RealClock())
	require.NoError(t, err)

	h := newHarness(t, server, fuse.MountConfig{})
	h.doInit(fusekernel.InitAsyncRead)

	unique := h.request(fusekernel.OpDestroy, 0, nil)
	f := h.reply()
	assert.Equal(t, unique, f.Unique)
	assert.Equal(t, int32(0), f.Error)

	// The serve loop must exit on its own.
	<-h.served

	h.conn.Close()
	h.kernel.Close()
}
