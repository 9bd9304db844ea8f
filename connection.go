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
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/fusekit/fuse/fuseops"
	"github.com/fusekit/fuse/internal/buffer"
	"github.com/fusekit/fuse/internal/fusekernel"
	"github.com/fusekit/fuse/internal/queue"
)

type contextKeyType uint64

var contextKey interface{} = contextKeyType(0)

// Connection represents a connection to the fuse kernel process. It owns
// the device descriptor, serializes reads on one side and writes on the
// other, and carries the queue that the writer drains.
type Connection struct {
	cfg         MountConfig
	debugLogger *logrus.Logger
	errorLogger *logrus.Logger

	// The device through which we're talking to the kernel, and the
	// protocol version negotiated with it.
	dev      *os.File
	protocol fusekernel.Version

	// The read side: one exclusive holder, one reusable request buffer.
	readMu sync.Mutex
	inMsg  *buffer.InMessage

	// The write side: frames queue up here and a single writer goroutine
	// drains them to the device. writeMu serializes the raw syscalls in
	// writeFrame.
	writeMu    sync.Mutex
	frames     *queue.Queue[outFrame]
	writerDone chan struct{}

	// Closed when the INIT handshake has been replied to, successfully or
	// not.
	initDone chan struct{}
	initOnce sync.Once
	initErr  error

	// Tripped when the mount handle is being torn down, so that the reader
	// stops even if the kernel hasn't returned ENODEV yet.
	unmountC    chan struct{}
	unmountOnce sync.Once

	mu sync.Mutex

	// A map from fuse "unique" request ID to a function that cancels the
	// associated context, consulted when INTERRUPT arrives.
	//
	// GUARDED_BY(mu)
	cancelFuncs map[uint64]func()

	// The first fatal write error, if any.
	//
	// GUARDED_BY(mu)
	fatalErr error
}

// An outFrame pairs a formatted frame with a callback to run once it has
// been written.
type outFrame struct {
	msg      *buffer.OutMessage
	callback func()
}

// State maintained for each in-flight op, stuffed into the context that the
// user uses to reply to it.
type opState struct {
	fuseID uint64
	opcode fusekernel.Opcode
	op     interface{}
}

// NewConnection creates a connection around an already-open FUSE device
// descriptor, for callers that perform the mount step themselves. Mount
// does this for you; tests and exotic embedders use it directly. You must
// eventually call Close.
func NewConnection(cfg MountConfig, dev *os.File) *Connection {
	return newConnection(cfg, dev)
}

// Close tears the connection down: no further frames are accepted, the
// writer drains what's queued, and the device is closed. Must not be
// called until operations read from the connection have been responded
// to.
func (c *Connection) Close() error {
	return c.destroy()
}

// newConnection creates a connection wrapping the supplied device file and
// starts its writer. You must eventually call destroy.
func newConnection(cfg MountConfig, dev *os.File) *Connection {
	c := &Connection{
		cfg:         cfg,
		debugLogger: cfg.DebugLogger,
		errorLogger: cfg.ErrorLogger,
		dev:         dev,
		inMsg:       buffer.NewInMessage(),
		frames:      queue.New[outFrame](),
		writerDone:  make(chan struct{}),
		initDone:    make(chan struct{}),
		unmountC:    make(chan struct{}),
		cancelFuncs: make(map[uint64]func()),
	}

	go c.writeLoop()
	return c
}

func (c *Connection) debugLog(fuseID uint64, format string, v ...interface{}) {
	if c.debugLogger == nil {
		return
	}

	c.debugLogger.WithField("op", fmt.Sprintf("0x%08x", fuseID)).
		Debugf(format, v...)
}

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) recordCancelFunc(fuseID uint64, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cancelFuncs[fuseID]; ok {
		panic(fmt.Sprintf("already have cancel func for request %v", fuseID))
	}

	c.cancelFuncs[fuseID] = f
}

// noReplyOpcode tells whether the protocol forbids replying to requests
// with the given opcode.
func noReplyOpcode(opcode fusekernel.Opcode) bool {
	switch opcode {
	case fusekernel.OpForget,
		fusekernel.OpBatchForget,
		fusekernel.OpInterrupt,
		fusekernel.OpNotifyReply:
		return true
	}

	return false
}

// beginOp sets up state for an op that is about to be returned to the
// user, returning the context that should be used for it.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) beginOp(
	opcode fusekernel.Opcode,
	fuseID uint64) context.Context {
	ctx := c.cfg.OpContext
	if ctx == nil {
		ctx = context.Background()
	}

	// No-reply requests have IDs that are immediately eligible for reuse,
	// so we must not record any state keyed on them.
	if !noReplyOpcode(opcode) {
		var cancel func()
		ctx, cancel = context.WithCancel(ctx)
		c.recordCancelFunc(fuseID, cancel)
	}

	return ctx
}

// finishOp cleans up state associated with an op to which the user has
// responded. Must be called before the response hits the kernel, to avoid
// a race with the request ID being reused.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) finishOp(opcode fusekernel.Opcode, fuseID uint64) {
	if noReplyOpcode(opcode) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// context.WithCancel requires the cancellation function to be invoked
	// eventually either way.
	cancel, ok := c.cancelFuncs[fuseID]
	if !ok {
		panic(fmt.Sprintf("unknown request ID in finishOp: %v", fuseID))
	}

	cancel()
	delete(c.cancelFuncs, fuseID)
}

// handleInterrupt cancels the context of the named in-flight op, if it is
// still in flight. An interrupt cannot be delivered before its target, so
// a missing ID means the target has already been replied to.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) handleInterrupt(fuseID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.cancelFuncs[fuseID]; ok {
		cancel()
	}
}

// readMessage fills c.inMsg with the next request from the kernel.
// Returns io.EOF when the kernel has hung up or the unmount notifier has
// been tripped.
func (c *Connection) readMessage() error {
	// Loop past transient errors.
	for {
		select {
		case <-c.unmountC:
			return io.EOF
		default:
		}

		err := c.inMsg.Init(c.dev)

		// ENODEV means the file system has been unmounted; EINTR and EAGAIN
		// mean try again.
		if pe, ok := err.(*os.PathError); ok {
			switch pe.Err {
			case syscall.ENODEV:
				err = io.EOF

			case syscall.EINTR, syscall.EAGAIN:
				continue
			}
		}

		return err
	}
}

// ReadOp consumes the next op from the kernel, returning the op and a
// context that should be used for work related to it. It returns io.EOF
// when the kernel has closed the connection.
//
// Protocol-level garbage is answered here (ENOSYS for unknown opcodes,
// EINVAL for garbled bodies) without surfacing an op.
//
// This function delivers ops in exactly the order they are received from
// the device. It must not be called multiple times concurrently.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) ReadOp() (context.Context, interface{}, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	// Keep going until we find a request we can return to the user.
	for {
		if err := c.readMessage(); err != nil {
			if err == io.EOF {
				return nil, nil, io.EOF
			}

			err = fmt.Errorf("reading request: %w", err)
			c.setFatal(err)
			return nil, nil, err
		}

		h := c.inMsg.Header()
		fuseID := h.Unique
		opcode := fusekernel.Opcode(h.Opcode)

		op, err := convertInMessage(&c.cfg, c.inMsg)
		if err != nil {
			// A newer kernel than us, or a request that doesn't parse. Both
			// are answered without involving the user, and neither is fatal.
			switch err.(type) {
			case *unknownOpcodeError:
				c.debugLog(fuseID, "<- %v: replying ENOSYS", opcode)
				c.replyError(fuseID, syscall.ENOSYS)
				continue

			case *malformedMessageError:
				c.debugLog(fuseID, "<- %v: replying EINVAL (%v)", opcode, err)
				c.replyError(fuseID, syscall.EINVAL)
				continue
			}

			err = fmt.Errorf("convertInMessage: %w", err)
			c.setFatal(err)
			return nil, nil, err
		}

		if c.debugLogger != nil {
			c.debugLog(fuseID, "<- %s", describeRequest(op))
		}

		switch typed := op.(type) {
		case *fuseops.InitOp:
			if err := c.negotiateInit(typed); err != nil {
				c.replyError(fuseID, syscall.EPROTO)
				c.setInitErr(err)
				return nil, nil, err
			}

		case *fuseops.InterruptOp:
			// Cancel the target's context; the op is still handed to the
			// user as an advisory.
			c.handleInterrupt(typed.FuseID)

		case *notifyReplyOp:
			// An answer to one of our retrieve notifications; nothing to
			// route it to, and the protocol forbids replying.
			continue
		}

		ctx := c.beginOp(opcode, fuseID)
		ctx = context.WithValue(ctx, contextKey, opState{fuseID, opcode, op})

		return ctx, op, nil
	}
}

// negotiateInit checks the kernel's protocol version and fills in the
// negotiated reply fields of the op before it is handed to the user.
func (c *Connection) negotiateInit(op *fuseops.InitOp) error {
	kernel := fusekernel.Version{Major: op.Kernel.Major, Minor: op.Kernel.Minor}

	min := fusekernel.Version{
		Major: fusekernel.ProtoVersionMinMajor,
		Minor: fusekernel.ProtoVersionMinMinor,
	}
	if kernel.LT(min) {
		return fmt.Errorf("kernel protocol version %v too old", kernel)
	}

	// Downgrade to the kernel's version if it is older than ours.
	lib := fusekernel.Version{
		Major: fusekernel.ProtoVersionMaxMajor,
		Minor: fusekernel.ProtoVersionMaxMinor,
	}
	if kernel.LT(lib) {
		lib = kernel
	}

	op.Library = fuseops.InitVersion{Major: lib.Major, Minor: lib.Minor}
	op.Flags = c.negotiateFlags(op.KernelFlags)
	op.MaxBackground = 12
	op.CongestionThreshold = 9
	op.MaxWrite = fusekernel.MaxWriteSize
	op.TimeGran = 1
	op.MaxPages = 65535

	return nil
}

// negotiateFlags computes the capability set to send back during INIT:
// each bit is the AND of the kernel's offer and our policy, which for some
// capabilities is gated on a mount option.
func (c *Connection) negotiateFlags(kernelFlags uint32) uint32 {
	// Capabilities we take whenever the kernel offers them.
	want := uint32(fusekernel.InitAsyncRead |
		fusekernel.InitFileOps |
		fusekernel.InitAtomicTrunc |
		fusekernel.InitExportSupport |
		fusekernel.InitBigWrites |
		fusekernel.InitSpliceWrite |
		fusekernel.InitSpliceMove |
		fusekernel.InitSpliceRead |
		fusekernel.InitAutoInvalData |
		fusekernel.InitAsyncDIO |
		fusekernel.InitParallelDirOps |
		fusekernel.InitMaxPages |
		fusekernel.InitCacheSymlinks)

	// Capabilities gated on mount options.
	if c.cfg.EnablePosixLocks {
		want |= fusekernel.InitPosixLocks
	}
	if c.cfg.DontMask {
		want |= fusekernel.InitDontMask
	}
	if c.cfg.WritebackCache {
		want |= fusekernel.InitWritebackCache
	}
	if c.cfg.NoOpenSupport {
		want |= fusekernel.InitNoOpenSupport
	}
	if c.cfg.NoOpenDirSupport {
		want |= fusekernel.InitNoOpendirSupport
	}
	if c.cfg.HandleKillpriv {
		want |= fusekernel.InitHandleKillpriv
	}
	if c.cfg.EnablePosixACL {
		want |= fusekernel.InitPosixACL
	}

	flags := kernelFlags & want

	// Readdirplus: on if the kernel can do it or the mount options insist;
	// adaptive mode only when not insisting.
	if kernelFlags&fusekernel.InitDoReaddirplus != 0 || c.cfg.ForceReaddirPlus {
		flags |= fusekernel.InitDoReaddirplus

		if kernelFlags&fusekernel.InitReaddirplusAuto != 0 && !c.cfg.ForceReaddirPlus {
			flags |= fusekernel.InitReaddirplusAuto
		}
	}

	return flags
}

// replyError enqueues a bare error reply for the given request ID.
func (c *Connection) replyError(fuseID uint64, errno syscall.Errno) {
	m := buffer.NewOutMessage(0)
	m.OutHeader().Error = -int32(errno)
	m.OutHeader().Unique = fuseID
	c.frames.Push(outFrame{msg: m})
}

func (c *Connection) setInitErr(err error) {
	c.initOnce.Do(func() {
		c.initErr = err
		close(c.initDone)
	})
}

// waitForReady blocks until the INIT handshake has completed, returning
// the user's init error if there was one.
func (c *Connection) waitForReady() error {
	<-c.initDone
	return c.initErr
}

// shouldLogError skips errors that happen as a matter of course, since
// they spook users.
func (c *Connection) shouldLogError(op interface{}, err error) bool {
	if err == nil || c.errorLogger == nil {
		return false
	}

	switch op.(type) {
	case *fuseops.LookUpInodeOp:
		// It is totally normal for the kernel to ask to look up an inode by
		// name and find the name doesn't exist.
		if err == syscall.ENOENT {
			return false
		}
	case *fuseops.GetXattrOp, *fuseops.ListXattrOp:
		if err == syscall.ENOSYS || err == syscall.ENODATA || err == syscall.ERANGE {
			return false
		}
	}

	return true
}

// Reply replies to an op previously read using ReadOp, with the supplied
// error (or nil if successful). The context must be the context returned
// by ReadOp.
//
// The reply is formatted here, on the handler's goroutine, and handed to
// the writer; replies from concurrent handlers reach the kernel in
// completion order, which the kernel is fine with.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) Reply(ctx context.Context, opErr error) error {
	state, ok := ctx.Value(contextKey).(opState)
	if !ok {
		panic(fmt.Sprintf("Reply called with invalid context: %#v", ctx))
	}

	op := state.op
	fuseID := state.fuseID

	// Clean up state for this op before the response can hit the kernel.
	c.finishOp(state.opcode, fuseID)

	if c.debugLogger != nil {
		if opErr == nil {
			c.debugLog(fuseID, "-> %s", describeResponse(op))
		} else {
			c.debugLog(fuseID, "-> error: %q", opErr.Error())
		}
	}

	if c.shouldLogError(op, opErr) {
		c.errorLogger.WithField("op", fmt.Sprintf("0x%08x", fuseID)).
			Errorf("%T error: %v", op, opErr)
	}

	// The INIT reply fixes the protocol version for the rest of the
	// session, and unblocks Mount.
	if initOp, ok := op.(*fuseops.InitOp); ok {
		if opErr != nil {
			defer c.setInitErr(fmt.Errorf("init: %w", opErr))
		} else {
			c.protocol = fusekernel.Version{
				Major: initOp.Library.Major,
				Minor: initOp.Library.Minor,
			}
			defer c.initOnce.Do(func() { close(c.initDone) })
		}
	}

	msg, noResponse := kernelResponse(fuseID, op, opErr, c.protocol)
	if noResponse {
		return nil
	}

	if !c.frames.Push(outFrame{msg: msg, callback: callbackForOp(op)}) {
		return fmt.Errorf("replying to op 0x%08x: connection closed", fuseID)
	}

	return nil
}

func callbackForOp(op interface{}) func() {
	switch o := op.(type) {
	case *fuseops.ReadFileOp:
		return o.Callback
	case *fuseops.WriteFileOp:
		return o.Callback
	}

	return nil
}

// writeLoop drains the frame queue to the device. It is the only writer of
// reply frames, so a slow handler never splits a frame.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		f, ok := c.frames.Pop()
		if !ok {
			return
		}

		err := c.writeFrame(f.msg)
		if f.callback != nil {
			f.callback()
		}

		if err == nil {
			continue
		}

		// ENOENT means the kernel has given up on the request and its ID is
		// no longer registered; the reply is simply dropped.
		if isErrno(err, syscall.ENOENT) {
			if c.errorLogger != nil {
				c.errorLogger.Warnf("dropping reply for cancelled request: %v", err)
			}
			continue
		}

		if c.errorLogger != nil {
			c.errorLogger.Errorf("writing to device: %v", err)
		}

		c.setFatal(fmt.Errorf("writing to device: %w", err))

		// Stop the reader at its next read; the session is over.
		c.trip()
		return
	}
}

// writeFrame writes one complete frame with a single syscall, as the
// protocol requires.
func (c *Connection) writeFrame(m *buffer.OutMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	vec := m.Finish()
	want := m.Len()

	var n int
	var err error
	if len(vec) == 1 {
		n, err = unix.Write(int(c.dev.Fd()), vec[0])
	} else {
		n, err = unix.Writev(int(c.dev.Fd()), vec)
	}

	if err != nil {
		return err
	}

	if n != want {
		return fmt.Errorf("partial frame write: %d of %d bytes", n, want)
	}

	return nil
}

func isErrno(err error, errno syscall.Errno) bool {
	if err == errno {
		return true
	}
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err == errno
	}

	return false
}

// trip makes the reader return io.EOF at its next opportunity.
func (c *Connection) trip() {
	c.unmountOnce.Do(func() { close(c.unmountC) })
}

// setFatal records the first session-fatal error.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) setFatal(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

// fatalError returns the error that killed the session, if any.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) fatalError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// destroy tears the connection down: no further frames are accepted, the
// writer drains what's queued, and the device is closed. Must not be
// called until operations read from the connection have been responded to.
func (c *Connection) destroy() error {
	c.frames.Close()
	<-c.writerDone

	// The handshake may never have completed (e.g. the kernel hung up
	// first); don't leave Mount waiting.
	c.setInitErr(fmt.Errorf("connection closed before init completed"))

	if err := c.dev.Close(); err != nil {
		return fmt.Errorf("closing device: %w", err)
	}

	return c.fatalError()
}
