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
)

// A Server knows how to serve ops read from a connection.
type Server interface {
	// Read and serve ops from the supplied connection until EOF.
	ServeOps(*Connection)
}

// MountedFileSystem represents the status of a mount operation, with a
// method that waits for unmounting.
type MountedFileSystem struct {
	dir  string
	conn *Connection

	// The result to return from Join. Not valid until the channel is
	// closed.
	joinStatus          error
	joinStatusAvailable chan struct{}
}

// Dir returns the directory on which the file system is mounted (or where
// we attempted to mount it).
func (mfs *MountedFileSystem) Dir() string {
	return mfs.dir
}

// Join blocks until a mounted file system has been unmounted. The return
// value is non-nil if anything unexpected happened while serving. May be
// called multiple times.
func (mfs *MountedFileSystem) Join(ctx context.Context) error {
	select {
	case <-mfs.joinStatusAvailable:
		return mfs.joinStatus
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unmount asks the kernel to tear the mount down and trips the session's
// unmount notifier, so the reader stops before its next read of the
// device. A read already blocked on the device is not interrupted; it
// returns when the kernel ends it. Serving stops once in-flight ops have
// been replied to; use Join to wait for that.
func (mfs *MountedFileSystem) Unmount() error {
	err := unmount(mfs.dir)
	mfs.conn.trip()
	return err
}

// Notifier returns a handle for sending out-of-band notifications on this
// mount.
func (mfs *MountedFileSystem) Notifier() *Notifier {
	return mfs.conn.Notifier()
}

// Mount attempts to mount a file system on the given directory, using the
// supplied Server to serve connection requests. It blocks until the INIT
// handshake has completed, which requires the Server to make forward
// progress.
func Mount(
	dir string,
	server Server,
	config *MountConfig) (*MountedFileSystem, error) {
	if config == nil {
		config = &MountConfig{}
	}

	// Invoke the platform-specific mount logic, yielding an open device
	// descriptor.
	dev, err := mount(dir, config)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	c := newConnection(*config, dev)

	mfs := &MountedFileSystem{
		dir:                 dir,
		conn:                c,
		joinStatusAvailable: make(chan struct{}),
	}

	// Serve the connection in the background. When done, set the join
	// status.
	go func() {
		server.ServeOps(c)
		mfs.joinStatus = c.destroy()
		close(mfs.joinStatusAvailable)
	}()

	// Wait for the INIT handshake, which the server performs inline as its
	// first op.
	if err := c.waitForReady(); err != nil {
		unmount(dir)
		return nil, fmt.Errorf("waiting for init: %w", err)
	}

	return mfs, nil
}
