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
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// MountConfig is the optional configuration accepted by Mount.
type MountConfig struct {
	// The context from which every op-level context inherits. Cancelling it
	// cancels all in-flight ops.
	OpContext context.Context

	// The name of the file system as displayed by mount(8). Defaults to
	// "fuse".
	FSName string

	// A subtype, displayed as fuse.<subtype> in the mount table.
	Subtype string

	// Owner identifiers stamped on the mount. When nil, the current
	// process's uid/gid are used.
	UID *uint32
	GID *uint32

	// The mode of the root of the mounted tree, in the kernel's
	// representation. Zero means a plain directory (040000).
	RootMode uint32

	// Mount read-only.
	ReadOnly bool

	// Permit other users to see the mount. AllowRoot admits only root,
	// AllowOther everyone; the two are mutually exclusive at the
	// fusermount level.
	AllowOther bool
	AllowRoot  bool

	// Permit mounting over a non-empty directory (unprivileged mounts
	// only; the helper enforces the check).
	Nonempty bool

	// Ask the kernel to perform permission checking itself, using the
	// modes we return. When set, Access is never sent.
	DefaultPermissions bool

	// Don't apply the process umask to create modes in the kernel; the
	// file system sees the raw mode plus the umask and applies its own
	// policy.
	DontMask bool

	// Negotiate zero-message opens and opendirs: ENOSYS from OpenFile or
	// OpenDir tells the kernel to stop sending them.
	NoOpenSupport    bool
	NoOpenDirSupport bool

	// The file system takes responsibility for clearing suid/sgid bits on
	// write, chown, and truncate.
	HandleKillpriv bool

	// Enable the kernel's writeback cache, trading coherence for batched
	// writes.
	WritebackCache bool

	// Reject READDIR, forcing the kernel to use READDIRPLUS exclusively.
	ForceReaddirPlus bool

	// Negotiate POSIX file lock support (GetLk/SetLk ops).
	EnablePosixLocks bool

	// Negotiate POSIX ACL support in the kernel.
	EnablePosixACL bool

	// An opaque option tail appended verbatim to the mount data.
	CustomOptions string

	// Per-op debug tracing, and operational errors (dropped replies,
	// fatal I/O problems). Both may be nil.
	DebugLogger *logrus.Logger
	ErrorLogger *logrus.Logger
}

func (c *MountConfig) fsName() string {
	if c.FSName == "" {
		return "fuse"
	}

	return c.FSName
}

func (c *MountConfig) rootMode() uint32 {
	if c.RootMode == 0 {
		return 0o40000
	}

	return c.RootMode
}

func (c *MountConfig) uid() uint32 {
	if c.UID != nil {
		return *c.UID
	}

	return uint32(os.Getuid())
}

func (c *MountConfig) gid() uint32 {
	if c.GID != nil {
		return *c.GID
	}

	return uint32(os.Getgid())
}

// commonOptions assembles the options understood by both the mount
// syscall's data field and the fusermount helper.
func (c *MountConfig) commonOptions() []string {
	opts := []string{
		fmt.Sprintf("rootmode=%o", c.rootMode()),
		fmt.Sprintf("user_id=%d", c.uid()),
		fmt.Sprintf("group_id=%d", c.gid()),
	}

	if c.DefaultPermissions {
		opts = append(opts, "default_permissions")
	}

	return opts
}

// kernelMountData assembles the data string passed to the mount syscall
// for a privileged mount, given the already-open device descriptor.
func (c *MountConfig) kernelMountData(devFd int) string {
	opts := append([]string{fmt.Sprintf("fd=%d", devFd)}, c.commonOptions()...)

	// allow_root is a fusermount-level refinement of allow_other; the
	// kernel only knows the latter.
	if c.AllowOther || c.AllowRoot {
		opts = append(opts, "allow_other")
	}

	if c.CustomOptions != "" {
		opts = append(opts, c.CustomOptions)
	}

	return strings.Join(opts, ",")
}

// helperOptions assembles the -o argument for the fusermount helper, which
// opens the device and adds fd= itself.
func (c *MountConfig) helperOptions() string {
	opts := c.commonOptions()

	switch {
	case c.AllowRoot:
		opts = append(opts, "allow_root")
	case c.AllowOther:
		opts = append(opts, "allow_other")
	}

	if c.ReadOnly {
		opts = append(opts, "ro")
	}

	if c.Nonempty {
		opts = append(opts, "nonempty")
	}

	opts = append(opts, "fsname="+c.fsName())
	if c.Subtype != "" {
		opts = append(opts, "subtype="+c.Subtype)
	}

	if c.CustomOptions != "" {
		opts = append(opts, c.CustomOptions)
	}

	return strings.Join(opts, ",")
}
