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

//go:build freebsd

package fuse

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// mount opens /dev/fuse and asks the mount_fusefs helper to attach it to
// dir. FreeBSD has no direct-mount shortcut worth taking: the helper owns
// the option validation either way.
func mount(dir string, cfg *MountConfig) (*os.File, error) {
	dev, err := os.OpenFile("/dev/fuse", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening /dev/fuse: %w", err)
	}

	args := []string{"--safe"}

	if cfg.AllowOther || cfg.AllowRoot {
		args = append(args, "-o", "allow_other")
	}
	if cfg.DefaultPermissions {
		args = append(args, "-o", "default_permissions")
	}
	if cfg.Subtype != "" {
		args = append(args, "-o", "subtype="+cfg.Subtype)
	}
	if cfg.CustomOptions != "" {
		args = append(args, "-o", cfg.CustomOptions)
	}

	// The helper accepts the already-open descriptor by number.
	args = append(args, "3", dir)

	cmd := exec.Command("mount_fusefs", args...)
	cmd.Env = append(os.Environ(), "MOUNT_FUSEFS_SAFE=1",
		"MOUNT_FUSEFS_CALL_BY_LIB=1")
	cmd.ExtraFiles = []*os.File{dev}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		dev.Close()
		return nil, fmt.Errorf(
			"mount_fusefs failed: %w (output: %q)", err, output.String())
	}

	// Reads on this platform's device must be blocking; the helper may
	// have left the descriptor in either mode.
	if err := unix.SetNonblock(int(dev.Fd()), false); err != nil {
		dev.Close()
		return nil, fmt.Errorf("setting device mode: %w", err)
	}

	return dev, nil
}

// unmount detaches the mount at dir.
func unmount(dir string) error {
	if err := unix.Unmount(dir, 0); err != nil {
		return fmt.Errorf("unmounting %q: %w", dir, err)
	}

	return nil
}

var _ = strconv.Itoa
