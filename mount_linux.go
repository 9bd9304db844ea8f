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

//go:build linux

package fuse

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// mount opens a device descriptor connected to a fresh fuse mount on dir.
// The privileged path issues the mount syscall directly; without the
// privilege, the fusermount helper does it for us and hands the descriptor
// back over a socketpair.
func mount(dir string, cfg *MountConfig) (*os.File, error) {
	dev, err := directMount(dir, cfg)
	if err == nil {
		return dev, nil
	}

	if !errors.Is(err, syscall.EPERM) && !errors.Is(err, syscall.EACCES) {
		return nil, err
	}

	return fusermountMount(dir, cfg)
}

func directMount(dir string, cfg *MountConfig) (*os.File, error) {
	dev, err := os.OpenFile("/dev/fuse", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening /dev/fuse: %w", err)
	}

	fstype := "fuse"
	if cfg.Subtype != "" {
		fstype = "fuse." + cfg.Subtype
	}

	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV)
	if cfg.ReadOnly {
		flags |= unix.MS_RDONLY
	}

	data := cfg.kernelMountData(int(dev.Fd()))
	if err := unix.Mount(cfg.fsName(), dir, fstype, flags, data); err != nil {
		dev.Close()
		return nil, fmt.Errorf("mounting %q: %w", dir, err)
	}

	return dev, nil
}

// fusermountBinary locates the setuid mount helper, preferring the
// libfuse3 name.
func fusermountBinary() (string, error) {
	for _, name := range []string{"fusermount3", "fusermount"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", errors.New("no fusermount binary found in $PATH")
}

// fusermountMount runs the mount helper over a socketpair and receives the
// device descriptor from it via SCM_RIGHTS.
func fusermountMount(dir string, cfg *MountConfig) (*os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}

	childFile := os.NewFile(uintptr(fds[0]), "fusermount-child")
	defer childFile.Close()
	parentFile := os.NewFile(uintptr(fds[1]), "fusermount-parent")
	defer parentFile.Close()

	bin, err := fusermountBinary()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, "-o", cfg.helperOptions(), "--", dir)
	cmd.Env = append(os.Environ(), "_FUSE_COMMFD=3")
	cmd.ExtraFiles = []*os.File{childFile}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", bin, err)
	}

	dev, recvErr := receiveDevFd(parentFile)

	if err := cmd.Wait(); err != nil {
		if dev != nil {
			dev.Close()
		}
		return nil, fmt.Errorf(
			"%s failed: %w (output: %q)", bin, err, output.String())
	}

	if recvErr != nil {
		return nil, fmt.Errorf("receiving device fd: %w", recvErr)
	}

	return dev, nil
}

// receiveDevFd reads the single descriptor the helper sends back.
func receiveDevFd(sock *os.File) (*os.File, error) {
	buf := make([]byte, 4)
	oob := make([]byte, unix.CmsgSpace(4))

	_, oobn, _, _, err := unix.Recvmsg(int(sock.Fd()), buf, oob, 0)
	if err != nil {
		return nil, fmt.Errorf("recvmsg: %w", err)
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parsing control message: %w", err)
	}
	if len(scms) != 1 {
		return nil, fmt.Errorf("expected one control message, got %d", len(scms))
	}

	devFds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return nil, fmt.Errorf("parsing rights: %w", err)
	}
	if len(devFds) != 1 {
		return nil, fmt.Errorf("expected one fd, got %d", len(devFds))
	}

	unix.CloseOnExec(devFds[0])
	return os.NewFile(uintptr(devFds[0]), "/dev/fuse"), nil
}
