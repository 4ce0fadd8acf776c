// Copyright 2017 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.
//
// Implementation of Linux kernel ioctl macros (<uapi/asm-generic/ioctl.h>)
// See https://www.kernel.org/doc/Documentation/ioctl/ioctl-number.txt

package mctp

import "golang.org/x/sys/unix"

// ioctl executes an ioctl command on the specified file descriptor.
func ioctl(fd, cmd, ptr uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, cmd, ptr)
	if errno != 0 {
		return errno
	}
	return nil
}
