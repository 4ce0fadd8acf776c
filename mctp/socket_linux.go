// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Raw MCTP datagram socket operations. AF_MCTP addressing isn't known
// to golang.org/x/sys/unix's Sockaddr machinery, so sendmsg/recvmsg and
// the tag-control ioctls are issued directly via unix.Syscall.

package mctp

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// socketOps is the seam mocked by tests: every syscall the transport
// makes goes through this table, keeping raw syscalls behind a small
// indirection point.
type socketOps interface {
	socket() (int, error)
	sendmsg(fd int, addr *sockaddrMCTP, iov [][]byte) (int, error)
	recvmsg(fd int, addr *sockaddrMCTP, iov [][]byte) (int, error)
	poll(fd int, timeoutMS int) (int, error)
	allocTag(fd int, peerAddr uint8) (uint8, error)
	dropTag(fd int, peerAddr, tag uint8) error
	close(fd int) error
}

type linuxSocketOps struct{}

func (linuxSocketOps) socket() (int, error) {
	return unix.Socket(afMCTP, unix.SOCK_DGRAM, 0)
}

func (linuxSocketOps) close(fd int) error {
	return unix.Close(fd)
}

// buildIovecs converts byte-slice segments into unix.Iovec entries,
// skipping zero-length segments (recvmsg tolerates this; sendmsg must
// not emit a zero-length trailing iovec for data it didn't send).
func buildIovecs(segs [][]byte) []unix.Iovec {
	iov := make([]unix.Iovec, 0, len(segs))
	for _, s := range segs {
		if len(s) == 0 {
			continue
		}
		v := unix.Iovec{Base: &s[0]}
		v.SetLen(len(s))
		iov = append(iov, v)
	}
	return iov
}

func (linuxSocketOps) sendmsg(fd int, addr *sockaddrMCTP, segs [][]byte) (int, error) {
	name := addr.bytes()
	iov := buildIovecs(segs)

	msg := unix.Msghdr{}
	msg.Name = &name[0]
	msg.SetIovlen(len(iov))
	msg.Namelen = uint32(len(name))
	if len(iov) > 0 {
		msg.Iov = &iov[0]
	}

	r0, _, errno := unix.Syscall(unix.SYS_SENDMSG, uintptr(fd), uintptr(unsafe.Pointer(&msg)), 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r0), nil
}

func (linuxSocketOps) recvmsg(fd int, addr *sockaddrMCTP, segs [][]byte) (int, error) {
	name := make([]byte, sizeofSockaddrMCTP)
	iov := buildIovecs(segs)

	msg := unix.Msghdr{}
	msg.Name = &name[0]
	msg.Namelen = uint32(len(name))
	msg.SetIovlen(len(iov))
	if len(iov) > 0 {
		msg.Iov = &iov[0]
	}

	r0, _, errno := unix.Syscall(unix.SYS_RECVMSG, uintptr(fd), uintptr(unsafe.Pointer(&msg)), uintptr(unix.MSG_DONTWAIT))
	if errno != 0 {
		return 0, errno
	}
	return int(r0), nil
}

func (linuxSocketOps) poll(fd int, timeoutMS int) (int, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (linuxSocketOps) allocTag(fd int, peerAddr uint8) (uint8, error) {
	ctl := tagCtl{peerAddr: peerAddr}
	if err := ioctl(uintptr(fd), siocMCTPAllocTag, uintptr(unsafe.Pointer(&ctl))); err != nil {
		return 0, err
	}
	return ctl.tag, nil
}

func (linuxSocketOps) dropTag(fd int, peerAddr, tag uint8) error {
	ctl := tagCtl{peerAddr: peerAddr, tag: tag}
	return ioctl(uintptr(fd), siocMCTPDropTag, uintptr(unsafe.Pointer(&ctl)))
}
