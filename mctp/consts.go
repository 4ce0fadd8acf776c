// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// MCTP socket family constants (<linux/mctp.h>, <uapi/linux/mctp.h>),
// hand-declared since golang.org/x/sys/unix doesn't (yet) expose them.

package mctp

const (
	// afMCTP is AF_MCTP, not exported by golang.org/x/sys/unix at the
	// time of writing.
	afMCTP = 45

	// netAny is MCTP_NET_ANY.
	netAny = 0x0

	// tagMask, tagOwner and tagPrealloc mirror MCTP_TAG_MASK,
	// MCTP_TAG_OWNER and MCTP_TAG_PREALLOC.
	tagMask     = 0x07
	tagOwner    = 0x08
	tagPrealloc = 0x10

	// msgTypeNVMe and msgTypeMIC are MCTP_TYPE_NVME / MCTP_TYPE_MIC:
	// the message-type byte NVMe-MI traffic carries, with the
	// integrity-check-present bit set.
	msgTypeNVMe = 0x04
	msgTypeMIC  = 0x80

	// sizeofSockaddrMCTP is sizeof(struct sockaddr_mctp).
	sizeofSockaddrMCTP = 12

	// SIOCMCTPALLOCTAG / SIOCMCTPDROPTAG are the tag-control ioctls.
	siocMCTPAllocTag = 0x8990
	siocMCTPDropTag  = 0x8991
)

// sockaddrMCTP mirrors struct sockaddr_mctp from <linux/mctp.h>:
//
//	struct sockaddr_mctp {
//	        unsigned short int smctp_family;
//	        __u16              __smctp_pad0;
//	        unsigned int       smctp_network;
//	        mctp_eid_t         smctp_addr;
//	        __u8               smctp_type;
//	        __u8               smctp_tag;
//	        __u8               __smctp_pad1;
//	};
type sockaddrMCTP struct {
	family  uint16
	pad0    uint16
	network uint32
	addr    uint8
	msgType uint8
	tag     uint8
	pad1    uint8
}

func (a *sockaddrMCTP) bytes() []byte {
	buf := make([]byte, sizeofSockaddrMCTP)
	buf[0] = byte(a.family)
	buf[1] = byte(a.family >> 8)
	buf[2] = byte(a.pad0)
	buf[3] = byte(a.pad0 >> 8)
	buf[4] = byte(a.network)
	buf[5] = byte(a.network >> 8)
	buf[6] = byte(a.network >> 16)
	buf[7] = byte(a.network >> 24)
	buf[8] = a.addr
	buf[9] = a.msgType
	buf[10] = a.tag
	buf[11] = a.pad1
	return buf
}

// tagCtl mirrors struct mctp_ioc_tag_ctl, used for SIOCMCTPALLOCTAG and
// SIOCMCTPDROPTAG.
type tagCtl struct {
	peerAddr uint8
	tag      uint8
	flags    uint16
}
