// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// MCTP transport: the §4.3 submit contract over an AF_MCTP datagram
// socket — address construction, gather-write, poll/receive with
// timeout, the MPR retry loop, and truncated-response recovery.

package mctp

import (
	"encoding/binary"
	"fmt"

	"github.com/nvme-mi/go-nvme-mi"
)

// openTimeoutMS is the default timeout nvme_mi_open_mctp applies:
// worst case I2C clock stretch at 100kHz, largest packets, plus a
// retry or two handled by lower layers.
const openTimeoutMS = 5000

// respMPR is the status byte value signalling More Processing
// Required: the device wants more time and the caller should
// re-receive on the same tag rather than treat this as the response.
const respMPR = 0x20

// mprRespLen is sizeof(struct nvme_mi_msg_resp_mpr) without its MIC:
// generic header (4) + status (1) + reserved (1) + mprt (2).
const mprRespLen = 4 + 1 + 1 + 2

// mprFallbackMS is the wait applied when a device's MPR notification
// leaves mprt unset (0): §4.3 step 5 has the next poll's timeout fall
// back to the endpoint's configured timeout, or this value if that is
// itself zero.
const mprFallbackMS = 0xffff

// micLen is the trailing Message Integrity Check field width.
const micLen = 4

// Transport implements nvmemi.Transport over an MCTP datagram socket.
// It exclusively owns the underlying socket fd for the lifetime of the
// endpoint it's attached to.
type Transport struct {
	net int
	eid uint8
	fd  int

	ops socketOps

	root *nvmemi.Root
}

var _ nvmemi.Transport = (*Transport)(nil)

// Kind identifies this transport, used both for description strings
// and as the stable discriminator §9 calls for.
func (t *Transport) Kind() string { return "mctp" }

// MICEnabled reports that MCTP transports always want MIC computed
// and verified by the core submission engine.
func (t *Transport) MICEnabled() bool { return true }

// DescribeEndpoint renders "net <N> eid <E>".
func (t *Transport) DescribeEndpoint() string {
	return fmt.Sprintf("net %d eid %d", t.net, t.eid)
}

// Open creates a datagram MCTP socket bound to (netID, eid) and
// registers a new endpoint for it on root.
func Open(root *nvmemi.Root, netID int, eid uint8) (*nvmemi.Endpoint, error) {
	return open(root, netID, eid, linuxSocketOps{})
}

func open(root *nvmemi.Root, netID int, eid uint8, ops socketOps) (*nvmemi.Endpoint, error) {
	fd, err := ops.socket()
	if err != nil {
		return nil, nvmemi.NewResourceError("opening MCTP socket", err)
	}

	t := &Transport{net: netID, eid: eid, fd: fd, ops: ops, root: root}

	ep := nvmemi.NewEndpoint(root, t)
	if err := ep.SetTimeout(openTimeoutMS); err != nil {
		ops.close(fd)
		return nil, err
	}

	return ep, nil
}

// Close closes the socket. Idempotent: a second call is a cheap no-op
// since the fd has already been released.
func (t *Transport) Close() {
	if t.fd < 0 {
		return
	}
	t.ops.close(t.fd)
	t.fd = -1
}

// allocTag requests a tag from the kernel via SIOCMCTPALLOCTAG. If the
// kernel/build doesn't support explicit allocation, it falls back to
// the tag-owner sentinel and logs the fact once per root.
func (t *Transport) allocTag() uint8 {
	tag, err := t.ops.allocTag(t.fd, t.eid)
	if err != nil {
		t.root.LogTagAllocUnsupportedOnce()
		return tagOwner
	}
	return tag
}

// dropTag releases a previously allocated tag; a no-op if tag wasn't
// explicitly preallocated (no tagPrealloc bit set).
func (t *Transport) dropTag(tag uint8) {
	if tag&tagPrealloc == 0 {
		return
	}
	t.ops.dropTag(t.fd, t.eid, tag)
}

// logErr reports a transport I/O failure through the owning root at
// error level, per §7's "transport-layer errors log once at error
// level" policy (mirroring original_source's nvme_msg(ep->root,
// LOG_ERR, ...) call at each of these failure sites).
func (t *Transport) logErr(context string, err error) {
	if t.root == nil {
		return
	}
	t.root.Msg(nvmemi.LogLevelErr, "%s: %v", context, err)
}

// Submit sends req over the MCTP socket bound to this endpoint's
// (net, eid) and reads the matching response, retrying on MPR
// notifications.
//
// Each iteration's poll uses timeoutMS as its timeout; on an MPR
// notification, timeoutMS is replaced by the (clamped, fallback-
// applying) MPR wait and the loop polls again — there is no separate
// sleep against a fixed overall deadline, matching original_source's
// `timeout = mpr_time; goto retry;` model.
func (t *Transport) Submit(ep *nvmemi.Endpoint, req *nvmemi.Request, resp *nvmemi.Response) error {
	if t.fd < 0 {
		return nvmemi.NewIOError("mctp submit", fmt.Errorf("transport closed"))
	}

	tag := t.allocTag()
	defer t.dropTag(tag)

	micBuf := make([]byte, micLen)
	binary.LittleEndian.PutUint32(micBuf, req.MIC)

	sendAddr := sockaddrMCTP{
		family:  afMCTP,
		network: uint32(t.net),
		addr:    t.eid,
		msgType: req.Header[0] | msgTypeMIC,
		tag:     tag | tagOwner,
	}

	if _, err := t.ops.sendmsg(t.fd, &sendAddr, [][]byte{req.Header, req.Data, micBuf}); err != nil {
		t.logErr("mctp sendmsg", err)
		return nvmemi.NewIOError("mctp sendmsg", err)
	}

	timeoutMS := ep.Timeout()

	for {
		n, err := t.ops.poll(t.fd, int(timeoutMS))
		if err != nil {
			t.logErr("mctp poll", err)
			return nvmemi.NewIOError("mctp poll", err)
		}
		if n == 0 {
			return nvmemi.NewTimeoutError("no response within endpoint timeout")
		}

		// Receive into scratch buffers with micLen of headroom past the
		// caller's data capacity: the wire datagram is header||data||MIC,
		// and resp.DataCap is sized to the expected data alone.
		var recvAddr sockaddrMCTP
		recvHdr := make([]byte, len(resp.HeaderCap))
		recvData := make([]byte, len(resp.DataCap)+micLen)

		total, err := t.ops.recvmsg(t.fd, &recvAddr, [][]byte{recvHdr, recvData})
		if err != nil {
			t.logErr("mctp recvmsg", err)
			return nvmemi.NewIOError("mctp recvmsg", err)
		}

		hdr, data, mic, err := splitResponse(recvHdr, recvData, total)
		if err != nil {
			t.logErr("mctp recvmsg", err)
			return nvmemi.NewIOError("mctp recvmsg", err)
		}

		hdrN := copy(resp.HeaderCap, hdr)
		dataN := copy(resp.DataCap, data)
		resp.Header = resp.HeaderCap[:hdrN]
		resp.Data = resp.DataCap[:dataN]
		resp.MIC = mic

		if waitMS, ok := mprWait(resp.Header, resp.MIC, total, ep.Timeout()); ok {
			if max := ep.MPRTMax(); max != 0 && waitMS > max {
				waitMS = max
			}
			timeoutMS = waitMS
			continue
		}

		return nil
	}
}

// splitResponse carves the bytes a single recvmsg call wrote across
// hdrCap and dataCap into the header/data/MIC triple the submission
// engine expects. The trailing micLen bytes of the datagram are the
// MIC; they may straddle the header/data buffer boundary when dataCap
// wasn't large enough to hold the whole payload ahead of them.
func splitResponse(hdrCap, dataCap []byte, total int) (hdr, data []byte, mic uint32, err error) {
	capTotal := len(hdrCap) + len(dataCap)
	if total < micLen {
		return nil, nil, 0, fmt.Errorf("response too short: %d bytes", total)
	}
	if total > capTotal {
		return nil, nil, 0, fmt.Errorf("response truncated: %d bytes, capacity %d", total, capTotal)
	}

	payloadLen := total - micLen
	hdrN := payloadLen
	if hdrN > len(hdrCap) {
		hdrN = len(hdrCap)
	}
	dataN := payloadLen - hdrN

	micBytes := spanAt(hdrCap, dataCap, payloadLen, micLen)

	return hdrCap[:hdrN], dataCap[:dataN], binary.LittleEndian.Uint32(micBytes), nil
}

// spanAt reads length bytes starting at logical offset start from the
// concatenation of hdrCap and dataCap, as if they were one buffer.
func spanAt(hdrCap, dataCap []byte, start, length int) []byte {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		idx := start + i
		if idx < len(hdrCap) {
			out[i] = hdrCap[idx]
		} else {
			out[i] = dataCap[idx-len(hdrCap)]
		}
	}
	return out
}

// mprWait reports whether hdr/mic/total describe an MPR notification
// rather than a final response, and if so the device-requested wait in
// milliseconds (mprt units of 100ms, per §9's endianness caution). An
// unset mprt (0) falls back to endpointTimeoutMS, or mprFallbackMS if
// that is itself 0, per §4.3 step 5.
func mprWait(hdr []byte, mic uint32, total int, endpointTimeoutMS uint) (uint, bool) {
	if total != mprRespLen+micLen {
		return 0, false
	}
	if len(hdr) < mprRespLen || hdr[4] != respMPR {
		return 0, false
	}
	if !nvmemi.VerifyMIC(mic, hdr[:mprRespLen], nil) {
		return 0, false
	}
	mprt := binary.LittleEndian.Uint16(hdr[6:8])
	if mprt == 0 {
		if endpointTimeoutMS != 0 {
			return endpointTimeoutMS, true
		}
		return mprFallbackMS, true
	}
	return uint(mprt) * 100, true
}
