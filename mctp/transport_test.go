// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package mctp

import (
	"bytes"
	"fmt"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvme-mi/go-nvme-mi"
)

func TestSplitResponseFitsWithinHeader(t *testing.T) {
	assert := assert.New(t)

	hdrCap := make([]byte, 12)
	dataCap := make([]byte, 0)

	// 8 bytes of header payload + 4 byte MIC, all within hdrCap.
	total := 8 + micLen

	hdr, data, mic, err := splitResponse(hdrCap, dataCap, total)
	assert.NoError(err)
	assert.Len(hdr, 8)
	assert.Empty(data)
	_ = mic
}

func TestSplitResponsePayloadSpillsIntoDataBuffer(t *testing.T) {
	assert := assert.New(t)

	hdrCap := make([]byte, 12)
	for i := range hdrCap {
		hdrCap[i] = byte(i)
	}
	dataCap := make([]byte, 8)
	for i := range dataCap {
		dataCap[i] = byte(0x80 + i)
	}

	// payload = 14 bytes (all of hdrCap + 2 bytes of dataCap); the
	// trailing 4-byte MIC lands entirely within dataCap, past the 2
	// real data bytes.
	total := 14 + micLen

	hdr, data, _, err := splitResponse(hdrCap, dataCap, total)
	assert.NoError(err)
	assert.Len(hdr, 12)
	assert.Len(data, 2)
	assert.Equal(dataCap[:2], data)
}

func TestSplitResponseTruncated(t *testing.T) {
	assert := assert.New(t)

	hdrCap := make([]byte, 12)
	dataCap := make([]byte, 4)

	_, _, _, err := splitResponse(hdrCap, dataCap, 100)
	assert.Error(err)
}

func TestMprWaitDetectsNotification(t *testing.T) {
	assert := assert.New(t)

	hdr := make([]byte, mprRespLen)
	hdr[4] = respMPR
	hdr[6] = 5 // mprt = 5 -> 500ms

	mic := nvmemi.ComputeMIC(hdr, nil)

	waitMS, ok := mprWait(hdr, mic, mprRespLen+micLen, 1000)
	assert.True(ok)
	assert.Equal(uint(500), waitMS)
}

func TestMprWaitRejectsWrongLength(t *testing.T) {
	assert := assert.New(t)

	hdr := make([]byte, mprRespLen)
	hdr[4] = respMPR

	_, ok := mprWait(hdr, 0, mprRespLen+micLen+4, 1000)
	assert.False(ok)
}

func TestMprWaitUnsetMPRTFallsBackToEndpointTimeout(t *testing.T) {
	assert := assert.New(t)

	hdr := make([]byte, mprRespLen)
	hdr[4] = respMPR
	// hdr[6:8] left zero: mprt unset.

	mic := nvmemi.ComputeMIC(hdr, nil)

	waitMS, ok := mprWait(hdr, mic, mprRespLen+micLen, 2500)
	assert.True(ok)
	assert.Equal(uint(2500), waitMS)
}

func TestMprWaitUnsetMPRTFallsBackToDefaultWhenEndpointTimeoutZero(t *testing.T) {
	assert := assert.New(t)

	hdr := make([]byte, mprRespLen)
	hdr[4] = respMPR

	mic := nvmemi.ComputeMIC(hdr, nil)

	waitMS, ok := mprWait(hdr, mic, mprRespLen+micLen, 0)
	assert.True(ok)
	assert.Equal(uint(mprFallbackMS), waitMS)
}

// mockOps is a socketOps double that serves a scripted sequence of
// responses to recvmsg, letting Submit's MPR retry loop be exercised
// without a real socket.
type mockOps struct {
	sent           [][]byte
	responses      [][]byte
	call           int
	polledTimeouts []int
	sendErr        error
	pollErr        error
	recvErr        error
}

func (m *mockOps) socket() (int, error) { return 3, nil }
func (m *mockOps) close(int) error      { return nil }

func (m *mockOps) allocTag(fd int, peerAddr uint8) (uint8, error) { return 1, nil }
func (m *mockOps) dropTag(fd int, peerAddr, tag uint8) error      { return nil }

func (m *mockOps) sendmsg(fd int, addr *sockaddrMCTP, segs [][]byte) (int, error) {
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	var flat []byte
	for _, s := range segs {
		flat = append(flat, s...)
	}
	m.sent = append(m.sent, flat)
	return len(flat), nil
}

func (m *mockOps) poll(fd int, timeoutMS int) (int, error) {
	m.polledTimeouts = append(m.polledTimeouts, timeoutMS)
	if m.pollErr != nil {
		return 0, m.pollErr
	}
	return 1, nil
}

func (m *mockOps) recvmsg(fd int, addr *sockaddrMCTP, segs [][]byte) (int, error) {
	if m.recvErr != nil {
		return 0, m.recvErr
	}
	resp := m.responses[m.call]
	m.call++

	written := 0
	for _, seg := range segs {
		n := copy(seg, resp[written:])
		written += n
		if written >= len(resp) {
			break
		}
	}
	return len(resp), nil
}

func TestSubmitRetriesOnMPR(t *testing.T) {
	assert := assert.New(t)

	mprHdr := make([]byte, mprRespLen)
	mprHdr[0] = 0x04
	mprHdr[4] = respMPR
	mprHdr[6] = 1 // 100ms, kept small for test speed

	finalHdr := make([]byte, 12)
	finalHdr[0] = 0x04
	finalHdr[4] = 0x80 // ROR=1 (response), arbitrary NMP bits

	ops := &mockOps{
		responses: [][]byte{
			append(append([]byte{}, mprHdr...), micBytesFor(mprHdr)...),
			append(append([]byte{}, finalHdr...), micBytesFor(finalHdr)...),
		},
	}

	root := rootForTest()
	tr := &Transport{net: 1, eid: 9, fd: 3, ops: ops, root: root}
	ep := nvmemi.NewEndpoint(root, tr)
	ep.SetMPRTMax(0)

	req := &nvmemi.Request{Header: []byte{0x04, 0x01, 0x00, 0x00}}
	resp := &nvmemi.Response{HeaderCap: make([]byte, 12), DataCap: make([]byte, 0)}

	err := tr.Submit(ep, req, resp)
	assert.NoError(err)
	assert.Equal(2, ops.call)
	assert.Equal(finalHdr, resp.Header)
}

// TestSubmitUsesMPRValueAsNextPollTimeout asserts that the poll timeout
// for the retry after an MPR notification is the MPR-derived wait
// itself, not a remainder computed against a fixed overall deadline.
func TestSubmitUsesMPRValueAsNextPollTimeout(t *testing.T) {
	assert := assert.New(t)

	mprHdr := make([]byte, mprRespLen)
	mprHdr[0] = 0x04
	mprHdr[4] = respMPR
	mprHdr[6] = 1 // mprt = 1 -> 100ms

	finalHdr := make([]byte, 12)
	finalHdr[0] = 0x04
	finalHdr[4] = 0x80

	ops := &mockOps{
		responses: [][]byte{
			append(append([]byte{}, mprHdr...), micBytesFor(mprHdr)...),
			append(append([]byte{}, finalHdr...), micBytesFor(finalHdr)...),
		},
	}

	root := rootForTest()
	tr := &Transport{net: 1, eid: 9, fd: 3, ops: ops, root: root}
	ep := nvmemi.NewEndpoint(root, tr)
	ep.SetTimeout(1000)
	ep.SetMPRTMax(0)

	req := &nvmemi.Request{Header: []byte{0x04, 0x01, 0x00, 0x00}}
	resp := &nvmemi.Response{HeaderCap: make([]byte, 12), DataCap: make([]byte, 0)}

	err := tr.Submit(ep, req, resp)
	assert.NoError(err)
	assert.Equal([]int{1000, 100}, ops.polledTimeouts)
}

// TestSubmitUnsetMPRTFallsBackToEndpointTimeoutForNextPoll covers the
// §4.3 step 5 fallback: an MPR notification with mprt == 0 makes the
// next poll use the endpoint's configured timeout, not 0ms.
func TestSubmitUnsetMPRTFallsBackToEndpointTimeoutForNextPoll(t *testing.T) {
	assert := assert.New(t)

	mprHdr := make([]byte, mprRespLen)
	mprHdr[0] = 0x04
	mprHdr[4] = respMPR
	// mprt left 0 (unset).

	finalHdr := make([]byte, 12)
	finalHdr[0] = 0x04
	finalHdr[4] = 0x80

	ops := &mockOps{
		responses: [][]byte{
			append(append([]byte{}, mprHdr...), micBytesFor(mprHdr)...),
			append(append([]byte{}, finalHdr...), micBytesFor(finalHdr)...),
		},
	}

	root := rootForTest()
	tr := &Transport{net: 1, eid: 9, fd: 3, ops: ops, root: root}
	ep := nvmemi.NewEndpoint(root, tr)
	ep.SetTimeout(3000)
	ep.SetMPRTMax(0)

	req := &nvmemi.Request{Header: []byte{0x04, 0x01, 0x00, 0x00}}
	resp := &nvmemi.Response{HeaderCap: make([]byte, 12), DataCap: make([]byte, 0)}

	err := tr.Submit(ep, req, resp)
	assert.NoError(err)
	assert.Equal([]int{3000, 3000}, ops.polledTimeouts)
}

func TestSubmitLogsSendmsgFailure(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	root := nvmemi.NewRoot(log.New(&buf, "", 0), nvmemi.LogLevelErr)

	ops := &mockOps{sendErr: fmt.Errorf("boom")}
	tr := &Transport{net: 1, eid: 9, fd: 3, ops: ops, root: root}
	ep := nvmemi.NewEndpoint(root, tr)

	req := &nvmemi.Request{Header: []byte{0x04, 0x01, 0x00, 0x00}}
	resp := &nvmemi.Response{HeaderCap: make([]byte, 12), DataCap: make([]byte, 0)}

	err := tr.Submit(ep, req, resp)
	assert.Error(err)
	assert.Contains(buf.String(), "mctp sendmsg")
	assert.Contains(buf.String(), "boom")
}

func TestSubmitLogsRecvmsgFailure(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	root := nvmemi.NewRoot(log.New(&buf, "", 0), nvmemi.LogLevelErr)

	ops := &mockOps{recvErr: fmt.Errorf("kaboom")}
	tr := &Transport{net: 1, eid: 9, fd: 3, ops: ops, root: root}
	ep := nvmemi.NewEndpoint(root, tr)

	req := &nvmemi.Request{Header: []byte{0x04, 0x01, 0x00, 0x00}}
	resp := &nvmemi.Response{HeaderCap: make([]byte, 12), DataCap: make([]byte, 0)}

	err := tr.Submit(ep, req, resp)
	assert.Error(err)
	assert.Contains(buf.String(), "mctp recvmsg")
	assert.Contains(buf.String(), "kaboom")
}

func micBytesFor(hdr []byte) []byte {
	mic := nvmemi.ComputeMIC(hdr, nil)
	buf := make([]byte, micLen)
	buf[0] = byte(mic)
	buf[1] = byte(mic >> 8)
	buf[2] = byte(mic >> 16)
	buf[3] = byte(mic >> 24)
	return buf
}

func rootForTest() *nvmemi.Root {
	return nvmemi.NewRoot(nil, nvmemi.LogLevelErr)
}
