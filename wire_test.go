// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmemi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderLengthsAre4ByteAligned(t *testing.T) {
	assert := assert.New(t)

	for _, l := range []int{MsgHdrLen, adminReqHdrLen, adminRespHdrLen, miReqHdrLen, miRespHdrLen} {
		assert.Equal(0, l%4, "header length %d must be a multiple of 4", l)
	}
}

func TestNMPFields(t *testing.T) {
	assert := assert.New(t)

	nmp := buildNMP(rorRequest, nmpMTMI, 1)
	h := msgHdr{Type: MsgTypeNVMe, NMP: nmp}
	assert.Equal(rorRequest, h.ror())
	assert.Equal(uint8(1), h.slot())

	nmp = buildNMP(rorResp, nmpMTAdmin, 0)
	h = msgHdr{Type: MsgTypeNVMe, NMP: nmp}
	assert.Equal(rorResp, h.ror())
	assert.Equal(uint8(0), h.slot())
}

func TestAdminReqHdrMarshal(t *testing.T) {
	assert := assert.New(t)

	h := &adminReqHdr{
		hdr:    msgHdr{Type: MsgTypeNVMe, NMP: buildNMP(rorRequest, nmpMTAdmin, 0)},
		Opcode: opGetLogPage,
		CtrlID: 7,
		Nsid:   1,
		Dlen:   512,
		Flags:  adminFlagDlenPresent,
	}

	buf := h.marshal()
	assert.Len(buf, adminReqHdrLen)
	assert.Equal(MsgTypeNVMe, buf[0])
	assert.Equal(opGetLogPage, buf[4])
	assert.Equal(adminFlagDlenPresent, buf[5])
}

func TestParseAdminRespHdr(t *testing.T) {
	assert := assert.New(t)

	buf := make([]byte, adminRespHdrLen)
	buf[0] = MsgTypeNVMe
	buf[4] = 0
	buf[8] = 0x01
	buf[9] = 0x02

	h := parseAdminRespHdr(buf)
	assert.Equal(uint8(0), h.Status)
	assert.Equal(uint32(0x0201), h.Cdw0)
}

func TestParseMIRespHdr(t *testing.T) {
	assert := assert.New(t)

	buf := make([]byte, miRespHdrLen)
	buf[4] = 0x20
	buf[8] = 0xaa
	buf[9] = 0xbb
	buf[10] = 0xcc

	h := parseMIRespHdr(buf)
	assert.Equal(uint8(0x20), h.Status)
	assert.Equal([3]uint8{0xaa, 0xbb, 0xcc}, h.NMResp)
}
