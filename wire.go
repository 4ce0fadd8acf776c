// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// NVMe-MI wire message headers and admin/NVMe constants.

package nvmemi

import "encoding/binary"

const (
	// MsgTypeNVMe is the MI message type byte value for NVMe-MI
	// messages (as opposed to other MCTP message types).
	MsgTypeNVMe uint8 = 0x04

	// NMP message-type field values (bits 6..3 of the NMP byte).
	nmpMTMI    uint8 = 0x4
	nmpMTAdmin uint8 = 0x1

	// NMP ROR field values (bit 7).
	rorRequest uint8 = 0
	rorResp    uint8 = 1

	// MsgHdrLen is the size of the generic 4-byte MI message header.
	MsgHdrLen = 4

	// adminReqHdrLen/adminRespHdrLen/miReqHdrLen/miRespHdrLen are the
	// wire sizes of the opcode-specific headers, generic header
	// included. All are 4-byte aligned per the header-length invariant.
	adminReqHdrLen  = 60 // hdr + opcode/flags/ctrlid/nsid/cdw2-5/doff/dlen/cdw10-15
	adminRespHdrLen = 12 // hdr + status/rsvd + cdw0
	miReqHdrLen     = 16 // hdr + opcode/rsvd + cdw0 + cdw1
	miRespHdrLen    = 12 // hdr + status/rsvd + nmresp[3]/rsvd

	// RespMPR is the MI status value signalling "More Processing
	// Required".
	RespMPR uint8 = 0x20

	// GetLogPageChunkMax is the maximum number of payload bytes the MI
	// spec permits in a single Get Log Page transfer.
	GetLogPageChunkMax = 4096

	// AdminXferMax is the maximum payload size for the generic Admin
	// transfer, Security Send, and Security Receive.
	AdminXferMax = 4096
)

// NVMe Admin opcodes used by the command layer (§4.2).
const (
	opIdentify       uint8 = 0x06
	opGetLogPage     uint8 = 0x02
	opSecuritySend   uint8 = 0x81
	opSecurityRecv   uint8 = 0x82
)

// MI management opcodes (§4.2).
const (
	miOpReadMIData           uint8 = 0x00
	miOpSubsysHealthPoll      uint8 = 0x01
	miOpConfigurationSet      uint8 = 0x05
	miOpConfigurationGet      uint8 = 0x04
)

// Read MI Data dtyp values (byte 3 of cdw0).
const (
	dtypSubsysInfo uint8 = 0x00
	dtypPortInfo   uint8 = 0x01
	dtypCtrlList   uint8 = 0x02
	dtypCtrlInfo   uint8 = 0x03
)

// msgHdr is the generic 4-byte MI message header shared by every
// request and response.
type msgHdr struct {
	Type uint8
	NMP  uint8
	_    [2]uint8 // reserved
}

func (h msgHdr) ror() uint8  { return h.NMP >> 7 }
func (h msgHdr) slot() uint8 { return h.NMP & 0x1 }

func buildNMP(ror, msgType, slot uint8) uint8 {
	return (ror << 7) | (msgType << 3) | (slot & 0x1)
}

func putMsgHdr(buf []byte, h msgHdr) {
	buf[0] = h.Type
	buf[1] = h.NMP
	buf[2] = 0
	buf[3] = 0
}

func getMsgHdr(buf []byte) msgHdr {
	return msgHdr{Type: buf[0], NMP: buf[1]}
}

// adminReqHdr is the Admin command request header: generic header,
// opcode, flags, controller id, NSID (sent as cdw1's conventional
// slot), and cdw2..cdw15 with dlen/doff broken out as named fields per
// §6's EXTERNAL INTERFACES description (flags bit0 = dlen present,
// bit1 = doff present).
type adminReqHdr struct {
	hdr    msgHdr
	Opcode uint8
	Flags  uint8
	CtrlID uint16
	Nsid   uint32
	Cdw2   uint32
	Cdw3   uint32
	Cdw4   uint32
	Cdw5   uint32
	Doff   uint32
	Dlen   uint32
	Cdw10  uint32
	Cdw11  uint32
	Cdw12  uint32
	Cdw13  uint32
	Cdw14  uint32
	Cdw15  uint32
}

const (
	adminFlagDlenPresent uint8 = 0x1
	adminFlagDoffPresent uint8 = 0x2
)

// marshal serializes the header into its wire form.
func (h *adminReqHdr) marshal() []byte {
	buf := make([]byte, adminReqHdrLen)
	putMsgHdr(buf, h.hdr)
	buf[4] = h.Opcode
	buf[5] = h.Flags
	binary.LittleEndian.PutUint16(buf[6:8], h.CtrlID)
	binary.LittleEndian.PutUint32(buf[8:12], h.Nsid)
	binary.LittleEndian.PutUint32(buf[12:16], h.Cdw2)
	binary.LittleEndian.PutUint32(buf[16:20], h.Cdw3)
	binary.LittleEndian.PutUint32(buf[20:24], h.Cdw4)
	binary.LittleEndian.PutUint32(buf[24:28], h.Cdw5)
	binary.LittleEndian.PutUint32(buf[28:32], h.Doff)
	binary.LittleEndian.PutUint32(buf[32:36], h.Dlen)
	binary.LittleEndian.PutUint32(buf[36:40], h.Cdw10)
	binary.LittleEndian.PutUint32(buf[40:44], h.Cdw11)
	binary.LittleEndian.PutUint32(buf[44:48], h.Cdw12)
	binary.LittleEndian.PutUint32(buf[48:52], h.Cdw13)
	binary.LittleEndian.PutUint32(buf[52:56], h.Cdw14)
	binary.LittleEndian.PutUint32(buf[56:60], h.Cdw15)
	return buf
}

// adminRespHdr is the Admin command response header.
type adminRespHdr struct {
	hdr    msgHdr
	Status uint8
	Cdw0   uint32
}

func parseAdminRespHdr(buf []byte) adminRespHdr {
	h := adminRespHdr{hdr: getMsgHdr(buf)}
	if len(buf) >= int(adminRespHdrLen) {
		h.Status = buf[4]
		h.Cdw0 = binary.LittleEndian.Uint32(buf[8:12])
	}
	return h
}

// miReqHdr is the MI management command request header.
type miReqHdr struct {
	hdr    msgHdr
	Opcode uint8
	Cdw0   uint32
	Cdw1   uint32
}

func (h *miReqHdr) marshal() []byte {
	buf := make([]byte, miReqHdrLen)
	putMsgHdr(buf, h.hdr)
	buf[4] = h.Opcode
	binary.LittleEndian.PutUint32(buf[8:12], h.Cdw0)
	binary.LittleEndian.PutUint32(buf[12:16], h.Cdw1)
	return buf
}

// miRespHdr is the MI management command response header.
type miRespHdr struct {
	hdr     msgHdr
	Status  uint8
	NMResp  [3]uint8
}

func parseMIRespHdr(buf []byte) miRespHdr {
	h := miRespHdr{hdr: getMsgHdr(buf)}
	if len(buf) >= int(miRespHdrLen) {
		h.Status = buf[4]
		copy(h.NMResp[:], buf[8:11])
	}
	return h
}
