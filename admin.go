// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// NVMe Admin command layer tunnelled over MI (§4.2).

package nvmemi

import "encoding/binary"

// adminInitReq builds the common portion of an Admin request: generic
// header (type=NVMe, ROR=request, msg type=Admin, slot 0) plus opcode
// and controller id.
func adminInitReq(ctrlID uint16, opcode uint8) *adminReqHdr {
	return &adminReqHdr{
		hdr:    msgHdr{Type: MsgTypeNVMe, NMP: buildNMP(rorRequest, nmpMTAdmin, 0)},
		Opcode: opcode,
		CtrlID: ctrlID,
	}
}

// IdentifyArgs parametrizes a partial Identify command.
type IdentifyArgs struct {
	Nsid         uint32
	CNS          uint8
	CNTID        uint16
	CSI          uint8
	CNSSpecificID uint16
	UUIDIndex    uint8
	// Data receives the identify payload; its length must be at least
	// the size passed to AdminIdentifyPartial.
	Data   []byte
	Result *uint32
}

// AdminIdentifyPartial issues a partial Identify command, reading
// exactly size bytes of the identify structure starting at offset into
// args.Data (len(args.Data) must be >= size).
func (c *Controller) AdminIdentifyPartial(args *IdentifyArgs, offset uint32, size uint32) error {
	if size == 0 {
		return newErr(ErrInvalidArgument, "identify size must be non-zero", nil)
	}
	if uint64(len(args.Data)) < uint64(size) {
		return newErr(ErrInvalidArgument, "identify data buffer too small", nil)
	}

	reqHdr := adminInitReq(c.id, opIdentify)
	reqHdr.Nsid = args.Nsid
	reqHdr.Cdw10 = uint32(args.CNTID)<<16 | uint32(args.CNS)
	reqHdr.Cdw11 = uint32(args.CSI&0xff)<<24 | uint32(args.CNSSpecificID)
	reqHdr.Cdw14 = uint32(args.UUIDIndex)
	reqHdr.Dlen = size
	reqHdr.Flags = adminFlagDlenPresent
	if offset != 0 {
		reqHdr.Flags |= adminFlagDoffPresent
		reqHdr.Doff = offset
	}

	req := &Request{Header: reqHdr.marshal()}

	respHdrBuf := make([]byte, adminRespHdrLen)
	resp := &Response{HeaderCap: respHdrBuf, DataCap: args.Data[:size]}

	if err := submit(c.ep, req, resp); err != nil {
		return err
	}

	respHdr := parseAdminRespHdr(resp.Header)
	if err := statusOrNil(respHdr.Status); err != nil {
		return err
	}

	if args.Result != nil {
		*args.Result = respHdr.Cdw0
	}

	if len(resp.Data) != int(size) {
		return newErr(ErrProtocol, "identify response data length mismatch", nil)
	}

	return nil
}

// GetLogArgs parametrizes a (possibly multi-chunk) Get Log Page read.
type GetLogArgs struct {
	Nsid uint32
	LID  uint8
	LSP  uint8
	LSI  uint16
	LPO  uint64
	CSI  uint8
	OT   bool
	RAE  bool
	UUIDIndex uint8

	// Log is the caller-supplied destination buffer. Len(Log) bounds
	// the read; on success Len is updated to the number of bytes
	// actually received (which may be less, if the device returned a
	// short final chunk).
	Log []byte
	Len int
}

// getLogPageChunk retrieves one MI-transfer-sized chunk of log data at
// the given offset within args.Log, returning the number of bytes
// actually received.
func (c *Controller) getLogPageChunk(args *GetLogArgs, offset int, length int, final bool) (int, error) {
	if length <= 0 || length > GetLogPageChunkMax || length%4 != 0 {
		return 0, newErr(ErrInvalidArgument, "get log page chunk length", nil)
	}

	ndw := uint32(length/4) - 1

	reqHdr := adminInitReq(c.id, opGetLogPage)
	reqHdr.Nsid = args.Nsid
	rae := uint32(0)
	if !final || args.RAE {
		rae = 1
	}
	reqHdr.Cdw10 = (ndw&0xffff)<<16 | rae<<15 | uint32(args.LSP)<<8 | uint32(args.LID)
	reqHdr.Cdw11 = uint32(args.LSI)<<16 | (ndw >> 16)
	reqHdr.Cdw12 = uint32(args.LPO & 0xffffffff)
	reqHdr.Cdw13 = uint32(args.LPO >> 32)
	otBit := uint32(0)
	if args.OT {
		otBit = 1
	}
	reqHdr.Cdw14 = uint32(args.CSI&0xff)<<24 | otBit<<23 | uint32(args.UUIDIndex)
	reqHdr.Flags = adminFlagDlenPresent
	reqHdr.Dlen = uint32(length)
	if offset != 0 {
		reqHdr.Flags |= adminFlagDoffPresent
		reqHdr.Doff = uint32(offset)
	}

	req := &Request{Header: reqHdr.marshal()}
	respHdrBuf := make([]byte, adminRespHdrLen)
	resp := &Response{HeaderCap: respHdrBuf, DataCap: args.Log[offset : offset+length]}

	if err := submit(c.ep, req, resp); err != nil {
		return 0, err
	}

	respHdr := parseAdminRespHdr(resp.Header)
	if err := statusOrNil(respHdr.Status); err != nil {
		return 0, err
	}

	return len(resp.Data), nil
}

// AdminGetLogPage reads args.Len bytes of a log page into args.Log,
// partitioning the transfer into <=4096-byte chunks per §4.2. It
// aborts on the first transport/protocol/status failure. A short
// final chunk (the device returning fewer bytes than requested) is
// treated as end-of-log: the loop stops without error, and args.Len is
// set to the cumulative number of bytes actually received.
func (c *Controller) AdminGetLogPage(args *GetLogArgs) error {
	const xferSize = GetLogPageChunkMax

	offset := 0
	for offset < args.Len {
		curXfer := xferSize
		if offset+curXfer > args.Len {
			curXfer = args.Len - offset
		}
		final := offset+curXfer >= args.Len

		n, err := c.getLogPageChunk(args, offset, curXfer, final)
		if err != nil {
			return err
		}

		offset += n
		if n != curXfer {
			break
		}
	}

	args.Len = offset
	return nil
}

// SecuritySendArgs parametrizes a Security Send command.
type SecuritySendArgs struct {
	Nsid  uint32
	SECP  uint8
	SPSP0 uint8
	SPSP1 uint8
	NSSF  uint8
	Data  []byte

	Result *uint32
}

// AdminSecuritySend issues a Security Send command with up to 4096
// bytes of payload.
func (c *Controller) AdminSecuritySend(args *SecuritySendArgs) error {
	if len(args.Data) > AdminXferMax {
		return newErr(ErrInvalidArgument, "security send payload too large", nil)
	}

	reqHdr := adminInitReq(c.id, opSecuritySend)
	reqHdr.Nsid = args.Nsid
	reqHdr.Cdw10 = uint32(args.SECP)<<24 | uint32(args.SPSP0)<<16 | uint32(args.SPSP1)<<8 | uint32(args.NSSF)
	reqHdr.Cdw11 = uint32(len(args.Data))
	reqHdr.Flags = adminFlagDlenPresent
	reqHdr.Dlen = uint32(len(args.Data))

	req := &Request{Header: reqHdr.marshal(), Data: args.Data}
	respHdrBuf := make([]byte, adminRespHdrLen)
	resp := &Response{HeaderCap: respHdrBuf}

	if err := submit(c.ep, req, resp); err != nil {
		return err
	}

	respHdr := parseAdminRespHdr(resp.Header)
	if err := statusOrNil(respHdr.Status); err != nil {
		return err
	}

	if args.Result != nil {
		*args.Result = respHdr.Cdw0
	}

	return nil
}

// SecurityReceiveArgs parametrizes a Security Receive command.
type SecurityReceiveArgs struct {
	Nsid  uint32
	SECP  uint8
	SPSP0 uint8
	SPSP1 uint8
	NSSF  uint8

	// Data is the caller-supplied destination buffer (capped at 4096
	// bytes); on success its length is truncated to the number of
	// bytes actually received.
	Data []byte

	// Result receives the raw response cdw0, preserved WITHOUT
	// endian conversion per spec.md's open question — unlike the other
	// commands, which convert it.
	Result *uint32
}

// AdminSecurityReceive issues a Security Receive command.
func (c *Controller) AdminSecurityReceive(args *SecurityReceiveArgs) error {
	if len(args.Data) > AdminXferMax {
		return newErr(ErrInvalidArgument, "security receive payload too large", nil)
	}

	reqHdr := adminInitReq(c.id, opSecurityRecv)
	reqHdr.Nsid = args.Nsid
	reqHdr.Cdw10 = uint32(args.SECP)<<24 | uint32(args.SPSP0)<<16 | uint32(args.SPSP1)<<8 | uint32(args.NSSF)
	reqHdr.Cdw11 = uint32(len(args.Data))
	reqHdr.Flags = adminFlagDlenPresent
	reqHdr.Dlen = uint32(len(args.Data))

	req := &Request{Header: reqHdr.marshal()}
	respHdrBuf := make([]byte, adminRespHdrLen)
	resp := &Response{HeaderCap: respHdrBuf, DataCap: args.Data}

	if err := submit(c.ep, req, resp); err != nil {
		return err
	}

	respHdr := parseAdminRespHdr(resp.Header)
	if err := statusOrNil(respHdr.Status); err != nil {
		return err
	}

	if args.Result != nil {
		// raw dword, no byte-swap: preserved verbatim per the open
		// question in spec.md.
		*args.Result = respHdr.Cdw0
		if len(resp.Header) >= adminRespHdrLen {
			*args.Result = binary.NativeEndian.Uint32(resp.Header[8:12])
		}
	}
	args.Data = resp.Data

	return nil
}

// AdminXfer is the generic one-shot Admin transfer: caller supplies a
// fully-populated request header/data, and a response header plus an
// (optional) response data region at resp_offset.
//
// Enforces §4.2's generic-transfer invariants: response size <= 4096,
// 4-aligned offset <= 2^32-1, no simultaneous request-and-response
// payload (half-duplex), and offset must be zero when there is no
// response payload.
func (ctrl *Controller) AdminXfer(reqHeader *AdminRequestHeader, reqData []byte, respHeader *AdminRequestHeader, respOffset uint32, respData []byte) (int, error) {
	if len(respData) > AdminXferMax {
		return 0, newErr(ErrInvalidArgument, "admin xfer response size", nil)
	}
	if respOffset%4 != 0 {
		return 0, newErr(ErrInvalidArgument, "admin xfer offset alignment", nil)
	}
	if len(reqData) > 0 && len(respData) > 0 {
		return 0, newErr(ErrInvalidArgument, "admin xfer is half-duplex", nil)
	}
	if len(respData) == 0 && respOffset != 0 {
		return 0, newErr(ErrInvalidArgument, "admin xfer offset requires response payload", nil)
	}

	reqHdr := adminInitReq(ctrl.id, reqHeader.Opcode)
	reqHdr.Nsid = reqHeader.Nsid
	reqHdr.Cdw10 = reqHeader.Cdw10
	reqHdr.Cdw11 = reqHeader.Cdw11
	reqHdr.Cdw12 = reqHeader.Cdw12
	reqHdr.Cdw13 = reqHeader.Cdw13
	reqHdr.Cdw14 = reqHeader.Cdw14
	reqHdr.Cdw15 = reqHeader.Cdw15
	reqHdr.Flags = adminFlagDlenPresent | adminFlagDoffPresent
	reqHdr.Dlen = uint32(len(respData))
	reqHdr.Doff = respOffset

	req := &Request{Header: reqHdr.marshal(), Data: reqData}
	respHdrBuf := make([]byte, adminRespHdrLen)
	resp := &Response{HeaderCap: respHdrBuf, DataCap: respData}

	if err := submit(ctrl.ep, req, resp); err != nil {
		return 0, err
	}

	respHdr := parseAdminRespHdr(resp.Header)
	if err := statusOrNil(respHdr.Status); err != nil {
		return 0, err
	}

	respHeader.Cdw0 = respHdr.Cdw0

	return len(resp.Data), nil
}

// AdminRequestHeader is the caller-facing view of an Admin command's
// cdw10..cdw15 fields for the generic AdminXfer entry point.
type AdminRequestHeader struct {
	Opcode uint8
	Nsid   uint32
	Cdw0   uint32 // response: status word
	Cdw10  uint32
	Cdw11  uint32
	Cdw12  uint32
	Cdw13  uint32
	Cdw14  uint32
	Cdw15  uint32
}
