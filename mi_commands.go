// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// MI management commands: Read MI Data, Subsystem Health Poll, Config
// Get/Set (§4.2).

package nvmemi

import "encoding/binary"

func miInitReq(opcode uint8, cdw0, cdw1 uint32) *miReqHdr {
	return &miReqHdr{
		hdr:    msgHdr{Type: MsgTypeNVMe, NMP: buildNMP(rorRequest, nmpMTMI, 0)},
		Opcode: opcode,
		Cdw0:   cdw0,
		Cdw1:   cdw1,
	}
}

// readMIData issues a Read MI Data command with the given dtyp/
// selector encoded in cdw0, reading at most len(data) bytes and
// returning the number received; callers check the length.
func readMIData(ep *Endpoint, cdw0 uint32, data []byte) (int, error) {
	reqHdr := miInitReq(miOpReadMIData, cdw0, 0)
	req := &Request{Header: reqHdr.marshal()}

	respHdrBuf := make([]byte, miRespHdrLen)
	resp := &Response{HeaderCap: respHdrBuf, DataCap: data}

	if err := submit(ep, req, resp); err != nil {
		return 0, err
	}

	respHdr := parseMIRespHdr(resp.Header)
	if err := statusOrNil(respHdr.Status); err != nil {
		return 0, err
	}

	return len(resp.Data), nil
}

// SubsystemInfo is the fixed-size Read MI Data: Subsystem response.
type SubsystemInfo struct {
	NumPorts    uint8
	MJR         uint8
	MNR         uint8
	_           [29]byte // reserved, padding to a stable 32-byte record
}

const subsystemInfoLen = 32

// ReadMIDataSubsys reads the NVM subsystem information structure.
func (ep *Endpoint) ReadMIDataSubsys() (*SubsystemInfo, error) {
	cdw0 := uint32(dtypSubsysInfo) << 24
	buf := make([]byte, subsystemInfoLen)

	n, err := readMIData(ep, cdw0, buf)
	if err != nil {
		return nil, err
	}
	if n != subsystemInfoLen {
		return nil, newErr(ErrProtocol, "subsystem info length mismatch", nil)
	}

	return &SubsystemInfo{NumPorts: buf[0], MJR: buf[1], MNR: buf[2]}, nil
}

// PortInfo is the fixed-size Read MI Data: Port response.
type PortInfo struct {
	PortType    uint8
	_           [31]byte
}

const portInfoLen = 32

// ReadMIDataPort reads the port information structure for portID.
func (ep *Endpoint) ReadMIDataPort(portID uint8) (*PortInfo, error) {
	cdw0 := uint32(dtypPortInfo)<<24 | uint32(portID)<<16
	buf := make([]byte, portInfoLen)

	n, err := readMIData(ep, cdw0, buf)
	if err != nil {
		return nil, err
	}
	if n != portInfoLen {
		return nil, newErr(ErrProtocol, "port info length mismatch", nil)
	}

	return &PortInfo{PortType: buf[0]}, nil
}

// readMIDataCtrlList reads the controller list starting at startID,
// returning the 16-bit controller identifiers as listed (zero entries
// included; Endpoint.Scan skips them).
//
// The list's `num` count field is nominally 16-bit per spec.md's open
// question (implementations elsewhere index it as 32-bit via a
// macro); we treat identifiers as 16-bit unsigned throughout.
func (ep *Endpoint) readMIDataCtrlList(startID uint8) ([]uint16, error) {
	cdw0 := uint32(dtypCtrlList)<<24 | uint32(startID)<<16

	const maxEntries = 2047
	buf := make([]byte, 2+maxEntries*2)

	n, err := readMIData(ep, cdw0, buf)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, newErr(ErrProtocol, "controller list too short", nil)
	}

	num := binary.LittleEndian.Uint16(buf[0:2])
	if int(num) > maxEntries {
		return nil, newErr(ErrProtocol, "controller list count out of range", nil)
	}

	ids := make([]uint16, 0, num)
	for i := 0; i < int(num); i++ {
		off := 2 + i*2
		if off+2 > n {
			break
		}
		ids = append(ids, binary.LittleEndian.Uint16(buf[off:off+2]))
	}

	return ids, nil
}

// ControllerInfo is the fixed-size Read MI Data: Controller response.
type ControllerInfo struct {
	PortIdentifier uint8
	_              [31]byte
}

const ctrlInfoLen = 32

// ReadMIDataCtrl reads the controller information structure for ctrlID.
func (ep *Endpoint) ReadMIDataCtrl(ctrlID uint16) (*ControllerInfo, error) {
	cdw0 := uint32(dtypCtrlInfo)<<24 | uint32(ctrlID)
	buf := make([]byte, ctrlInfoLen)

	n, err := readMIData(ep, cdw0, buf)
	if err != nil {
		return nil, err
	}
	if n != ctrlInfoLen {
		return nil, newErr(ErrProtocol, "controller info length mismatch", nil)
	}

	return &ControllerInfo{PortIdentifier: buf[0]}, nil
}

// HealthStatus is the fixed-size Subsystem Health Poll response.
type HealthStatus struct {
	NumSubsysPorts uint8
	NumControllers uint8
	_              [30]byte
}

const healthStatusLen = 32

// SubsystemHealthPoll issues a Subsystem Health Status Poll. If clear
// is set, the device clears the composite health indicators after
// reporting them (cdw1 bit31); otherwise they are left intact.
func (ep *Endpoint) SubsystemHealthPoll(clear bool) (*HealthStatus, error) {
	var cdw1 uint32
	if clear {
		cdw1 = 1 << 31
	}

	reqHdr := miInitReq(miOpSubsysHealthPoll, 0, cdw1)
	req := &Request{Header: reqHdr.marshal()}

	respHdrBuf := make([]byte, miRespHdrLen)
	buf := make([]byte, healthStatusLen)
	resp := &Response{HeaderCap: respHdrBuf, DataCap: buf}

	if err := submit(ep, req, resp); err != nil {
		return nil, err
	}

	respHdr := parseMIRespHdr(resp.Header)
	if err := statusOrNil(respHdr.Status); err != nil {
		return nil, err
	}

	if len(resp.Data) != healthStatusLen {
		return nil, newErr(ErrProtocol, "subsystem health status length mismatch", nil)
	}

	return &HealthStatus{NumSubsysPorts: buf[0], NumControllers: buf[1]}, nil
}

// ConfigGet issues a Configuration Get command, returning the 3-byte
// result assembled from nmresp[0..2] as a uint32.
func (ep *Endpoint) ConfigGet(dw0, dw1 uint32) (uint32, error) {
	reqHdr := miInitReq(miOpConfigurationGet, dw0, dw1)
	req := &Request{Header: reqHdr.marshal()}

	respHdrBuf := make([]byte, miRespHdrLen)
	resp := &Response{HeaderCap: respHdrBuf}

	if err := submit(ep, req, resp); err != nil {
		return 0, err
	}

	respHdr := parseMIRespHdr(resp.Header)
	if err := statusOrNil(respHdr.Status); err != nil {
		return 0, err
	}

	result := uint32(respHdr.NMResp[0]) | uint32(respHdr.NMResp[1])<<8 | uint32(respHdr.NMResp[2])<<16
	return result, nil
}

// ConfigSet issues a Configuration Set command.
func (ep *Endpoint) ConfigSet(dw0, dw1 uint32) error {
	reqHdr := miInitReq(miOpConfigurationSet, dw0, dw1)
	req := &Request{Header: reqHdr.marshal()}

	respHdrBuf := make([]byte, miRespHdrLen)
	resp := &Response{HeaderCap: respHdrBuf}

	if err := submit(ep, req, resp); err != nil {
		return err
	}

	respHdr := parseMIRespHdr(resp.Header)
	return statusOrNil(respHdr.Status)
}
