// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// MI request/response descriptors and the submission engine (§4.1).

package nvmemi

// Request is one outbound MI message: header bytes, optional payload,
// and the computed MIC. Constructed and consumed within a single
// Submit call.
type Request struct {
	Header []byte
	Data   []byte
	MIC    uint32
}

// Response is one inbound MI message buffer. HeaderCap/DataCap are
// supplied by the caller; Header/Data are trimmed to the lengths the
// transport actually wrote, and MIC is filled in by the transport.
type Response struct {
	HeaderCap []byte // caller-supplied capacity
	DataCap   []byte // caller-supplied capacity

	Header []byte // valid prefix of HeaderCap after Submit
	Data   []byte // valid prefix of DataCap after Submit
	MIC    uint32
}

// Transport is the capability set each Endpoint attaches to itself, a
// Go interface standing in for the C vtable of §4.1/§4.3/§9. Kind()
// is the "stable discriminator" §9 requires: operations that must
// reject cross-transport calls compare Kind() rather than relying on
// Go's dynamic type identity alone, mirroring the original's pointer
// comparison against a single static transport-table instance.
type Transport interface {
	// Kind identifies the transport implementation.
	Kind() string
	// MICEnabled reports whether this transport wants request/response
	// MIC computed and verified by the submission engine.
	MICEnabled() bool
	// Submit sends req and fills resp, or returns an error.
	Submit(ep *Endpoint, req *Request, resp *Response) error
	// Close releases any transport-private resources.
	Close()
	// DescribeEndpoint returns a short human-readable description of
	// the endpoint address (e.g. "net 1 eid 9").
	DescribeEndpoint() string
}

// TimeoutChecker is implemented by transports that need to validate a
// caller-requested timeout before it's applied (optional, matches the
// original's ep->transport->check_timeout hook).
type TimeoutChecker interface {
	CheckTimeout(timeoutMS uint) error
}

// submit implements the §4.1 contract: validate, compute/verify MIC,
// invoke the transport, and sanity-check the response header.
func submit(ep *Endpoint, req *Request, resp *Response) error {
	if len(req.Header)%4 != 0 || len(req.Header) < MsgHdrLen {
		return newErr(ErrInvalidArgument, "request header size", nil)
	}
	if len(req.Data)%4 != 0 {
		return newErr(ErrInvalidArgument, "request data size", nil)
	}
	if len(resp.HeaderCap)%4 != 0 || len(resp.HeaderCap) < MsgHdrLen {
		return newErr(ErrInvalidArgument, "response header size", nil)
	}
	if len(resp.DataCap)%4 != 0 {
		return newErr(ErrInvalidArgument, "response data size", nil)
	}

	if ep.transport.MICEnabled() {
		req.MIC = computeMIC(req.Header, req.Data)
	}

	if err := ep.transport.Submit(ep, req, resp); err != nil {
		return err
	}

	if ep.transport.MICEnabled() {
		if !verifyMIC(resp.MIC, resp.Header, resp.Data) {
			return newErr(ErrIntegrity, "crc mismatch", nil)
		}
	}

	if len(resp.Header) < MsgHdrLen {
		return newErr(ErrProtocol, "response header too short", nil)
	}

	h := getMsgHdr(resp.Header)
	if h.Type != MsgTypeNVMe {
		return newErr(ErrProtocol, "invalid message type", nil)
	}
	if h.ror() != rorResp {
		return newErr(ErrProtocol, "ROR indicates a request", nil)
	}

	reqHdr := getMsgHdr(req.Header)
	if h.slot() != reqHdr.slot() {
		return newErr(ErrProtocol, "command slot mismatch", nil)
	}

	return nil
}
