// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Endpoint: one logical connection to an NVMe subsystem via a transport.

package nvmemi

import "fmt"

// defaultTimeout is the fallback command/response timeout (ms) for
// transports that don't set their own default in Open, matching the
// C library's `default_timeout`.
const defaultTimeout = 1000

// Endpoint is a handle to one logical connection to an NVMe subsystem.
// It exclusively owns its transport's private state and the ordered
// list of controllers discovered (or manually attached) on it.
type Endpoint struct {
	root      *Root
	transport Transport

	timeout  uint // ms
	mprtMax  uint // ms, 0 = unlimited

	controllersScanned bool
	controllers         []*Controller
}

// NewEndpoint allocates an Endpoint registered on root and bound to
// transport, with the package-wide default timeout and no MPR ceiling.
// Transport implementations (e.g. package mctp) call this from their
// own Open constructors so that root/endpoint bookkeeping stays
// entirely inside this package, avoiding an import cycle between the
// core and its transports.
func NewEndpoint(root *Root, transport Transport) *Endpoint {
	ep := &Endpoint{timeout: defaultTimeout, transport: transport}
	root.addEndpoint(ep)
	return ep
}

// Root returns the Root this endpoint is registered on.
func (ep *Endpoint) Root() *Root { return ep.root }

// SetTimeout applies a new command/response timeout (ms), first
// consulting the transport's optional CheckTimeout hook.
func (ep *Endpoint) SetTimeout(timeoutMS uint) error {
	if tc, ok := ep.transport.(TimeoutChecker); ok {
		if err := tc.CheckTimeout(timeoutMS); err != nil {
			return err
		}
	}
	ep.timeout = timeoutMS
	return nil
}

// Timeout returns the endpoint's current command/response timeout (ms).
func (ep *Endpoint) Timeout() uint { return ep.timeout }

// SetMPRTMax sets the upper bound (ms) the endpoint will honour from a
// device's More-Processing-Required time; 0 means unlimited.
func (ep *Endpoint) SetMPRTMax(ms uint) { ep.mprtMax = ms }

// MPRTMax returns the endpoint's current MPR ceiling (ms).
func (ep *Endpoint) MPRTMax() uint { return ep.mprtMax }

// Controllers returns the controllers currently attached to this
// endpoint, in discovery order.
func (ep *Endpoint) Controllers() []*Controller {
	out := make([]*Controller, len(ep.controllers))
	copy(out, ep.controllers)
	return out
}

// initController attaches a new controller handle with the given id.
func (ep *Endpoint) initController(id uint16) *Controller {
	c := &Controller{ep: ep, id: id}
	ep.controllers = append(ep.controllers, c)
	return c
}

// Scan populates ep's controller list via Read MI Data: Controller
// List. If the endpoint has already been scanned successfully, Scan
// is a no-op unless forceRescan is set, in which case existing
// controllers are closed and the list is rebuilt.
func (ep *Endpoint) Scan(forceRescan bool) error {
	if ep.controllersScanned {
		if !forceRescan {
			return nil
		}
		for _, c := range append([]*Controller(nil), ep.controllers...) {
			ep.closeController(c)
		}
	}

	list, err := ep.readMIDataCtrlList(0)
	if err != nil {
		return err
	}

	for _, id := range list {
		if id == 0 {
			continue
		}
		ep.initController(id)
	}

	ep.controllersScanned = true
	return nil
}

func (ep *Endpoint) closeController(c *Controller) {
	for i, e := range ep.controllers {
		if e == c {
			ep.controllers = append(ep.controllers[:i], ep.controllers[i+1:]...)
			return
		}
	}
}

// Close tears down every controller on this endpoint, closes the
// transport, and de-registers the endpoint from its root.
//
// controllersScanned is forced true first, suppressing any implicit
// rescan a concurrent caller might otherwise trigger mid-teardown.
func (ep *Endpoint) Close() {
	ep.controllersScanned = true

	for _, c := range append([]*Controller(nil), ep.controllers...) {
		ep.closeController(c)
	}

	if ep.transport != nil {
		ep.transport.Close()
	}
	if ep.root != nil {
		ep.root.removeEndpoint(ep)
	}
}

// String describes the endpoint via its transport, matching
// nvme_mi_endpoint_desc's "<name>: <addr>" / "<name> endpoint" shape.
func (ep *Endpoint) String() string {
	if ep.transport == nil {
		return "endpoint"
	}
	desc := ep.transport.DescribeEndpoint()
	if desc == "" {
		return fmt.Sprintf("%s endpoint", ep.transport.Kind())
	}
	return fmt.Sprintf("%s: %s", ep.transport.Kind(), desc)
}
