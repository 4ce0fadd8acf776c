// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Controller: handle to one NVMe controller reachable through an endpoint.

package nvmemi

// Controller is a handle to one NVMe controller reachable through an
// Endpoint. It is owned by the endpoint and must not be used once the
// endpoint has been closed.
type Controller struct {
	ep *Endpoint
	id uint16
}

// ID returns the controller's 16-bit identifier.
func (c *Controller) ID() uint16 { return c.id }

// Endpoint returns the endpoint this controller is reachable through.
func (c *Controller) Endpoint() *Endpoint { return c.ep }
