// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Endpoint discovery: scan the system D-Bus object manager for MCTP
// endpoints advertising NVMe-MI (message type 4) support.

package mctp

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/nvme-mi/go-nvme-mi"
)

const (
	mctpBusName     = "xyz.openbmc_project.MCTP"
	mctpObjectPath  = "/xyz/openbmc_project/mctp"
	mctpEndpointIfc = "xyz.openbmc_project.MCTP.Endpoint"

	// nvmeMIMessageType is the MCTP message-type value that a
	// SupportedMessageTypes list must contain for an endpoint to be
	// usable as an NVMe-MI target.
	nvmeMIMessageType = msgTypeNVMe
)

// DiscoveredEndpoint describes one MCTP endpoint found on the bus that
// advertises NVMe-MI support.
type DiscoveredEndpoint struct {
	Network int
	EID     uint8
	Path    dbus.ObjectPath
}

// Scan connects to the system bus, calls GetManagedObjects on the MCTP
// daemon, and returns every endpoint whose SupportedMessageTypes
// includes NVMe-MI, deduplicated by (network, eid). A conn argument of
// nil opens and closes a fresh system bus connection for the call.
// root is used only for logging (a nil root silently drops individual
// object parse errors rather than aborting the scan); pass the Root
// the resulting endpoints will be opened against.
func Scan(root *nvmemi.Root, conn *dbus.Conn) ([]DiscoveredEndpoint, error) {
	owned := conn == nil
	if owned {
		c, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, fmt.Errorf("connecting to system bus: %w", err)
		}
		conn = c
		defer conn.Close()
	}

	obj := conn.Object(mctpBusName, dbus.ObjectPath("/"))

	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return nil, fmt.Errorf("GetManagedObjects on %s: %w", mctpBusName, err)
	}

	return scanManaged(root, managed), nil
}

// scanManaged is Scan's testable core: it walks an already-fetched
// GetManagedObjects result. Individual object parse errors are logged
// through root (if non-nil) and otherwise skipped; they do not abort
// discovery of the rest of the bus.
func scanManaged(root *nvmemi.Root, managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []DiscoveredEndpoint {
	seen := make(map[[2]int]bool)
	var out []DiscoveredEndpoint

	for path, ifaces := range managed {
		props, ok := ifaces[mctpEndpointIfc]
		if !ok {
			continue
		}

		ep, err := parseEndpointProps(path, props)
		if err != nil {
			if root != nil {
				root.Msg(nvmemi.LogLevelErr, "mctp discovery: %v", err)
			}
			continue
		}
		if !supportsNVMeMI(props) {
			continue
		}

		key := [2]int{ep.Network, int(ep.EID)}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ep)
	}

	return out
}

func parseEndpointProps(path dbus.ObjectPath, props map[string]dbus.Variant) (DiscoveredEndpoint, error) {
	eidVar, ok := props["EID"]
	if !ok {
		return DiscoveredEndpoint{}, fmt.Errorf("%s: missing EID property", path)
	}
	netVar, ok := props["NetworkId"]
	if !ok {
		return DiscoveredEndpoint{}, fmt.Errorf("%s: missing NetworkId property", path)
	}

	eid, err := variantToUint8(eidVar)
	if err != nil {
		return DiscoveredEndpoint{}, fmt.Errorf("%s: EID: %w", path, err)
	}
	network, err := variantToInt(netVar)
	if err != nil {
		return DiscoveredEndpoint{}, fmt.Errorf("%s: NetworkId: %w", path, err)
	}

	return DiscoveredEndpoint{Network: network, EID: eid, Path: path}, nil
}

func supportsNVMeMI(props map[string]dbus.Variant) bool {
	v, ok := props["SupportedMessageTypes"]
	if !ok {
		return false
	}
	types, ok := v.Value().([]byte)
	if !ok {
		return false
	}
	for _, t := range types {
		if t == nvmeMIMessageType {
			return true
		}
	}
	return false
}

func variantToUint8(v dbus.Variant) (uint8, error) {
	switch val := v.Value().(type) {
	case byte:
		return val, nil
	case uint16:
		return uint8(val), nil
	case uint32:
		return uint8(val), nil
	case int32:
		return uint8(val), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", val)
	}
}

func variantToInt(v dbus.Variant) (int, error) {
	switch val := v.Value().(type) {
	case int32:
		return int(val), nil
	case uint32:
		return int(val), nil
	case int64:
		return int(val), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", val)
	}
}
