// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package mctp

import (
	"bytes"
	"log"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"

	"github.com/nvme-mi/go-nvme-mi"
)

func TestScanManagedLogsParseErrorsAndContinues(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	root := nvmemi.NewRoot(log.New(&buf, "", 0), nvmemi.LogLevelErr)

	managed := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/xyz/openbmc_project/mctp/1": {
			mctpEndpointIfc: {
				"EID":                   dbus.MakeVariant(byte(8)),
				"SupportedMessageTypes": dbus.MakeVariant([]byte{msgTypeNVMe}),
				// NetworkId deliberately missing.
			},
		},
		"/xyz/openbmc_project/mctp/2": {
			mctpEndpointIfc: {
				"EID":                   dbus.MakeVariant(byte(9)),
				"NetworkId":             dbus.MakeVariant(int32(1)),
				"SupportedMessageTypes": dbus.MakeVariant([]byte{msgTypeNVMe}),
			},
		},
	}

	found := scanManaged(root, managed)

	assert.Len(found, 1)
	assert.Equal(uint8(9), found[0].EID)
	assert.Contains(buf.String(), "missing NetworkId")
}

func TestScanManagedNilRootSkipsSilently(t *testing.T) {
	assert := assert.New(t)

	managed := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/xyz/openbmc_project/mctp/1": {
			mctpEndpointIfc: {
				"EID":                   dbus.MakeVariant(byte(8)),
				"SupportedMessageTypes": dbus.MakeVariant([]byte{msgTypeNVMe}),
			},
		},
	}

	assert.NotPanics(func() {
		found := scanManaged(nil, managed)
		assert.Empty(found)
	})
}

func TestScanManagedDedupesByNetworkAndEID(t *testing.T) {
	assert := assert.New(t)

	props := map[string]dbus.Variant{
		"EID":                   dbus.MakeVariant(byte(3)),
		"NetworkId":             dbus.MakeVariant(int32(2)),
		"SupportedMessageTypes": dbus.MakeVariant([]byte{msgTypeNVMe}),
	}
	managed := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/xyz/openbmc_project/mctp/1": {mctpEndpointIfc: props},
		"/xyz/openbmc_project/mctp/2": {mctpEndpointIfc: props},
	}

	found := scanManaged(nil, managed)
	assert.Len(found, 1)
}

func TestScanManagedSkipsEndpointsWithoutNVMeMI(t *testing.T) {
	assert := assert.New(t)

	managed := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/xyz/openbmc_project/mctp/1": {
			mctpEndpointIfc: {
				"EID":                   dbus.MakeVariant(byte(4)),
				"NetworkId":             dbus.MakeVariant(int32(1)),
				"SupportedMessageTypes": dbus.MakeVariant([]byte{0x01}),
			},
		},
	}

	found := scanManaged(nil, managed)
	assert.Empty(found)
}
