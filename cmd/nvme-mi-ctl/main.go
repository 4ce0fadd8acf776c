// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Go NVMe-MI library nvme-mi-ctl reference implementation.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/nvme-mi/go-nvme-mi"
	"github.com/nvme-mi/go-nvme-mi/mctp"
	"github.com/nvme-mi/go-nvme-mi/utils"
)

func scanBus() {
	root := nvmemi.NewRoot(nil, nvmemi.DefaultLogLevel)
	defer root.Close()

	found, err := mctp.Scan(root, nil)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	for _, ep := range found {
		fmt.Printf("net %d eid %d (%s)\n", ep.Network, ep.EID, ep.Path)
	}
}

func subsysInfo(net int, eid uint8) {
	root := nvmemi.NewRoot(nil, nvmemi.DefaultLogLevel)
	defer root.Close()

	ep, err := mctp.Open(root, net, eid)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg, err := nvmemi.LoadConfigFile("nvme-mi.yaml")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := cfg.Apply(ep, net, eid); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	info, err := ep.ReadMIDataSubsys()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("%+v\n", info)

	if err := ep.Scan(false); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	for _, c := range ep.Controllers() {
		fmt.Printf("controller %d\n", c.ID())
	}
}

func getLogPage(net int, eid uint8, ctrlID uint16, lid uint8, size int) {
	root := nvmemi.NewRoot(nil, nvmemi.DefaultLogLevel)
	defer root.Close()

	ep, err := mctp.Open(root, net, eid)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if err := ep.Scan(false); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var c *nvmemi.Controller
	for _, found := range ep.Controllers() {
		if found.ID() == ctrlID {
			c = found
			break
		}
	}
	if c == nil {
		fmt.Printf("controller %d not found on endpoint\n", ctrlID)
		os.Exit(1)
	}

	args := &nvmemi.GetLogArgs{LID: lid, Log: make([]byte, size), Len: size}
	if err := c.AdminGetLogPage(args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Printf("log page 0x%02x: received %s\n", lid, utils.FormatBytes(uint64(args.Len)))
}

func main() {
	fmt.Println("Go nvme-mi-ctl Reference Implementation")
	fmt.Printf("Built with %s on %s (%s)\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	net := flag.Int("net", -1, "MCTP network ID of the target endpoint")
	eid := flag.Uint("eid", 0, "MCTP endpoint ID of the target endpoint")
	scan := flag.Bool("scan", false, "Scan the D-Bus MCTP daemon for NVMe-MI capable endpoints")
	ctrlID := flag.Uint("ctrl", 0, "Controller ID for -getlog")
	getlog := flag.Uint("getlog", 0, "Log Identifier to fetch via Get Log Page (0 = skip)")
	logsize := flag.Int("logsize", 512, "Bytes to request from -getlog")
	flag.Parse()

	switch {
	case *scan:
		scanBus()
	case *getlog != 0 && *net >= 0:
		getLogPage(*net, uint8(*eid), uint16(*ctrlID), uint8(*getlog), *logsize)
	case *net >= 0:
		subsysInfo(*net, uint8(*eid))
	default:
		flag.PrintDefaults()
		os.Exit(1)
	}
}
