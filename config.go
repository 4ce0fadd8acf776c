// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Endpoint-defaults configuration, loaded once at startup: a small,
// versioned YAML file consulted when a bare scan result needs
// per-endpoint tuning (timeout, MPR retry ceiling).

package nvmemi

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"
)

// EndpointDefault overrides the timeout/MPR-maximum applied to a
// discovered endpoint, keyed by its (network, eid) address.
type EndpointDefault struct {
	Network   int    `yaml:"network"`
	EID       uint8  `yaml:"eid"`
	TimeoutMS uint   `yaml:"timeout_ms,omitempty"`
	MPRTMaxMS uint   `yaml:"mprt_max_ms,omitempty"`
	Label     string `yaml:"label,omitempty"`
}

// Config is the parsed form of an endpoint-defaults YAML file.
type Config struct {
	Endpoints []EndpointDefault `yaml:"endpoints"`
}

// LoadConfig parses an endpoint-defaults YAML document from r.
func LoadConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newErr(ErrResource, "reading config", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, newErr(ErrInvalidArgument, "parsing config", err)
	}

	return &cfg, nil
}

// LoadConfigFile opens and parses path as an endpoint-defaults YAML
// file. A missing file is not an error; it yields an empty Config so
// callers can apply it unconditionally.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, newErr(ErrResource, fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()

	return LoadConfig(f)
}

// Lookup returns the default entry for (network, eid), if any.
func (c *Config) Lookup(network int, eid uint8) (EndpointDefault, bool) {
	for _, e := range c.Endpoints {
		if e.Network == network && e.EID == eid {
			return e, true
		}
	}
	return EndpointDefault{}, false
}

// Apply applies this config's matching entry (if any) to ep: a
// non-zero TimeoutMS/MPRTMaxMS overrides the endpoint's current value.
func (c *Config) Apply(ep *Endpoint, network int, eid uint8) error {
	d, ok := c.Lookup(network, eid)
	if !ok {
		return nil
	}
	if d.TimeoutMS != 0 {
		if err := ep.SetTimeout(d.TimeoutMS); err != nil {
			return err
		}
	}
	if d.MPRTMaxMS != 0 {
		ep.SetMPRTMax(d.MPRTMaxMS)
	}
	return nil
}
