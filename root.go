// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Root: the top-level container for a set of NVMe-MI endpoints.

package nvmemi

import (
	"log"
	"os"
)

// LogLevel gates which messages Root.msg emits, mirroring the
// original's log_level/nvme_msg pairing.
type LogLevel int

const (
	LogLevelErr LogLevel = iota
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
)

// DefaultLogLevel matches the C library's DEFAULT_LOGLEVEL (warnings
// and errors only).
const DefaultLogLevel = LogLevelWarning

// Root is the container for a set of endpoints and the shared log
// configuration. It owns every Endpoint registered on it and tears
// them all down on Close.
type Root struct {
	logLevel LogLevel
	logger   *log.Logger

	endpoints []*Endpoint

	// tagAllocLogged suppresses repeat "tag allocation unsupported"
	// notices across every MCTP endpoint owned by this root. Per §9
	// this is a log-dedup concern only; it never affects correctness.
	tagAllocLogged bool
}

// NewRoot creates an empty Root. A nil logger defaults to a
// stderr-backed *log.Logger, matching nvme_mi_create_root's fallback
// to stderr when no FILE* is supplied.
func NewRoot(logger *log.Logger, level LogLevel) *Root {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Root{logLevel: level, logger: logger}
}

// msg logs at the given level if the root's configured level permits it.
func (r *Root) msg(level LogLevel, format string, args ...any) {
	if level > r.logLevel {
		return
	}
	r.logger.Printf(format, args...)
}

// Msg is the exported form of msg: the general-purpose logging hook
// transports use for their own diagnostics (e.g. per-I/O-failure
// notices, discovery parse errors), gated by the same log level as
// every other message this root emits.
func (r *Root) Msg(level LogLevel, format string, args ...any) {
	r.msg(level, format, args...)
}

// Endpoints returns the endpoints currently registered on this root,
// in registration order.
func (r *Root) Endpoints() []*Endpoint {
	out := make([]*Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

func (r *Root) addEndpoint(ep *Endpoint) {
	ep.root = r
	r.endpoints = append(r.endpoints, ep)
}

// LogTagAllocUnsupportedOnce logs, the first time only, that a
// transport had to fall back to the tag-owner sentinel because the
// kernel or socket didn't support explicit tag allocation.
func (r *Root) LogTagAllocUnsupportedOnce() {
	if r.tagAllocLogged {
		return
	}
	r.tagAllocLogged = true
	r.msg(LogLevelInfo, "tag allocation not supported, falling back to MCTP_TAG_OWNER")
}

func (r *Root) removeEndpoint(ep *Endpoint) {
	for i, e := range r.endpoints {
		if e == ep {
			r.endpoints = append(r.endpoints[:i], r.endpoints[i+1:]...)
			return
		}
	}
}

// Close tears down every endpoint registered on this root.
func (r *Root) Close() {
	for _, ep := range append([]*Endpoint(nil), r.endpoints...) {
		ep.Close()
	}
}
