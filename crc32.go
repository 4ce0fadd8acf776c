// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Message Integrity Check (MIC) computation: CRC-32C over the wire
// header and optional payload.

package nvmemi

import (
	"encoding/binary"
	"hash/crc32"
)

// crc32cTable is the standard CRC-32C (Castagnoli) table. A bit-by-bit
// update (crc ^= b; 8 rounds of crc = (crc>>1) ^ (crc&1 ? 0x82F63B78 : 0))
// and this table produce identical checksums; hash/crc32 already exposes
// the exact polynomial the wire format calls for.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// micUpdate runs the MIC's CRC-32C convention over hdr and data,
// seeded with crc. It does not invert the result; callers invert once
// at the end, matching nvme_mi_crc32_update's raw running value.
func micUpdate(crc uint32, hdr, data []byte) uint32 {
	// crc32.Update inverts on entry and exit; undo both to keep the raw
	// running register.
	crc = ^crc32.Update(^crc, crc32cTable, hdr)
	crc = ^crc32.Update(^crc, crc32cTable, data)
	return crc
}

// computeMIC calculates the MIC for an outbound request: CRC-32C over
// header then data, seeded all-ones, finally bit-inverted.
func computeMIC(hdr, data []byte) uint32 {
	return ^micUpdate(0xffffffff, hdr, data)
}

// verifyMIC reports whether mic is the correct MIC for hdr||data.
func verifyMIC(mic uint32, hdr, data []byte) bool {
	return mic == ^micUpdate(0xffffffff, hdr, data)
}

// VerifyMIC is the transport-facing form of verifyMIC, used by
// transports (e.g. package mctp) that need to recognize an MPR
// notification's MIC before the generic submission engine gets a
// chance to frame the response.
func VerifyMIC(mic uint32, hdr, data []byte) bool {
	return verifyMIC(mic, hdr, data)
}

// ComputeMIC is the transport-facing form of computeMIC.
func ComputeMIC(hdr, data []byte) uint32 {
	return computeMIC(hdr, data)
}

// putMIC writes mic to buf (which must be at least 4 bytes) in the
// little-endian wire order.
func putMIC(buf []byte, mic uint32) {
	binary.LittleEndian.PutUint32(buf, mic)
}

// getMIC reads a little-endian MIC from buf.
func getMIC(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}
