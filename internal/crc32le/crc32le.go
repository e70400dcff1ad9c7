// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package crc32le implements the reflected IEEE 802.3 CRC-32 (polynomial
// 0xEDB88320) as an incremental engine that is fed logical field values
// rather than a serialized byte buffer.
//
// The GPT on-disk checksums are defined over a structure's fields in their
// §3 declaration order, with certain fields (the CRC slot itself, and the
// header's reserved bytes) folded in as zero regardless of what a read
// buffer holds there. The engine can be fed field values one at a time
// (UpdateU8 through UpdateU64, mirroring the C original's field-by-field
// engine in libpartman's crc32.c) or whole byte slices (UpdateBytes, Sum);
// package gpt uses Sum over a freshly built header buffer in which those
// fields are zero.
package crc32le

var table [256]uint32

func initTable() {
	if table[128] != 0 {
		return
	}

	var crc uint32 = 1

	for i := uint32(128); i != 0; i >>= 1 {
		if crc&1 != 0 {
			crc = (crc >> 1) ^ 0xEDB88320
		} else {
			crc >>= 1
		}

		for j := uint32(0); j < 256; j += 2 * i {
			table[i+j] = crc ^ table[j]
		}
	}
}

// Engine is an incremental CRC-32 accumulator. The zero value is not usable;
// construct one with New.
type Engine struct {
	crc uint32
}

// New returns an engine initialized to the CRC-32 initial remainder.
func New() *Engine {
	initTable()

	return &Engine{crc: 0xFFFFFFFF}
}

// UpdateU8 feeds a single byte into the running checksum.
func (e *Engine) UpdateU8(v uint8) {
	e.crc ^= uint32(v)
	e.crc = (e.crc >> 8) ^ table[e.crc&0xFF]
}

// UpdateU16 feeds a 16-bit value, least-significant byte first.
func (e *Engine) UpdateU16(v uint16) {
	e.UpdateU8(uint8(v))
	e.UpdateU8(uint8(v >> 8))
}

// UpdateU32 feeds a 32-bit value, least-significant byte first.
func (e *Engine) UpdateU32(v uint32) {
	e.UpdateU8(uint8(v))
	e.UpdateU8(uint8(v >> 8))
	e.UpdateU8(uint8(v >> 16))
	e.UpdateU8(uint8(v >> 24))
}

// UpdateU64 feeds a 64-bit value, least-significant byte first.
func (e *Engine) UpdateU64(v uint64) {
	e.UpdateU32(uint32(v))
	e.UpdateU32(uint32(v >> 32))
}

// UpdateBytes feeds a byte slice in order, each byte individually.
func (e *Engine) UpdateBytes(b []byte) {
	for _, c := range b {
		e.UpdateU8(c)
	}
}

// Finalize applies the final XOR and returns the checksum. It does not
// modify the engine: calling it again, or feeding more values and then
// calling it, returns the checksum of everything fed since construction.
func (e *Engine) Finalize() uint32 {
	return e.crc ^ 0xFFFFFFFF
}

// Sum computes the CRC-32 of a single byte slice in one call.
func Sum(b []byte) uint32 {
	e := New()
	e.UpdateBytes(b)

	return e.Finalize()
}
