// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package guid implements the 16-byte GUID identifier used by GPT disk,
// type and partition-unique identifiers: v4/variant-2 generation, canonical
// string parsing/formatting, the zero test, and the CRC-32 feed order the
// GPT header/entry checksums require.
package guid

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mon1t0r/partman-go/internal/crc32le"
)

// Size is the on-disk and in-memory size of a GUID, in bytes.
const Size = 16

// GUID is a 16-byte identifier laid out as time-low (u32), time-mid (u16),
// time-hi-and-version (u16), clock-seq-hi-and-reserved (u8), clock-seq-low
// (u8), and a 6-byte node, matching the Microsoft/UEFI GUID convention.
// The zero value is the zero GUID, used to mark unused GPT entries.
type GUID uuid.UUID

// Zero is the all-zero GUID.
var Zero GUID

// src is the process-wide, non-cryptographic PRNG used for GUID generation.
// It is seeded once, at package initialization, from wall-clock time: GUIDs here identify
// partitions, not secrets, so math/rand is sufficient and matches the C
// original's rand()-based guid_create.
var src = rand.New(rand.NewSource(time.Now().UnixNano()))

// New generates a random v4/variant-2 GUID.
func New() GUID {
	var g GUID

	for i := range g {
		g[i] = byte(src.Intn(256))
	}

	g[6] = (g[6] &^ 0xF0) | 0x40
	g[8] = (g[8] &^ 0xE0) | 0xC0

	return g
}

// RandomUint32 draws a 32-bit value from the same process-wide PRNG New
// uses. It exists for non-GUID random fields that share the same
// "not cryptographically strong, seeded once from wall-clock time" source,
// such as an MBR disk signature.
func RandomUint32() uint32 {
	return src.Uint32()
}

// IsZero reports whether g is the all-zero GUID.
func (g GUID) IsZero() bool {
	return g == Zero
}

// String renders g in the canonical uppercase registry format
// XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX.
func (g GUID) String() string {
	return strings.ToUpper(uuid.UUID(g).String())
}

// Parse reads the canonical registry format produced by String. Any other
// length or shape is rejected.
func Parse(s string) (GUID, error) {
	if len(s) != 36 {
		return Zero, fmt.Errorf("guid: parse %q: length %d, want 36", s, len(s))
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return Zero, fmt.Errorf("guid: parse %q: %w", s, err)
	}

	return GUID(u), nil
}

// Bytes returns the 16 raw GUID bytes in the field layout described by the
// GUID type's doc comment (the same layout the in-memory value already
// uses, since GUID is a defined type over uuid.UUID's byte array).
func (g GUID) Bytes() [Size]byte {
	return g
}

// FromBytes constructs a GUID from its 16 raw bytes.
func FromBytes(b [Size]byte) GUID {
	return GUID(b)
}

// PutWire writes g to dst (which must be at least Size bytes) in GPT/MBR
// on-disk wire order: the three leading fields little-endian, the node
// written as a raw 6-byte array. This "middle-endian" layout is what UEFI
// calls for and what the teacher's endianness package converts to/from.
func (g GUID) PutWire(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], binary.BigEndian.Uint32(g[0:4]))
	binary.LittleEndian.PutUint16(dst[4:6], binary.BigEndian.Uint16(g[4:6]))
	binary.LittleEndian.PutUint16(dst[6:8], binary.BigEndian.Uint16(g[6:8]))
	copy(dst[8:16], g[8:16])
}

// FromWire reads a GUID from its GPT/MBR on-disk wire encoding (src must be
// at least Size bytes), inverting PutWire.
func FromWire(src []byte) GUID {
	var g GUID

	binary.BigEndian.PutUint32(g[0:4], binary.LittleEndian.Uint32(src[0:4]))
	binary.BigEndian.PutUint16(g[4:6], binary.LittleEndian.Uint16(src[4:6]))
	binary.BigEndian.PutUint16(g[6:8], binary.LittleEndian.Uint16(src[6:8]))
	copy(g[8:16], src[8:16])

	return g
}

// FeedCRC pushes g's fields into e in the order the GPT header/entry
// checksums require: time-low (u32), time-mid (u16), time-hi-and-version
// (u16), then each of the 8 remaining bytes individually.
func (g GUID) FeedCRC(e *crc32le.Engine) {
	e.UpdateU32(binary.BigEndian.Uint32(g[0:4]))
	e.UpdateU16(binary.BigEndian.Uint16(g[4:6]))
	e.UpdateU16(binary.BigEndian.Uint16(g[6:8]))

	for _, b := range g[8:16] {
		e.UpdateU8(b)
	}
}
