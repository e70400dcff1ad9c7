// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mbr implements the 512-byte Master Boot Record codec: record
// encode/decode, the four fixed partition entries, the boot-signature
// detection test, and protective-MBR construction.
package mbr

import (
	"encoding/binary"
	"fmt"

	"github.com/mon1t0r/partman-go/imgctx"
)

// Size is the on-disk size of an MBR record, in bytes.
const Size = 512

// EntryCount is the fixed partition-table capacity of an MBR.
const EntryCount = 4

// ProtectiveType is the partition type byte UEFI reserves to mark a
// protective MBR's single entry.
const ProtectiveType = 0xEE

const (
	bootstrapSize   = 440
	signatureOffset = 440
	reservedOffset  = 444
	entriesOffset   = 446
	entrySize       = 16
	bootSigOffset   = 510
)

// Entry is one 16-byte on-disk MBR partition record: boot-indicator,
// start/end CHS, type, start LBA, and size in sectors.
type Entry struct {
	Boot     bool
	StartCHS imgctx.CHS
	Type     byte
	EndCHS   imgctx.CHS
	StartLBA uint32
	SizeLBA  uint32
}

// IsUsed reports whether the entry is occupied (type != 0).
func (e *Entry) IsUsed() bool {
	return e.Type != 0
}

// EndLBA returns the entry's inclusive end LBA: StartLBA + SizeLBA - 1.
// Only meaningful when the entry is used and SizeLBA > 0.
func (e *Entry) EndLBA() uint64 {
	return uint64(e.StartLBA) + uint64(e.SizeLBA) - 1
}

func (e *Entry) encode(dst []byte) {
	if e.Boot {
		dst[0] = 0x80
	} else {
		dst[0] = 0x00
	}

	e.StartCHS.PutBytes(dst[1:4])
	dst[4] = e.Type
	e.EndCHS.PutBytes(dst[5:8])

	binary.LittleEndian.PutUint32(dst[8:12], e.StartLBA)
	binary.LittleEndian.PutUint32(dst[12:16], e.SizeLBA)
}

func decodeEntry(src []byte) Entry {
	return Entry{
		Boot:     src[0] == 0x80,
		StartCHS: imgctx.CHSFromBytes(src[1:4]),
		Type:     src[4],
		EndCHS:   imgctx.CHSFromBytes(src[5:8]),
		StartLBA: binary.LittleEndian.Uint32(src[8:12]),
		SizeLBA:  binary.LittleEndian.Uint32(src[12:16]),
	}
}

// Record is the full in-memory MBR: the opaque bootstrap code, the 4-byte
// disk signature, and the four partition entries. The bootstrap is
// preserved verbatim across a load-then-save round trip and zeroed only
// when a Record is freshly created (New).
type Record struct {
	Bootstrap [bootstrapSize]byte
	DiskSig   uint32
	Entries   [EntryCount]Entry
}

// New returns a zeroed Record: empty bootstrap, zero disk signature, no
// used entries. Per spec §3 the bootstrap is zeroed on creation, not left
// undefined.
func New() *Record {
	return &Record{}
}

// Encode writes r into dst, which must be exactly Size bytes: the
// bootstrap is copied verbatim, the disk signature is written at 440, the
// two reserved bytes at 444 are left as whatever dst already holds (a
// freshly created record's buffer is zeroed; an overwrite preserves prior
// contents there), the four entries are written at 446/462/478/494, and the
// boot signature 0x55 0xAA is written at 510.
func (r *Record) Encode(dst []byte) error {
	if len(dst) != Size {
		return fmt.Errorf("mbr: encode: buffer must be %d bytes, got %d", Size, len(dst))
	}

	copy(dst[0:bootstrapSize], r.Bootstrap[:])
	binary.LittleEndian.PutUint32(dst[signatureOffset:signatureOffset+4], r.DiskSig)

	for i := range r.Entries {
		off := entriesOffset + i*entrySize
		r.Entries[i].encode(dst[off : off+entrySize])
	}

	dst[bootSigOffset] = 0x55
	dst[bootSigOffset+1] = 0xAA

	return nil
}

// Detect reports whether src (which must be Size bytes) carries a valid MBR
// boot signature, without fully decoding it.
func Detect(src []byte) bool {
	return len(src) == Size && src[bootSigOffset] == 0x55 && src[bootSigOffset+1] == 0xAA
}

// Decode parses src (which must be exactly Size bytes) into a Record. It
// does not itself validate the boot signature; callers that need the
// detection test should call Detect first (this mirrors the spec's load
// protocol, which tests the signature before treating sector 0 as an MBR).
func Decode(src []byte) (*Record, error) {
	if len(src) != Size {
		return nil, fmt.Errorf("mbr: decode: buffer must be %d bytes, got %d", Size, len(src))
	}

	r := &Record{
		DiskSig: binary.LittleEndian.Uint32(src[signatureOffset : signatureOffset+4]),
	}

	copy(r.Bootstrap[:], src[0:bootstrapSize])

	for i := range r.Entries {
		off := entriesOffset + i*entrySize
		r.Entries[i] = decodeEntry(src[off : off+entrySize])
	}

	return r, nil
}

// InitProtective resets r to a protective MBR for the image described by
// ctx: entry 0 becomes type 0xEE, start LBA 1, size
// min(image_sectors-1, 2^32-1), with start/end CHS computed using the
// legacy protective clamp; the bootstrap and disk signature are zeroed and
// the remaining three entries are left unused.
func (r *Record) InitProtective(ctx *imgctx.Context) {
	*r = Record{}

	size := ctx.LastLBA()
	if size > 0xFFFFFFFF {
		size = 0xFFFFFFFF
	}

	r.Entries[0] = Entry{
		Type:     ProtectiveType,
		StartLBA: 1,
		SizeLBA:  uint32(size),
		StartCHS: ctx.LBAToCHS(1, true),
		EndCHS:   ctx.LBAToCHS(uint64(size), true),
	}
}

// IsProtective reports whether r has exactly one used entry, entry 0, with
// type 0xEE, start LBA 1 and size min(image_sectors-1, 2^32-1) for ctx's
// geometry — the invariant a GPT's MBR partner must satisfy.
func (r *Record) IsProtective(ctx *imgctx.Context) bool {
	if r.Entries[0].Type != ProtectiveType || r.Entries[0].StartLBA != 1 {
		return false
	}

	for i := 1; i < EntryCount; i++ {
		if r.Entries[i].IsUsed() {
			return false
		}
	}

	want := ctx.LastLBA()
	if want > 0xFFFFFFFF {
		want = 0xFFFFFFFF
	}

	return uint64(r.Entries[0].SizeLBA) == want
}
