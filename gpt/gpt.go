// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package gpt implements the GUID Partition Table codec: header and
// entry-array encode/decode, CRC validation over the canonical field
// order, the dual-header load-with-recovery protocol, and the
// save-secondary-first write order.
package gpt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/mon1t0r/partman-go/guid"
	"github.com/mon1t0r/partman-go/imgctx"
	"github.com/mon1t0r/partman-go/internal/crc32le"
	"github.com/mon1t0r/partman-go/sectorstore"
)

// Signature is the 8-byte ASCII GPT header signature.
const Signature = "EFI PART"

// Revision is the GPT revision this codec reads and writes, 1.0.
const Revision = 0x00010000

// HeaderSize is the on-disk size of the fixed GPT header fields, 92 bytes.
// The header's sector may be larger; the remainder is zero.
const HeaderSize = 92

// EntrySize is the on-disk size of one partition entry, 128 bytes.
const EntrySize = 128

// EntryCount is the fixed partition-table capacity of a GPT, 128 entries.
const EntryCount = 128

// nameUnits is the number of UCS-2 code units the partition name field
// holds (72 bytes / 2 bytes per unit).
const nameUnits = 36

// LinuxFilesystemType is the well-known type-GUID UEFI assigns to a Linux
// filesystem data partition, the default a freshly initialized entry uses.
var LinuxFilesystemType = mustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")

func mustParse(s string) guid.GUID {
	g, err := guid.Parse(s)
	if err != nil {
		panic(err)
	}

	return g
}

// ErrHeaderTooShort is returned when a buffer passed to Encode/Decode is
// smaller than HeaderSize.
var ErrHeaderTooShort = errors.New("gpt: header buffer shorter than HeaderSize")

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Header is the 92-byte fixed portion of a GPT header.
type Header struct {
	MyLBA               uint64
	AltLBA              uint64
	FirstUsableLBA      uint64
	LastUsableLBA       uint64
	DiskGUID            guid.GUID
	PartitionTableLBA   uint64
	EntryCount          uint32
	EntrySize           uint32
	PartitionArrayCRC32 uint32
	HeaderCRC32         uint32
}

// marshalFields writes h's fields into buf (exactly HeaderSize bytes) in
// the canonical §3 field order, substituting crc for the header-CRC slot.
// This is used both to build the final on-disk header (crc = the real
// checksum) and to build the buffer the checksum itself is computed over
// (crc = 0), per spec §4.1's "CRC field itself substituted by zero" rule.
func (h *Header) marshalFields(buf []byte, crc uint32) {
	copy(buf[0:8], Signature)
	binary.LittleEndian.PutUint32(buf[8:12], Revision)
	binary.LittleEndian.PutUint32(buf[12:16], HeaderSize)
	binary.LittleEndian.PutUint32(buf[16:20], crc)
	// buf[20:24]: reserved, always zero.
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	binary.LittleEndian.PutUint64(buf[24:32], h.MyLBA)
	binary.LittleEndian.PutUint64(buf[32:40], h.AltLBA)
	binary.LittleEndian.PutUint64(buf[40:48], h.FirstUsableLBA)
	binary.LittleEndian.PutUint64(buf[48:56], h.LastUsableLBA)
	h.DiskGUID.PutWire(buf[56:72])
	binary.LittleEndian.PutUint64(buf[72:80], h.PartitionTableLBA)
	binary.LittleEndian.PutUint32(buf[80:84], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[84:88], h.EntrySize)
	binary.LittleEndian.PutUint32(buf[88:92], h.PartitionArrayCRC32)
}

// RecomputeCRC recalculates and stores h.HeaderCRC32. Callers must call
// this after changing any header field, and after PartitionArrayCRC32 is
// set from the entry-array checksum, since the header CRC covers that
// field too.
func (h *Header) RecomputeCRC() {
	var buf [HeaderSize]byte
	h.marshalFields(buf[:], 0)
	h.HeaderCRC32 = crc32le.Sum(buf[:])
}

// Encode writes h into dst, which must be at least HeaderSize bytes (and is
// typically a full sector); bytes beyond HeaderSize are zeroed.
func (h *Header) Encode(dst []byte) error {
	if len(dst) < HeaderSize {
		return ErrHeaderTooShort
	}

	h.marshalFields(dst[:HeaderSize], h.HeaderCRC32)

	for i := HeaderSize; i < len(dst); i++ {
		dst[i] = 0
	}

	return nil
}

// DecodeHeader parses the fixed 92-byte header fields out of src (which
// must be at least HeaderSize bytes). It does not validate the signature
// or either checksum; Load checks those with signatureValid and crcValid.
func DecodeHeader(src []byte) (*Header, error) {
	if len(src) < HeaderSize {
		return nil, ErrHeaderTooShort
	}

	return &Header{
		MyLBA:               binary.LittleEndian.Uint64(src[24:32]),
		AltLBA:              binary.LittleEndian.Uint64(src[32:40]),
		FirstUsableLBA:      binary.LittleEndian.Uint64(src[40:48]),
		LastUsableLBA:       binary.LittleEndian.Uint64(src[48:56]),
		DiskGUID:            guid.FromWire(src[56:72]),
		PartitionTableLBA:   binary.LittleEndian.Uint64(src[72:80]),
		EntryCount:          binary.LittleEndian.Uint32(src[80:84]),
		EntrySize:           binary.LittleEndian.Uint32(src[84:88]),
		PartitionArrayCRC32: binary.LittleEndian.Uint32(src[88:92]),
		HeaderCRC32:         binary.LittleEndian.Uint32(src[16:20]),
	}, nil
}

// signatureValid reports whether src carries the exact "EFI PART"
// signature and revision this codec understands.
func signatureValid(src []byte) bool {
	return len(src) >= HeaderSize &&
		string(src[0:8]) == Signature &&
		binary.LittleEndian.Uint32(src[8:12]) == Revision &&
		binary.LittleEndian.Uint32(src[12:16]) == HeaderSize
}

// crcValid reports whether h's stored HeaderCRC32 matches a fresh
// recomputation over h's other fields.
func (h *Header) crcValid() bool {
	var buf [HeaderSize]byte
	h.marshalFields(buf[:], 0)

	return crc32le.Sum(buf[:]) == h.HeaderCRC32
}

// Entry is one 128-byte GPT partition entry.
type Entry struct {
	TypeGUID   guid.GUID
	UniqueGUID guid.GUID
	StartLBA   uint64
	EndLBA     uint64
	Attributes uint64
	Name       string
}

// IsUsed reports whether the entry is occupied (type-GUID non-zero).
func (e *Entry) IsUsed() bool {
	return !e.TypeGUID.IsZero()
}

func (e *Entry) encode(dst []byte) error {
	e.TypeGUID.PutWire(dst[0:16])
	e.UniqueGUID.PutWire(dst[16:32])
	binary.LittleEndian.PutUint64(dst[32:40], e.StartLBA)
	binary.LittleEndian.PutUint64(dst[40:48], e.EndLBA)
	binary.LittleEndian.PutUint64(dst[48:56], e.Attributes)

	for i := 56; i < EntrySize; i++ {
		dst[i] = 0
	}

	if e.Name == "" {
		return nil
	}

	encoded, err := utf16LE.NewEncoder().Bytes([]byte(e.Name))
	if err != nil {
		return fmt.Errorf("gpt: encode partition name %q: %w", e.Name, err)
	}

	if len(encoded) > 2*nameUnits {
		return fmt.Errorf("gpt: partition name %q exceeds %d UCS-2 code units", e.Name, nameUnits)
	}

	copy(dst[56:56+len(encoded)], encoded)

	return nil
}

func decodeEntry(src []byte) (Entry, error) {
	decoded, err := utf16LE.NewDecoder().Bytes(src[56:128])
	if err != nil {
		return Entry{}, fmt.Errorf("gpt: decode partition name: %w", err)
	}

	return Entry{
		TypeGUID:   guid.FromWire(src[0:16]),
		UniqueGUID: guid.FromWire(src[16:32]),
		StartLBA:   binary.LittleEndian.Uint64(src[32:40]),
		EndLBA:     binary.LittleEndian.Uint64(src[40:48]),
		Attributes: binary.LittleEndian.Uint64(src[48:56]),
		Name:       string(bytes.Trim(decoded, "\x00")),
	}, nil
}

// TableSectors returns ceil(EntryCount*EntrySize / sectorSize), the number
// of whole sectors one copy of the partition array occupies.
func TableSectors(sectorSize uint32) uint64 {
	total := uint64(EntryCount) * uint64(EntrySize)

	return (total + uint64(sectorSize) - 1) / uint64(sectorSize)
}

// Table is the in-memory GPT: the primary-view header (MyLBA == 1) plus
// the fixed 128-entry partition array. The secondary header is always
// derived from this header (see asSecondary) rather than stored separately,
// so the in-memory value has one canonical representation regardless of
// which on-disk copy it was last loaded or recovered from.
type Table struct {
	Header  Header
	Entries [EntryCount]Entry
}

// New initializes a fresh primary/secondary GPT pair for the image
// described by ctx, per spec §4.6: primary header at LBA 1, primary table
// at LBA 2, first-usable = 2 + table sectors, secondary header at the last
// image LBA, secondary table immediately before it, last-usable = secondary
// table LBA - 1. diskGUID should be freshly generated by the caller.
func New(ctx *imgctx.Context, diskGUID guid.GUID) *Table {
	tableSectors := TableSectors(ctx.SectorSize())

	secondaryHeaderLBA := ctx.LastLBA()
	secondaryTableLBA := secondaryHeaderLBA - tableSectors

	t := &Table{
		Header: Header{
			MyLBA:             1,
			AltLBA:            secondaryHeaderLBA,
			FirstUsableLBA:    2 + tableSectors,
			LastUsableLBA:     secondaryTableLBA - 1,
			DiskGUID:          diskGUID,
			PartitionTableLBA: 2,
			EntryCount:        EntryCount,
			EntrySize:         EntrySize,
		},
	}

	_ = t.recomputeCRCs() // zero-valued entries never fail to encode

	return t
}

// recomputeCRCs recomputes the entry-array checksum and, from it, the
// header checksum; it must be called after any entry or header field edit
// and before Save.
func (t *Table) recomputeCRCs() error {
	buf, err := t.encodeEntries()
	if err != nil {
		return err
	}

	t.Header.PartitionArrayCRC32 = crc32le.Sum(buf)
	t.Header.RecomputeCRC()

	return nil
}

func (t *Table) encodeEntries() ([]byte, error) {
	buf := make([]byte, EntryCount*EntrySize)

	for i := range t.Entries {
		if err := t.Entries[i].encode(buf[i*EntrySize : (i+1)*EntrySize]); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// asSecondary derives the secondary header from a primary-view header:
// my_lba and alt_lba swap, and part_table_lba becomes alt_lba - tableSectors
// (the secondary table sits immediately before the secondary header); the
// header CRC is then recomputed over the swapped fields.
func (h Header) asSecondary(tableSectors uint64) Header {
	h.MyLBA, h.AltLBA = h.AltLBA, h.MyLBA
	h.PartitionTableLBA = h.MyLBA - tableSectors
	h.RecomputeCRC()

	return h
}

// asPrimary derives the canonical primary-view header from a header that
// was read from the secondary slot: my_lba becomes 1, alt_lba becomes the
// LBA it was actually read from, and part_table_lba becomes 2.
func (h Header) asPrimary() Header {
	h.AltLBA = h.MyLBA
	h.MyLBA = 1
	h.PartitionTableLBA = 2

	return h
}

// Save writes the table to store in the spec-mandated order: secondary
// table, secondary header, primary table, primary header. A crash between
// the two halves leaves only the secondary copy holding the new metadata,
// which Load's dual-header protocol repairs into the primary on next load.
func (t *Table) Save(store sectorstore.Store, ctx *imgctx.Context) error {
	if err := t.recomputeCRCs(); err != nil {
		return err
	}

	entries, err := t.encodeEntries()
	if err != nil {
		return err
	}

	tableSectors := TableSectors(ctx.SectorSize())
	secondary := t.Header.asSecondary(tableSectors)

	if err := writeExtent(store, secondary.PartitionTableLBA, tableSectors, entries); err != nil {
		return fmt.Errorf("gpt: write secondary table: %w", err)
	}

	if err := writeHeader(store, &secondary); err != nil {
		return fmt.Errorf("gpt: write secondary header: %w", err)
	}

	if err := writeExtent(store, t.Header.PartitionTableLBA, tableSectors, entries); err != nil {
		return fmt.Errorf("gpt: write primary table: %w", err)
	}

	if err := writeHeader(store, &t.Header); err != nil {
		return fmt.Errorf("gpt: write primary header: %w", err)
	}

	return nil
}

func writeHeader(store sectorstore.Store, h *Header) error {
	v, err := store.Acquire(h.MyLBA, 1)
	if err != nil {
		return err
	}
	defer v.Release() //nolint:errcheck

	if err := h.Encode(v.Bytes()); err != nil {
		return err
	}

	return v.Release()
}

func writeExtent(store sectorstore.Store, lba, sectors uint64, data []byte) error {
	v, err := store.Acquire(lba, sectors)
	if err != nil {
		return err
	}
	defer v.Release() //nolint:errcheck

	copy(v.Bytes(), data)

	return v.Release()
}

// candidate is one attempted header+table read, used internally by Load.
type candidate struct {
	ok      bool
	header  Header
	entries [EntryCount]Entry
	fatal   error
	reason  string
}

func readCandidate(store sectorstore.Store, ctx *imgctx.Context, lba uint64) candidate {
	hv, err := store.Acquire(lba, 1)
	if err != nil {
		return candidate{fatal: err}
	}
	defer hv.Release() //nolint:errcheck

	if !signatureValid(hv.Bytes()) {
		return candidate{reason: "GPT signature/revision mismatch"}
	}

	h, err := DecodeHeader(hv.Bytes())
	if err != nil {
		return candidate{fatal: err}
	}

	if !h.crcValid() {
		return candidate{reason: "GPT header CRC mismatch"}
	}

	if h.MyLBA != lba {
		return candidate{reason: "GPT header my_lba does not match its own sector"}
	}

	tableSectors := TableSectors(ctx.SectorSize())

	tv, err := store.Acquire(h.PartitionTableLBA, tableSectors)
	if err != nil {
		return candidate{fatal: err}
	}
	defer tv.Release() //nolint:errcheck

	if crc32le.Sum(tv.Bytes()) != h.PartitionArrayCRC32 {
		return candidate{reason: "GPT partition array CRC mismatch"}
	}

	entries, err := decodeEntries(tv.Bytes())
	if err != nil {
		return candidate{fatal: err}
	}

	return candidate{ok: true, header: *h, reason: "", fatal: nil, entries: entries}
}

func decodeEntries(buf []byte) ([EntryCount]Entry, error) {
	var entries [EntryCount]Entry

	for i := 0; i < EntryCount; i++ {
		e, err := decodeEntry(buf[i*EntrySize : (i+1)*EntrySize])
		if err != nil {
			return entries, err
		}

		entries[i] = e
	}

	return entries, nil
}

// LoadResult reports the outcome of Load: the reconciled table, whether
// dual-header recovery kicked in, and a human-readable reason when it did.
type LoadResult struct {
	Table     *Table
	Recovered bool
	Reason    string
}

// Load implements the dual-header load-with-recovery protocol of spec
// §4.6: both copies are read independently; if both validate, the primary
// is used; if exactly one validates, the valid copy is reconciled into the
// canonical primary-view representation and Recovered is set; if neither
// validates, Load returns (nil, nil) (not-found, not an error). Any I/O
// error from the store is fatal and propagates unwrapped-context added.
func Load(store sectorstore.Store, ctx *imgctx.Context) (*LoadResult, error) {
	primary := readCandidate(store, ctx, 1)
	if primary.fatal != nil {
		return nil, fmt.Errorf("gpt: load primary: %w", primary.fatal)
	}

	altLBA := ctx.LastLBA()
	if primary.ok {
		altLBA = primary.header.AltLBA
	}

	secondary := readCandidate(store, ctx, altLBA)
	if secondary.fatal != nil {
		return nil, fmt.Errorf("gpt: load secondary: %w", secondary.fatal)
	}

	switch {
	case !primary.ok && !secondary.ok:
		return nil, nil

	case primary.ok && secondary.ok:
		t := &Table{Header: primary.header, Entries: primary.entries}

		return &LoadResult{Table: t}, nil

	case primary.ok && !secondary.ok:
		t := &Table{Header: primary.header, Entries: primary.entries}

		return &LoadResult{
			Table:     t,
			Recovered: true,
			Reason:    fmt.Sprintf("secondary GPT corrupt (%s); will be rewritten from primary on next save", secondary.reason),
		}, nil

	default: // !primary.ok && secondary.ok
		fixed := secondary.header.asPrimary()
		t := &Table{Header: fixed, Entries: secondary.entries}

		if err := t.recomputeCRCs(); err != nil {
			return nil, fmt.Errorf("gpt: recompute CRC during recovery: %w", err)
		}

		return &LoadResult{
			Table:     t,
			Recovered: true,
			Reason:    fmt.Sprintf("primary GPT corrupt (%s); recovered from secondary", primary.reason),
		}, nil
	}
}
