// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package scheme implements the unified partitioning abstraction: a tagged
// MBR/GPT scheme value with a uniform partition record and a fixed set of
// operations (part_init, part_is_used, load, save), conversions to and
// from each codec's native structures, and the placement engine (overlap
// detection, aligned free-start/free-end search).
package scheme

import (
	"errors"
	"fmt"

	"github.com/mon1t0r/partman-go/gpt"
	"github.com/mon1t0r/partman-go/guid"
	"github.com/mon1t0r/partman-go/imgctx"
	"github.com/mon1t0r/partman-go/mbr"
	"github.com/mon1t0r/partman-go/sectorstore"
)

// Tag identifies which codec a Scheme value is instantiated for.
type Tag int

const (
	// None is the zero value; no scheme is held.
	None Tag = iota
	// MBR identifies a Master Boot Record scheme.
	MBR
	// GPT identifies a GUID Partition Table scheme.
	GPT
)

// String renders the tag for diagnostics.
func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case MBR:
		return "mbr"
	case GPT:
		return "gpt"
	default:
		panic(fmt.Sprintf("scheme: impossible tag %d", int(t)))
	}
}

// capacity returns the fixed partition-table size for t.
func (t Tag) capacity() int {
	switch t {
	case MBR:
		return mbr.EntryCount
	case GPT:
		return gpt.EntryCount
	default:
		panic(fmt.Sprintf("scheme: impossible tag %d", int(t)))
	}
}

// Record is the unified in-memory partition record: fields not meaningful
// for a scheme's tag are simply left at their zero value (UniqueGUID,
// Attributes and Name are GPT-only; Boot is MBR-only).
type Record struct {
	// MBRType is the raw MBR type byte; meaningful only when the owning
	// scheme's tag is MBR.
	MBRType byte

	// GPTType is the type-GUID; meaningful only when the owning scheme's
	// tag is GPT. A zero GUID means unused.
	GPTType guid.GUID

	UniqueGUID guid.GUID
	StartLBA   uint64
	EndLBA     uint64
	Attributes uint64
	Name       string
	Boot       bool
}

// isUsed reports whether the record is occupied, under the given tag's
// used-test (MBR: type != 0; GPT: type-GUID non-zero).
func (r *Record) isUsed(tag Tag) bool {
	switch tag {
	case MBR:
		return r.MBRType != 0
	case GPT:
		return !r.GPTType.IsZero()
	default:
		panic(fmt.Sprintf("scheme: impossible tag %d", int(tag)))
	}
}

// Scheme is the unified, tagged partition table: a disk identifier (32-bit
// for MBR, GUID for GPT), the usable LBA range, and a fixed-capacity table
// of unified records.
type Scheme struct {
	Tag            Tag
	DiskID32       uint32
	DiskGUID       guid.GUID
	FirstUsableLBA uint64
	LastUsableLBA  uint64
	Records        []Record
}

// NewMBR builds a fresh, empty MBR scheme for the image described by ctx:
// a random disk signature, first-usable LBA 1 (sector 0 holds the MBR
// itself), last-usable the image's last LBA, and four empty entries.
func NewMBR(ctx *imgctx.Context) *Scheme {
	return &Scheme{
		Tag:            MBR,
		DiskID32:       guid.RandomUint32(),
		FirstUsableLBA: 1,
		LastUsableLBA:  ctx.LastLBA(),
		Records:        make([]Record, mbr.EntryCount),
	}
}

// NewGPT builds a fresh, empty GPT scheme for the image described by ctx,
// per spec §4.6's initialization of a fresh primary/secondary pair.
func NewGPT(ctx *imgctx.Context) *Scheme {
	diskGUID := guid.New()
	tbl := gpt.New(ctx, diskGUID)

	return &Scheme{
		Tag:            GPT,
		DiskGUID:       diskGUID,
		FirstUsableLBA: tbl.Header.FirstUsableLBA,
		LastUsableLBA:  tbl.Header.LastUsableLBA,
		Records:        make([]Record, gpt.EntryCount),
	}
}

// PartInit seeds entry i with the codec-appropriate defaults: MBR gets
// type 0x83 (Linux filesystem); GPT gets a fresh unique-GUID and the
// well-known Linux filesystem type-GUID. The caller is responsible for
// then assigning the entry's range (add_partition's contract).
func (s *Scheme) PartInit(i int) {
	switch s.Tag {
	case MBR:
		s.Records[i] = Record{MBRType: 0x83}
	case GPT:
		s.Records[i] = Record{GPTType: gpt.LinuxFilesystemType, UniqueGUID: guid.New()}
	default:
		panic(fmt.Sprintf("scheme: impossible tag %d", int(s.Tag)))
	}
}

// PartIsUsed reports whether entry i is occupied.
func (s *Scheme) PartIsUsed(i int) bool {
	return s.Records[i].isUsed(s.Tag)
}

// Capacity returns the scheme's fixed partition-table size (4 for MBR, 128
// for GPT).
func (s *Scheme) Capacity() int {
	return s.Tag.capacity()
}

var (
	// ErrIndexUsed is returned by AddPartition when the target index is
	// already occupied.
	ErrIndexUsed = errors.New("scheme: partition index already used")

	// ErrIndexNotUsed is returned by operations that require an occupied
	// entry (resize, set type, toggle boot, delete) when it is not.
	ErrIndexNotUsed = errors.New("scheme: partition index not in use")

	// ErrRangeOutOfBounds is returned when a requested [start,end] range
	// falls outside the scheme's usable LBA range, or is inverted.
	ErrRangeOutOfBounds = errors.New("scheme: partition range out of usable bounds")

	// ErrOverlap is returned when a requested range intersects another
	// used partition.
	ErrOverlap = errors.New("scheme: partition range overlaps another partition")

	// ErrNotMBR is returned by toggle-bootable when the scheme is not MBR.
	ErrNotMBR = errors.New("scheme: boot flag is MBR-only")

	// ErrInvalidType is returned by SetType when the given type value
	// does not fit the scheme's tag (an MBR type byte, or a GPT GUID).
	ErrInvalidType = errors.New("scheme: invalid partition type for this scheme")

	// ErrIndexOutOfRange is returned when a requested partition index is
	// outside [0, Capacity()). This is caller (CLI operator) input, not an
	// impossible internal state, so it is a returned error, not a panic.
	ErrIndexOutOfRange = errors.New("scheme: partition index out of range")
)

func (s *Scheme) checkIndex(i int) error {
	if i < 0 || i >= len(s.Records) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(s.Records))
	}

	return nil
}

func (s *Scheme) checkRange(start, end uint64) error {
	if start > end {
		return fmt.Errorf("%w: start %d > end %d", ErrRangeOutOfBounds, start, end)
	}

	if start < s.FirstUsableLBA || end > s.LastUsableLBA {
		return fmt.Errorf("%w: [%d,%d] not within usable [%d,%d]", ErrRangeOutOfBounds, start, end, s.FirstUsableLBA, s.LastUsableLBA)
	}

	if s.Tag == MBR {
		if start > 0xFFFFFFFF {
			return fmt.Errorf("%w: MBR start LBA %d exceeds 2^32-1", ErrRangeOutOfBounds, start)
		}

		if end-start+1 > 1<<32 {
			return fmt.Errorf("%w: MBR partition length exceeds 2^32 sectors", ErrRangeOutOfBounds)
		}
	}

	return nil
}

// AddPartition initializes entry i with codec defaults (as PartInit) and
// assigns it the range [start, end], per spec §4.7/§6. i must be unused;
// the range must lie within the scheme's usable bounds and not overlap any
// other used partition. On any validation failure the scheme is left
// unchanged.
func (s *Scheme) AddPartition(i int, start, end uint64) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	if s.PartIsUsed(i) {
		return fmt.Errorf("%w: index %d", ErrIndexUsed, i)
	}

	if err := s.checkRange(start, end); err != nil {
		return err
	}

	if hit := s.FindOverlap(start, end, i); hit >= 0 {
		return fmt.Errorf("%w: overlaps index %d", ErrOverlap, hit)
	}

	s.PartInit(i)
	s.Records[i].StartLBA = start
	s.Records[i].EndLBA = end

	return nil
}

// ResizePartition overwrites entry i's range in place; i must already be
// used. Overlap checking ignores i itself.
func (s *Scheme) ResizePartition(i int, start, end uint64) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	if !s.PartIsUsed(i) {
		return fmt.Errorf("%w: index %d", ErrIndexNotUsed, i)
	}

	if err := s.checkRange(start, end); err != nil {
		return err
	}

	if hit := s.FindOverlap(start, end, i); hit >= 0 {
		return fmt.Errorf("%w: overlaps index %d", ErrOverlap, hit)
	}

	s.Records[i].StartLBA = start
	s.Records[i].EndLBA = end

	return nil
}

// SetType updates entry i's type: typ must be a byte (0..255) for MBR or a
// guid.GUID for GPT; any other value is rejected with ErrInvalidType.
func (s *Scheme) SetType(i int, typ interface{}) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	if !s.PartIsUsed(i) {
		return fmt.Errorf("%w: index %d", ErrIndexNotUsed, i)
	}

	switch s.Tag {
	case MBR:
		b, ok := typ.(byte)
		if !ok {
			return fmt.Errorf("%w: MBR type must be a byte", ErrInvalidType)
		}

		s.Records[i].MBRType = b

	case GPT:
		g, ok := typ.(guid.GUID)
		if !ok {
			return fmt.Errorf("%w: GPT type must be a GUID", ErrInvalidType)
		}

		s.Records[i].GPTType = g

	default:
		panic(fmt.Sprintf("scheme: impossible tag %d", int(s.Tag)))
	}

	return nil
}

// ToggleBootable flips bit 0x80 of entry i's boot indicator. Only valid
// when the scheme is MBR.
func (s *Scheme) ToggleBootable(i int) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	if s.Tag != MBR {
		return ErrNotMBR
	}

	if !s.PartIsUsed(i) {
		return fmt.Errorf("%w: index %d", ErrIndexNotUsed, i)
	}

	s.Records[i].Boot = !s.Records[i].Boot

	return nil
}

// DeletePartition zeroes entry i's slot, per spec §4.7.
func (s *Scheme) DeletePartition(i int) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}

	if !s.PartIsUsed(i) {
		return fmt.Errorf("%w: index %d", ErrIndexNotUsed, i)
	}

	s.Records[i] = Record{}

	return nil
}

// FindPartIndex returns the lowest-index slot whose used-state matches
// used, or -1 if none matches.
func (s *Scheme) FindPartIndex(used bool) int {
	for i := range s.Records {
		if s.PartIsUsed(i) == used {
			return i
		}
	}

	return -1
}

// overlaps reports whether the inclusive ranges [a1,b1] and [a2,b2]
// intersect: a1 <= b2 && a2 <= b1.
func overlaps(a1, b1, a2, b2 uint64) bool {
	return a1 <= b2 && a2 <= b1
}

// FindOverlap returns the lowest index of a used partition (other than
// ignore) whose range intersects [start, end], or -1 if none does. Pass a
// negative ignore to not exclude any index.
func (s *Scheme) FindOverlap(start, end uint64, ignore int) int {
	for i := range s.Records {
		if i == ignore || !s.PartIsUsed(i) {
			continue
		}

		r := &s.Records[i]
		if overlaps(start, end, r.StartLBA, r.EndLBA) {
			return i
		}
	}

	return -1
}

// FindStartSector implements spec §4.8's aligned free-start search: begin
// at the aligned first-usable LBA (falling back to the un-aligned value if
// alignment pushes past last-usable); if that candidate lands inside a
// used partition, advance past it and retry, preferring the aligned
// restart point. Returns (lba, true) on success, (0, false) if the usable
// range is exhausted.
func (s *Scheme) FindStartSector(ctx *imgctx.Context, ignore int) (uint64, bool) {
	candidate := ctx.LBAAlign(s.FirstUsableLBA, true)
	if candidate > s.LastUsableLBA {
		candidate = s.FirstUsableLBA
	}

	for {
		hit := s.findContaining(candidate, ignore)
		if hit < 0 {
			return candidate, true
		}

		next := s.Records[hit].EndLBA + 1
		if next > s.LastUsableLBA {
			return 0, false
		}

		aligned := ctx.LBAAlign(next, true)
		if aligned > s.LastUsableLBA {
			candidate = next
		} else {
			candidate = aligned
		}
	}
}

// findContaining returns the index of a used partition (other than ignore)
// whose range contains lba, or -1 if none does.
func (s *Scheme) findContaining(lba uint64, ignore int) int {
	for i := range s.Records {
		if i == ignore || !s.PartIsUsed(i) {
			continue
		}

		r := &s.Records[i]
		if r.StartLBA <= lba && lba <= r.EndLBA {
			return i
		}
	}

	return -1
}

// FindLastSector implements spec §4.8's aligned free-end search: narrow an
// upper bound to just before the next used partition's start, try an
// aligned end within that bound, and fall back to the un-aligned bound
// when the aligned candidate would either precede firstLBA or overlap
// another partition. Returns (lba, true) on success, (0, false) if no
// sector at or after firstLBA is free.
func (s *Scheme) FindLastSector(ctx *imgctx.Context, ignore int, firstLBA uint64) (uint64, bool) {
	bound := s.LastUsableLBA

	for i := range s.Records {
		if i == ignore || !s.PartIsUsed(i) {
			continue
		}

		r := &s.Records[i]
		if r.StartLBA > firstLBA && r.StartLBA-1 < bound {
			bound = r.StartLBA - 1
		}
	}

	if bound < firstLBA {
		return 0, false
	}

	alignedEnd := ctx.LBAAlign(bound+1, false) - 1
	if alignedEnd >= firstLBA && s.FindOverlap(firstLBA, alignedEnd, ignore) < 0 {
		return alignedEnd, true
	}

	return bound, true
}

// Load reads a single scheme from store according to ctx's geometry,
// converting from the codec-native representation into the unified Record
// form (inverse of the conversion Save performs). It returns (nil, nil,
// nil) when the codec's on-disk record is not detected (not-found, not an
// error); a non-nil Warning string when GPT dual-header recovery kicked in;
// and a non-nil error only for an I/O fatal failure.
func Load(tag Tag, store sectorstore.Store, ctx *imgctx.Context) (*Scheme, string, error) {
	switch tag {
	case MBR:
		return loadMBR(store, ctx)

	case GPT:
		return loadGPT(store, ctx)

	default:
		panic(fmt.Sprintf("scheme: impossible tag %d", int(tag)))
	}
}

func loadMBR(store sectorstore.Store, ctx *imgctx.Context) (*Scheme, string, error) {
	v, err := store.Acquire(0, 1)
	if err != nil {
		return nil, "", fmt.Errorf("scheme: load mbr: %w", err)
	}
	defer v.Release() //nolint:errcheck

	if !mbr.Detect(v.Bytes()) {
		return nil, "", nil
	}

	rec, err := mbr.Decode(v.Bytes())
	if err != nil {
		return nil, "", fmt.Errorf("scheme: decode mbr: %w", err)
	}

	s := &Scheme{
		Tag:            MBR,
		DiskID32:       rec.DiskSig,
		FirstUsableLBA: 1,
		LastUsableLBA:  ctx.LastLBA(),
		Records:        make([]Record, mbr.EntryCount),
	}

	for i, e := range rec.Entries {
		if !e.IsUsed() {
			continue
		}

		s.Records[i] = Record{
			MBRType:  e.Type,
			StartLBA: uint64(e.StartLBA),
			EndLBA:   e.EndLBA(),
			Boot:     e.Boot,
		}
	}

	return s, "", nil
}

func loadGPT(store sectorstore.Store, ctx *imgctx.Context) (*Scheme, string, error) {
	res, err := gpt.Load(store, ctx)
	if err != nil {
		return nil, "", fmt.Errorf("scheme: load gpt: %w", err)
	}

	if res == nil {
		return nil, "", nil
	}

	s := &Scheme{
		Tag:            GPT,
		DiskGUID:       res.Table.Header.DiskGUID,
		FirstUsableLBA: res.Table.Header.FirstUsableLBA,
		LastUsableLBA:  res.Table.Header.LastUsableLBA,
		Records:        make([]Record, gpt.EntryCount),
	}

	for i, e := range res.Table.Entries {
		if !e.IsUsed() {
			continue
		}

		s.Records[i] = Record{
			GPTType:    e.TypeGUID,
			UniqueGUID: e.UniqueGUID,
			StartLBA:   e.StartLBA,
			EndLBA:     e.EndLBA,
			Attributes: e.Attributes,
			Name:       e.Name,
		}
	}

	return s, res.Reason, nil
}

// Save writes s to store in its codec-native form, converting the unified
// records back (inverse of Load's conversion): for MBR, size is recomputed
// as end-start+1 and both CHS triples are recomputed, with the protective
// clamp only for a type-0xEE protective entry; for GPT, all six fields are copied across and the
// entry-array and header CRCs are recomputed.
func (s *Scheme) Save(store sectorstore.Store, ctx *imgctx.Context) error {
	switch s.Tag {
	case MBR:
		return s.saveMBR(store, ctx)

	case GPT:
		return s.saveGPT(store, ctx)

	default:
		panic(fmt.Sprintf("scheme: impossible tag %d", int(s.Tag)))
	}
}

func (s *Scheme) saveMBR(store sectorstore.Store, ctx *imgctx.Context) error {
	rec := mbr.New()
	rec.DiskSig = s.DiskID32

	for i, r := range s.Records {
		if !r.isUsed(MBR) {
			continue
		}

		size := r.EndLBA - r.StartLBA + 1
		protective := r.MBRType == mbr.ProtectiveType

		rec.Entries[i] = mbr.Entry{
			Boot:     r.Boot,
			Type:     r.MBRType,
			StartLBA: uint32(r.StartLBA),
			SizeLBA:  uint32(size),
			StartCHS: ctx.LBAToCHS(r.StartLBA, protective),
			EndCHS:   ctx.LBAToCHS(r.EndLBA, protective),
		}
	}

	v, err := store.Acquire(0, 1)
	if err != nil {
		return fmt.Errorf("scheme: save mbr: %w", err)
	}
	defer v.Release() //nolint:errcheck

	if err := rec.Encode(v.Bytes()); err != nil {
		return fmt.Errorf("scheme: save mbr: %w", err)
	}

	return v.Release()
}

func (s *Scheme) saveGPT(store sectorstore.Store, ctx *imgctx.Context) error {
	tbl := &gpt.Table{
		Header: gpt.Header{
			MyLBA:             1,
			AltLBA:            ctx.LastLBA(),
			FirstUsableLBA:    s.FirstUsableLBA,
			LastUsableLBA:     s.LastUsableLBA,
			DiskGUID:          s.DiskGUID,
			PartitionTableLBA: 2,
			EntryCount:        gpt.EntryCount,
			EntrySize:         gpt.EntrySize,
		},
	}

	for i, r := range s.Records {
		if !r.isUsed(GPT) {
			continue
		}

		tbl.Entries[i] = gpt.Entry{
			TypeGUID:   r.GPTType,
			UniqueGUID: r.UniqueGUID,
			StartLBA:   r.StartLBA,
			EndLBA:     r.EndLBA,
			Attributes: r.Attributes,
			Name:       r.Name,
		}
	}

	return tbl.Save(store, ctx)
}
