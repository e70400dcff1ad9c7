// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package imgctx holds the geometry of a block-device image (sector size,
// image size, alignment, CHS parameters) and the LBA<->byte, LBA<->CHS and
// alignment arithmetic every codec and the placement engine build on.
package imgctx

import "fmt"

// DefaultAlignmentBytes is 1 MiB, in bytes, the alignment the C original and
// every modern partitioner default to; New divides it by the sector size to
// get the default alignment in sectors.
const DefaultAlignmentBytes = 1 << 20

// DefaultHeads and DefaultSectorsPerTrack are the legacy CHS defaults used
// when a caller does not override geometry: a 255-head, 63-sector-per-track
// disk, the conventional values a BIOS-era partitioner assumes.
const (
	DefaultHeads           = 255
	DefaultSectorsPerTrack = 63
)

// minImageSize is the smallest image size accepted: 512 KiB.
const minImageSize = 512 * 1024

// validSectorSizes enumerates the sector sizes the codecs understand.
var validSectorSizes = map[uint32]bool{512: true, 1024: true, 2048: true, 4096: true}

// Context holds the geometry of one image: its sector size, size in
// sectors, placement alignment (in sectors), and legacy CHS parameters.
type Context struct {
	sectorSize      uint32
	imageSectors    uint64
	alignment       uint64
	heads           uint32
	sectorsPerTrack uint32
}

// New validates and constructs a Context. imageSize is the image's total
// size in bytes; alignment is in sectors (pass 0 to use DefaultAlignmentBytes
// / sectorSize); heads and sectorsPerTrack are the legacy CHS parameters
// (pass 0 for either to use the defaults).
func New(sectorSize uint32, imageSize uint64, alignment uint64, heads, sectorsPerTrack uint32) (*Context, error) {
	if !validSectorSizes[sectorSize] {
		return nil, fmt.Errorf("imgctx: sector size %d not in {512, 1024, 2048, 4096}", sectorSize)
	}

	if imageSize < minImageSize {
		return nil, fmt.Errorf("imgctx: image size %d below minimum %d bytes", imageSize, minImageSize)
	}

	if imageSize%uint64(sectorSize) != 0 {
		return nil, fmt.Errorf("imgctx: image size %d not a multiple of sector size %d", imageSize, sectorSize)
	}

	if alignment == 0 {
		alignment = DefaultAlignmentBytes / uint64(sectorSize)
	}

	if heads == 0 {
		heads = DefaultHeads
	} else if heads > 255 {
		return nil, fmt.Errorf("imgctx: heads %d out of range 1..255", heads)
	}

	if sectorsPerTrack == 0 {
		sectorsPerTrack = DefaultSectorsPerTrack
	} else if sectorsPerTrack > 63 {
		return nil, fmt.Errorf("imgctx: sectors-per-track %d out of range 1..63", sectorsPerTrack)
	}

	return &Context{
		sectorSize:      sectorSize,
		imageSectors:    imageSize / uint64(sectorSize),
		alignment:       alignment,
		heads:           heads,
		sectorsPerTrack: sectorsPerTrack,
	}, nil
}

// SectorSize returns the sector size in bytes.
func (c *Context) SectorSize() uint32 { return c.sectorSize }

// ImageSectors returns the image size expressed in whole sectors.
func (c *Context) ImageSectors() uint64 { return c.imageSectors }

// Alignment returns the placement alignment, in sectors.
func (c *Context) Alignment() uint64 { return c.alignment }

// Heads returns the legacy CHS heads-per-cylinder value.
func (c *Context) Heads() uint32 { return c.heads }

// SectorsPerTrack returns the legacy CHS sectors-per-track value.
func (c *Context) SectorsPerTrack() uint32 { return c.sectorsPerTrack }

// LastLBA returns the last valid LBA of the image (ImageSectors - 1).
func (c *Context) LastLBA() uint64 { return c.imageSectors - 1 }

// LBAToByte converts an LBA to its byte offset: x * S.
func (c *Context) LBAToByte(lba uint64) uint64 {
	return lba * uint64(c.sectorSize)
}

// ByteToLBA converts a byte offset to an LBA: b / S, rounded up to the next
// LBA when roundUp is set and b is not sector-aligned.
func (c *Context) ByteToLBA(b uint64, roundUp bool) uint64 {
	lba := b / uint64(c.sectorSize)

	if roundUp && b%uint64(c.sectorSize) != 0 {
		lba++
	}

	return lba
}

// LBAAlign rounds lba to the nearest multiple of the context's alignment,
// rounding up when roundUp is set, down otherwise.
func (c *Context) LBAAlign(lba uint64, roundUp bool) uint64 {
	n := lba / c.alignment

	if roundUp && lba%c.alignment != 0 {
		n++
	}

	return n * c.alignment
}

// CHS is a decoded cylinder/head/sector legacy address.
type CHS struct {
	Cylinder uint16
	Head     uint8
	Sector   uint8
}

// maxCHSAddressableLBA returns the largest LBA this context's H/T geometry
// can address within a 10-bit cylinder field: (1023*H + (H-1))*T + (T-1).
func (c *Context) maxCHSAddressableLBA() uint64 {
	h := uint64(c.heads)
	t := uint64(c.sectorsPerTrack)

	return (1023*h+(h-1))*t + (t - 1)
}

// LBAToCHS converts an LBA to its legacy CHS tuple. When protective is set
// and lba exceeds the geometry's addressable maximum, the conventional
// protective clamp (1023, 255, 63) is returned instead of a narrowed value;
// otherwise lba is clamped to the addressable maximum before conversion.
func (c *Context) LBAToCHS(lba uint64, protective bool) CHS {
	max := c.maxCHSAddressableLBA()

	if lba > max {
		if protective {
			return CHS{Cylinder: 1023, Head: 255, Sector: 63}
		}

		lba = max
	}

	h := uint64(c.heads)
	t := uint64(c.sectorsPerTrack)

	cyl := lba / (h * t)
	head := (lba / t) % h
	sec := (lba % t) + 1

	return CHS{Cylinder: uint16(cyl), Head: uint8(head), Sector: uint8(sec)}
}

// PutBytes packs chs into the standard 3-byte on-disk CHS encoding: byte 0
// is the head, byte 1 is the sector in its low 6 bits with the cylinder's
// two high bits in its top 2 bits, byte 2 is the cylinder's low 8 bits.
func (chs CHS) PutBytes(dst []byte) {
	dst[0] = chs.Head
	dst[1] = (chs.Sector & 0x3F) | byte((chs.Cylinder>>2)&0xC0)
	dst[2] = byte(chs.Cylinder & 0xFF)
}

// CHSFromBytes unpacks the standard 3-byte on-disk CHS encoding, inverting
// PutBytes.
func CHSFromBytes(src []byte) CHS {
	return CHS{
		Head:     src[0],
		Sector:   src[1] & 0x3F,
		Cylinder: uint16(src[2]) | uint16(src[1]&0xC0)<<2,
	}
}

// String renders chs as "C/H/S" for diagnostic output.
func (chs CHS) String() string {
	return fmt.Sprintf("%d/%d/%d", chs.Cylinder, chs.Head, chs.Sector)
}
