// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package crc32le_test

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mon1t0r/partman-go/internal/crc32le"
)

func TestSumMatchesStdlibIEEE(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		nil,
		[]byte("123456789"),
		[]byte("EFI PART"),
		make([]byte, 512),
	}

	for _, data := range cases {
		assert.Equal(t, crc32.ChecksumIEEE(data), crc32le.Sum(data))
	}
}

func TestIncrementalUpdatesMatchByteFeed(t *testing.T) {
	t.Parallel()

	e1 := crc32le.New()
	e1.UpdateU32(0xDEADBEEF)
	e1.UpdateU16(0xCAFE)
	e1.UpdateU8(0x42)

	var buf []byte
	buf = append(buf, 0xEF, 0xBE, 0xAD, 0xDE)
	buf = append(buf, 0xFE, 0xCA)
	buf = append(buf, 0x42)

	assert.Equal(t, crc32.ChecksumIEEE(buf), e1.Finalize())
}

func TestKnownIEEEVector(t *testing.T) {
	t.Parallel()

	// Well-known check value for the reflected IEEE 802.3 CRC-32 over ASCII
	// "123456789": 0xCBF43926.
	assert.Equal(t, uint32(0xCBF43926), crc32le.Sum([]byte("123456789")))
}
