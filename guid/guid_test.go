// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package guid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mon1t0r/partman-go/guid"
)

func TestNewIsVersion4Variant2(t *testing.T) {
	t.Parallel()

	for i := 0; i < 64; i++ {
		g := guid.New()

		assert.False(t, g.IsZero())
		assert.Equal(t, byte(0x4), g.Bytes()[6]>>4, "version nibble")
		assert.Equal(t, byte(0xC0), g.Bytes()[8]&0xE0, "variant bits")
	}
}

func TestZeroIsZero(t *testing.T) {
	t.Parallel()

	assert.True(t, guid.Zero.IsZero())
	assert.True(t, guid.GUID{}.IsZero())
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()

	g := guid.New()
	s := g.String()

	assert.Len(t, s, 36)
	assert.Equal(t, s, s[:8]+"-"+s[9:13]+"-"+s[14:18]+"-"+s[19:23]+"-"+s[24:])

	parsed, err := guid.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, g, parsed)
}

func TestParseRejectsBadLength(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "not-a-guid", "0FC63DAF-8483-4772-8E79-3D69D8477DE", "0FC63DAF-8483-4772-8E79-3D69D8477DE4X"} {
		_, err := guid.Parse(s)
		assert.Error(t, err, s)
	}
}

func TestWireRoundTrip(t *testing.T) {
	t.Parallel()

	g := guid.New()

	var buf [guid.Size]byte
	g.PutWire(buf[:])

	assert.Equal(t, g, guid.FromWire(buf[:]))
}

func TestKnownGUIDWireEncoding(t *testing.T) {
	t.Parallel()

	// Linux filesystem data GUID, 0FC63DAF-8483-4772-8E79-3D69D8477DE4, per
	// the UEFI specification's well-known wire encoding.
	g, err := guid.Parse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
	require.NoError(t, err)

	want := []byte{
		0xAF, 0x3D, 0xC6, 0x0F,
		0x83, 0x84,
		0x72, 0x47,
		0x8E, 0x79, 0x3D, 0x69, 0xD8, 0x47, 0x7D, 0xE4,
	}

	var buf [guid.Size]byte
	g.PutWire(buf[:])

	assert.Equal(t, want, buf[:])
	assert.Equal(t, g, guid.FromWire(buf[:]))
}
