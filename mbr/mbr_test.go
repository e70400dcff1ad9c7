// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mbr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mon1t0r/partman-go/imgctx"
	"github.com/mon1t0r/partman-go/mbr"
)

func newCtx(t *testing.T) *imgctx.Context {
	t.Helper()

	ctx, err := imgctx.New(512, 64*1024*1024, 0, 255, 63)
	require.NoError(t, err)

	return ctx
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	r := mbr.New()
	r.DiskSig = 0xDEADBEEF
	r.Entries[0] = mbr.Entry{
		Boot:     true,
		Type:     0x83,
		StartLBA: 2048,
		SizeLBA:  1000000,
	}

	buf := make([]byte, mbr.Size)
	require.NoError(t, r.Encode(buf))

	assert.True(t, mbr.Detect(buf))
	assert.Equal(t, byte(0x55), buf[510])
	assert.Equal(t, byte(0xAA), buf[511])

	got, err := mbr.Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, r.DiskSig, got.DiskSig)
	assert.Equal(t, r.Entries[0].Type, got.Entries[0].Type)
	assert.Equal(t, r.Entries[0].StartLBA, got.Entries[0].StartLBA)
	assert.Equal(t, r.Entries[0].SizeLBA, got.Entries[0].SizeLBA)
	assert.True(t, got.Entries[0].Boot)
}

func TestEncodeRejectsWrongSize(t *testing.T) {
	t.Parallel()

	r := mbr.New()
	assert.Error(t, r.Encode(make([]byte, 511)))
}

func TestDetectRejectsBadSignature(t *testing.T) {
	t.Parallel()

	buf := make([]byte, mbr.Size)
	assert.False(t, mbr.Detect(buf))

	buf[510], buf[511] = 0x55, 0xAB
	assert.False(t, mbr.Detect(buf))
}

func TestUsedTest(t *testing.T) {
	t.Parallel()

	e := mbr.Entry{}
	assert.False(t, e.IsUsed())

	e.Type = 0x83
	assert.True(t, e.IsUsed())
}

func TestInitProtective(t *testing.T) {
	t.Parallel()

	ctx := newCtx(t)

	r := mbr.New()
	r.InitProtective(ctx)

	assert.True(t, r.IsProtective(ctx))
	assert.Equal(t, byte(mbr.ProtectiveType), r.Entries[0].Type)
	assert.EqualValues(t, 1, r.Entries[0].StartLBA)
	assert.EqualValues(t, ctx.LastLBA(), r.Entries[0].SizeLBA)

	for i := 1; i < mbr.EntryCount; i++ {
		assert.False(t, r.Entries[i].IsUsed())
	}
}

func TestInitProtectiveClampsSizeAt32Bit(t *testing.T) {
	t.Parallel()

	// 3 TiB image at 512 bytes/sector exceeds 2^32-1 sectors.
	ctx, err := imgctx.New(512, uint64(3)*1024*1024*1024*1024, 0, 0, 0)
	require.NoError(t, err)

	r := mbr.New()
	r.InitProtective(ctx)

	assert.EqualValues(t, 0xFFFFFFFF, r.Entries[0].SizeLBA)
}

func TestBootstrapPreservedAcrossDecodeEncode(t *testing.T) {
	t.Parallel()

	buf := make([]byte, mbr.Size)
	for i := 0; i < 440; i++ {
		buf[i] = byte(i)
	}
	buf[510], buf[511] = 0x55, 0xAA

	r, err := mbr.Decode(buf)
	require.NoError(t, err)

	out := make([]byte, mbr.Size)
	require.NoError(t, r.Encode(out))

	assert.Equal(t, buf[:440], out[:440])
}
