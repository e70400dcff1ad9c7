// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package scheme_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mon1t0r/partman-go/mbr"
	"github.com/mon1t0r/partman-go/scheme"
	"github.com/mon1t0r/partman-go/sectorstore"
)

func TestContextNewGPTSchemeCreatesProtectivePartner(t *testing.T) {
	t.Parallel()

	ctx := newCtx(t)
	c := scheme.NewContext()
	c.NewGPTScheme(ctx)

	require.NotNil(t, c.GPT)
	require.NotNil(t, c.MBR)
	assert.Equal(t, byte(mbr.ProtectiveType), c.MBR.Records[0].MBRType)
	assert.EqualValues(t, 1, c.MBR.Records[0].StartLBA)
	assert.Same(t, c.GPT, c.Active())
}

func TestContextNewMBRSchemeClearsGPTSlot(t *testing.T) {
	t.Parallel()

	ctx := newCtx(t)
	c := scheme.NewContext()
	c.NewGPTScheme(ctx)
	c.NewMBRScheme(ctx)

	assert.Nil(t, c.GPT)
	require.NotNil(t, c.MBR)
	assert.Same(t, c.MBR, c.Active())
}

func TestContextOperationsRequireActiveScheme(t *testing.T) {
	t.Parallel()

	c := scheme.NewContext()

	assert.ErrorIs(t, c.AddPartition(0, 1, 100), scheme.ErrNoActiveScheme)
	assert.ErrorIs(t, c.ResizePartition(0, 1, 100), scheme.ErrNoActiveScheme)
	assert.ErrorIs(t, c.SetType(0, byte(0x83)), scheme.ErrNoActiveScheme)
	assert.ErrorIs(t, c.ToggleBootable(0), scheme.ErrNoActiveScheme)
	assert.ErrorIs(t, c.DeletePartition(0), scheme.ErrNoActiveScheme)
}

func TestContextSaveLoadGPTWithProtectiveMBRRoundTrip(t *testing.T) {
	t.Parallel()

	ictx := newCtx(t)
	store := sectorstore.NewMemStore(512, ictx.ImageSectors())

	c := scheme.NewContext()
	c.NewGPTScheme(ictx)
	require.NoError(t, c.AddPartition(0, c.GPT.FirstUsableLBA, c.GPT.FirstUsableLBA+1000))

	require.NoError(t, c.Save(store, ictx))

	loaded := scheme.NewContext()
	result, err := loaded.Load(store, ictx)
	require.NoError(t, err)
	assert.False(t, result.Repaired)
	assert.Empty(t, result.Warnings)

	require.NotNil(t, loaded.GPT)
	require.NotNil(t, loaded.MBR)
	assert.Equal(t, byte(mbr.ProtectiveType), loaded.MBR.Records[0].MBRType)
	assert.True(t, loaded.GPT.PartIsUsed(0))
}

func TestContextLoadSynthesizesProtectiveMBRWhenAbsent(t *testing.T) {
	t.Parallel()

	ictx := newCtx(t)
	store := sectorstore.NewMemStore(512, ictx.ImageSectors())

	// Write only a GPT, leaving the MBR sector untouched (all zeros).
	gptOnly := scheme.NewContext()
	gptOnly.GPT = scheme.NewGPT(ictx)
	require.NoError(t, gptOnly.GPT.Save(store, ictx))

	loaded := scheme.NewContext()
	_, err := loaded.Load(store, ictx)
	require.NoError(t, err)

	require.NotNil(t, loaded.MBR)
	assert.Equal(t, byte(mbr.ProtectiveType), loaded.MBR.Records[0].MBRType)
}

func TestContextLoadReplacesNonProtectiveMBRPartner(t *testing.T) {
	t.Parallel()

	ictx := newCtx(t)
	store := sectorstore.NewMemStore(512, ictx.ImageSectors())

	gptCtx := scheme.NewContext()
	gptCtx.GPT = scheme.NewGPT(ictx)
	require.NoError(t, gptCtx.GPT.Save(store, ictx))

	// Overwrite the MBR sector with a non-protective (ordinary) MBR.
	ordinary := scheme.NewMBR(ictx)
	require.NoError(t, ordinary.AddPartition(0, 1, 100))
	require.NoError(t, ordinary.Save(store, ictx))

	loaded := scheme.NewContext()
	_, err := loaded.Load(store, ictx)
	require.NoError(t, err)

	require.NotNil(t, loaded.MBR)
	assert.Equal(t, byte(mbr.ProtectiveType), loaded.MBR.Records[0].MBRType)
}

func TestContextLoadMBROnly(t *testing.T) {
	t.Parallel()

	ictx := newCtx(t)
	store := sectorstore.NewMemStore(512, ictx.ImageSectors())

	c := scheme.NewContext()
	c.NewMBRScheme(ictx)
	require.NoError(t, c.AddPartition(0, 2048, 4095))
	require.NoError(t, c.Save(store, ictx))

	loaded := scheme.NewContext()
	result, err := loaded.Load(store, ictx)
	require.NoError(t, err)
	assert.False(t, result.Repaired)

	assert.Nil(t, loaded.GPT)
	require.NotNil(t, loaded.MBR)
	assert.Same(t, loaded.MBR, loaded.Active())

	require.NoError(t, loaded.AddPartition(1, 8192, 16383))
	require.NoError(t, loaded.ResizePartition(0, 2048, 6143))
}

func TestContextLoadEmptyImageYieldsNoSlots(t *testing.T) {
	t.Parallel()

	ictx := newCtx(t)
	store := sectorstore.NewMemStore(512, ictx.ImageSectors())

	c := scheme.NewContext()
	_, err := c.Load(store, ictx)
	require.NoError(t, err)

	assert.Nil(t, c.GPT)
	assert.Nil(t, c.MBR)
	assert.Nil(t, c.Active())
}
