// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package prompt_test

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mon1t0r/partman-go/cmd/partman/internal/prompt"
	"github.com/mon1t0r/partman-go/guid"
)

func scannerFor(s string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(s))
}

func TestRangeUint64DefaultOnEmptyLine(t *testing.T) {
	t.Parallel()

	v, err := prompt.RangeUint64(scannerFor("\n"), io.Discard, "start", 10, 20, 15)
	require.NoError(t, err)
	assert.EqualValues(t, 15, v)
}

func TestRangeUint64ParsesValidValue(t *testing.T) {
	t.Parallel()

	v, err := prompt.RangeUint64(scannerFor("17\n"), io.Discard, "start", 10, 20, 15)
	require.NoError(t, err)
	assert.EqualValues(t, 17, v)
}

func TestRangeUint64RejectsOutOfRange(t *testing.T) {
	t.Parallel()

	_, err := prompt.RangeUint64(scannerFor("999\n"), io.Discard, "start", 10, 20, 15)
	assert.ErrorIs(t, err, prompt.ErrInvalid)
}

func TestRangeUint64RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := prompt.RangeUint64(scannerFor("abc\n"), io.Discard, "start", 10, 20, 15)
	assert.ErrorIs(t, err, prompt.ErrInvalid)
}

func TestRangeUint64EOF(t *testing.T) {
	t.Parallel()

	_, err := prompt.RangeUint64(scannerFor(""), io.Discard, "start", 10, 20, 15)
	assert.ErrorIs(t, err, prompt.ErrEOF)
}

func TestGUIDDefaultOnEmptyLine(t *testing.T) {
	t.Parallel()

	def := guid.New()
	g, err := prompt.GUID(scannerFor("\n"), io.Discard, "type", def)
	require.NoError(t, err)
	assert.Equal(t, def, g)
}

func TestGUIDParsesValidValue(t *testing.T) {
	t.Parallel()

	want := guid.New()
	g, err := prompt.GUID(scannerFor(want.String()+"\n"), io.Discard, "type", guid.Zero)
	require.NoError(t, err)
	assert.Equal(t, want, g)
}

func TestGUIDRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := prompt.GUID(scannerFor("not-a-guid\n"), io.Discard, "type", guid.Zero)
	assert.ErrorIs(t, err, prompt.ErrInvalid)
}

func TestCharRejectsMultiCharLine(t *testing.T) {
	t.Parallel()

	_, err := prompt.Char(scannerFor("ab\n"), io.Discard, "command: ")
	assert.ErrorIs(t, err, prompt.ErrInvalid)
}

func TestCharAcceptsSingleCharLine(t *testing.T) {
	t.Parallel()

	c, err := prompt.Char(scannerFor("p\n"), io.Discard, "command: ")
	require.NoError(t, err)
	assert.Equal(t, byte('p'), c)
}
