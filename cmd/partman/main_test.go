// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config {
	t.Helper()

	return &config{
		logLevel:   "none",
		sectorSize: 512,
		minImgSize: 4 * 1024 * 1024,
		imgPath:    filepath.Join(t.TempDir(), "disk.img"),
	}
}

func TestEnsureImageSizeGrowsSparseFile(t *testing.T) {
	t.Parallel()

	f, err := os.CreateTemp(t.TempDir(), "img")
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	require.NoError(t, ensureImageSize(f, 4096))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, 4096, info.Size())
}

func TestEnsureImageSizeNoopWhenAlreadyLargeEnough(t *testing.T) {
	t.Parallel()

	f, err := os.CreateTemp(t.TempDir(), "img")
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	require.NoError(t, ensureImageSize(f, 4096))
	require.NoError(t, ensureImageSize(f, 2048))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, 4096, info.Size())
}

func TestParseFlagsRequiresImagePath(t *testing.T) {
	t.Parallel()

	_, err := parseFlags(nil)
	assert.Error(t, err)
}

func TestParseFlagsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseFlags([]string{"disk.img"})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.logLevel)
	assert.EqualValues(t, 512, cfg.sectorSize)
	assert.Equal(t, "disk.img", cfg.imgPath)
}

func TestBuildLoggerNoneIsNop(t *testing.T) {
	t.Parallel()

	logger, err := buildLogger("none")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.ErrorLevel))
}

func TestBuildLoggerAcceptsKnownLevel(t *testing.T) {
	t.Parallel()

	logger, err := buildLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestBuildLoggerRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, err := buildLogger("not-a-level")
	assert.Error(t, err)
}

func TestRunCreatesGPTAddsPartitionAndPrints(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	logger := zap.NewNop()

	in := strings.NewReader("n\ng\na\n0\n\n\np\nq\n")
	var out bytes.Buffer

	require.NoError(t, run(cfg, logger, in, &out))

	assert.Contains(t, out.String(), "partman-go")
	assert.Contains(t, out.String(), "Partition #0")
}

func TestRunSaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	logger := zap.NewNop()

	var out bytes.Buffer
	require.NoError(t, run(cfg, logger, strings.NewReader("n\ng\na\n0\n\n\ns\nq\n"), &out))

	out.Reset()
	require.NoError(t, run(cfg, logger, strings.NewReader("p\nq\n"), &out))

	assert.Contains(t, out.String(), "Scheme: GPT")
	assert.Contains(t, out.String(), "Partition #0")
}

func TestRunUnknownCommandContinuesLoop(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	logger := zap.NewNop()

	var out bytes.Buffer
	require.NoError(t, run(cfg, logger, strings.NewReader("z\nq\n"), &out))

	assert.Contains(t, out.String(), "Unknown command")
}
