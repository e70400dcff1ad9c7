// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Command partman is an interactive MBR/GPT partition table editor for a
// disk image file: it ensures the image is at least the requested size,
// loads whatever scheme is already present, and dispatches single-character
// commands read from stdin until quit or EOF.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mon1t0r/partman-go/cmd/partman/internal/prompt"
	"github.com/mon1t0r/partman-go/gpt"
	"github.com/mon1t0r/partman-go/imgctx"
	"github.com/mon1t0r/partman-go/scheme"
	"github.com/mon1t0r/partman-go/sectorstore"
)

const helpText = `Commands:
  n  new partition table (prompts for mbr/gpt)
  l  (re)load the scheme from disk
  a  add a partition
  r  resize a partition
  t  set a partition's type
  b  toggle a partition's bootable flag (MBR only)
  d  delete a partition
  s  save the current scheme to disk
  p  print the current scheme
  q  quit
  m  show this help
`

// buildLogger maps the four-level log-level option (plus "none") onto a
// *zap.Logger, matching original_source's log.h four-level enum and the
// teacher's zap.NewDevelopmentConfig()-based construction.
func buildLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "none") {
		return zap.NewNop(), nil
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("partman: invalid -log-level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}

// ensureImageSize grows f to at least size bytes by seeking to the last
// byte and writing a single zero, mirroring original_source/src/main.c's
// img_ensure_size: sparse growth, no full zero-fill.
func ensureImageSize(f *os.File, size int64) error {
	cur, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("partman: seek: %w", err)
	}

	if cur >= size {
		return nil
	}

	if _, err := f.WriteAt([]byte{0}, size-1); err != nil {
		return fmt.Errorf("partman: grow image to %d bytes: %w", size, err)
	}

	return nil
}

type config struct {
	logLevel   string
	sectorSize uint32
	minImgSize uint64
	alignment  uint64
	heads      uint32
	sectors    uint32
	imgPath    string
}

func parseFlags(args []string) (*config, error) {
	fs := flag.NewFlagSet("partman", flag.ContinueOnError)

	logLevel := fs.String("log-level", "info", "diagnostics filter: debug, info, warn, error, none")
	sectorSize := fs.Uint("sector-size", 512, "sector size in bytes: 512, 1024, 2048 or 4096")
	minImgSize := fs.Uint64("min-img-size", 512*1024, "minimum image size in bytes; the image is grown to this length")
	alignment := fs.Uint64("alignment", 0, "partition placement alignment in sectors (0 = 1 MiB / sector-size)")
	heads := fs.Uint("heads", 0, "legacy CHS heads-per-cylinder (0 = 255)")
	sectors := fs.Uint("sectors", 0, "legacy CHS sectors-per-track (0 = 63)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() != 1 {
		return nil, fmt.Errorf("partman: expected exactly one IMG_FILE argument, got %d", fs.NArg())
	}

	return &config{
		logLevel:   *logLevel,
		sectorSize: uint32(*sectorSize),
		minImgSize: *minImgSize,
		alignment:  *alignment,
		heads:      uint32(*heads),
		sectors:    uint32(*sectors),
		imgPath:    fs.Arg(0),
	}, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger, os.Stdin, os.Stdout); err != nil {
		logger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config, logger *zap.Logger, stdin io.Reader, stdout io.Writer) error {
	f, err := os.OpenFile(cfg.imgPath, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return fmt.Errorf("partman: open %s: %w", cfg.imgPath, err)
	}
	defer f.Close() //nolint:errcheck

	if err := ensureImageSize(f, int64(cfg.minImgSize)); err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("partman: stat %s: %w", cfg.imgPath, err)
	}

	ictx, err := imgctx.New(cfg.sectorSize, uint64(info.Size()), cfg.alignment, cfg.heads, cfg.sectors)
	if err != nil {
		return fmt.Errorf("partman: %w", err)
	}

	store := sectorstore.OpenFile(f, ictx.SectorSize(), ictx.ImageSectors())

	sctx := scheme.NewContext(scheme.WithLogger(logger))

	if _, err := sctx.Load(store, ictx); err != nil {
		return fmt.Errorf("partman: %w", err)
	}

	fmt.Fprintln(stdout, "partman-go")
	fmt.Fprintln(stdout)

	rw := &repl{
		ctx:    ictx,
		store:  store,
		scheme: sctx,
		sc:     bufio.NewScanner(stdin),
		out:    stdout,
	}

	return rw.run()
}

// repl drives the interactive command loop, a direct generalization of
// original_source/src/main.c's user_routine/action_handle: read one
// character command, dispatch, repeat until quit or EOF.
type repl struct {
	ctx    *imgctx.Context
	store  sectorstore.Store
	scheme *scheme.Context
	sc     *bufio.Scanner
	out    io.Writer
}

func (r *repl) run() error {
	for {
		c, err := prompt.Char(r.sc, r.out, "Command (m for help): ")
		if err != nil {
			fmt.Fprintln(r.out)

			if errors.Is(err, prompt.ErrEOF) {
				return nil
			}

			fmt.Fprintln(r.out, err)

			continue
		}

		fmt.Fprintln(r.out)

		done, err := r.dispatch(c)
		if err != nil {
			fmt.Fprintln(r.out, "error:", err)
		}

		if done {
			return nil
		}
	}
}

func (r *repl) dispatch(c byte) (bool, error) {
	switch c {
	case 'm':
		fmt.Fprint(r.out, helpText)

	case 'q':
		return true, nil

	case 'n':
		return false, r.cmdNew()

	case 'l':
		return false, r.cmdLoad()

	case 'a':
		return false, r.cmdAdd()

	case 'r':
		return false, r.cmdResize()

	case 't':
		return false, r.cmdType()

	case 'b':
		return false, r.cmdToggleBoot()

	case 'd':
		return false, r.cmdDelete()

	case 's':
		return false, r.cmdSave()

	case 'p':
		r.cmdPrint()

	default:
		fmt.Fprintf(r.out, "Unknown command %q; press m for help\n", c)
	}

	return false, nil
}

func (r *repl) cmdNew() error {
	kind, err := prompt.Char(r.sc, r.out, "Scheme type (m)br/(g)pt: ")
	if err != nil {
		return err
	}

	switch kind {
	case 'm':
		r.scheme.NewMBRScheme(r.ctx)
	case 'g':
		r.scheme.NewGPTScheme(r.ctx)
	default:
		return fmt.Errorf("unknown scheme type %q", kind)
	}

	return nil
}

func (r *repl) cmdLoad() error {
	result, err := r.scheme.Load(r.store, r.ctx)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		fmt.Fprintln(r.out, "warning:", w)
	}

	return nil
}

func (r *repl) cmdAdd() error {
	active := r.scheme.Active()
	if active == nil {
		return scheme.ErrNoActiveScheme
	}

	i, err := prompt.RangeUint64(r.sc, r.out, "Partition index", 0, uint64(active.Capacity()-1), 0)
	if err != nil {
		return err
	}

	start, ok := active.FindStartSector(r.ctx, -1)
	if !ok {
		start = active.FirstUsableLBA
	}

	startLBA, err := prompt.RangeUint64(r.sc, r.out, "Start LBA", active.FirstUsableLBA, active.LastUsableLBA, start)
	if err != nil {
		return err
	}

	end, ok := active.FindLastSector(r.ctx, -1, startLBA)
	if !ok {
		end = startLBA
	}

	endLBA, err := prompt.RangeUint64(r.sc, r.out, "End LBA", startLBA, active.LastUsableLBA, end)
	if err != nil {
		return err
	}

	return r.scheme.AddPartition(int(i), startLBA, endLBA)
}

func (r *repl) cmdResize() error {
	active := r.scheme.Active()
	if active == nil {
		return scheme.ErrNoActiveScheme
	}

	i, err := prompt.RangeUint64(r.sc, r.out, "Partition index", 0, uint64(active.Capacity()-1), 0)
	if err != nil {
		return err
	}

	rec := active.Records[i]

	startLBA, err := prompt.RangeUint64(r.sc, r.out, "Start LBA", active.FirstUsableLBA, active.LastUsableLBA, rec.StartLBA)
	if err != nil {
		return err
	}

	endLBA, err := prompt.RangeUint64(r.sc, r.out, "End LBA", startLBA, active.LastUsableLBA, rec.EndLBA)
	if err != nil {
		return err
	}

	return r.scheme.ResizePartition(int(i), startLBA, endLBA)
}

func (r *repl) cmdType() error {
	active := r.scheme.Active()
	if active == nil {
		return scheme.ErrNoActiveScheme
	}

	i, err := prompt.RangeUint64(r.sc, r.out, "Partition index", 0, uint64(active.Capacity()-1), 0)
	if err != nil {
		return err
	}

	if active.Tag == scheme.MBR {
		b, err := prompt.RangeUint64(r.sc, r.out, "Type byte", 0, 0xFF, uint64(active.Records[i].MBRType))
		if err != nil {
			return err
		}

		return r.scheme.SetType(int(i), byte(b))
	}

	g, err := prompt.GUID(r.sc, r.out, "Type GUID", gpt.LinuxFilesystemType)
	if err != nil {
		return err
	}

	return r.scheme.SetType(int(i), g)
}

func (r *repl) cmdToggleBoot() error {
	active := r.scheme.Active()
	if active == nil {
		return scheme.ErrNoActiveScheme
	}

	i, err := prompt.RangeUint64(r.sc, r.out, "Partition index", 0, uint64(active.Capacity()-1), 0)
	if err != nil {
		return err
	}

	return r.scheme.ToggleBootable(int(i))
}

func (r *repl) cmdDelete() error {
	active := r.scheme.Active()
	if active == nil {
		return scheme.ErrNoActiveScheme
	}

	i, err := prompt.RangeUint64(r.sc, r.out, "Partition index", 0, uint64(active.Capacity()-1), 0)
	if err != nil {
		return err
	}

	return r.scheme.DeletePartition(int(i))
}

func (r *repl) cmdSave() error {
	return r.scheme.Save(r.store, r.ctx)
}

// cmdPrint renders the structured summary spec §6's "print" row names
// without shaping: disk identifier, then one row per used partition,
// generalizing original_source/src/main.c's mbr_print to both codecs.
func (r *repl) cmdPrint() {
	active := r.scheme.Active()
	if active == nil {
		fmt.Fprintln(r.out, "No active scheme.")

		return
	}

	switch active.Tag {
	case scheme.MBR:
		fmt.Fprintf(r.out, "Scheme: MBR, disk signature %08X\n", active.DiskID32)
	case scheme.GPT:
		fmt.Fprintf(r.out, "Scheme: GPT, disk GUID %s\n", active.DiskGUID)
	}

	for i := range active.Records {
		if !active.PartIsUsed(i) {
			continue
		}

		rec := &active.Records[i]
		fmt.Fprintf(r.out, "Partition #%d:\n", i)

		switch active.Tag {
		case scheme.MBR:
			fmt.Fprintf(r.out, "  Boot           %v\n", rec.Boot)
			fmt.Fprintf(r.out, "  Type           0x%02X\n", rec.MBRType)
			fmt.Fprintf(r.out, "  Start C/H/S    %s\n", r.ctx.LBAToCHS(rec.StartLBA, false))
			fmt.Fprintf(r.out, "  End C/H/S      %s\n", r.ctx.LBAToCHS(rec.EndLBA, false))

		case scheme.GPT:
			fmt.Fprintf(r.out, "  Type GUID      %s\n", rec.GPTType)
			fmt.Fprintf(r.out, "  Unique GUID    %s\n", rec.UniqueGUID)
			fmt.Fprintf(r.out, "  Name           %s\n", rec.Name)
		}

		fmt.Fprintf(r.out, "  Start LBA      %d\n", rec.StartLBA)
		fmt.Fprintf(r.out, "  End LBA        %d\n", rec.EndLBA)
		fmt.Fprintf(r.out, "  Sectors        %d\n\n", rec.EndLBA-rec.StartLBA+1)
	}
}
