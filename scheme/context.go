// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package scheme

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mon1t0r/partman-go/imgctx"
	"github.com/mon1t0r/partman-go/mbr"
	"github.com/mon1t0r/partman-go/sectorstore"
)

// ErrNoActiveScheme is returned by Context operations that require an
// active scheme (GPT if present, else MBR) when neither slot is populated.
var ErrNoActiveScheme = errors.New("scheme: no active scheme")

// LoadResult reports whether Context.Load had to repair anything, and why.
type LoadResult struct {
	Repaired bool
	Warnings []string
}

// Options configures a Context.
type Options struct {
	Logger *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the structured logger a Context reports diagnostics to.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func applyOptions(opts ...Option) Options {
	o := Options{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Context is the scheme context (C9): an optional GPT slot and an optional
// MBR slot, together implementing the caller-facing load/new/save
// operations and the protective-MBR reconciliation rules of spec §4.9.
type Context struct {
	GPT *Scheme
	MBR *Scheme

	logger *zap.Logger
}

// NewContext returns an empty Context (neither slot populated).
func NewContext(opts ...Option) *Context {
	o := applyOptions(opts...)

	return &Context{logger: o.Logger}
}

// Active returns the context's active scheme: the GPT slot if populated,
// else the MBR slot, else nil.
func (c *Context) Active() *Scheme {
	if c.GPT != nil {
		return c.GPT
	}

	return c.MBR
}

func (c *Context) active() (*Scheme, error) {
	s := c.Active()
	if s == nil {
		return nil, ErrNoActiveScheme
	}

	return s, nil
}

// newProtectiveMBR builds the fresh protective-MBR scheme a GPT image's
// partner partition[0] must hold, via mbr.InitProtective so the CHS
// protective clamp and size computation stay in one place.
func newProtectiveMBR(ictx *imgctx.Context) *Scheme {
	rec := mbr.New()
	rec.InitProtective(ictx)

	s := NewMBR(ictx)
	s.DiskID32 = rec.DiskSig
	s.Records[0] = Record{
		MBRType:  rec.Entries[0].Type,
		StartLBA: uint64(rec.Entries[0].StartLBA),
		EndLBA:   rec.Entries[0].EndLBA(),
	}

	return s
}

// isProtective reports whether s (an MBR scheme) is a valid protective
// partner: a single used entry of type 0xEE starting at LBA 1.
func isProtective(s *Scheme) bool {
	r := &s.Records[0]
	if r.MBRType != mbr.ProtectiveType || r.StartLBA != 1 {
		return false
	}

	for i := 1; i < len(s.Records); i++ {
		if s.PartIsUsed(i) {
			return false
		}
	}

	return true
}

// NewMBRScheme replaces the context's content with a fresh, empty MBR
// scheme, clearing any GPT slot.
func (c *Context) NewMBRScheme(ictx *imgctx.Context) {
	c.GPT = nil
	c.MBR = NewMBR(ictx)
}

// NewGPTScheme replaces the context's content with a fresh, empty GPT
// scheme plus its freshly synthesized protective-MBR partner.
func (c *Context) NewGPTScheme(ictx *imgctx.Context) {
	c.GPT = NewGPT(ictx)
	c.MBR = newProtectiveMBR(ictx)
}

// Load populates the context from store, per spec §4.9: both codecs are
// tried independently; a GPT found without an MBR partner gets one
// synthesized in memory (flushed on the next Save); an MBR partner present
// but not protective is replaced with a fresh one. A fatal IO error from
// either codec aborts the whole load.
func (c *Context) Load(store sectorstore.Store, ictx *imgctx.Context) (*LoadResult, error) {
	result := &LoadResult{}

	mbrScheme, mbrWarning, err := Load(MBR, store, ictx)
	if err != nil {
		return nil, fmt.Errorf("scheme: context load: %w", err)
	}

	if mbrWarning != "" {
		result.Repaired = true
		result.Warnings = append(result.Warnings, mbrWarning)
	}

	gptScheme, gptWarning, err := Load(GPT, store, ictx)
	if err != nil {
		return nil, fmt.Errorf("scheme: context load: %w", err)
	}

	if gptWarning != "" {
		result.Repaired = true
		result.Warnings = append(result.Warnings, gptWarning)
		c.logger.Info("gpt header corruption recovered in memory", zap.String("reason", gptWarning))
		c.logger.Warn("repaired gpt copy is not yet flushed to disk")
	}

	c.GPT = gptScheme
	c.MBR = mbrScheme

	switch {
	case gptScheme != nil && mbrScheme != nil:
		if isProtective(mbrScheme) {
			c.logger.Debug("gpt scheme loaded with protective mbr partner")
		} else {
			c.logger.Info("mbr partner present but not protective; replacing")
			c.MBR = newProtectiveMBR(ictx)
		}

	case gptScheme != nil && mbrScheme == nil:
		c.logger.Info("gpt present without mbr partner; will be created on next write")
		c.MBR = newProtectiveMBR(ictx)

	case gptScheme == nil && mbrScheme != nil:
		c.logger.Debug("mbr scheme loaded")
	}

	return result, nil
}

// Save writes every populated slot, per spec §4.9: MBR before GPT (their
// extents never overlap, so the relative order is immaterial), with GPT's
// own Save already honoring the secondary-before-primary rule internally.
func (c *Context) Save(store sectorstore.Store, ictx *imgctx.Context) error {
	if c.MBR != nil {
		c.logger.Debug("saving mbr scheme")

		if err := c.MBR.Save(store, ictx); err != nil {
			return fmt.Errorf("scheme: context save: %w", err)
		}
	}

	if c.GPT != nil {
		c.logger.Debug("saving gpt scheme")

		if err := c.GPT.Save(store, ictx); err != nil {
			return fmt.Errorf("scheme: context save: %w", err)
		}
	}

	return nil
}

// AddPartition delegates to the active scheme, per spec §6's caller-facing
// operation table.
func (c *Context) AddPartition(i int, start, end uint64) error {
	s, err := c.active()
	if err != nil {
		return err
	}

	if err := s.AddPartition(i, start, end); err != nil {
		return err
	}

	c.logger.Debug("partition added", zap.Int("index", i), zap.Uint64("start", start), zap.Uint64("end", end))

	return nil
}

// ResizePartition delegates to the active scheme.
func (c *Context) ResizePartition(i int, start, end uint64) error {
	s, err := c.active()
	if err != nil {
		return err
	}

	if err := s.ResizePartition(i, start, end); err != nil {
		return err
	}

	c.logger.Debug("partition resized", zap.Int("index", i), zap.Uint64("start", start), zap.Uint64("end", end))

	return nil
}

// SetType delegates to the active scheme.
func (c *Context) SetType(i int, typ interface{}) error {
	s, err := c.active()
	if err != nil {
		return err
	}

	return s.SetType(i, typ)
}

// ToggleBootable delegates to the active scheme.
func (c *Context) ToggleBootable(i int) error {
	s, err := c.active()
	if err != nil {
		return err
	}

	return s.ToggleBootable(i)
}

// DeletePartition delegates to the active scheme.
func (c *Context) DeletePartition(i int) error {
	s, err := c.active()
	if err != nil {
		return err
	}

	if err := s.DeletePartition(i); err != nil {
		return err
	}

	c.logger.Debug("partition deleted", zap.Int("index", i))

	return nil
}
