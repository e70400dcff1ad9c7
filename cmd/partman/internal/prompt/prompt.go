// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package prompt implements the line-oriented numeric and GUID input
// helpers the partman REPL prompts with: a prompt string, an inclusive
// range, a default applied to an empty line, and a scan_fail/scan_eof-style
// result reported through Go errors instead of a C enum.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mon1t0r/partman-go/guid"
)

// ErrEOF is returned when the input reader is exhausted.
var ErrEOF = errors.New("prompt: end of input")

// ErrInvalid is returned when a non-empty line could not be parsed, or
// parsed to a value outside the requested range.
var ErrInvalid = errors.New("prompt: invalid value")

// RangeUint64 prompts w with text describing start, end and def, reads one
// line from r, and returns def if the line is empty. A non-empty line must
// parse as a base-10 uint64 within [start, end]; anything else is
// ErrInvalid. Mirrors original_source's prompt_range_pu32/prompt_range_pu64,
// unified since Go has one integer-parsing path for both widths.
func RangeUint64(r *bufio.Scanner, w io.Writer, label string, start, end, def uint64) (uint64, error) {
	fmt.Fprintf(w, "%s (%d-%d, default %d): ", label, start, end, def)

	line, err := readLine(r)
	if err != nil {
		return 0, err
	}

	if line == "" {
		return def, nil
	}

	v, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, line)
	}

	if v < start || v > end {
		return 0, fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalid, v, start, end)
	}

	return v, nil
}

// GUID prompts w with label, reads one line from r, and returns def if the
// line is empty. A non-empty line must parse via guid.Parse.
func GUID(r *bufio.Scanner, w io.Writer, label string, def guid.GUID) (guid.GUID, error) {
	fmt.Fprintf(w, "%s (default %s): ", label, def)

	line, err := readLine(r)
	if err != nil {
		return guid.Zero, err
	}

	if line == "" {
		return def, nil
	}

	g, err := guid.Parse(line)
	if err != nil {
		return guid.Zero, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	return g, nil
}

// Char prompts w with label, then reads a single-character line from r: a
// line that, once surrounding whitespace is trimmed, is not exactly one
// byte is ErrInvalid. Mirrors original_source's scan_char.
func Char(r *bufio.Scanner, w io.Writer, label string) (byte, error) {
	fmt.Fprint(w, label)

	line, err := readLine(r)
	if err != nil {
		return 0, err
	}

	if len(line) != 1 {
		return 0, fmt.Errorf("%w: expected a single character", ErrInvalid)
	}

	return line[0], nil
}

func readLine(r *bufio.Scanner) (string, error) {
	if !r.Scan() {
		if err := r.Err(); err != nil {
			return "", fmt.Errorf("prompt: read: %w", err)
		}

		return "", ErrEOF
	}

	return strings.TrimSpace(r.Text()), nil
}
