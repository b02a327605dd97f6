// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"

	"github.com/rs/zerolog"
)

// MaxLineSize bounds a single buffered record. A line that grows past it
// without a newline is dropped and counted as skipped.
const MaxLineSize = 4 * 1024 * 1024

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns arbitrarily split chunks of a chunk-protocol body into
// events. An incomplete trailing line is kept across Feed calls, so the
// decoded sequence does not depend on where the body was split.
//
// Malformed lines are logged and skipped. Once the [DONE] sentinel is seen
// all further input is ignored.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	done    bool
	skipped int
	logger  zerolog.Logger

	// discarding is set while the rest of an oversized line is dropped.
	discarding bool
}

// NewDecoder creates a decoder that logs nothing.
func NewDecoder() *Decoder {
	return &Decoder{logger: zerolog.Nop()}
}

// WithLogger sets the logger used to report skipped lines.
func (d *Decoder) WithLogger(logger zerolog.Logger) *Decoder {
	d.logger = logger
	return d
}

// Done reports whether the [DONE] sentinel has been decoded.
func (d *Decoder) Done() bool {
	return d.done
}

// Skipped returns the number of malformed or oversized lines dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Feed consumes the next chunk of the body and returns the events whose
// lines were completed by it, in order.
func (d *Decoder) Feed(p []byte) []Event {
	if d.done || len(p) == 0 {
		return nil
	}
	d.buf = append(d.buf, p...)

	var events []Event
	start := 0
	for !d.done {
		idx := bytes.IndexByte(d.buf[start:], '\n')
		if idx < 0 {
			break
		}
		line := d.buf[start : start+idx]
		start += idx + 1

		if d.discarding {
			d.discarding = false
			continue
		}
		if ev := d.decodeLine(line); ev != nil {
			events = append(events, ev)
		}
	}

	if d.done {
		d.buf = nil
		return events
	}

	// Compact so the buffer only holds the incomplete trailing line.
	rest := len(d.buf) - start
	copy(d.buf, d.buf[start:])
	d.buf = d.buf[:rest]

	if len(d.buf) > MaxLineSize {
		if !d.discarding {
			d.skipped++
			d.logger.Warn().Int("size", len(d.buf)).Msg("protocol line exceeds limit, dropping")
		}
		d.buf = d.buf[:0]
		d.discarding = true
	}
	return events
}

// Flush decodes a final line that was not newline-terminated. It is called
// once the body reached EOF.
func (d *Decoder) Flush() []Event {
	if d.done || len(d.buf) == 0 {
		d.buf = nil
		return nil
	}
	line := d.buf
	d.buf = nil
	if d.discarding {
		d.discarding = false
		return nil
	}
	if ev := d.decodeLine(line); ev != nil {
		return []Event{ev}
	}
	return nil
}

// decodeLine returns the event carried by one line, or nil when the line is
// blank, not a data record, the sentinel, or malformed.
func (d *Decoder) decodeLine(line []byte) Event {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return nil
	}

	payload := line[len(DataPrefix):]
	if string(bytes.TrimSpace(payload)) == DoneSentinel {
		d.done = true
		return nil
	}

	ev, err := Unmarshal(payload)
	if err != nil {
		d.skipped++
		d.logger.Warn().
			Err(err).
			Int("length", len(payload)).
			Msg("skipping malformed protocol line")
		return nil
	}
	return ev
}
