package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DoneSentinel is the data payload that marks the normal end of an upstream stream.
const DoneSentinel = "[DONE]"

// MaxLineSize is the longest line LineReader keeps. Longer lines are
// discarded and reported as Oversized.
const MaxLineSize = 1024 * 1024

// Line is one meaningful line of a provider stream.
type Line struct {
	// Data is the payload that followed "data:".
	Data string

	// Done is set when the payload was the [DONE] sentinel.
	Done bool

	// Oversized is set when a line exceeded MaxLineSize and was dropped.
	Oversized bool
}

// LineReader applies the line-oriented framing used by OpenAI-compatible
// providers: every "data:" line is a standalone payload, blank lines are
// ignored, and any other line (comments, "event:", provider keep-alives) is
// skipped without error.
type LineReader struct {
	br *bufio.Reader
}

// NewLineReader returns a LineReader over src.
func NewLineReader(src io.Reader) *LineReader {
	return &LineReader{br: bufio.NewReaderSize(src, 64*1024)}
}

// Next returns the next data line. It returns io.EOF once the source is
// exhausted; any other error comes from the underlying reader.
func (r *LineReader) Next() (Line, error) {
	for {
		text, oversized, err := r.readLine()
		if err != nil {
			return Line{}, err
		}
		if oversized {
			return Line{Oversized: true}, nil
		}

		raw := strings.TrimSpace(text)
		if raw == "" {
			continue
		}

		field, value := splitField(raw)
		if field != "data" {
			continue
		}

		if value == DoneSentinel {
			return Line{Done: true}, nil
		}
		return Line{Data: value}, nil
	}
}

// readLine reads through the next newline. Once a line grows past
// MaxLineSize the rest of it is consumed and discarded.
func (r *LineReader) readLine() (string, bool, error) {
	var buf []byte
	oversized := false

	for {
		frag, err := r.br.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(frag) > MaxLineSize {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, frag...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if oversized || len(buf) > 0 {
				return string(buf), oversized, nil
			}
			return "", false, io.EOF
		case err != nil:
			return "", false, err
		}
		return string(buf), oversized, nil
	}
}
