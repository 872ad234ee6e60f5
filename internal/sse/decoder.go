package sse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/deepgram/kbquery/internal/logger"
)

const readBufferSize = 32 * 1024

// ErrLineTooLong is returned when a line exceeds the decoder's limit
var ErrLineTooLong = errors.New("sse: line exceeds maximum length")

// TransportError reports that the underlying stream failed mid-read
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// LineDecoder turns successive byte buffers into complete text lines.
// Bytes are held until a newline arrives, so characters split across reads
// are never decoded half-way. A trailing fragment without a newline is
// dropped at EOF.
type LineDecoder struct {
	r       io.Reader
	buf     []byte
	pending []string
	maxLine int
	readBuf []byte
	err     error
}

// NewLineDecoder reads from r. maxLine <= 0 disables the length guard.
func NewLineDecoder(r io.Reader, maxLine int) *LineDecoder {
	return &LineDecoder{
		r:       r,
		maxLine: maxLine,
		readBuf: make([]byte, readBufferSize),
	}
}

// Feed appends one buffer and returns every line it completed.
func (d *LineDecoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, decodeLine(d.buf[:idx]))
		d.buf = d.buf[idx+1:]
	}

	// Compact so the residual fragment does not pin a large backing array
	if len(d.buf) == 0 {
		d.buf = nil
	} else if cap(d.buf) > 4*len(d.buf) && cap(d.buf) > readBufferSize {
		d.buf = append([]byte(nil), d.buf...)
	}

	return lines
}

// Residual returns the number of buffered bytes not yet terminated by a newline
func (d *LineDecoder) Residual() int {
	return len(d.buf)
}

// Next returns the next complete line. It returns io.EOF once the stream has
// ended cleanly and a *TransportError when the read itself failed.
func (d *LineDecoder) Next() (string, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return "", d.err
		}

		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.pending = append(d.pending, d.guard(d.Feed(d.readBuf[:n]))...)
			if d.err == nil && d.maxLine > 0 && len(d.buf) > d.maxLine {
				d.err = &TransportError{Err: ErrLineTooLong}
				d.buf = nil
			}
		}

		if err != nil && d.err == nil {
			d.err = d.finish(err)
		}
	}

	line := d.pending[0]
	d.pending = d.pending[1:]
	return line, nil
}

// guard keeps the lines before the first one over maxLine and fails the
// decoder at that line.
func (d *LineDecoder) guard(lines []string) []string {
	if d.maxLine <= 0 {
		return lines
	}
	for i, line := range lines {
		if len(line) > d.maxLine {
			d.err = &TransportError{Err: ErrLineTooLong}
			d.buf = nil
			return lines[:i]
		}
	}
	return lines
}

func (d *LineDecoder) finish(err error) error {
	if !errors.Is(err, io.EOF) {
		return &TransportError{Err: err}
	}

	if len(d.buf) > 0 {
		log := logger.For(logger.STREAM)
		log.Debug().
			Int("bytes", len(d.buf)).
			Msg("Discarding unterminated trailing fragment at end of stream")
		d.buf = nil
	}
	return io.EOF
}

func decodeLine(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	return strings.ToValidUTF8(string(raw), "�")
}
