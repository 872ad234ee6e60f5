package sse

import (
	"errors"
	"io"
	"strings"

	"github.com/deepgram/kbquery/internal/domain/query/models"
	"github.com/deepgram/kbquery/internal/logger"
)

// LineSource yields complete lines; LineDecoder is the production source
type LineSource interface {
	Next() (string, error)
}

// Frame is one logical message: an advisory event name and its data payload
type Frame struct {
	Event string
	Data  string
}

// Stats counts what the parser has seen so far
type Stats struct {
	Frames  int
	Skipped int
	Unknown int
}

// Parser groups lines into frames and decodes each frame's payload
type Parser struct {
	lines   LineSource
	current Frame
	hasData bool
	stats   Stats
}

func NewParser(lines LineSource) *Parser {
	return &Parser{lines: lines}
}

// NextFrame returns the next frame carrying a data line. Blank lines end a
// frame; a second data line or an event line after the data ends the previous
// frame early, since payloads are never split across lines in this protocol.
func (p *Parser) NextFrame() (Frame, error) {
	for {
		line, err := p.lines.Next()
		if err != nil {
			if errors.Is(err, io.EOF) && p.hasData {
				return p.take(), nil
			}
			return Frame{}, err
		}

		if strings.TrimSpace(line) == "" {
			if p.hasData {
				return p.take(), nil
			}
			p.current = Frame{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if after, ok := strings.CutPrefix(line, "event:"); ok {
			name := strings.TrimSpace(after)
			if p.hasData {
				out := p.take()
				p.current.Event = name
				return out, nil
			}
			p.current.Event = name
			continue
		}

		if after, ok := strings.CutPrefix(line, "data:"); ok {
			data := strings.TrimSpace(after)
			if p.hasData {
				out := p.take()
				p.current = Frame{Data: data}
				p.hasData = true
				return out, nil
			}
			p.current.Data = data
			p.hasData = true
			continue
		}

		// id:, retry: and anything else carry nothing this client uses
	}
}

// Next returns the next decodable event. Frames whose payload fails to decode
// are logged and skipped; only stream-level errors are returned.
func (p *Parser) Next() (models.Event, error) {
	for {
		frame, err := p.NextFrame()
		if err != nil {
			return nil, err
		}
		p.stats.Frames++

		ev, err := models.DecodeEvent([]byte(frame.Data))
		if err != nil {
			p.stats.Skipped++
			log := logger.For(logger.STREAM)
			log.Debug().
				Err(err).
				Str("event", frame.Event).
				Str("data", frame.Data).
				Msg("Skipping malformed frame")
			continue
		}

		if _, ok := ev.(models.UnknownEvent); ok {
			p.stats.Unknown++
		}
		return ev, nil
	}
}

func (p *Parser) Stats() Stats {
	return p.stats
}

func (p *Parser) take() Frame {
	out := p.current
	p.current = Frame{}
	p.hasData = false
	return out
}
