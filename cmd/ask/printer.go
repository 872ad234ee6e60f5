package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/deepgram/kbquery/internal/domain/query/models"
	"github.com/deepgram/kbquery/internal/services/query"
	"github.com/fatih/color"
)

// printer renders controller updates as a scrolling transcript. The answer is
// written incrementally; a replaced answer is printed again in full.
type printer struct {
	out     io.Writer
	status  string
	printed string
	stalled bool

	dim    *color.Color
	warn   *color.Color
	failed *color.Color
	cite   *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:    out,
		dim:    color.New(color.Faint),
		warn:   color.New(color.FgYellow),
		failed: color.New(color.FgRed),
		cite:   color.New(color.FgCyan),
	}
}

func (p *printer) update(u query.Update) {
	snap := u.Snapshot

	if snap.Status != p.status && snap.Outcome == query.OutcomeStreaming && p.printed == "" {
		p.dim.Fprintf(p.out, "%s\n", snap.Status)
	}
	p.status = snap.Status

	if snap.Stalled && !p.stalled {
		p.warn.Fprintln(p.out, "\n(waiting for the server...)")
	}
	p.stalled = snap.Stalled

	p.writeAnswer(snap.DisplayText)

	switch snap.Outcome {
	case query.OutcomeCompleted:
		fmt.Fprintln(p.out)
		p.writeCitations(snap.Citations)
	case query.OutcomeFailed:
		if p.printed != "" {
			fmt.Fprintln(p.out)
		}
		p.failed.Fprintf(p.out, "Error: %s\n", snap.ErrorMessage)
	}
}

func (p *printer) writeAnswer(text string) {
	if text == p.printed {
		return
	}
	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.out, text[len(p.printed):])
	} else {
		fmt.Fprint(p.out, "\n\n"+text)
	}
	p.printed = text
}

func (p *printer) writeCitations(citations []models.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Fprintln(p.out)
	for _, c := range citations {
		p.cite.Fprintf(p.out, "[%s]", c.ID)
		fmt.Fprintf(p.out, " %s", c.DocumentName)
		if c.Kind == models.CitationImage {
			fmt.Fprint(p.out, " (image)")
		}
		fmt.Fprintln(p.out)
	}
}
