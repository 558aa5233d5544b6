// Package subtitle turns transcription segments into SRT or WebVTT tracks.
package subtitle

import (
	"fmt"
	"strings"
)

// Format is an output subtitle format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

// ParseFormat accepts "srt", "vtt" or an empty string (SRT).
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatSRT:
		return FormatSRT, nil
	case FormatVTT:
		return FormatVTT, nil
	default:
		return "", fmt.Errorf("unsupported subtitle format %q", s)
	}
}

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// ContentType returns the response content type for the format.
func (f Format) ContentType() string {
	if f == FormatVTT {
		return "text/vtt; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Segment is one span of recognized speech, offsets in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Cue is one subtitle entry. Index is 1-based.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// Document is an ordered subtitle track.
type Document struct {
	Cues []Cue
}

// FromSegments builds a document with one cue per segment, in order. Cues
// are numbered 1..n over the given slice, so segments dropped before this
// call leave no gaps in the numbering.
func FromSegments(segments []Segment) *Document {
	doc := &Document{Cues: make([]Cue, 0, len(segments))}
	for _, seg := range segments {
		doc.Cues = append(doc.Cues, Cue{
			Index: len(doc.Cues) + 1,
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	return doc
}

// SRT serializes the document as SubRip text. Each cue block ends with a
// newline and blocks are separated by a blank line.
func (d *Document) SRT() string {
	return d.render(',')
}

// VTT serializes the document as WebVTT.
func (d *Document) VTT() string {
	return "WEBVTT\n\n" + d.render('.')
}

// Render serializes the document in the given format.
func (d *Document) Render(f Format) string {
	if f == FormatVTT {
		return d.VTT()
	}
	return d.SRT()
}

func (d *Document) render(sep byte) string {
	blocks := make([]string, len(d.Cues))
	for i, cue := range d.Cues {
		blocks[i] = fmt.Sprintf("%d\n%s --> %s\n%s\n",
			cue.Index, formatTimestamp(cue.Start, sep), formatTimestamp(cue.End, sep), cue.Text)
	}
	return strings.Join(blocks, "\n")
}
