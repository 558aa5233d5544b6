package subtitle

import (
	"regexp"
	"strconv"
	"strings"
)

var timestampRe = regexp.MustCompile(`(\d{2,}:\d{2}:\d{2}[.,]\d{3})\s*-->\s*(\d{2,}:\d{2}:\d{2}[.,]\d{3})`)

// Parse reads SRT or WebVTT text into a document. Cues are renumbered in
// reading order; cue settings after the end timestamp are ignored.
func Parse(content string) *Document {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	doc := &Document{}
	var current *Cue

	flush := func() {
		if current != nil && current.Text != "" {
			doc.Cues = append(doc.Cues, *current)
		}
		current = nil
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)

		if line == "WEBVTT" || line == "" {
			flush()
			continue
		}

		if matches := timestampRe.FindStringSubmatch(line); len(matches) == 3 {
			flush()
			current = &Cue{
				Index: len(doc.Cues) + 1,
				Start: parseTimestamp(matches[1]),
				End:   parseTimestamp(matches[2]),
			}
			continue
		}

		// Cue numbers sit on their own line before the timestamp.
		if _, err := strconv.Atoi(line); err == nil && current == nil {
			continue
		}

		if current != nil {
			if current.Text != "" {
				current.Text += "\n"
			}
			current.Text += line
		}
	}
	flush()

	return doc
}
