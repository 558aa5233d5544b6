package subtitle

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrInvalidTranscriptFormat means a structured transcript did not carry a
// segments array.
var ErrInvalidTranscriptFormat = errors.New("invalid transcript format")

// Transcript is a structured transcription: ordered segments plus metadata.
type Transcript struct {
	Language string
	Duration float64
	Text     string
	Segments []Segment
	// Skipped counts malformed segments that were dropped while decoding.
	Skipped int
}

// DecodeTranscript validates a verbose JSON transcription body. The body must
// be an object with a "segments" array, otherwise ErrInvalidTranscriptFormat
// is returned. Individual segments without numeric start/end or string text
// are dropped and logged with their position; they never fail the decode.
func DecodeTranscript(data []byte, logger *zap.Logger) (*Transcript, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil || envelope == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidTranscriptFormat)
	}

	rawSegments, ok := envelope["segments"]
	if !ok {
		return nil, fmt.Errorf("%w: segments property is missing", ErrInvalidTranscriptFormat)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawSegments, &items); err != nil || items == nil {
		return nil, fmt.Errorf("%w: segments property is not an array", ErrInvalidTranscriptFormat)
	}

	t := &Transcript{Segments: make([]Segment, 0, len(items))}
	// Metadata is informational only; a wrong type leaves the zero value.
	_ = json.Unmarshal(envelope["language"], &t.Language)
	_ = json.Unmarshal(envelope["duration"], &t.Duration)
	_ = json.Unmarshal(envelope["text"], &t.Text)

	for i, item := range items {
		seg, reason := decodeSegment(item)
		if reason != "" {
			t.Skipped++
			logger.Warn("skipping malformed segment",
				zap.Int("index", i),
				zap.String("reason", reason),
				zap.ByteString("segment", truncate(item, 200)))
			continue
		}
		t.Segments = append(t.Segments, seg)
	}
	return t, nil
}

func decodeSegment(raw json.RawMessage) (Segment, string) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Segment{}, "not an object"
	}
	start, ok := fields["start"].(float64)
	if !ok {
		return Segment{}, "start is not a number"
	}
	end, ok := fields["end"].(float64)
	if !ok {
		return Segment{}, "end is not a number"
	}
	text, ok := fields["text"].(string)
	if !ok {
		return Segment{}, "text is not a string"
	}
	return Segment{Start: start, End: end, Text: text}, ""
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
