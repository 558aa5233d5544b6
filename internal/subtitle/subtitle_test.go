package subtitle

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const helloWorld = `{
	"task": "transcribe",
	"language": "english",
	"duration": 3.0,
	"text": "Hello world",
	"segments": [
		{"id": 0, "start": 0, "end": 1.5, "text": "Hello"},
		{"id": 1, "start": 1.5, "end": 3.0, "text": "world"}
	]
}`

func convert(t *testing.T, body string) string {
	t.Helper()
	tr, err := DecodeTranscript([]byte(body), zap.NewNop())
	require.NoError(t, err)
	return FromSegments(tr.Segments).SRT()
}

func TestConvert_RoundTrip(t *testing.T) {
	want := "1\n00:00:00,000 --> 00:00:01,500\nHello\n\n" +
		"2\n00:00:01,500 --> 00:00:03,000\nworld\n"
	assert.Equal(t, want, convert(t, helloWorld))
}

func TestConvert_Idempotent(t *testing.T) {
	assert.Equal(t, convert(t, helloWorld), convert(t, helloWorld))
}

func TestDecodeTranscript_Metadata(t *testing.T) {
	tr, err := DecodeTranscript([]byte(helloWorld), nil)
	require.NoError(t, err)
	assert.Equal(t, "english", tr.Language)
	assert.Equal(t, 3.0, tr.Duration)
	assert.Equal(t, "Hello world", tr.Text)
	assert.Len(t, tr.Segments, 2)
	assert.Zero(t, tr.Skipped)
}

func TestDecodeTranscript_SkipsMalformedSegment(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	body := `{"segments": [
		{"start": 0, "end": 1, "text": "first"},
		{"start": 1, "end": 2},
		{"start": "2", "end": 3, "text": "string start"},
		null,
		{"start": 3, "end": 4, "text": "  last  "}
	]}`

	tr, err := DecodeTranscript([]byte(body), zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, 3, tr.Skipped)
	require.Len(t, tr.Segments, 2)

	skipped := logs.FilterMessage("skipping malformed segment").All()
	require.Len(t, skipped, 3)
	var indexes []int64
	for _, entry := range skipped {
		indexes = append(indexes, entry.ContextMap()["index"].(int64))
	}
	assert.Equal(t, []int64{1, 2, 3}, indexes)

	// Cues are renumbered over the kept segments.
	want := "1\n00:00:00,000 --> 00:00:01,000\nfirst\n\n" +
		"2\n00:00:03,000 --> 00:00:04,000\nlast\n"
	assert.Equal(t, want, FromSegments(tr.Segments).SRT())
}

func TestDecodeTranscript_SecondSegmentMissingText(t *testing.T) {
	body := `{"segments": [
		{"start": 0, "end": 1.5, "text": "Hello"},
		{"start": 1.5, "end": 3.0}
	]}`
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,500\nHello\n", convert(t, body))
}

func TestDecodeTranscript_InvalidFormat(t *testing.T) {
	bodies := map[string]string{
		"missing segments":   `{"text": "hi"}`,
		"segments not array": `{"segments": {"start": 0}}`,
		"segments null":      `{"segments": null}`,
		"not an object":      `["a", "b"]`,
		"not json":           `1\n00:00:00,000 --> 00:00:01,000\nhi`,
		"null":               `null`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTranscript([]byte(body), nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTranscriptFormat))
		})
	}
}

func TestDecodeTranscript_EmptySegments(t *testing.T) {
	tr, err := DecodeTranscript([]byte(`{"segments": []}`), nil)
	require.NoError(t, err)
	assert.Empty(t, tr.Segments)
	assert.Equal(t, "", FromSegments(tr.Segments).SRT())
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{2.3, "00:00:02,300"},
		{1.23, "00:00:01,230"},
		{59.9999, "00:01:00,000"},
		{3661.123, "01:01:01,123"},
		{90000, "25:00:00,000"},
		{-4, "00:00:00,000"},
		{math.NaN(), "00:00:00,000"},
		{math.Inf(1), "00:00:00,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTimestamp(tt.in), "FormatTimestamp(%v)", tt.in)
	}
}

func TestDocument_VTT(t *testing.T) {
	doc := FromSegments([]Segment{{Start: 0, End: 1.25, Text: "Hi"}})
	assert.Equal(t, "WEBVTT\n\n1\n00:00:00.000 --> 00:00:01.250\nHi\n", doc.VTT())
	assert.Equal(t, doc.VTT(), doc.Render(FormatVTT))
	assert.Equal(t, doc.SRT(), doc.Render(FormatSRT))
}

func TestParse_SRT(t *testing.T) {
	srt := "1\r\n00:00:00,000 --> 00:00:01,500\r\nHello\r\nthere\r\n\r\n2\r\n00:00:01,500 --> 00:00:03,000\r\nworld\r\n"
	doc := Parse(srt)
	require.Len(t, doc.Cues, 2)
	assert.Equal(t, Cue{Index: 1, Start: 0, End: 1.5, Text: "Hello\nthere"}, doc.Cues[0])
	assert.Equal(t, Cue{Index: 2, Start: 1.5, End: 3, Text: "world"}, doc.Cues[1])

	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,500\nHello\nthere\n\n2\n00:00:01,500 --> 00:00:03,000\nworld\n", doc.SRT())
}

func TestParse_VTTRoundTrip(t *testing.T) {
	doc := FromSegments([]Segment{{Start: 0, End: 1, Text: "a"}, {Start: 1, End: 2, Text: "b"}})
	assert.Equal(t, doc.Cues, Parse(doc.VTT()).Cues)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatSRT, f)

	f, err = ParseFormat("VTT")
	require.NoError(t, err)
	assert.Equal(t, FormatVTT, f)
	assert.Equal(t, ".vtt", f.Ext())
	assert.Equal(t, "text/vtt; charset=utf-8", f.ContentType())
	assert.Equal(t, "text/plain; charset=utf-8", FormatSRT.ContentType())

	_, err = ParseFormat("ass")
	assert.Error(t, err)
}
