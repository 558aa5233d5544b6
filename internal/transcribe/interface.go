package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/video-stream/transcriber/internal/subtitle"
)

// Response formats requested from the backend.
const (
	FormatVerboseJSON = "verbose_json"
	FormatSRT         = "srt"
)

// ValidFormat reports whether format is a response format the backend
// client can request.
func ValidFormat(format string) bool {
	return format == FormatVerboseJSON || format == FormatSRT
}

// ErrMissingCredential is returned before any I/O when no API key is set.
var ErrMissingCredential = errors.New("transcription backend credential is not configured")

// Result is either ready-made subtitle text or a structured transcript,
// never both.
type Result struct {
	SubtitleText string
	Transcript   *subtitle.Transcript
}

// Structured reports whether the result carries segments that still need
// converting into subtitles.
func (r *Result) Structured() bool {
	return r.Transcript != nil
}

// BackendError is an error reported by the transcription API itself.
type BackendError struct {
	StatusCode int
	Type       string
	Code       string
	Param      string
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("transcription backend error (status %d, type %q, code %q): %s",
		e.StatusCode, e.Type, e.Code, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Transcriber is implemented by speech-to-text backends.
type Transcriber interface {
	// Transcribe submits the audio file at audioPath and returns the result.
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
	// Name returns the engine name
	Name() string
}
