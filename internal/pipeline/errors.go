package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/video-stream/transcriber/internal/ffmpeg"
	"github.com/video-stream/transcriber/internal/subtitle"
	"github.com/video-stream/transcriber/internal/transcribe"
)

// Kind classifies a failed run.
type Kind string

const (
	KindNoFile                  Kind = "no_file_provided"
	KindMissingCredential       Kind = "missing_credential"
	KindUploadFailed            Kind = "upload_failed"
	KindConversionFailed        Kind = "conversion_failed"
	KindTranscriptionBackend    Kind = "transcription_backend_error"
	KindTranscriptionFailed     Kind = "transcription_failed"
	KindInvalidTranscriptFormat Kind = "invalid_transcript_format"
	KindUnexpected              Kind = "unexpected_error"
)

// Error is the classified failure of a run. It is the only error type Run
// returns.
type Error struct {
	Kind  Kind
	Stage Stage
	RunID string

	// Reason is set for conversion failures (timeout, output_missing, ...).
	Reason ffmpeg.Reason
	// Backend is set for errors reported by the transcription API.
	Backend *transcribe.BackendError

	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s during %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNoFile:
		return http.StatusBadRequest
	case KindUploadFailed:
		var maxErr *http.MaxBytesError
		if errors.As(e.Err, &maxErr) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case KindTranscriptionBackend:
		if e.Backend != nil && e.Backend.StatusCode >= 400 {
			return e.Backend.StatusCode
		}
		return http.StatusBadGateway
	case KindTranscriptionFailed, KindInvalidTranscriptFormat:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload returned to the caller.
func (e *Error) Body() map[string]any {
	body := map[string]any{"kind": e.Kind}
	if e.RunID != "" {
		body["run_id"] = e.RunID
	}
	switch e.Kind {
	case KindNoFile:
		body["error"] = "No file uploaded."
	case KindMissingCredential:
		body["error"] = "Server configuration error."
	case KindUploadFailed:
		body["error"] = "File upload error: " + errString(e.Err)
	case KindConversionFailed:
		body["error"] = "Failed to process media file."
		body["reason"] = e.Reason
		body["details"] = errString(e.Err)
	case KindTranscriptionBackend:
		backend := e.Backend
		if backend == nil {
			backend = &transcribe.BackendError{Message: errString(e.Err)}
		}
		body["error"] = "Transcription backend error: " + backend.Message
		body["type"] = backend.Type
		body["code"] = backend.Code
	case KindTranscriptionFailed:
		body["error"] = "Transcription request failed."
		body["details"] = errString(e.Err)
	case KindInvalidTranscriptFormat:
		body["error"] = "Transcription backend returned an unexpected format."
		body["details"] = errString(e.Err)
	default:
		body["error"] = "An unexpected server error occurred."
	}
	return body
}

// classify turns a stage error into an *Error.
func classify(stage Stage, err error) *Error {
	var (
		convErr    *ffmpeg.ConversionError
		backendErr *transcribe.BackendError
	)
	e := &Error{Stage: stage, Err: err}
	switch {
	case errors.Is(err, transcribe.ErrMissingCredential):
		e.Kind = KindMissingCredential
	case errors.As(err, &convErr):
		e.Kind = KindConversionFailed
		e.Reason = convErr.Reason
	case errors.As(err, &backendErr):
		e.Kind = KindTranscriptionBackend
		e.Backend = backendErr
	case errors.Is(err, subtitle.ErrInvalidTranscriptFormat):
		e.Kind = KindInvalidTranscriptFormat
	case stage == StageTranscribing:
		e.Kind = KindTranscriptionFailed
	default:
		e.Kind = KindUnexpected
	}
	return e
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
