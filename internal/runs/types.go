package runs

import (
	"context"
	"time"
)

// Status is the terminal state of a pipeline run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is the metadata kept for one transcription request. Transcript text
// is never stored.
type Run struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	Status       Status     `json:"status"`
	Stage        string     `json:"stage"` // last stage reached
	ErrorKind    string     `json:"error_kind,omitempty"`
	Error        string     `json:"error,omitempty"`
	UploadBytes  int64      `json:"upload_bytes"`
	AudioBytes   int64      `json:"audio_bytes"`
	Cues         int        `json:"cues"`
	Skipped      int        `json:"skipped_segments"`
	NormalizeMs  int64      `json:"normalize_ms"`
	TranscribeMs int64      `json:"transcribe_ms"`
	TotalMs      int64      `json:"total_ms"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// Nop discards runs. It is used when no ledger database is configured.
type Nop struct{}

func (Nop) Record(context.Context, *Run) error { return nil }
