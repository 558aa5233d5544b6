package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/video-stream/transcriber/internal/runs"
	"github.com/video-stream/transcriber/internal/storage"
	"github.com/video-stream/transcriber/internal/subtitle"
	"github.com/video-stream/transcriber/internal/transcribe"
)

// Stage is a step of the request state machine.
type Stage string

const (
	StageReceived     Stage = "received"
	StageStored       Stage = "stored"
	StageNormalizing  Stage = "normalizing"
	StageTranscribing Stage = "transcribing"
	StageConverting   Stage = "converting"
	StageResponding   Stage = "responding"
	StageCleaned      Stage = "cleaned"
)

const recordTimeout = 5 * time.Second

// Store hands out and deletes temporary files.
type Store interface {
	Reserve(stem, ext string) (string, error)
	Save(path string, r io.Reader) (int64, error)
	Release(paths ...string) int
}

// Normalizer converts an uploaded media file into backend-ready audio.
type Normalizer interface {
	Ext() string
	Normalize(ctx context.Context, input, output string) (int64, error)
}

// Input is one uploaded media file.
type Input struct {
	Filename string
	// Body is nil when the request carried no file.
	Body   io.Reader
	Format subtitle.Format
	// ReadErr is set when the request body failed before a file was found,
	// for example when the size limit was hit in the form headers.
	ReadErr error
}

// Output is the finished subtitle document.
type Output struct {
	RunID       string
	Filename    string
	ContentType string
	Body        []byte
	Cues        int
	Skipped     int
}

// Orchestrator drives an upload through storage, normalization,
// transcription and subtitle conversion. Runs are independent and may
// execute concurrently.
type Orchestrator struct {
	credential  func() bool
	store       Store
	normalizer  Normalizer
	transcriber transcribe.Transcriber
	recorder    runs.Recorder
	logger      *zap.Logger
}

// New builds an Orchestrator. hasCredential is consulted before any file is
// stored; a nil recorder discards run metadata.
func New(hasCredential func() bool, store Store, normalizer Normalizer, transcriber transcribe.Transcriber, recorder runs.Recorder, logger *zap.Logger) *Orchestrator {
	if recorder == nil {
		recorder = runs.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if hasCredential == nil {
		hasCredential = func() bool { return true }
	}
	return &Orchestrator{
		credential:  hasCredential,
		store:       store,
		normalizer:  normalizer,
		transcriber: transcriber,
		recorder:    recorder,
		logger:      logger.Named("pipeline"),
	}
}

// Run processes one upload. Every temporary file created for the run is
// deleted before Run returns, whatever the outcome. A non-nil error is
// always a *Error.
func (o *Orchestrator) Run(ctx context.Context, in Input) (out *Output, err error) {
	start := time.Now()
	run := &runs.Run{
		ID:        uuid.NewString(),
		Filename:  displayName(in.Filename),
		Stage:     string(StageReceived),
		CreatedAt: start.UTC(),
	}
	logger := o.logger.With(zap.String("run_id", run.ID), zap.String("filename", run.Filename))

	var temp []string
	defer func() {
		removed := o.store.Release(temp...)
		logger.Debug("temp files released", zap.Int("created", len(temp)), zap.Int("removed", removed))
		o.finish(ctx, run, start, out, err, logger)
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", zap.Any("panic", r), zap.Stack("stack"))
			out = nil
			err = &Error{Kind: KindUnexpected, Stage: Stage(run.Stage), RunID: run.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	fail := func(e *Error) (*Output, error) {
		e.RunID = run.ID
		return nil, e
	}

	if in.ReadErr != nil {
		return fail(&Error{Kind: KindUploadFailed, Stage: StageReceived, Err: in.ReadErr})
	}
	if in.Body == nil {
		return fail(&Error{Kind: KindNoFile, Stage: StageReceived})
	}
	if !o.credential() {
		return fail(&Error{Kind: KindMissingCredential, Stage: StageReceived, Err: transcribe.ErrMissingCredential})
	}
	format := in.Format
	if format == "" {
		format = subtitle.FormatSRT
	}
	stem := storage.SafeStem(in.Filename)

	// ffmpeg sniffs the container, so an unknown extension is dropped
	// rather than carried into the path.
	ext := ""
	if storage.IsMediaFile(run.Filename) {
		ext = strings.ToLower(filepath.Ext(run.Filename))
	}
	uploadPath, rerr := o.store.Reserve(stem, ext)
	if rerr != nil {
		return fail(classify(StageReceived, rerr))
	}
	temp = append(temp, uploadPath)
	n, serr := o.store.Save(uploadPath, in.Body)
	run.UploadBytes = n
	if serr != nil {
		return fail(&Error{Kind: KindUploadFailed, Stage: StageReceived, Err: serr})
	}
	if n == 0 {
		return fail(&Error{Kind: KindNoFile, Stage: StageReceived, Err: fmt.Errorf("uploaded file is empty")})
	}
	run.Stage = string(StageStored)
	logger.Info("upload stored", zap.String("size", humanize.Bytes(uint64(n))))

	run.Stage = string(StageNormalizing)
	audioPath, rerr := o.store.Reserve(stem+"_audio", o.normalizer.Ext())
	if rerr != nil {
		return fail(classify(StageNormalizing, rerr))
	}
	temp = append(temp, audioPath)
	stageStart := time.Now()
	audioBytes, nerr := o.normalizer.Normalize(ctx, uploadPath, audioPath)
	run.NormalizeMs = time.Since(stageStart).Milliseconds()
	run.AudioBytes = audioBytes
	if nerr != nil {
		return fail(classify(StageNormalizing, nerr))
	}

	run.Stage = string(StageTranscribing)
	stageStart = time.Now()
	result, terr := o.transcriber.Transcribe(ctx, audioPath)
	run.TranscribeMs = time.Since(stageStart).Milliseconds()
	if terr != nil {
		return fail(classify(StageTranscribing, terr))
	}
	if result == nil {
		return fail(&Error{Kind: KindUnexpected, Stage: StageTranscribing, Err: fmt.Errorf("%s returned no result", o.transcriber.Name())})
	}

	var body string
	var cues int
	switch {
	case result.Structured():
		run.Stage = string(StageConverting)
		doc := subtitle.FromSegments(result.Transcript.Segments)
		body = doc.Render(format)
		cues = len(doc.Cues)
		run.Skipped = result.Transcript.Skipped
	case format == subtitle.FormatSRT:
		body = result.SubtitleText
		cues = len(subtitle.Parse(body).Cues)
	default:
		run.Stage = string(StageConverting)
		doc := subtitle.Parse(result.SubtitleText)
		body = doc.Render(format)
		cues = len(doc.Cues)
	}
	run.Cues = cues

	run.Stage = string(StageResponding)
	name := stem
	if name == "" {
		name = "transcript"
	}
	return &Output{
		RunID:       run.ID,
		Filename:    name + format.Ext(),
		ContentType: format.ContentType(),
		Body:        []byte(body),
		Cues:        cues,
		Skipped:     run.Skipped,
	}, nil
}

// displayName strips any client-supplied directory from filename.
func displayName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	return filename
}

// finish logs the outcome and records run metadata. Recording uses a
// context detached from the request so a disconnected client still leaves
// a ledger entry.
func (o *Orchestrator) finish(ctx context.Context, run *runs.Run, start time.Time, out *Output, err error, logger *zap.Logger) {
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.TotalMs = time.Since(start).Milliseconds()

	fields := []zap.Field{
		zap.String("stage", run.Stage),
		zap.Int64("normalize_ms", run.NormalizeMs),
		zap.Int64("transcribe_ms", run.TranscribeMs),
		zap.Int64("total_ms", run.TotalMs),
	}
	if err != nil {
		run.Status = runs.StatusFailed
		run.Error = err.Error()
		if pe, ok := err.(*Error); ok {
			run.ErrorKind = string(pe.Kind)
		}
		logger.Warn("pipeline failed", append(fields, zap.String("kind", run.ErrorKind), zap.Error(err))...)
	} else {
		run.Status = runs.StatusSucceeded
		run.Stage = string(StageCleaned)
		logger.Info("subtitles ready", append(fields, zap.Int("cues", out.Cues), zap.Int("skipped", out.Skipped))...)
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if rerr := o.recorder.Record(recCtx, run); rerr != nil {
		logger.Error("failed to record run", zap.Error(rerr))
	}
}
