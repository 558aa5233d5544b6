package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	// SampleRate and Channels describe the audio the transcription backend expects.
	SampleRate = 16000
	Channels   = 1

	DefaultTimeout = 5 * time.Minute

	// killGrace bounds how long Wait blocks on output pipes after the
	// process has been killed.
	killGrace = 5 * time.Second
	// maxDiagnostic caps the ffmpeg output carried in errors.
	maxDiagnostic = 4096
)

// Encoding is one canonical output encoding for normalized audio.
type Encoding struct {
	Name  string
	Ext   string
	codec []string
}

var encodings = map[string]Encoding{
	"mp3":  {Name: "mp3", Ext: ".mp3", codec: []string{"-c:a", "libmp3lame", "-b:a", "64k"}},
	"wav":  {Name: "wav", Ext: ".wav", codec: []string{"-c:a", "pcm_s16le"}},
	"flac": {Name: "flac", Ext: ".flac", codec: []string{"-c:a", "flac", "-sample_fmt", "s16"}},
}

// LookupEncoding returns the named encoding (mp3, wav or flac).
func LookupEncoding(name string) (Encoding, bool) {
	enc, ok := encodings[strings.ToLower(strings.TrimSpace(name))]
	return enc, ok
}

// Reason classifies why a conversion failed.
type Reason string

const (
	ReasonFailed        Reason = "failed"
	ReasonTimeout       Reason = "timeout"
	ReasonOutputMissing Reason = "output_missing"
	ReasonNoAudio       Reason = "no_audio_stream"
	ReasonCanceled      Reason = "canceled"
)

// ConversionError is returned for every failed normalization.
type ConversionError struct {
	Reason Reason
	Output string // diagnostic output from ffmpeg or ffprobe, may be empty
	Err    error
}

func (e *ConversionError) Error() string {
	msg := "ffmpeg conversion failed (" + string(e.Reason) + ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Options configures a Normalizer.
type Options struct {
	FFmpegPath  string
	FFprobePath string // empty skips the audio stream probe
	Encoding    string
	Timeout     time.Duration
}

// Normalizer converts arbitrary media into mono 16 kHz audio with ffmpeg.
type Normalizer struct {
	ffmpegPath  string
	ffprobePath string
	encoding    Encoding
	timeout     time.Duration
	logger      *zap.Logger
}

func NewNormalizer(opts Options, logger *zap.Logger) (*Normalizer, error) {
	enc, ok := LookupEncoding(opts.Encoding)
	if !ok {
		return nil, fmt.Errorf("unsupported audio encoding %q", opts.Encoding)
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		ffmpegPath:  opts.FFmpegPath,
		ffprobePath: opts.FFprobePath,
		encoding:    enc,
		timeout:     opts.Timeout,
		logger:      logger.Named("ffmpeg"),
	}, nil
}

// Ext is the file extension of the normalized output, including the dot.
func (n *Normalizer) Ext() string {
	return n.encoding.Ext
}

// Args returns the ffmpeg arguments used to normalize input into output.
func (n *Normalizer) Args(input, output string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-vn", // no video
		"-sn",
		"-dn",
		"-ac", fmt.Sprint(Channels),
		"-ar", fmt.Sprint(SampleRate),
	}
	args = append(args, n.encoding.codec...)
	return append(args, output)
}

// Normalize transcodes input into output and returns the size of the result.
// The probe and the transcode share one deadline; when it expires the
// subprocess is killed. Every failure is a *ConversionError.
func (n *Normalizer) Normalize(ctx context.Context, input, output string) (int64, error) {
	runCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	start := time.Now()

	if n.ffprobePath != "" {
		info, err := Probe(runCtx, n.ffprobePath, input)
		if err != nil {
			return 0, n.classify(ctx, runCtx, err, "")
		}
		if info.AudioTracks == 0 {
			return 0, &ConversionError{Reason: ReasonNoAudio, Err: errors.New("input has no audio stream")}
		}
		n.logger.Debug("probed input",
			zap.String("container", info.Container),
			zap.String("audio_codec", info.AudioCodec),
			zap.Int("video_tracks", info.VideoTracks))
	}

	args := n.Args(input, output)
	cmd := exec.CommandContext(runCtx, n.ffmpegPath, args...) //nolint:gosec
	cmd.WaitDelay = killGrace
	n.logger.Debug("ffmpeg spawned", zap.String("cmd", n.ffmpegPath+" "+strings.Join(args, " ")))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, n.classify(ctx, runCtx, err, string(out))
	}

	info, err := os.Stat(output)
	if err != nil {
		return 0, &ConversionError{Reason: ReasonOutputMissing, Err: fmt.Errorf("output file not found: %w", err)}
	}
	if info.Size() == 0 {
		return 0, &ConversionError{Reason: ReasonOutputMissing, Err: errors.New("output file is empty")}
	}

	n.logger.Info("conversion finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("size", humanize.Bytes(uint64(info.Size()))))
	return info.Size(), nil
}

func (n *Normalizer) classify(parent, runCtx context.Context, err error, output string) error {
	output = tail(strings.TrimSpace(output), maxDiagnostic)
	switch {
	case parent.Err() != nil:
		return &ConversionError{Reason: ReasonCanceled, Output: output, Err: parent.Err()}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return &ConversionError{
			Reason: ReasonTimeout,
			Output: output,
			Err:    fmt.Errorf("exceeded %s: %w", n.timeout, context.DeadlineExceeded),
		}
	default:
		return &ConversionError{Reason: ReasonFailed, Output: output, Err: err}
	}
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
