package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeScript installs an executable shell script that stands in for
// ffmpeg or ffprobe.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are shell scripts")
	}
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func newTestNormalizer(t *testing.T, ffmpeg, ffprobe string, timeout time.Duration) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(Options{
		FFmpegPath:  ffmpeg,
		FFprobePath: ffprobe,
		Encoding:    "mp3",
		Timeout:     timeout,
	}, zap.NewNop())
	require.NoError(t, err)
	return n
}

func paths(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mp4")
	require.NoError(t, os.WriteFile(in, []byte("not really media"), 0o644))
	return in, filepath.Join(dir, "output.mp3")
}

func TestNormalize_Success(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := writeScript(t, "ffmpeg", `echo "$@" > `+argsFile+`
for last; do :; done
printf 'ID3audio' > "$last"`)

	in, out := paths(t)
	n := newTestNormalizer(t, bin, "", time.Minute)

	size, err := n.Normalize(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := string(recorded)
	assert.Contains(t, args, "-vn")
	assert.Contains(t, args, "-ar 16000")
	assert.Contains(t, args, "-ac 1")
	assert.Contains(t, args, "-i "+in)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(args), out))
}

func TestNormalize_ProcessError(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `echo "input.mp4: Invalid data found when processing input" >&2
exit 1`)

	in, out := paths(t)
	n := newTestNormalizer(t, bin, "", time.Minute)

	_, err := n.Normalize(context.Background(), in, out)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, ReasonFailed, convErr.Reason)
	assert.Contains(t, convErr.Output, "Invalid data found")
	assert.Contains(t, err.Error(), "ffmpeg conversion failed")
}

func TestNormalize_TimeoutKillsProcess(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `exec sleep 30`)

	in, out := paths(t)
	n := newTestNormalizer(t, bin, "", 200*time.Millisecond)

	start := time.Now()
	_, err := n.Normalize(context.Background(), in, out)
	elapsed := time.Since(start)

	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, ReasonTimeout, convErr.Reason)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, elapsed, 10*time.Second, "subprocess should have been killed")
}

func TestNormalize_OutputMissing(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `exit 0`)

	in, out := paths(t)
	n := newTestNormalizer(t, bin, "", time.Minute)

	_, err := n.Normalize(context.Background(), in, out)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, ReasonOutputMissing, convErr.Reason)
	assert.Contains(t, err.Error(), "not found")
}

func TestNormalize_OutputEmpty(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `for last; do :; done
: > "$last"`)

	in, out := paths(t)
	n := newTestNormalizer(t, bin, "", time.Minute)

	_, err := n.Normalize(context.Background(), in, out)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, ReasonOutputMissing, convErr.Reason)
	assert.Contains(t, err.Error(), "empty")
}

func TestNormalize_ProbeRejectsSilentVideo(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	ffmpegBin := writeScript(t, "ffmpeg", `touch `+marker)
	probeBin := writeScript(t, "ffprobe", `cat <<'EOF'
{"format":{"format_name":"mov,mp4"},"streams":[{"index":0,"codec_type":"video","codec_name":"h264"}]}
EOF`)

	in, out := paths(t)
	n := newTestNormalizer(t, ffmpegBin, probeBin, time.Minute)

	_, err := n.Normalize(context.Background(), in, out)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, ReasonNoAudio, convErr.Reason)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "ffmpeg must not run without an audio stream")
}

func TestNormalize_ProbeAllowsAudio(t *testing.T) {
	ffmpegBin := writeScript(t, "ffmpeg", `for last; do :; done
printf 'ok' > "$last"`)
	probeBin := writeScript(t, "ffprobe", `cat <<'EOF'
{"format":{"format_name":"matroska"},"streams":[{"index":0,"codec_type":"video"},{"index":1,"codec_type":"audio","codec_name":"opus"}]}
EOF`)

	in, out := paths(t)
	n := newTestNormalizer(t, ffmpegBin, probeBin, time.Minute)

	size, err := n.Normalize(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestNormalize_ProbeFailureIsConversionFailure(t *testing.T) {
	ffmpegBin := writeScript(t, "ffmpeg", `exit 0`)
	probeBin := writeScript(t, "ffprobe", `echo "moov atom not found" >&2
exit 1`)

	in, out := paths(t)
	n := newTestNormalizer(t, ffmpegBin, probeBin, time.Minute)

	_, err := n.Normalize(context.Background(), in, out)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, ReasonFailed, convErr.Reason)
	assert.Contains(t, err.Error(), "moov atom not found")
}

func TestNormalize_ParentCanceled(t *testing.T) {
	bin := writeScript(t, "ffmpeg", `exec sleep 30`)

	in, out := paths(t)
	n := newTestNormalizer(t, bin, "", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Normalize(ctx, in, out)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, ReasonCanceled, convErr.Reason)
}

func TestNewNormalizer_RejectsUnknownEncoding(t *testing.T) {
	_, err := NewNormalizer(Options{Encoding: "aiff"}, nil)
	assert.Error(t, err)
}

func TestArgs_PerEncoding(t *testing.T) {
	for _, name := range []string{"mp3", "wav", "flac"} {
		n, err := NewNormalizer(Options{Encoding: name}, nil)
		require.NoError(t, err)
		args := strings.Join(n.Args("in", "out"+n.Ext()), " ")
		assert.Contains(t, args, "-ac 1 -ar 16000 -c:a")
		assert.True(t, strings.HasSuffix(args, "out."+name))
	}
}
