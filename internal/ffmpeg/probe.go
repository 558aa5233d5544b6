package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"` // video, audio, subtitle
	SampleRate string `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// MediaInfo summarizes what the transcoder needs to know about an input.
type MediaInfo struct {
	Container   string
	Duration    string
	AudioCodec  string
	AudioTracks int
	VideoTracks int
}

// Probe runs ffprobe against filePath.
func Probe(ctx context.Context, ffprobeBinary, filePath string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, ffprobeBinary, //nolint:gosec
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(ee.Stderr))
		}
		return nil, fmt.Errorf("ffprobe: %w: %s", err, stderr)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("ffprobe output: %w", err)
	}

	info := &MediaInfo{
		Container: result.Format.FormatName,
		Duration:  result.Format.Duration,
	}
	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			info.VideoTracks++
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
			info.AudioTracks++
		}
	}
	return info, nil
}
