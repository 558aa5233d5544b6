package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/video-stream/transcriber/internal/pipeline"
	"github.com/video-stream/transcriber/internal/subtitle"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var output string
	var formatFlag string

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe a local media file without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := subtitle.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()

			svc, err := buildServices(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			out, err := svc.pipeline.Run(cmd.Context(), pipeline.Input{
				Filename: filepath.Base(args[0]),
				Body:     f,
				Format:   format,
			})
			if err != nil {
				return describeError(err)
			}

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(out.Body)
				return err
			}
			if output == "" {
				output = filepath.Join(filepath.Dir(args[0]), out.Filename)
			}
			if err := os.WriteFile(output, out.Body, 0o644); err != nil {
				return fmt.Errorf("write subtitles: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d cues (%s) to %s\n", out.Cues, humanize.Bytes(uint64(len(out.Body))), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path, or - for stdout (default: next to the input)")
	cmd.Flags().StringVar(&formatFlag, "format", "srt", "Subtitle format: srt or vtt")
	return cmd
}

// describeError renders a pipeline failure the way the HTTP API reports it.
func describeError(err error) error {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		return err
	}
	body := pe.Body()
	msg := fmt.Sprintf("%v (%s)", body["error"], pe.Kind)
	if details, ok := body["details"].(string); ok && details != "" {
		msg += ": " + details
	}
	return errors.New(msg)
}
