package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/video-stream/transcriber/internal/pipeline"
	"github.com/video-stream/transcriber/internal/subtitle"
)

// fileField is the multipart form field carrying the media file.
const fileField = "file"

// Runner executes one transcription pipeline run.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Output, error)
}

type TranscribeHandler struct {
	runner Runner
	logger *zap.Logger
}

func NewTranscribeHandler(runner Runner, logger *zap.Logger) *TranscribeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscribeHandler{runner: runner, logger: logger.Named("transcribe")}
}

// Transcribe accepts a multipart upload and responds with the subtitle file.
// The file part is streamed straight into the pipeline without buffering the
// whole request.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	format, err := subtitle.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	in := pipeline.Input{Format: format}
	part, err := filePart(r)
	if err != nil {
		in.ReadErr = err
	} else if part != nil {
		defer part.Close()
		in.Filename = part.FileName()
		in.Body = part
	}

	out, err := h.runner.Run(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(out.Filename))
	w.Header().Set("X-Run-ID", out.RunID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Body); err != nil {
		h.logger.Warn("failed to write response", zap.String("run_id", out.RunID), zap.Error(err))
	}
}

func (h *TranscribeHandler) writeError(w http.ResponseWriter, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		h.logger.Error("unclassified pipeline error", zap.Error(err))
		pe = &pipeline.Error{Kind: pipeline.KindUnexpected, Err: err}
	}
	if pe.RunID != "" {
		w.Header().Set("X-Run-ID", pe.RunID)
	}
	jsonResponse(w, pe.Body(), pe.HTTPStatus())
}

// contentDisposition always quotes the filename. Names outside ASCII get an
// ASCII fallback plus an RFC 5987 filename* parameter.
func contentDisposition(filename string) string {
	var fallback strings.Builder
	ascii := true
	for _, r := range filename {
		switch {
		case r == '"' || r == '\\':
			fallback.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			ascii = false
			fallback.WriteByte('_')
		default:
			fallback.WriteRune(r)
		}
	}
	v := fmt.Sprintf(`attachment; filename="%s"`, fallback.String())
	if !ascii {
		v += "; filename*=UTF-8''" + encodeExtValue(filename)
	}
	return v
}

// encodeExtValue percent-encodes everything outside the RFC 5987 attr-char set.
func encodeExtValue(s string) string {
	const attrChars = "!#$&+-.^_`|~"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') || strings.IndexByte(attrChars, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// filePart returns the first part of the "file" field that carries a
// filename. A request that is not multipart, or has no such part, yields
// (nil, nil).
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == fileField && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}
