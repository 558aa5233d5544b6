package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/video-stream/transcriber/internal/subtitle"
)

const (
	defaultModel   = "whisper-1"
	defaultTimeout = 10 * time.Minute
)

// Options configures an OpenAIClient.
type Options struct {
	APIKey   string
	BaseURL  string // empty uses the public API
	Model    string
	Format   string // FormatVerboseJSON or FormatSRT
	Language string // empty lets the backend detect it
	Timeout  time.Duration

	HTTPClient *http.Client
}

// OpenAIClient uses the OpenAI audio transcription API. Requests are made
// exactly once; SDK retries are disabled.
type OpenAIClient struct {
	client   openai.Client
	apiKey   string
	model    string
	format   string
	language string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewOpenAIClient(opts Options, logger *zap.Logger) (*OpenAIClient, error) {
	if opts.Format == "" {
		opts.Format = FormatVerboseJSON
	}
	if !ValidFormat(opts.Format) {
		return nil, fmt.Errorf("unsupported response format %q", opts.Format)
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &OpenAIClient{
		client:   openai.NewClient(reqOpts...),
		apiKey:   opts.APIKey,
		model:    opts.Model,
		format:   opts.Format,
		language: opts.Language,
		timeout:  opts.Timeout,
		logger:   logger.Named("openai"),
	}, nil
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

// Transcribe streams the audio file to the backend. A missing key is
// reported before the file is opened.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, ErrMissingCredential
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(c.model),
	}
	if c.language != "" && c.language != "auto" {
		params.Language = openai.String(c.language)
	}

	start := time.Now()
	c.logger.Info("sending transcription request",
		zap.String("model", c.model),
		zap.String("format", c.format))

	var result *Result
	if c.format == FormatSRT {
		params.ResponseFormat = openai.AudioResponseFormatSRT
		var text string
		if err := c.client.Post(ctx, "audio/transcriptions", params, &text); err != nil {
			return nil, c.wrapError(ctx, err)
		}
		result = &Result{SubtitleText: text}
	} else {
		params.ResponseFormat = openai.AudioResponseFormatVerboseJSON
		tr, err := c.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return nil, c.wrapError(ctx, err)
		}
		transcript, err := subtitle.DecodeTranscript([]byte(tr.RawJSON()), c.logger)
		if err != nil {
			return nil, err
		}
		result = &Result{Transcript: transcript}
	}

	c.logger.Info("transcription complete", zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (c *OpenAIClient) wrapError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return newBackendError(apiErr)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("transcription request timed out after %s: %w", c.timeout, err)
	}
	return fmt.Errorf("transcription request: %w", err)
}

func newBackendError(apiErr *openai.Error) *BackendError {
	be := &BackendError{
		StatusCode: apiErr.StatusCode,
		Type:       apiErr.Type,
		Code:       apiErr.Code,
		Param:      apiErr.Param,
		Message:    apiErr.Message,
		Err:        apiErr,
	}
	// Fall back to the raw {"error": {...}} envelope when the SDK left the
	// fields empty.
	if be.Type == "" && be.Code == "" && be.Message == "" {
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Param   any    `json:"param"`
				Code    any    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal([]byte(apiErr.RawJSON()), &envelope) == nil {
			be.Message = envelope.Error.Message
			be.Type = envelope.Error.Type
			be.Param = stringify(envelope.Error.Param)
			be.Code = stringify(envelope.Error.Code)
		}
	}
	if be.Message == "" {
		be.Message = http.StatusText(be.StatusCode)
	}
	return be
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
