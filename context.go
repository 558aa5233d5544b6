package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/video-stream/transcriber/internal/config"
	"github.com/video-stream/transcriber/internal/ffmpeg"
	"github.com/video-stream/transcriber/internal/logging"
	"github.com/video-stream/transcriber/internal/pipeline"
	"github.com/video-stream/transcriber/internal/runs"
	"github.com/video-stream/transcriber/internal/storage"
	"github.com/video-stream/transcriber/internal/transcribe"
)

// commandContext lazily loads configuration shared by every subcommand.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		// A missing .env file is fine; the environment may be set directly.
		_ = godotenv.Load()

		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
}

// services is the wired pipeline plus the optional run ledger.
type services struct {
	pipeline *pipeline.Orchestrator
	runs     *runs.Store
}

func (s *services) Close() {
	if s.runs != nil {
		s.runs.Close()
	}
}

func buildServices(cfg *config.Config, logger *zap.Logger) (*services, error) {
	normalizer, err := ffmpeg.NewNormalizer(ffmpeg.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Encoding:    cfg.AudioEncoding,
		Timeout:     cfg.ConversionTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	transcriber, err := transcribe.NewOpenAIClient(transcribe.Options{
		APIKey:   cfg.OpenAIAPIKey,
		BaseURL:  cfg.OpenAIBaseURL,
		Model:    cfg.TranscriptionModel,
		Format:   cfg.TranscriptionFormat,
		Language: cfg.TranscriptionLang,
		Timeout:  cfg.TranscriptionTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	svc := &services{}
	var recorder runs.Recorder = runs.Nop{}
	if cfg.RunsDBPath != "" {
		store, err := runs.NewSQLite(cfg.RunsDBPath)
		if err != nil {
			return nil, fmt.Errorf("open runs db: %w", err)
		}
		svc.runs = store
		recorder = store
	}

	store := storage.NewTempStore(cfg.UploadDir, logger)
	svc.pipeline = pipeline.New(cfg.HasCredential, store, normalizer, transcriber, recorder, logger)
	return svc, nil
}
