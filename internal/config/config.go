package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/video-stream/transcriber/internal/transcribe"
)

type Config struct {
	Port      int    `yaml:"port"`
	UploadDir string `yaml:"upload_dir"`

	OpenAIAPIKey         string        `yaml:"openai_api_key"`
	OpenAIBaseURL        string        `yaml:"openai_base_url"`
	TranscriptionModel   string        `yaml:"transcription_model"`
	TranscriptionFormat  string        `yaml:"transcription_format"`
	TranscriptionLang    string        `yaml:"transcription_language"`
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout"`

	FFmpegPath        string        `yaml:"ffmpeg_path"`
	FFprobePath       string        `yaml:"ffprobe_path"`
	AudioEncoding     string        `yaml:"audio_encoding"`
	ConversionTimeout time.Duration `yaml:"conversion_timeout"`

	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	JWTSecret      string        `yaml:"jwt_secret"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
	RunsDBPath     string        `yaml:"runs_db_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:                 5174,
		UploadDir:            filepath.Join(os.TempDir(), "transcribe-uploads"),
		TranscriptionModel:   "whisper-1",
		TranscriptionFormat:  transcribe.FormatVerboseJSON,
		TranscriptionTimeout: 10 * time.Minute,
		FFmpegPath:           "ffmpeg",
		FFprobePath:          "ffprobe",
		AudioEncoding:        "mp3",
		ConversionTimeout:    5 * time.Minute,
		MaxUploadBytes:       1 << 30,
		CORSOrigins:          []string{"*"},
		RateWindow:           time.Minute,
		LogLevel:             "info",
		LogFormat:            "console",
	}
}

// Load builds the configuration from defaults, an optional YAML file at path
// and finally the process environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error
	if v := os.Getenv("PORT"); v != "" {
		if cfg.Port, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
	}
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.TranscriptionModel = getEnv("TRANSCRIPTION_MODEL", cfg.TranscriptionModel)
	cfg.TranscriptionFormat = getEnv("TRANSCRIPTION_FORMAT", cfg.TranscriptionFormat)
	cfg.TranscriptionLang = getEnv("TRANSCRIPTION_LANGUAGE", cfg.TranscriptionLang)
	cfg.FFmpegPath = getEnv("FFMPEG_PATH", cfg.FFmpegPath)
	// FFPROBE_PATH may be set to an empty string to skip the audio probe.
	if v, ok := os.LookupEnv("FFPROBE_PATH"); ok {
		cfg.FFprobePath = strings.TrimSpace(v)
	}
	cfg.AudioEncoding = getEnv("AUDIO_ENCODING", cfg.AudioEncoding)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.RunsDBPath = getEnv("RUNS_DB_PATH", cfg.RunsDBPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if cfg.ConversionTimeout, err = getDuration("CONVERSION_TIMEOUT", cfg.ConversionTimeout); err != nil {
		return err
	}
	if cfg.TranscriptionTimeout, err = getDuration("TRANSCRIPTION_TIMEOUT", cfg.TranscriptionTimeout); err != nil {
		return err
	}
	if cfg.RateWindow, err = getDuration("RATE_WINDOW", cfg.RateWindow); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if cfg.RateLimit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("RATE_LIMIT: %w", err)
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if cfg.MaxUploadBytes, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
	}

	// CORS origins: comma-separated list or "*" (default)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		cfg.CORSOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	return nil
}

// Validate reports settings that would make every request fail. A missing
// OpenAI key is deliberately not checked here: requests report it themselves.
func (c *Config) Validate() error {
	if !transcribe.ValidFormat(c.TranscriptionFormat) {
		return fmt.Errorf("transcription_format: unsupported value %q", c.TranscriptionFormat)
	}
	switch c.AudioEncoding {
	case "mp3", "wav", "flac":
	default:
		return fmt.Errorf("audio_encoding: unsupported value %q", c.AudioEncoding)
	}
	if c.ConversionTimeout <= 0 {
		return fmt.Errorf("conversion_timeout must be positive")
	}
	if c.TranscriptionTimeout <= 0 {
		return fmt.Errorf("transcription_timeout must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return fmt.Errorf("rate_window must be positive when rate_limit is set")
	}
	if strings.TrimSpace(c.UploadDir) == "" {
		return fmt.Errorf("upload_dir is required")
	}
	return nil
}

// HasCredential reports whether the transcription backend key is configured.
func (c *Config) HasCredential() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
