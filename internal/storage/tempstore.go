package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxStemRunes = 64

var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
	".ts": true, ".mpg": true, ".mpeg": true,
	".mp3": true, ".wav": true, ".m4a": true, ".aac": true,
	".ogg": true, ".oga": true, ".opus": true, ".flac": true, ".wma": true,
}

// IsMediaFile reports whether name carries a known audio or video extension.
func IsMediaFile(name string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(name))]
}

// TempStore hands out unique paths inside one upload directory and deletes
// them again. The directory is created on first use.
type TempStore struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	ready bool
}

func NewTempStore(dir string, logger *zap.Logger) *TempStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TempStore{dir: dir, logger: logger.Named("tempstore")}
}

func (s *TempStore) Dir() string {
	return s.dir
}

func (s *TempStore) ensureDir() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	s.ready = true
	s.logger.Debug("upload dir ready", zap.String("dir", s.dir))
	return nil
}

// Reserve returns a fresh path of the form <dir>/<stem>_<uuid><ext>. Nothing
// is created on disk besides the upload directory itself.
func (s *TempStore) Reserve(stem, ext string) (string, error) {
	if err := s.ensureDir(); err != nil {
		return "", err
	}
	name := SafeStem(stem)
	if name == "" {
		name = "media"
	}
	if r := []rune(name); len(r) > maxStemRunes {
		name = string(r[:maxStemRunes])
	}
	return filepath.Join(s.dir, name+"_"+uuid.NewString()+ext), nil
}

// Save writes r to path, which must not already exist.
func (s *TempStore) Save(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return n, fmt.Errorf("write upload: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close upload: %w", closeErr)
	}
	return n, nil
}

// Release deletes every non-empty path and returns how many files were
// removed. Failures are logged and never returned.
func (s *TempStore) Release(paths ...string) int {
	removed := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
			s.logger.Debug("deleted temp file", zap.String("path", p))
		case errors.Is(err, os.ErrNotExist):
			s.logger.Debug("temp file was never written", zap.String("path", p))
		default:
			s.logger.Error("failed to delete temp file", zap.String("path", p), zap.Error(err))
		}
	}
	return removed
}

// SafeStem returns the base name of an untrusted filename without its
// extension, reduced to characters that are safe in paths and headers.
func SafeStem(filename string) string {
	base := filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r < 0x20 || r == 0x7f:
		case strings.ContainsRune(`"\/:*?<>|;`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(strings.TrimSpace(b.String()), ".")
}
