package voicemsg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/lanphone/limits"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultDir is the default directory for received voice messages.
const DefaultDir = "audio_messages"

// PartialSuffix marks stored messages whose transfer ended early.
const PartialSuffix = ".partial"

// storedNameLayout prefixes stored file names with the receive time.
const storedNameLayout = "20060102_150405"

// maxNameAttempts bounds the numbered variants tried when messages with the
// same name arrive within one second.
const maxNameAttempts = 1000

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Store keeps voice messages in one directory of an afero filesystem.
type Store struct {
	fs  afero.Fs
	dir string

	mu           sync.Mutex
	timeProvider TimeProvider
}

// NewStore creates a store rooted at dir on fs. An empty dir selects DefaultDir.
func NewStore(fs afero.Fs, dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{
		fs:           fs,
		dir:          filepath.Clean(dir),
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (s *Store) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeProvider = tp
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Fs returns the underlying filesystem.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// ValidatePath checks if a file path is safe from directory traversal attacks.
// It returns the cleaned path or an error if the path contains traversal attempts.
func ValidatePath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(cleaned), "/") {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	return cleaned, nil
}

// SanitizeName reduces a peer-supplied name to a bare file name and
// validates it.
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if err := limits.ValidateFileName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Save writes exactly declared bytes from r into a new time-stamped file
// and returns the stored path and the number of bytes received. If r ends
// early the file is renamed with PartialSuffix and ErrIncomplete is returned.
func (s *Store) Save(name string, r io.Reader, declared int64) (string, int64, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return "", 0, err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create store directory: %w", err)
	}

	s.mu.Lock()
	now := s.timeProvider.Now()
	s.mu.Unlock()

	path, f, err := s.createUnique(now.Format(storedNameLayout) + "_" + clean)
	if err != nil {
		return "", 0, err
	}

	received, copyErr := io.CopyN(f, r, declared)
	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = err
	}

	logger := logrus.WithFields(logrus.Fields{
		"function": "Store.Save",
		"path":     path,
		"declared": declared,
		"received": received,
	})

	if copyErr == nil {
		logger.Info("Voice message stored")
		return path, received, nil
	}

	partial := path + PartialSuffix
	if err := s.fs.Rename(path, partial); err != nil {
		logger.WithError(err).Warn("Could not mark voice message as partial")
		partial = path
	}
	logger.WithError(copyErr).Warn("Voice message stored incomplete")
	if errors.Is(copyErr, io.EOF) {
		return partial, received, fmt.Errorf("%w: received %d of %d bytes", ErrIncomplete, received, declared)
	}
	return partial, received, fmt.Errorf("%w: received %d of %d bytes: %v", ErrIncomplete, received, declared, copyErr)
}

// createUnique creates name in the store, or name_1, name_2 and so on
// (before the extension) if it, or its partial variant, is taken.
func (s *Store) createUnique(name string) (string, afero.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)
		if exists, err := afero.Exists(s.fs, path+PartialSuffix); err != nil {
			return "", nil, fmt.Errorf("stat %s: %w", path, err)
		} else if exists {
			continue
		}
		f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("create %s: %w", path, err)
		}
		return path, f, nil
	}
	return "", nil, fmt.Errorf("create %s: %w", name, os.ErrExist)
}

// Create opens a new file named name in the store for writing, for example
// to record an outgoing message. It fails if the file exists.
func (s *Store) Create(name string) (afero.File, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return s.fs.OpenFile(filepath.Join(s.dir, clean), os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o644)
}

// Open opens a stored file for reading and returns its size.
func (s *Store) Open(name string) (afero.File, int64, error) {
	rel, err := ValidatePath(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := s.fs.Open(filepath.Join(s.dir, rel))
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", name)
	}
	return f, info.Size(), nil
}

// List returns the names of stored files in lexical (and therefore
// chronological) order.
func (s *Store) List() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
