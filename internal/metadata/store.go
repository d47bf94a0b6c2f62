package metadata

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/clipstage/internal/codec"
)

// DocumentVersion is written into every saved metadata file.
const DocumentVersion = 1

const backupTimeLayout = "20060102T150405.000"

// ErrCorruptMetadata is returned by Load when the file exists but cannot be
// decoded. The accompanying Records are empty and usable.
var ErrCorruptMetadata = errors.New("corrupt metadata")

type document struct {
	Version     int     `yaml:"version"`
	MessageType string  `yaml:"message_type,omitempty"`
	Recordings  Records `yaml:"recordings"`
}

// legacyRecording is the flat per-button entry older installs wrote as JSON.
type legacyRecording struct {
	Name        string  `yaml:"name"`
	Duration    float64 `yaml:"duration"`
	Path        string  `yaml:"path"`
	Timestamp   string  `yaml:"timestamp"`
	MessageType string  `yaml:"message_type"`
	ReadOnly    bool    `yaml:"read_only"`
	IsDefault   bool    `yaml:"is_default"`
}

// Store reads and writes the metadata file of one scope.
type Store struct {
	path        string
	messageType string
	retention   int
	logger      *slog.Logger
}

// NewStore returns a store for the metadata file at path. retention bounds the
// number of backups kept; zero or less keeps every backup.
func NewStore(path, messageType string, retention int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:        path,
		messageType: messageType,
		retention:   retention,
		logger:      logger.With("component", "metadata"),
	}
}

// Path returns the metadata file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the metadata file. A missing file yields empty records. A file
// that cannot be decoded is copied aside as a backup and yields empty records
// together with ErrCorruptMetadata.
func (s *Store) Load() (Records, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("metadata file not found, starting empty", "path", s.path)
		return Records{}, nil
	}
	if err != nil {
		return Records{}, fmt.Errorf("failed to read metadata %s: %w", s.path, err)
	}

	records, decodeErr := decode(data)
	if decodeErr == nil {
		s.logger.Debug("metadata loaded", "path", s.path, "recordings", len(records))
		return records, nil
	}

	backup, err := s.Backup()
	if err != nil {
		s.logger.Warn("failed to back up corrupt metadata", "path", s.path, "error", err)
	}
	return Records{}, fmt.Errorf("%w: %s: %v (preserved as %s)", ErrCorruptMetadata, s.path, decodeErr, backup)
}

func decode(data []byte) (Records, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Records{}, nil
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version > 0 || doc.Recordings != nil {
		if doc.Recordings == nil {
			doc.Recordings = Records{}
		}
		for id, rec := range doc.Recordings {
			if rec.ButtonID == "" {
				rec.ButtonID = id
				doc.Recordings[id] = rec
			}
		}
		return doc.Recordings, nil
	}

	// Flat legacy layout: {"<id>": {...}, ...}
	var legacy map[string]legacyRecording
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}
	records := make(Records, len(legacy))
	for id, old := range legacy {
		ts := parseLegacyTime(old.Timestamp)
		records[id] = Recording{
			ButtonID:    id,
			MessageType: old.MessageType,
			Name:        old.Name,
			Path:        old.Path,
			Duration:    old.Duration,
			Format:      codec.FormatPCM,
			ReadOnly:    old.ReadOnly,
			IsDefault:   old.IsDefault,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
	}
	return records, nil
}

func parseLegacyTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Save writes records atomically: a temp file in the same directory is
// fsynced and renamed over the metadata file.
func (s *Store) Save(records Records) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	doc := document{
		Version:     DocumentVersion,
		MessageType: s.messageType,
		Recordings:  records,
	}
	if doc.Recordings == nil {
		doc.Recordings = Records{}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create metadata temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metadata temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace metadata: %w", err)
	}
	success = true

	s.logger.Debug("metadata saved", "path", s.path, "recordings", len(doc.Recordings))
	return nil
}

// Backup copies the current metadata file to a timestamped sibling and prunes
// old backups beyond the retention limit. It returns the backup path, or an
// empty path when there is no file to back up.
func (s *Store) Backup() (string, error) {
	src, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open metadata for backup: %w", err)
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.%s.bak", s.path, time.Now().Format(backupTimeLayout))
	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to close backup: %w", err)
	}

	s.logger.Info("metadata backed up", "backup", backupPath)
	s.prune()
	return backupPath, nil
}

// Backups lists existing backups, oldest first.
func (s *Store) Backups() ([]string, error) {
	matches, err := filepath.Glob(s.path + ".*.bak")
	if err != nil {
		return nil, err
	}
	// the timestamp layout sorts lexically
	sort.Strings(matches)
	return matches, nil
}

func (s *Store) prune() {
	if s.retention <= 0 {
		return
	}
	backups, err := s.Backups()
	if err != nil || len(backups) <= s.retention {
		return
	}
	for _, old := range backups[:len(backups)-s.retention] {
		if err := os.Remove(old); err != nil {
			s.logger.Warn("failed to prune backup", "backup", old, "error", err)
		}
	}
}
