package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/clipstage/internal/codec"
	"github.com/audiolibrelab/clipstage/internal/metadata"
)

// SetReadOnly marks a committed recording as protected or unprotected.
// Protected recordings cannot be replaced by Finalize, AssignDefault or
// RestoreDefault.
func (m *Manager) SetReadOnly(id string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: button %s", ErrNotFound, id)
	}
	if rec.ReadOnly == readOnly {
		return nil
	}

	next := m.records.Clone()
	rec.ReadOnly = readOnly
	next[id] = rec
	if err := m.store.Save(next); err != nil {
		return m.fail("set read-only", ioError("save metadata", err))
	}
	m.records = next
	m.logger.Info("read-only flag changed", "button_id", id, "read_only", readOnly)
	return nil
}

// AssignDefault binds the WAV file at source to button id as its default
// clip. The file is copied into storage; later RestoreDefault calls bring it
// back after the button was overwritten.
func (m *Manager) AssignDefault(id, source string) error {
	id = strings.TrimSpace(id)
	if id == "" || source == "" {
		return fmt.Errorf("%w: button id and source are required", ErrInvalidArgument)
	}
	src, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !fileExists(src) {
		return fmt.Errorf("%w: default source %s", ErrNotFound, src)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.records[id]
	if exists && existing.ReadOnly {
		return m.fail("assign default", fmt.Errorf("%w: button %s", ErrReadOnly, id))
	}
	if err := m.installDefault(id, src, src, existing, exists); err != nil {
		return m.fail("assign default", err)
	}
	m.logger.Info("default assigned", "button_id", id, "source", src)
	return nil
}

// RestoreDefault points button id back at its default clip, copying the
// default source into storage again. Restoring a button that already plays
// its default changes nothing.
func (m *Manager) RestoreDefault(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: button %s", ErrNotFound, id)
	}
	if rec.ReadOnly {
		return m.fail("restore default", fmt.Errorf("%w: button %s", ErrReadOnly, id))
	}
	if rec.DefaultSource == "" {
		return fmt.Errorf("%w: no default assigned to button %s", ErrNotFound, id)
	}

	dst := m.defaultPath(id)
	if rec.IsDefault && rec.Path == dst && fileExists(dst) {
		m.logger.Debug("button already holds its default", "button_id", id)
		return nil
	}

	from := rec.DefaultSource
	if !fileExists(from) {
		if !fileExists(dst) {
			return fmt.Errorf("%w: default source %s", ErrNotFound, rec.DefaultSource)
		}
		m.logger.Warn("default source missing, using stored copy", "button_id", id, "source", rec.DefaultSource)
		from = dst
	}
	if err := m.installDefault(id, rec.DefaultSource, from, rec, true); err != nil {
		return m.fail("restore default", err)
	}
	m.logger.Info("default restored", "button_id", id)
	return nil
}

// installDefault copies from into the button's default slot and commits a
// default recording whose source is origin. Callers hold mu.
func (m *Manager) installDefault(id, origin, from string, existing metadata.Recording, exists bool) error {
	info, _, err := codec.ReadWAV(from)
	if err != nil {
		return fmt.Errorf("default source %s: %w", from, err)
	}

	dst := m.defaultPath(id)
	var commit, undo func()
	if from != dst {
		commit, undo, err = m.stageDefaultCopy(from, dst)
		if err != nil {
			return err
		}
	}

	now := m.now()
	rec := metadata.Recording{
		ButtonID:      id,
		MessageType:   m.cfg.MessageType,
		Name:          filepath.Base(dst),
		Path:          dst,
		Duration:      info.Duration(),
		SampleRate:    info.SampleRate,
		Channels:      info.Channels,
		Format:        info.Format,
		IsDefault:     true,
		DefaultSource: origin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if exists && !existing.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}

	if exists && !existing.IsDefault {
		if _, err := m.store.Backup(); err != nil {
			m.logger.Warn("metadata backup failed", "error", err)
		}
	}
	next := m.records.Clone()
	next[id] = rec
	if err := m.store.Save(next); err != nil {
		if undo != nil {
			undo()
		}
		return ioError("save metadata", err)
	}
	if commit != nil {
		commit()
	}
	m.records = next

	// The button's own file may be the default source; it must survive.
	if exists && existing.Path != origin {
		m.removeSuperseded(id, existing.Path, dst)
	}
	return nil
}

// stageDefaultCopy copies from over dst, keeping the previous dst aside.
// commit drops the kept file; undo puts it back.
func (m *Manager) stageDefaultCopy(from, dst string) (commit, undo func(), err error) {
	dir, base := filepath.Dir(dst), filepath.Base(dst)
	partial := filepath.Join(dir, "."+base+".partial")
	prev := filepath.Join(dir, "."+base+".prev")

	if err := copyFile(from, partial); err != nil {
		_ = removeIfExists(partial)
		return nil, nil, ioError("copy default", err)
	}
	hadPrev := fileExists(dst)
	if hadPrev {
		if err := os.Rename(dst, prev); err != nil {
			_ = removeIfExists(partial)
			return nil, nil, ioError("move previous default", err)
		}
	}
	if err := os.Rename(partial, dst); err != nil {
		_ = removeIfExists(partial)
		if hadPrev {
			_ = os.Rename(prev, dst)
		}
		return nil, nil, ioError("commit default", err)
	}

	commit = func() {
		if hadPrev {
			if err := removeIfExists(prev); err != nil {
				m.logger.Warn("failed to remove previous default", "path", prev, "error", err)
			}
		}
	}
	undo = func() {
		_ = removeIfExists(dst)
		if hadPrev {
			_ = os.Rename(prev, dst)
		}
	}
	return commit, undo, nil
}

func (m *Manager) defaultPath(id string) string {
	name := fmt.Sprintf("default_%s_%s.wav", cleanFileName(m.cfg.MessageType), cleanFileName(id))
	return filepath.Join(m.cfg.StorageDir, name)
}
