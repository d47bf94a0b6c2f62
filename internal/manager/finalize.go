package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/audiolibrelab/clipstage/internal/codec"
	"github.com/audiolibrelab/clipstage/internal/metadata"
)

// Finalize commits a staged recording to storage in the configured format
// and binds it to the staging record's button. It is all-or-nothing: on any
// failure the committed index and files are unchanged and the manager stays
// STAGED so the caller can retry or discard.
func (m *Manager) Finalize(st *Staging) (metadata.Recording, error) {
	if st == nil {
		return metadata.Recording{}, fmt.Errorf("%w: nil staging record", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCurrent(st); err != nil {
		return metadata.Recording{}, err
	}
	staged := *m.staged
	id := staged.ButtonID

	existing, exists := m.records[id]
	if exists && existing.ReadOnly {
		return metadata.Recording{}, m.fail("finalize", fmt.Errorf("%w: button %s", ErrReadOnly, id))
	}

	info, samples, err := codec.ReadWAV(staged.TempPath)
	if err != nil {
		return metadata.Recording{}, m.fail("finalize", ioError("read staged audio", err))
	}

	name := fmt.Sprintf("%s_%s_%s.wav", cleanFileName(m.cfg.MessageType), cleanFileName(id), uuid.NewString()[:8])
	finalPath := filepath.Join(m.cfg.StorageDir, name)
	partial := filepath.Join(m.cfg.StorageDir, "."+name+".partial")

	out := codec.Info{
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Format:     m.format,
		Frames:     info.Frames,
	}
	if err := codec.WriteWAV(partial, out, samples); err != nil {
		_ = removeIfExists(partial)
		return metadata.Recording{}, m.fail("finalize", ioError("write recording", err))
	}
	if err := os.Rename(partial, finalPath); err != nil {
		_ = removeIfExists(partial)
		return metadata.Recording{}, m.fail("finalize", ioError("commit recording", err))
	}

	now := m.now()
	rec := metadata.Recording{
		ButtonID:      id,
		MessageType:   m.cfg.MessageType,
		Name:          name,
		Path:          finalPath,
		Duration:      out.Duration(),
		SampleRate:    out.SampleRate,
		Channels:      out.Channels,
		Format:        m.format,
		DefaultSource: existing.DefaultSource,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if exists && !existing.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}

	if exists {
		if _, err := m.store.Backup(); err != nil {
			m.logger.Warn("metadata backup failed", "error", err)
		}
	}
	next := m.records.Clone()
	next[id] = rec
	if err := m.store.Save(next); err != nil {
		_ = removeIfExists(finalPath)
		return metadata.Recording{}, m.fail("finalize", ioError("save metadata", err))
	}
	m.records = next

	if err := removeIfExists(staged.TempPath); err != nil {
		m.logger.Warn("failed to remove staged audio", "path", staged.TempPath, "error", err)
	}
	if exists {
		m.removeSuperseded(id, existing.Path, finalPath)
	}

	m.staged = nil
	m.state = StateIdle
	m.metrics.RecordingFinalized()
	m.clearLastError()
	m.logger.Info("recording finalized",
		"button_id", id,
		"path", finalPath,
		"format", m.format,
		"duration", rec.Duration,
		"replaced", exists)
	return rec, nil
}

// removeSuperseded deletes the file a button pointed to before it was
// replaced by current. Default copies and files outside the storage
// directory are kept.
func (m *Manager) removeSuperseded(id, old, current string) {
	if old == "" || old == current || old == m.defaultPath(id) || !m.inStorage(old) {
		return
	}
	if err := removeIfExists(old); err != nil {
		m.logger.Warn("failed to remove superseded recording", "path", old, "error", err)
		return
	}
	m.logger.Debug("removed superseded recording", "path", old)
}
