package manager

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolibrelab/clipstage/internal/audio"
	"github.com/audiolibrelab/clipstage/internal/codec"
	"github.com/audiolibrelab/clipstage/internal/config"
	"github.com/audiolibrelab/clipstage/internal/metadata"
	"github.com/audiolibrelab/clipstage/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// 800 frames at 8 kHz: every capture ends on its own after 0.1s.
const testFrames = 800

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StorageDir = filepath.Join(dir, "storage")
	cfg.MetadataFile = filepath.Join(dir, "custom_message_metadata.yaml")
	cfg.Audio.Backend = "mock"
	cfg.Audio.SampleRate = 8000
	cfg.Audio.PeriodSize = 80
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, backend audio.Backend, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithBackend(backend),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTempDir(t.TempDir()),
	}
	m, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Cleanup() })
	return m
}

func record(t *testing.T, m *Manager, id string) *Staging {
	t.Helper()
	st, err := m.RecordToTemp(context.Background(), id, "")
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func commit(t *testing.T, m *Manager, id string) metadata.Recording {
	t.Helper()
	rec, err := m.Finalize(record(t, m, id))
	require.NoError(t, err)
	return rec
}

// metricValue reads a counter or gauge sample from reg. labels are name,
// value pairs.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for i := 0; i+1 < len(labels); i += 2 {
				if got[labels[i]] != labels[i+1] {
					continue next
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestRecordStageFinalize(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg, audio.NewMockBackend(audio.WithFrameLimit(testFrames)))

	st := record(t, m, "1")
	assert.Equal(t, StateStaged, m.State())
	assert.Equal(t, "1", st.ButtonID)
	assert.InDelta(t, 0.1, st.Duration, 0.001)
	assert.FileExists(t, st.TempPath)
	_, ok := m.RecordingInfo("1")
	assert.False(t, ok, "staged audio must not be committed")

	rec, err := m.Finalize(st)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.Nil(t, m.Staged())
	assert.NoFileExists(t, st.TempPath)
	assert.FileExists(t, rec.Path)
	assert.Equal(t, cfg.StorageDir, filepath.Dir(rec.Path))
	assert.True(t, strings.HasPrefix(rec.Name, "custom_message_1_"), rec.Name)
	assert.Equal(t, "custom_message", rec.MessageType)
	assert.Equal(t, codec.FormatPCM, rec.Format)
	assert.InDelta(t, 0.1, rec.Duration, 0.001)

	got, ok := m.RecordingInfo("1")
	require.True(t, ok)
	assert.Equal(t, rec, got)

	// A fresh manager sees the committed recording.
	reopened := newTestManager(t, cfg, audio.NewMockBackend())
	got, ok = reopened.RecordingInfo("1")
	require.True(t, ok)
	assert.Equal(t, rec.Path, got.Path)
}

func TestFinalizeEncodesConfiguredFormat(t *testing.T) {
	for _, f := range []codec.Format{codec.FormatPCM, codec.FormatALaw, codec.FormatULaw} {
		t.Run(string(f), func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Audio.Format = string(f)
			m := newTestManager(t, cfg, audio.NewMockBackend(audio.WithFrameLimit(testFrames), audio.WithTone(440, 0.5)))

			rec := commit(t, m, "1")
			assert.Equal(t, f, rec.Format)

			info, samples, err := codec.ReadWAV(rec.Path)
			require.NoError(t, err)
			assert.Equal(t, f, info.Format)
			assert.Equal(t, 8000, info.SampleRate)
			assert.Len(t, samples, testFrames)
		})
	}
}

func TestOccupiedIDsMatchFinalized(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumButtons = 4
	m := newTestManager(t, cfg, audio.NewMockBackend(audio.WithFrameLimit(testFrames)))

	commit(t, m, "3")
	commit(t, m, "1")
	require.NoError(t, m.Discard(record(t, m, "2")))
	commit(t, m, "1")

	assert.Equal(t, []string{"1", "3"}, m.OccupiedIDs())
	assert.Equal(t, []string{"2", "4"}, m.MissingIDs())
	assert.Len(t, m.ListRecordings(), 2)

	entries, err := os.ReadDir(cfg.StorageDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "superseded recording should be removed")
}

func TestImmediateStop(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())

	require.NoError(t, m.RecordThreaded("1", ""))
	assert.True(t, m.IsRecording())

	st, err := m.StopRecording()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Less(t, st.Duration, 0.5)
	assert.FileExists(t, st.TempPath)

	rec, err := m.Finalize(st)
	require.NoError(t, err)
	assert.FileExists(t, rec.Path)
}

func TestRecordWithStopAlreadySignalled(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := m.RecordToTemp(ctx, "b1", "greeting")
	require.NoError(t, err)

	_, err = m.Finalize(st)
	require.NoError(t, err)

	rec, ok := m.RecordingInfo("b1")
	require.True(t, ok)
	assert.InDelta(t, 0, rec.Duration, 0.05)
	assert.FileExists(t, rec.Path)
}

func TestSecondRecordingConflicts(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())

	require.NoError(t, m.RecordThreaded("1", ""))
	err := m.RecordThreaded("2", "")
	assert.ErrorIs(t, err, ErrRecordingActive)
	assert.ErrorIs(t, err, ErrStateConflict)

	st, err := m.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, "1", st.ButtonID)

	// STAGED blocks a new capture too.
	_, err = m.RecordToTemp(context.Background(), "2", "")
	assert.ErrorIs(t, err, ErrRecordingActive)
	require.NoError(t, m.Discard(st))
}

func TestStopRecordingWhenIdle(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())
	st, err := m.StopRecording()
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestRecordRejectsEmptyButtonID(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())
	_, err := m.RecordToTemp(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, StateIdle, m.State())
}

func TestRecordToTempStopsOnContext(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	st, err := m.RecordToTemp(ctx, "1", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "greeting", st.MessageTypeHint)
	assert.Equal(t, StateStaged, m.State())
}

func TestStopRecordingEndsSynchronousCapture(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())

	result := make(chan error, 1)
	go func() {
		_, err := m.RecordToTemp(context.Background(), "1", "")
		result <- err
	}()
	require.Eventually(t, m.IsRecording, time.Second, 5*time.Millisecond)

	st, err := m.StopRecording()
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NoError(t, <-result)
}

func TestMaxDurationStopsCapture(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.MaxDuration = 50 * time.Millisecond
	m := newTestManager(t, cfg, audio.NewMockBackend())

	require.NoError(t, m.RecordThreaded("1", ""))
	require.Eventually(t, func() bool { return m.State() == StateStaged }, 2*time.Second, 5*time.Millisecond)

	// Stopping after the automatic stop hands back the staged record.
	st, err := m.StopRecording()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "1", st.ButtonID)
}

func TestStartErrorReturnsToIdle(t *testing.T) {
	reg := prometheus.NewRegistry()
	rm, err := metrics.NewRecorderMetrics(reg)
	require.NoError(t, err)

	backend := audio.NewMockBackend(audio.WithFrameLimit(testFrames), audio.WithOpenError(audio.ErrDeviceBusy))
	m := newTestManager(t, testConfig(t), backend, WithMetrics(rm))

	_, err = m.RecordToTemp(context.Background(), "1", "")
	assert.ErrorIs(t, err, audio.ErrDeviceBusy)
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, m.State())
	assert.NotEmpty(t, m.LastError())
	assert.Equal(t, 1.0, metricValue(t, reg, "clipstage_capture_errors_total", "reason", "busy"))

	backend.SetOpenError(nil)
	record(t, m, "1")
	assert.Empty(t, m.LastError())
}

func TestFinalizeStaleStaging(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend(audio.WithFrameLimit(testFrames)))

	st := record(t, m, "1")
	_, err := m.Finalize(st)
	require.NoError(t, err)

	_, err = m.Finalize(st)
	assert.ErrorIs(t, err, ErrStaleStaging)
	assert.ErrorIs(t, m.Discard(st), ErrStaleStaging)

	_, err = m.Finalize(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDiscardKeepsMetadata(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg, audio.NewMockBackend(audio.WithFrameLimit(testFrames)))

	rec := commit(t, m, "1")
	before, err := os.ReadFile(cfg.MetadataFile)
	require.NoError(t, err)

	st := record(t, m, "1")
	require.NoError(t, m.Discard(st))
	assert.NoFileExists(t, st.TempPath)
	assert.Equal(t, StateIdle, m.State())

	after, err := os.ReadFile(cfg.MetadataFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	got, _ := m.RecordingInfo("1")
	assert.Equal(t, rec, got)
}

func TestFinalizeSaveFailureIsAllOrNothing(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg, audio.NewMockBackend(audio.WithFrameLimit(testFrames)))

	// A directory in place of the metadata file makes the final rename fail.
	require.NoError(t, os.MkdirAll(cfg.MetadataFile, 0o755))

	st := record(t, m, "1")
	_, err := m.Finalize(st)
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, StateStaged, m.State())
	assert.FileExists(t, st.TempPath)
	_, ok := m.RecordingInfo("1")
	assert.False(t, ok)

	entries, err := os.ReadDir(cfg.StorageDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no recording file may survive a failed commit")

	require.NoError(t, m.Discard(st))
	require.NoError(t, os.Remove(cfg.MetadataFile))
}

func TestCorruptMetadataStartsEmpty(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.MetadataFile, []byte("{{{ not yaml"), 0o644))

	m := newTestManager(t, cfg, audio.NewMockBackend(audio.WithFrameLimit(testFrames)))
	assert.Empty(t, m.ListRecordings())
	assert.NotEmpty(t, m.LastError())

	backups, err := m.store.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	commit(t, m, "1")
	assert.Equal(t, []string{"1"}, m.OccupiedIDs())
}

func TestNewFileID(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumButtons = 2
	m := newTestManager(t, cfg, audio.NewMockBackend(audio.WithFrameLimit(testFrames)))

	assert.Equal(t, "1", m.NewFileID())
	commit(t, m, "2")
	assert.Equal(t, "1", m.NewFileID())
	commit(t, m, "1")
	assert.Equal(t, "3", m.NewFileID(), "grows past num_buttons")
	assert.Empty(t, m.MissingIDs())
}

func TestNewestUsesUpdateTime(t *testing.T) {
	var tick atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Minute) }

	m := newTestManager(t, testConfig(t), audio.NewMockBackend(audio.WithFrameLimit(testFrames)), withClock(clock))
	_, ok := m.Newest()
	assert.False(t, ok)

	commit(t, m, "2")
	commit(t, m, "1")
	newest, ok := m.Newest()
	require.True(t, ok)
	assert.Equal(t, "1", newest.ButtonID)
}

func TestSoundLevelCallback(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend(audio.WithFrameLimit(testFrames), audio.WithTone(440, 0.8)))

	var calls atomic.Int32
	var loud atomic.Bool
	m.SetSoundLevelCallback(func(level float64) {
		calls.Add(1)
		if level > 0.5 {
			loud.Store(true)
		}
	})
	record(t, m, "1")
	assert.Positive(t, calls.Load())
	assert.True(t, loud.Load())

	m.SetSoundLevelCallback(nil)
	before := calls.Load()
	require.NoError(t, m.Discard(m.Staged()))
	record(t, m, "1")
	assert.Equal(t, before, calls.Load())
}

func TestMetricsTrackLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	rm, err := metrics.NewRecorderMetrics(reg)
	require.NoError(t, err)
	m := newTestManager(t, testConfig(t), audio.NewMockBackend(audio.WithFrameLimit(testFrames)), WithMetrics(rm))

	commit(t, m, "1")
	require.NoError(t, m.Discard(record(t, m, "2")))

	assert.Equal(t, 2.0, metricValue(t, reg, "clipstage_recordings_started_total"))
	assert.Equal(t, 1.0, metricValue(t, reg, "clipstage_recordings_finalized_total"))
	assert.Equal(t, 1.0, metricValue(t, reg, "clipstage_recordings_discarded_total"))
	assert.Equal(t, 0.0, metricValue(t, reg, "clipstage_recording_active"))
}

func TestCleanup(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())

	require.NoError(t, m.RecordThreaded("1", ""))
	require.NoError(t, m.Cleanup())
	assert.Equal(t, StateIdle, m.State())
	assert.Nil(t, m.Staged())
	require.NoError(t, m.Cleanup())

	_, err := m.RecordToTemp(context.Background(), "1", "")
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.ErrorIs(t, m.RecordThreaded("1", ""), ErrStateConflict)
}

func TestCleanupRacingRecord(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())

	started := make(chan error, 1)
	go func() { started <- m.RecordThreaded("1", "") }()
	require.NoError(t, m.Cleanup())
	err := <-started

	// Either the capture was collected by Cleanup or it was refused.
	if err == nil {
		assert.Equal(t, StateIdle, m.State())
	} else {
		assert.ErrorIs(t, err, ErrStateConflict)
	}
	assert.False(t, m.IsRecording())
}

func TestListByType(t *testing.T) {
	cfg := testConfig(t)
	legacy := `{"1": {"path": "/tmp/a.wav", "message_type": "custom_message", "timestamp": "2024-01-01T10:00:00"},
 "2": {"path": "/tmp/b.wav", "message_type": "greeting", "timestamp": "2024-01-02T10:00:00"},
 "3": {"path": "/tmp/c.wav", "message_type": "greeting", "timestamp": "2024-01-03T10:00:00"}}`
	require.NoError(t, os.WriteFile(cfg.MetadataFile, []byte(legacy), 0o644))
	m := newTestManager(t, cfg, audio.NewMockBackend())

	greetings := m.ListByType("greeting")
	require.Len(t, greetings, 2)
	assert.Equal(t, "2", greetings[0].ButtonID)

	newest, ok := m.NewestOfType("custom_message")
	require.True(t, ok)
	assert.Equal(t, "1", newest.ButtonID)
	_, ok = m.NewestOfType("away")
	assert.False(t, ok)
}

func TestCleanupRemovesOwnedTempDir(t *testing.T) {
	cfg := testConfig(t)
	m, err := New(cfg, WithBackend(audio.NewMockBackend(audio.WithFrameLimit(testFrames))),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	st := record(t, m, "1")
	require.NoError(t, m.Cleanup())
	assert.NoFileExists(t, st.TempPath)
	assert.NoDirExists(t, m.tempDir)
}

func TestNewRejectsInvalidFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.Format = "mp3"
	_, err := New(cfg, WithBackend(audio.NewMockBackend()))
	assert.ErrorIs(t, err, codec.ErrUnsupportedFormat)
}

func TestDevicesAreCached(t *testing.T) {
	m := newTestManager(t, testConfig(t), audio.NewMockBackend())
	devices, err := m.Devices()
	require.NoError(t, err)
	assert.NotEmpty(t, devices)
}

func TestCleanFileName(t *testing.T) {
	assert.Equal(t, "12", cleanFileName("12"))
	assert.Equal(t, "my_button", cleanFileName(" my button "))
	assert.Equal(t, "ab-c_d", cleanFileName("a/b-c_d"))
	assert.Equal(t, "id", cleanFileName("../"))
}
