package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteMetrics(t *testing.T) {
	showMetrics = true
	defer func() {
		showMetrics = false
		registry = nil
	}()

	rm, err := recorderMetrics()
	if err != nil {
		t.Fatalf("recorderMetrics() error = %v", err)
	}
	rm.RecordingStarted()
	rm.RecordingFinalized()
	rm.Playback("ok")

	var buf bytes.Buffer
	if err := writeMetrics(&buf); err != nil {
		t.Fatalf("writeMetrics() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"clipstage_recordings_started_total 1",
		"clipstage_recordings_finalized_total 1",
		`clipstage_playback_total{result="ok"} 1`,
		"clipstage_recording_active 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteMetricsDisabled(t *testing.T) {
	showMetrics = false
	registry = nil

	rm, err := recorderMetrics()
	if err != nil || rm != nil {
		t.Fatalf("recorderMetrics() = %v, %v; want nil, nil", rm, err)
	}
	var buf bytes.Buffer
	if err := writeMetrics(&buf); err != nil {
		t.Fatalf("writeMetrics() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
