package audio

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestParseALSADevice_Valid(t *testing.T) {
	tests := []struct {
		in        string
		plugin    string
		card      string
		device    int
		exclusive bool
	}{
		{"", "default", "", -1, false},
		{"default", "default", "", -1, false},
		{"hw:1,0", "hw", "1", 0, true},
		{"hw:1", "hw", "1", -1, true},
		{"plughw:0,3", "plughw", "0", 3, false},
		{"sysdefault:1", "sysdefault", "1", -1, false},
		{"dsnoop:CARD=USB,DEV=0", "dsnoop", "USB", 0, false},
		{"dmix:0", "dmix", "0", -1, false},
		{"plug:dsnoop:1", "plug", "", -1, false},
	}

	for _, tt := range tests {
		dev, err := parseALSADevice(tt.in)
		if err != nil {
			t.Errorf("parseALSADevice(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if dev.Plugin != tt.plugin || dev.Card != tt.card || dev.Device != tt.device {
			t.Errorf("parseALSADevice(%q) = %+v, want plugin=%s card=%s device=%d", tt.in, dev, tt.plugin, tt.card, tt.device)
		}
		if dev.Exclusive() != tt.exclusive {
			t.Errorf("parseALSADevice(%q).Exclusive() = %v, want %v", tt.in, dev.Exclusive(), tt.exclusive)
		}
	}
}

func TestParseALSADevice_Invalid(t *testing.T) {
	for _, in := range []string{"hw", "hw:", "hw:1,x", "hw:1,2,3", "pulse:0", "hw:,0", "bogus"} {
		_, err := parseALSADevice(in)
		if err == nil {
			t.Errorf("parseALSADevice(%q) expected error", in)
			continue
		}
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("parseALSADevice(%q) error %v is not ErrDeviceNotFound", in, err)
		}
	}
}

func TestParseALSAList(t *testing.T) {
	output := `**** List of CAPTURE Hardware Devices ****
card 0: PCH [HDA Intel PCH], device 0: ALC3246 Analog [ALC3246 Analog]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
card 1: Device [USB Audio Device], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
`
	devices := parseALSAList(output, DirectionCapture)
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d: %+v", len(devices), devices)
	}
	if devices[1].ID != "hw:1,0" {
		t.Errorf("Expected ID hw:1,0, got %s", devices[1].ID)
	}
	if devices[1].Name != "USB Audio Device: USB Audio" {
		t.Errorf("Unexpected name %q", devices[1].Name)
	}
	if devices[0].Direction != DirectionCapture {
		t.Errorf("Expected capture direction, got %s", devices[0].Direction)
	}
}

func TestClassifyALSAError(t *testing.T) {
	tests := []struct {
		stderr string
		want   error
	}{
		{"arecord: main:831: audio open error: Device or resource busy", ErrDeviceBusy},
		{"arecord: main:831: audio open error: No such file or directory", ErrDeviceNotFound},
		{"ALSA lib pcm.c:2664:(snd_pcm_open_noupdate) Unknown PCM foo", ErrDeviceNotFound},
		{"something odd happened", ErrDeviceUnavailable},
		{"", ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		err := classifyALSAError("hw:1,0", tt.stderr)
		if !errors.Is(err, tt.want) {
			t.Errorf("classifyALSAError(%q) = %v, want %v", tt.stderr, err, tt.want)
		}
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("classifyALSAError(%q) = %v is not ErrDeviceUnavailable", tt.stderr, err)
		}
	}
}

func TestCardsListed(t *testing.T) {
	withCards := ` 0 [PCH            ]: HDA-Intel - HDA Intel PCH
                      HDA Intel PCH at 0xf7f10000 irq 33
 1 [Device         ]: USB-Audio - USB Audio Device
`
	if !cardsListed(withCards) {
		t.Error("Expected cards to be detected")
	}
	if cardsListed("--- no soundcards ---\n") {
		t.Error("Expected no cards")
	}
	if cardsListed("") {
		t.Error("Expected no cards for empty content")
	}
}

// fakeTool writes an executable shell script standing in for arecord.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "arecord")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("Failed to write fake tool: %v", err)
	}
	return path
}

func TestALSAStartCapture_BusyDevice(t *testing.T) {
	b := NewALSABackend(nil)
	b.arecord = fakeTool(t, `echo "arecord: main:831: audio open error: Device or resource busy" >&2; exit 1`)

	_, err := b.StartCapture(CaptureConfig{SampleRate: 8000, Channels: 1, PeriodSize: 256, Device: "hw:1,0"}, nil)
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("Expected ErrDeviceBusy, got %v", err)
	}
}

func TestALSAStartCapture_MalformedDevice(t *testing.T) {
	b := NewALSABackend(nil)
	_, err := b.StartCapture(CaptureConfig{SampleRate: 8000, Channels: 1, PeriodSize: 256, Device: "hw:"}, nil)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestALSAStartCapture_StopReturnsAudio(t *testing.T) {
	b := NewALSABackend(nil)
	b.arecord = fakeTool(t, `trap 'exit 0' INT; while :; do head -c 512 /dev/zero; sleep 0.01; done`)

	cfg := CaptureConfig{SampleRate: 8000, Channels: 1, PeriodSize: 256, Device: "default"}
	c, err := b.StartCapture(cfg, nil)
	if err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	data, err := b.StopCapture(c)
	if err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if len(data) < cfg.PeriodBytes() {
		t.Errorf("Expected at least one period (%d bytes), got %d", cfg.PeriodBytes(), len(data))
	}
	if strings.Count(string(data), "\x00") != len(data) {
		t.Error("Expected silence from fake device")
	}

	if _, err := c.Stop(); !errors.Is(err, ErrCaptureStopped) {
		t.Errorf("Expected ErrCaptureStopped on second stop, got %v", err)
	}
}
