package audio

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// alsaDevice is a parsed ALSA PCM name such as "hw:1,0" or "dsnoop:0".
type alsaDevice struct {
	Name   string
	Plugin string
	Card   string
	Device int // -1 when not given
}

// Exclusive reports whether opening the device locks out other clients.
// Only raw hw devices do; plug, dsnoop and dmix are shared.
func (d alsaDevice) Exclusive() bool {
	return d.Plugin == "hw"
}

var alsaPlugins = map[string]bool{
	"default":    true,
	"sysdefault": true,
	"hw":         true,
	"plughw":     true,
	"dsnoop":     true,
	"dmix":       true,
	"plug":       true,
}

// parseALSADevice validates an ALSA device string. Accepted forms are
// "default", "<plugin>", "<plugin>:<card>", "<plugin>:<card>,<device>" and
// "<plugin>:CARD=<name>,DEV=<n>".
func parseALSADevice(s string) (alsaDevice, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = "default"
	}

	plugin, args, hasArgs := strings.Cut(s, ":")
	if !alsaPlugins[plugin] {
		return alsaDevice{}, fmt.Errorf("%w: unknown ALSA device %q", ErrDeviceNotFound, s)
	}
	dev := alsaDevice{Name: s, Plugin: plugin, Device: -1}
	if !hasArgs {
		if plugin == "hw" || plugin == "plughw" {
			return alsaDevice{}, fmt.Errorf("%w: %q needs a card number", ErrDeviceNotFound, s)
		}
		return dev, nil
	}
	if args == "" {
		return alsaDevice{}, fmt.Errorf("%w: malformed ALSA device %q", ErrDeviceNotFound, s)
	}
	if plugin == "plug" {
		// plug wraps another PCM name, e.g. plug:dsnoop:1
		return dev, nil
	}

	parts := strings.Split(args, ",")
	if len(parts) > 2 {
		return alsaDevice{}, fmt.Errorf("%w: malformed ALSA device %q", ErrDeviceNotFound, s)
	}
	for i, part := range parts {
		key, value, named := strings.Cut(part, "=")
		if !named {
			value = key
			key = []string{"CARD", "DEV"}[i]
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return alsaDevice{}, fmt.Errorf("%w: malformed ALSA device %q", ErrDeviceNotFound, s)
		}
		switch strings.ToUpper(key) {
		case "CARD":
			dev.Card = value
		case "DEV":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return alsaDevice{}, fmt.Errorf("%w: bad device number in %q", ErrDeviceNotFound, s)
			}
			dev.Device = n
		default:
			return alsaDevice{}, fmt.Errorf("%w: malformed ALSA device %q", ErrDeviceNotFound, s)
		}
	}
	return dev, nil
}

// "card 1: Device [USB Audio Device], device 0: USB Audio [USB Audio]"
var alsaListLine = regexp.MustCompile(`^card (\d+): (\S+) \[(.*)\], device (\d+): (.*) \[(.*)\]`)

// parseALSAList parses the hardware listing printed by "arecord -l" or
// "aplay -l".
func parseALSAList(output string, dir Direction) []Device {
	var devices []Device
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := alsaListLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		devices = append(devices, Device{
			ID:        fmt.Sprintf("hw:%s,%s", m[1], m[4]),
			Name:      fmt.Sprintf("%s: %s", m[3], m[6]),
			Direction: dir,
		})
	}
	return devices
}

// classifyALSAError maps arecord/aplay diagnostics onto device errors.
func classifyALSAError(device, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "device or resource busy"),
		strings.Contains(lower, "resource temporarily unavailable"):
		return fmt.Errorf("%w: %s: %s", ErrDeviceBusy, device, msg)
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "unknown pcm"),
		strings.Contains(lower, "cannot find card"),
		strings.Contains(lower, "invalid card"):
		return fmt.Errorf("%w: %s: %s", ErrDeviceNotFound, device, msg)
	case msg == "":
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, device)
	default:
		return fmt.Errorf("%w: %s: %s", ErrDeviceUnavailable, device, msg)
	}
}

// cardsListed reports whether /proc/asound/cards content names a card.
func cardsListed(content string) bool {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && strings.HasPrefix(fields[1], "[") {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				return true
			}
		}
	}
	return false
}
