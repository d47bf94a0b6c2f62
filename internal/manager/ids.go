package manager

import (
	"strconv"
	"strings"
)

// NewFileID returns the smallest positive integer ID with no committed
// recording. It may exceed num_buttons when every slot is taken.
func (m *Manager) NewFileID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for n := 1; ; n++ {
		id := strconv.Itoa(n)
		if _, taken := m.records[id]; !taken {
			if n > m.cfg.NumButtons {
				m.logger.Debug("all buttons occupied, allocating beyond num_buttons", "id", id, "num_buttons", m.cfg.NumButtons)
			}
			return id
		}
	}
}

// OccupiedIDs returns the button IDs holding a recording, in button order.
func (m *Manager) OccupiedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records.Occupied()
}

// MissingIDs returns the IDs 1..num_buttons that have no recording.
func (m *Manager) MissingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var missing []string
	for n := 1; n <= m.cfg.NumButtons; n++ {
		id := strconv.Itoa(n)
		if _, taken := m.records[id]; !taken {
			missing = append(missing, id)
		}
	}
	return missing
}

// cleanFileName keeps letters, digits, '-' and '_' and turns spaces into
// underscores so IDs and scopes can be embedded in file names.
func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			result.WriteRune(r)
		case r == ' ':
			result.WriteRune('_')
		}
	}
	if result.Len() == 0 {
		return "id"
	}
	return result.String()
}
