// Package metadata persists the per-button recording index.
package metadata

import (
	"sort"
	"strconv"
	"time"

	"github.com/audiolibrelab/clipstage/internal/codec"
)

// Recording describes the committed clip bound to one button.
type Recording struct {
	ButtonID      string       `yaml:"button_id" json:"button_id"`
	MessageType   string       `yaml:"message_type" json:"message_type"`
	Name          string       `yaml:"name" json:"name"`
	Path          string       `yaml:"path" json:"path"`
	Duration      float64      `yaml:"duration" json:"duration"`
	SampleRate    int          `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
	Channels      int          `yaml:"channels,omitempty" json:"channels,omitempty"`
	Format        codec.Format `yaml:"format" json:"format"`
	ReadOnly      bool         `yaml:"read_only" json:"read_only"`
	IsDefault     bool         `yaml:"is_default" json:"is_default"`
	DefaultSource string       `yaml:"default_source,omitempty" json:"default_source,omitempty"`
	CreatedAt     time.Time    `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `yaml:"updated_at" json:"updated_at"`
}

// Records maps button IDs to their committed recording.
type Records map[string]Recording

// Clone returns an independent copy. Mutations go through a clone so a failed
// save leaves the live index untouched.
func (r Records) Clone() Records {
	out := make(Records, len(r))
	for id, rec := range r {
		out[id] = rec
	}
	return out
}

// Occupied returns the IDs that hold a recording in button order.
func (r Records) Occupied() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	SortIDs(ids)
	return ids
}

// Sorted returns the recordings in button order.
func (r Records) Sorted() []Recording {
	out := make([]Recording, 0, len(r))
	for _, id := range r.Occupied() {
		out = append(out, r[id])
	}
	return out
}

// Newest returns the most recently updated recording.
func (r Records) Newest() (Recording, bool) {
	return r.newest(func(Recording) bool { return true })
}

// NewestOfType returns the most recently updated recording with the given
// message type.
func (r Records) NewestOfType(messageType string) (Recording, bool) {
	return r.newest(func(rec Recording) bool { return rec.MessageType == messageType })
}

// ByType returns the recordings with the given message type in button order.
func (r Records) ByType(messageType string) []Recording {
	var out []Recording
	for _, rec := range r.Sorted() {
		if rec.MessageType == messageType {
			out = append(out, rec)
		}
	}
	return out
}

func (r Records) newest(match func(Recording) bool) (Recording, bool) {
	var (
		best  Recording
		found bool
	)
	for _, rec := range r.Sorted() {
		if !match(rec) {
			continue
		}
		if !found || rec.UpdatedAt.After(best.UpdatedAt) {
			best, found = rec, true
		}
	}
	return best, found
}

// SortIDs orders button IDs numerically when both are integers and
// lexically otherwise; numeric IDs come first.
func SortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
