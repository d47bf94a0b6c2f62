package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/audiolibrelab/clipstage/internal/metrics"
)

var (
	showMetrics bool
	registry    *prometheus.Registry
)

// recorderMetrics returns collectors registered on the command's registry,
// or nil when --metrics is off.
func recorderMetrics() (*metrics.RecorderMetrics, error) {
	if !showMetrics {
		return nil, nil
	}
	registry = prometheus.NewRegistry()
	return metrics.NewRecorderMetrics(registry)
}

// writeMetrics prints every non-empty sample gathered during the command.
func writeMetrics(w io.Writer) error {
	if registry == nil {
		return nil
	}
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			value := m.GetGauge().GetValue()
			if c := m.GetCounter(); c != nil {
				value = c.GetValue()
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, value))
		}
	}
	sort.Strings(lines)
	fmt.Fprintln(w, "=== METRICS ===")
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return nil
}
