package app

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics prints every counter and gauge gathered from g as
// "name value" lines, sorted by name.
func WriteMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			default:
				continue
			}
			if _, err := fmt.Fprintf(w, "%s %g\n", mf.GetName(), v); err != nil {
				return err
			}
		}
	}
	return nil
}
