package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric is one scraped sample.
type Metric struct {
	UnixMilliseconds int64             `json:"unix_milliseconds"`
	Component        string            `json:"component"`
	Name             string            `json:"name"`
	Labels           map[string]string `json:"labels,omitempty"`
	Value            float64           `json:"value"`
}

// Metrics is a slice of Metric.
type Metrics []Metric

// Scrape gathers the counters and gauges carrying the component label,
// sorted by name and labels.
func Scrape(gatherer prometheus.Gatherer) (Metrics, error) {
	if gatherer == nil {
		return nil, nil
	}
	gathered, err := gatherer.Gather()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().UnixMilli()
	ms := make(Metrics, 0, len(gathered))
	for _, family := range gathered {
		for _, raw := range family.GetMetric() {
			m := Metric{
				UnixMilliseconds: now,
				Name:             family.GetName(),
			}
			for _, label := range raw.GetLabel() {
				if label.GetName() == MetricComponentLabelKey {
					m.Component = label.GetValue()
					continue
				}
				if m.Labels == nil {
					m.Labels = make(map[string]string)
				}
				m.Labels[label.GetName()] = label.GetValue()
			}
			if m.Component == "" {
				continue
			}

			// for now, only support counter and gauge
			switch {
			case raw.GetCounter() != nil:
				m.Value = raw.GetCounter().GetValue()
			case raw.GetGauge() != nil:
				m.Value = raw.GetGauge().GetValue()
			}
			ms = append(ms, m)
		}
	}

	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Name != ms[j].Name {
			return ms[i].Name < ms[j].Name
		}
		return labelKey(ms[i].Labels) < labelKey(ms[j].Labels)
	})
	return ms, nil
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += k + "=" + labels[k] + ","
	}
	return s
}
