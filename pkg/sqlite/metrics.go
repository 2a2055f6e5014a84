package sqlite

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricInsertUpdateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "insert_update",
			Name:      "total",
			Help:      "total number of inserts and updates",
		},
	)
	metricInsertUpdateSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "insert_update",
			Name:      "seconds_total",
			Help:      "total number of seconds spent on inserts and updates",
		},
	)

	metricDeleteTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "delete",
			Name:      "total",
			Help:      "total number of deletes",
		},
	)
	metricDeleteSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "delete",
			Name:      "seconds_total",
			Help:      "total number of seconds spent on deletes",
		},
	)

	metricSelectTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "select",
			Name:      "total",
			Help:      "total number of selects",
		},
	)
	metricSelectSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sqlite",
			Subsystem: "select",
			Name:      "seconds_total",
			Help:      "total number of seconds spent on selects",
		},
	)
)

// Register registers the query counters with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		metricInsertUpdateTotal,
		metricInsertUpdateSecondsTotal,
		metricDeleteTotal,
		metricDeleteSecondsTotal,
		metricSelectTotal,
		metricSelectSecondsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func RecordInsertUpdate(tookSeconds float64) {
	metricInsertUpdateTotal.Inc()
	metricInsertUpdateSecondsTotal.Add(tookSeconds)
}

func RecordDelete(tookSeconds float64) {
	metricDeleteTotal.Inc()
	metricDeleteSecondsTotal.Add(tookSeconds)
}

func RecordSelect(tookSeconds float64) {
	metricSelectTotal.Inc()
	metricSelectSecondsTotal.Add(tookSeconds)
}

// Queries is the cumulative count and latency of one query kind.
type Queries struct {
	Count   int64   `json:"count"`
	Seconds float64 `json:"seconds"`
}

// Avg is the mean latency of one query, zero before the first query.
func (q Queries) Avg() time.Duration {
	if q.Count == 0 {
		return 0
	}
	return time.Duration(q.Seconds / float64(q.Count) * float64(time.Second))
}

// Stats is one read of the query counters from a registry.
type Stats struct {
	Time time.Time `json:"time"`

	Writes  Queries `json:"writes"`
	Deletes Queries `json:"deletes"`
	Selects Queries `json:"selects"`
}

func (s Stats) IsZero() bool {
	return s.Writes == (Queries{}) && s.Deletes == (Queries{}) && s.Selects == (Queries{})
}

// Sub returns the queries run between prev and s.
func (s Stats) Sub(prev Stats) Stats {
	sub := func(a, b Queries) Queries {
		return Queries{Count: a.Count - b.Count, Seconds: a.Seconds - b.Seconds}
	}
	return Stats{
		Time:    s.Time,
		Writes:  sub(s.Writes, prev.Writes),
		Deletes: sub(s.Deletes, prev.Deletes),
		Selects: sub(s.Selects, prev.Selects),
	}
}

// ReadStats gathers reg and picks out the sqlite query counters.
// Counters that were never registered read as zero.
func ReadStats(reg prometheus.Gatherer) (Stats, error) {
	mfs, err := reg.Gather()
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Time: time.Now().UTC()}
	counts := map[string]*int64{
		"sqlite_insert_update_total": &st.Writes.Count,
		"sqlite_delete_total":        &st.Deletes.Count,
		"sqlite_select_total":        &st.Selects.Count,
	}
	seconds := map[string]*float64{
		"sqlite_insert_update_seconds_total": &st.Writes.Seconds,
		"sqlite_delete_seconds_total":        &st.Deletes.Seconds,
		"sqlite_select_seconds_total":        &st.Selects.Seconds,
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if c, ok := counts[mf.GetName()]; ok {
				*c += int64(v)
			}
			if sec, ok := seconds[mf.GetName()]; ok {
				*sec += v
			}
		}
	}
	return st, nil
}

// Rates are queries per second over an interval.
type Rates struct {
	Writes  float64 `json:"writes"`
	Deletes float64 `json:"deletes"`
	Selects float64 `json:"selects"`
}

// RatesSince returns the average query rates between prev and s. An
// empty prev or a non-positive interval yields zero rates.
func (s Stats) RatesSince(prev Stats) Rates {
	elapsed := s.Time.Sub(prev.Time).Seconds()
	if prev.Time.IsZero() || elapsed <= 0 {
		return Rates{}
	}
	d := s.Sub(prev)
	return Rates{
		Writes:  float64(d.Writes.Count) / elapsed,
		Deletes: float64(d.Deletes.Count) / elapsed,
		Selects: float64(d.Selects.Count) / elapsed,
	}
}
