/*
Copyright 2025 The visiontrain Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// AggregationType defines supported history aggregation functions.
type AggregationType string

const (
	AggAvg  AggregationType = "avg"
	AggMax  AggregationType = "max"
	AggMin  AggregationType = "min"
	AggP50  AggregationType = "p50"
	AggP95  AggregationType = "p95"
	AggLast AggregationType = "last"
)

// EpochPoint is a single metric observation at the end of an epoch pass.
type EpochPoint struct {
	Epoch     int
	Value     float64
	Timestamp time.Time
}

// EpochSeries is the per-metric, per-split sequence of epoch observations,
// in chronological order. Not safe for concurrent use; History provides the
// locked entry points.
type EpochSeries struct {
	Metric string
	Split  string
	Points []EpochPoint
}

func NewEpochSeries(metric, split string) *EpochSeries {
	return &EpochSeries{Metric: metric, Split: split, Points: make([]EpochPoint, 0)}
}

// AddPoint appends one epoch observation.
func (s *EpochSeries) AddPoint(epoch int, value float64) {
	s.Points = append(s.Points, EpochPoint{Epoch: epoch, Value: value, Timestamp: time.Now()})
}

// Latest returns the most recent observation, or nil if empty.
func (s *EpochSeries) Latest() *EpochPoint {
	if len(s.Points) == 0 {
		return nil
	}
	return &s.Points[len(s.Points)-1]
}

// Best returns the best observation for the given improvement direction, or
// nil if empty.
func (s *EpochSeries) Best(higherBetter bool) *EpochPoint {
	if len(s.Points) == 0 {
		return nil
	}
	best := &s.Points[0]
	for i := range s.Points[1:] {
		p := &s.Points[i+1]
		if (higherBetter && p.Value > best.Value) || (!higherBetter && p.Value < best.Value) {
			best = p
		}
	}
	return best
}

// Aggregate reduces the series values with the given aggregation.
func (s *EpochSeries) Aggregate(agg AggregationType) (float64, error) {
	if len(s.Points) == 0 {
		return 0, fmt.Errorf("cannot aggregate empty series %s/%s", s.Split, s.Metric)
	}
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Value
	}
	switch agg {
	case AggAvg:
		return stat.Mean(values, nil), nil
	case AggMax:
		v := values[0]
		for _, x := range values[1:] {
			if x > v {
				v = x
			}
		}
		return v, nil
	case AggMin:
		v := values[0]
		for _, x := range values[1:] {
			if x < v {
				v = x
			}
		}
		return v, nil
	case AggP50, AggP95:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		q := 0.5
		if agg == AggP95 {
			q = 0.95
		}
		return stat.Quantile(q, stat.Empirical, sorted, nil), nil
	case AggLast:
		return values[len(values)-1], nil
	default:
		return 0, fmt.Errorf("unsupported aggregation type %q", agg)
	}
}

// History stores the epoch-indexed metric series of a session, keyed by
// split and metric name. It mirrors observed values into the Prometheus
// instrumentation when one is attached.
type History struct {
	mu     sync.Mutex
	series map[string]*EpochSeries
	instr  *Instrumentation
}

func NewHistory() *History {
	return &History{series: map[string]*EpochSeries{}}
}

// AttachInstrumentation mirrors future observations into Prometheus gauges.
func (h *History) AttachInstrumentation(instr *Instrumentation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.instr = instr
}

func seriesKey(split, metric string) string { return split + "/" + metric }

// Observe records one metric value for an epoch pass.
func (h *History) Observe(split, metric string, epoch int, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := seriesKey(split, metric)
	s, ok := h.series[key]
	if !ok {
		s = NewEpochSeries(metric, split)
		h.series[key] = s
	}
	s.AddPoint(epoch, value)
	if h.instr != nil {
		h.instr.SetMetricValue(split, metric, value)
	}
}

// Series returns the series for a split/metric pair, or nil.
func (h *History) Series(split, metric string) *EpochSeries {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.series[seriesKey(split, metric)]
}

// Best returns the best observed value and its epoch for a split/metric
// pair. The second return is false when no observation exists.
func (h *History) Best(split, metric string) (EpochPoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.series[seriesKey(split, metric)]
	if s == nil {
		return EpochPoint{}, false
	}
	best := s.Best(HigherIsBetter(metric))
	if best == nil {
		return EpochPoint{}, false
	}
	return *best, true
}

// Snapshot returns the latest value of every series, keyed "split/metric".
func (h *History) Snapshot() map[string]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]float64, len(h.series))
	for key, s := range h.series {
		if p := s.Latest(); p != nil {
			out[key] = p.Value
		}
	}
	return out
}
