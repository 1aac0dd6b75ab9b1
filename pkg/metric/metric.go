// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric provides primitives for collecting metrics.
//
// Metrics are cumulative counters, optionally broken down by fields with a
// fixed set of allowed values. They are registered globally, normally from
// package level variable initializers, and exported in Prometheus text
// format.
package metric

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gvisor.dev/vmkernel/pkg/prometheus"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that the name is not of the form /a/b_c.
	ErrInvalidName = errors.New("metric name is invalid")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// ExporterPrefix is prepended to every exported metric name.
const ExporterPrefix = "vmkernel_"

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
type Uint64Metric struct {
	name        string
	description string

	// fields is the map of field-value combination index keys to counters.
	fields []atomic.Uint64

	// fieldMapper is used to generate index keys for the fields array (above)
	// based on field value combinations, and vice-versa.
	fieldMapper fieldMapper

	prom *prometheus.Metric
}

// metricSet holds the registered metrics.
type metricSet struct {
	mu sync.Mutex
	m  map[string]*Uint64Metric
}

// allMetrics are the registered metrics.
var allMetrics = makeMetricSet()

func makeMetricSet() *metricSet {
	return &metricSet{m: make(map[string]*Uint64Metric)}
}

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues ...string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper provides multi-dimensional fields to a single unique integer key
type fieldMapper struct {
	// fields is a list of Field objects, which importantly include individual
	// Field names which are used to perform the keyToMultiField function; and
	// allowedValues for each field type which are used to perform the lookup
	// function.
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible field
	// combinations.
	numFieldCombinations int
}

// newFieldMapper returns a new fieldMapper for the given set of fields.
func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		numFieldCombinations *= len(f.allowedValues)
		if numFieldCombinations > math.MaxUint16 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup returns the index key of a field value combination. It panics on
// the wrong number of values or a value that is not allowed.
func (m fieldMapper) lookup(values ...string) int {
	if len(values) != len(m.fields) {
		panic(fmt.Sprintf("got %d field values, metric has %d fields", len(values), len(m.fields)))
	}
	idx := 0
	remaining := m.numFieldCombinations
Lookup:
	for i, val := range values {
		allowed := m.fields[i].allowedValues
		for valIdx, allowedVal := range allowed {
			if val == allowedVal {
				remaining /= len(allowed)
				idx += remaining * valIdx
				continue Lookup
			}
		}
		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}
	return idx
}

// keyToMultiField is the reverse of lookup. The returned list of field values
// corresponds to the same order of fields that were passed in to
// newFieldMapper.
func (m fieldMapper) keyToMultiField(key int) []string {
	if len(m.fields) == 0 {
		return nil
	}
	values := make([]string, len(m.fields))
	remaining := m.numFieldCombinations
	for i, f := range m.fields {
		remaining /= len(f.allowedValues)
		values[i] = f.allowedValues[key/remaining]
		key %= remaining
	}
	return values
}

// promName converts a metric name like /vm/page_faults to vm_page_faults.
func promName(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
}

func validName(name string) bool {
	if !strings.HasPrefix(name, "/") || len(name) < 2 || strings.HasSuffix(name, "/") {
		return false
	}
	for _, r := range name[1:] {
		if !(r == '/' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// NewUint64Metric creates and registers a new cumulative metric with the given
// name.
//
// Metrics must be statically defined (i.e., at init).
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		fields:      make([]atomic.Uint64, f.numFieldCombinations),
		fieldMapper: f,
		prom: &prometheus.Metric{
			Name: promName(name),
			Type: prometheus.TypeCounter,
			Help: description,
		},
	}

	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if _, ok := allMetrics.m[name]; ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNameInUse)
	}
	allMetrics.m[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns an
// error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Name returns the metric's name.
func (m *Uint64Metric) Name() string { return m.name }

// Value returns the current value of the metric for the given set of fields.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.fields[m.fieldMapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(1)
}

// IncrementBy increments the metric by v.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(v)
}

// Total returns the sum of the metric registered as name over all of its
// field values. It returns false if no such metric exists.
func Total(name string) (uint64, bool) {
	allMetrics.mu.Lock()
	m, ok := allMetrics.m[name]
	allMetrics.mu.Unlock()
	if !ok {
		return 0, false
	}
	var sum uint64
	for i := range m.fields {
		sum += m.fields[i].Load()
	}
	return sum, true
}

// Snapshot returns the current value of every registered metric.
func Snapshot() *prometheus.Snapshot {
	allMetrics.mu.Lock()
	names := make([]string, 0, len(allMetrics.m))
	for name := range allMetrics.m {
		names = append(names, name)
	}
	metrics := make([]*Uint64Metric, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		metrics = append(metrics, allMetrics.m[name])
	}
	allMetrics.mu.Unlock()

	s := prometheus.NewSnapshot()
	for _, m := range metrics {
		for key := range m.fields {
			var labels map[string]string
			if values := m.fieldMapper.keyToMultiField(key); values != nil {
				labels = make(map[string]string, len(values))
				for i, v := range values {
					labels[m.fieldMapper.fields[i].name] = v
				}
			}
			s.Add(prometheus.LabeledIntData(m.prom, labels, int64(m.fields[key].Load())))
		}
	}
	return s
}

// WritePrometheus writes every registered metric to w in Prometheus text
// format.
func WritePrometheus(w io.Writer) (int, error) {
	return prometheus.Write(w, ExporterPrefix, Snapshot())
}
